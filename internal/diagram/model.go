package diagram

// NodeKind classifies a diagram node by the step it draws.
type NodeKind string

const (
	NodeKindStep      NodeKind = "step"
	NodeKindCondition NodeKind = "condition"
	NodeKindParallel  NodeKind = "parallel"
	NodeKindLoop      NodeKind = "loop"
	NodeKindDelay     NodeKind = "delay"
	NodeKindVariable  NodeKind = "variable"
	NodeKindMessage   NodeKind = "message"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// Mark flags a node the interpreter will not dispatch normally.
type Mark string

const (
	MarkNone         Mark = ""
	MarkUnregistered Mark = "unregistered" // skipped at run time
	MarkMalformed    Mark = "malformed"    // fails the task when reached
)

// DiagramModel is the intermediate representation used by all renderers.
// Nodes run top to bottom in order; Edges link consecutive nodes.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single step in the diagram.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Mark     Mark
	Children []*SubGraph // Then/Else blocks, loop body, parallel branches
}

// SubGraph holds a nested step list of a control-flow node.
type SubGraph struct {
	Label string
	Nodes []*Node
	Edges []Edge
}

// Edge represents execution order between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
