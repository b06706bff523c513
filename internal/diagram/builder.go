package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/skillscript/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"

	maxLabel = 32
)

// StepLookup reports whether a step name is registered.
// Satisfied by *actions.Registry.
type StepLookup interface {
	Has(name string) bool
}

// Build constructs a DiagramModel for one trigger of a script. lookup may be
// nil; otherwise steps it does not know are marked unregistered.
func Build(def *schema.ScriptDefinition, trigger string, lookup StepLookup) (*DiagramModel, error) {
	if def == nil {
		return nil, fmt.Errorf("diagram: nil script")
	}
	if trigger == "" {
		trigger = schema.DefaultTrigger
	}
	steps, ok := def.Steps(trigger)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "diagram: script %q has no trigger %q", def.Name, trigger)
	}

	b := &builder{lookup: lookup}
	nodes := make([]*Node, 0, len(steps)+2)
	nodes = append(nodes, &Node{ID: startID, Label: trigger, Kind: NodeKindStart})
	for i, step := range steps {
		nodes = append(nodes, b.node(fmt.Sprintf("s%d", i), step))
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	return &DiagramModel{
		Title: def.Name + " / " + trigger,
		Nodes: nodes,
		Edges: chain(nodes),
	}, nil
}

type builder struct {
	lookup StepLookup
}

// node maps a step record to a Node, descending into nested blocks.
func (b *builder) node(id string, step schema.StepRecord) *Node {
	n := &Node{ID: id, Label: stepLabel(step), Kind: stepKind(step.Key())}
	switch {
	case !step.Valid():
		n.Mark = MarkMalformed
		return n
	case b.lookup != nil && !b.lookup.Has(step.Name):
		n.Mark = MarkUnregistered
		return n
	}

	switch step.Key() {
	case schema.StepIf:
		b.block(n, step, schema.BlockThen)
		b.block(n, step, schema.BlockElse)
	case schema.StepForLoop:
		b.block(n, step, schema.BlockDo)
	case schema.StepParallel:
		raw, _ := schema.LookupParam(step.Params, schema.BlockBranches)
		branches, _ := raw.([]any)
		for i, branch := range branches {
			label := fmt.Sprintf("branch %d", i)
			if sg := b.subGraph(fmt.Sprintf("%s.b%d", id, i), label, branch); sg != nil {
				n.Children = append(n.Children, sg)
			}
		}
	}
	return n
}

func (b *builder) block(n *Node, step schema.StepRecord, key string) {
	raw, ok := schema.LookupParam(step.Params, key)
	if !ok {
		return
	}
	if sg := b.subGraph(n.ID+"."+key, key, raw); sg != nil {
		n.Children = append(n.Children, sg)
	}
}

// subGraph returns nil when raw is not a step list.
func (b *builder) subGraph(prefix, label string, raw any) *SubGraph {
	steps, err := schema.ParseSteps(raw)
	if err != nil {
		return nil
	}
	sg := &SubGraph{Label: label}
	for i, step := range steps {
		sg.Nodes = append(sg.Nodes, b.node(fmt.Sprintf("%s.%d", prefix, i), step))
	}
	sg.Edges = chain(sg.Nodes)
	return sg
}

func chain(nodes []*Node) []Edge {
	if len(nodes) < 2 {
		return nil
	}
	edges := make([]Edge, 0, len(nodes)-1)
	for i := 1; i < len(nodes); i++ {
		edges = append(edges, Edge{From: nodes[i-1].ID, To: nodes[i].ID})
	}
	return edges
}

func stepKind(key string) NodeKind {
	switch key {
	case schema.StepIf:
		return NodeKindCondition
	case schema.StepForLoop:
		return NodeKindLoop
	case schema.StepParallel:
		return NodeKindParallel
	case schema.StepDelay:
		return NodeKindDelay
	case schema.StepSetVariable, schema.StepCalculate, schema.StepTransform:
		return NodeKindVariable
	case schema.StepSendMessage:
		return NodeKindMessage
	default:
		return NodeKindStep
	}
}

// stepLabel summarizes a step on one line.
func stepLabel(step schema.StepRecord) string {
	if !step.Valid() {
		if step.Name != "" {
			return "malformed " + step.Name
		}
		return "malformed step"
	}
	p := func(key string) string {
		v, ok := schema.LookupParam(step.Params, key)
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}

	var label string
	switch step.Key() {
	case schema.StepDelay:
		label = "delay " + p("duration")
	case schema.StepIf:
		label = "if " + p("condition")
	case schema.StepForLoop:
		if over := p("over"); over != "" {
			label = fmt.Sprintf("for %s in %s", p("variable"), over)
		} else {
			from := p("from")
			if from == "" {
				from = "0"
			}
			label = fmt.Sprintf("for %s = %s..%s", p("variable"), from, p("to"))
		}
	case schema.StepParallel:
		raw, _ := schema.LookupParam(step.Params, schema.BlockBranches)
		branches, _ := raw.([]any)
		label = fmt.Sprintf("parallel x%d", len(branches))
	case schema.StepSetVariable:
		label = fmt.Sprintf("%s := %s", p("name"), p("value"))
	case schema.StepCalculate:
		label = fmt.Sprintf("%s = %s", p("variable"), p("expression"))
	case schema.StepTransform:
		label = fmt.Sprintf("%s = jq %s", p("variable"), p("query"))
	case schema.StepSendMessage:
		label = fmt.Sprintf("say %q", p("message"))
		if target := p("target"); target != "" {
			label += " to " + target
		}
	default:
		label = step.Name
	}
	return truncate(strings.TrimSpace(label), maxLabel)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
