package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		writeMermaidNode(&b, node, 1)
	}
	for _, edge := range model.Edges {
		writeMermaidEdge(&b, edge, 1)
	}

	b.WriteString("\n")
	b.WriteString("    classDef unregistered fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")
	b.WriteString("    classDef malformed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	walk(model.Nodes, func(n *Node) {
		if n.Mark != MarkNone {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(n.ID), n.Mark)
		}
	})

	return b.String()
}

func writeMermaidNode(b *strings.Builder, node *Node, depth int) {
	indent := strings.Repeat("    ", depth)
	fmt.Fprintf(b, "%s%s\n", indent, mermaidNodeDef(node))

	for _, sg := range node.Children {
		if len(sg.Nodes) == 0 {
			continue
		}
		sgID := mermaidSafeID(node.ID + "_" + sg.Label)
		fmt.Fprintf(b, "%ssubgraph %s[\"%s\"]\n", indent, sgID, sg.Label)
		for _, sub := range sg.Nodes {
			writeMermaidNode(b, sub, depth+1)
		}
		for _, edge := range sg.Edges {
			writeMermaidEdge(b, edge, depth+1)
		}
		fmt.Fprintf(b, "%send\n", indent)
		writeMermaidEdge(b, Edge{From: node.ID, To: sg.Nodes[0].ID, Label: sg.Label}, depth)
	}
}

func writeMermaidEdge(b *strings.Builder, edge Edge, depth int) {
	label := ""
	if edge.Label != "" {
		label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
	}
	fmt.Fprintf(b, "%s%s -->%s %s\n", strings.Repeat("    ", depth),
		mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := "\"" + mermaidEscapeLabel(node.Label) + "\""

	switch node.Kind {
	case NodeKindCondition:
		return id + "{" + label + "}"
	case NodeKindDelay:
		return id + "([" + label + "])"
	case NodeKindParallel, NodeKindLoop:
		return id + "[[" + label + "]]"
	case NodeKindVariable:
		return id + "[/" + label + "/]"
	case NodeKindMessage:
		return id + ">" + label + "]"
	case NodeKindStart, NodeKindEnd:
		return id + "((" + label + "))"
	default:
		return id + "[" + label + "]"
	}
}

// mermaidSafeID replaces characters Mermaid does not accept in identifiers.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel swaps double quotes for the #quot; entity.
func mermaidEscapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "#quot;")
}

// walk visits every node depth first, nested ones included.
func walk(nodes []*Node, fn func(*Node)) {
	for _, n := range nodes {
		fn(n)
		for _, sg := range n.Children {
			walk(sg.Nodes, fn)
		}
	}
}
