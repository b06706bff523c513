package diagram

import (
	"fmt"
	"strings"
)

// markTag returns a short ASCII indicator for a node mark.
func markTag(m Mark) string {
	switch m {
	case MarkUnregistered:
		return "[SKIP]"
	case MarkMalformed:
		return "[BAD]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a text diagram: top-level steps as
// boxes joined by arrows, nested blocks as indented lists below.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for i, node := range model.Nodes {
		box := makeBox(node)
		for _, line := range box.lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if i < len(model.Nodes)-1 {
			renderConnector(&b)
		}
	}

	for _, node := range model.Nodes {
		if len(node.Children) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n--- %s: %s ---\n", node.ID, node.Label)
		for _, sg := range node.Children {
			renderSubGraph(&b, sg, 1)
		}
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	content := []string{node.Label}
	if tag := markTag(node.Mark); tag != "" {
		content = append(content, tag)
	}

	maxLen := 0
	for _, line := range content {
		if n := len([]rune(line)); n > maxLen {
			maxLen = n
		}
	}
	width := maxLen + 4 // 2 border + 2 padding

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, line := range content {
		padded := line + strings.Repeat(" ", maxLen-len([]rune(line)))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

func renderConnector(b *strings.Builder) {
	b.WriteString("    │\n")
	b.WriteString("    ▼\n")
}

func renderSubGraph(b *strings.Builder, sg *SubGraph, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%s[%s]\n", indent, sg.Label)
	for i, node := range sg.Nodes {
		tag := ""
		if t := markTag(node.Mark); t != "" {
			tag = " " + t
		}
		fmt.Fprintf(b, "%s  %d. %s%s\n", indent, i+1, node.Label, tag)
		for _, child := range node.Children {
			renderSubGraph(b, child, depth+2)
		}
	}
}
