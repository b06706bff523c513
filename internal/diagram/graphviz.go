package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// Format selects the graphviz output encoding.
type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
	FormatDOT Format = "dot"
)

// RenderImage renders a DiagramModel as a PNG image using graphviz.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	return RenderGraphviz(ctx, model, FormatPNG)
}

// RenderGraphviz lays out a DiagramModel with dot and encodes it as format.
func RenderGraphviz(ctx context.Context, model *DiagramModel, format Format) ([]byte, error) {
	var gvFormat graphviz.Format
	switch format {
	case FormatPNG:
		gvFormat = graphviz.PNG
	case FormatSVG:
		gvFormat = graphviz.SVG
	case FormatDOT:
		gvFormat = graphviz.XDOT
	default:
		return nil, fmt.Errorf("diagram: unsupported format %q", format)
	}

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node)
	for _, node := range model.Nodes {
		if err := addNode(graph, node, gvNodes); err != nil {
			return nil, err
		}
	}
	addEdges(graph, model.Edges, gvNodes)

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, gvFormat, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// addNode creates node in g and a dashed cluster per nested block.
func addNode(g *cgraph.Graph, node *Node, gvNodes map[string]*cgraph.Node) error {
	gvNode, err := g.CreateNodeByName(node.ID)
	if err != nil {
		return fmt.Errorf("diagram: create node %s: %w", node.ID, err)
	}
	gvNode.SetLabel(node.Label)
	applyNodeStyle(gvNode, node)
	gvNodes[node.ID] = gvNode

	for _, sg := range node.Children {
		if len(sg.Nodes) == 0 {
			continue
		}
		sub, err := g.CreateSubGraphByName("cluster_" + node.ID + "_" + sg.Label)
		if err != nil {
			return fmt.Errorf("diagram: create cluster for %s: %w", node.ID, err)
		}
		sub.SetLabel(sg.Label)
		sub.SetStyle(cgraph.DashedGraphStyle)
		for _, child := range sg.Nodes {
			if err := addNode(sub, child, gvNodes); err != nil {
				return err
			}
		}
		addEdges(sub, sg.Edges, gvNodes)
		addEdges(g, []Edge{{From: node.ID, To: sg.Nodes[0].ID, Label: sg.Label}}, gvNodes)
	}
	return nil
}

func addEdges(g *cgraph.Graph, edges []Edge, gvNodes map[string]*cgraph.Node) {
	for _, edge := range edges {
		from, to := gvNodes[edge.From], gvNodes[edge.To]
		if from == nil || to == nil {
			continue
		}
		e, err := g.CreateEdgeByName("", from, to)
		if err == nil && edge.Label != "" {
			e.SetLabel(edge.Label)
		}
	}
}

// applyNodeStyle sets graphviz attributes based on node kind and mark.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Kind {
	case NodeKindCondition:
		gvNode.SetShape(cgraph.DiamondShape)
	case NodeKindDelay:
		gvNode.SetShape(cgraph.EllipseShape)
	case NodeKindVariable:
		gvNode.SetShape(cgraph.ParallelogramShape)
	case NodeKindMessage:
		gvNode.SetShape(cgraph.NoteShape)
	case NodeKindStart, NodeKindEnd:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
	default:
		gvNode.SetShape(cgraph.BoxShape)
	}

	switch node.Mark {
	case MarkUnregistered:
		gvNode.SetStyle(cgraph.DashedNodeStyle)
		gvNode.SetFontColor("#888888")
	case MarkMalformed:
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	}
}
