package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/rendis/skillscript/internal/diagram"
	"github.com/rendis/skillscript/internal/scripts"
	"github.com/rendis/skillscript/pkg/schema"
)

func newDiagramCommand() *cli.Command {
	return &cli.Command{
		Name:      "diagram",
		Usage:     "Draw one trigger of a script",
		ArgsUsage: "<script or file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "cast-trigger", Aliases: []string{"t"}, Usage: "Trigger block to draw (default: the configured trigger)"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "ascii", Usage: "ascii, mermaid, png, svg or dot"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write to this file instead of stdout"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("diagram expects exactly one script")
			}
			cfg := resolveConfig(cmd)
			trigger := cfg.Trigger
			if cmd.IsSet("cast-trigger") {
				trigger = cmd.String("cast-trigger")
			}

			path, err := resolveScript(cfg.ScriptsDir, cmd.Args().First())
			if err != nil {
				return err
			}
			doc, err := scripts.ReadDocument(path)
			if err != nil {
				return err
			}
			def, err := schema.ParseScript(scripts.ScriptName(path), doc)
			if err != nil {
				return err
			}
			reg, err := newRegistry(newLogger(cfg), nil)
			if err != nil {
				return err
			}
			model, err := diagram.Build(def, trigger, reg)
			if err != nil {
				return err
			}

			out, err := renderDiagram(ctx, model, cmd.String("format"))
			if err != nil {
				return err
			}
			if file := cmd.String("output"); file != "" {
				return os.WriteFile(file, out, 0o644)
			}
			_, err = writer(cmd).Write(out)
			return err
		},
	}
}

func renderDiagram(ctx context.Context, model *diagram.DiagramModel, format string) ([]byte, error) {
	switch format {
	case "ascii":
		return []byte(diagram.RenderASCII(model)), nil
	case "mermaid":
		return []byte(diagram.RenderMermaid(model)), nil
	case "png", "svg", "dot":
		return diagram.RenderGraphviz(ctx, model, diagram.Format(format))
	default:
		return nil, fmt.Errorf("unknown diagram format %q", format)
	}
}
