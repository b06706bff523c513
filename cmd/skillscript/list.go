package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	cli "github.com/urfave/cli/v3"

	"github.com/rendis/skillscript/internal/scripts"
)

func newListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List loaded scripts and their triggers",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "steps", Usage: "List the registered step types instead"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := resolveConfig(cmd)
			logger := newLogger(cfg)
			w := writer(cmd)

			reg, err := newRegistry(logger, nil)
			if err != nil {
				return err
			}
			if cmd.Bool("steps") {
				for _, info := range reg.List() {
					fmt.Fprintf(w, "%-16s %s\n", info.Name, info.Description)
				}
				return nil
			}

			lib := scripts.NewLibrary(cfg.ScriptsDir, scripts.WithLogger(logger))
			if _, err := lib.Load(ctx); err != nil {
				return err
			}
			for _, name := range lib.Names() {
				def, err := lib.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%-24s %s\n", name, strings.Join(def.TriggerNames(), ", "))
			}

			skipped := lib.Skipped()
			files := make([]string, 0, len(skipped))
			for file := range skipped {
				files = append(files, file)
			}
			sort.Strings(files)
			for _, file := range files {
				fmt.Fprintf(w, "skipped %s: %s\n", file, skipped[file])
			}
			return nil
		},
	}
}
