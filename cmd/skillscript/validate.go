package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	cli "github.com/urfave/cli/v3"

	"github.com/rendis/skillscript/internal/scripts"
	"github.com/rendis/skillscript/internal/validation"
)

func newValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check script documents without running them",
		ArgsUsage: "[script or file...]",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg := resolveConfig(cmd)
			reg, err := newRegistry(newLogger(cfg), nil)
			if err != nil {
				return err
			}
			sv, err := validation.NewScriptValidator(reg)
			if err != nil {
				return err
			}

			files, err := scriptFiles(cfg.ScriptsDir, cmd.Args().Slice())
			if err != nil {
				return err
			}
			if invalid := validateFiles(writer(cmd), sv, files); invalid > 0 {
				return fmt.Errorf("%d of %d scripts invalid", invalid, len(files))
			}
			return nil
		},
	}
}

// validateFiles prints every issue and returns how many files had errors.
func validateFiles(w io.Writer, sv *validation.ScriptValidator, files []string) int {
	invalid := 0
	for _, file := range files {
		name := scripts.ScriptName(file)
		doc, err := scripts.ReadDocument(file)
		if err != nil {
			fmt.Fprintf(w, "FAIL %s: %v\n", name, err)
			invalid++
			continue
		}
		res := sv.ValidateDocument(name, doc)
		for _, issue := range res.Errors {
			fmt.Fprintf(w, "  error   %s\n", issue)
		}
		for _, issue := range res.Warnings {
			fmt.Fprintf(w, "  warning %s\n", issue)
		}
		if !res.Valid() {
			fmt.Fprintf(w, "FAIL %s\n", name)
			invalid++
			continue
		}
		fmt.Fprintf(w, "ok   %s\n", name)
	}
	return invalid
}

// scriptFiles resolves arguments to script files. An argument is either a
// path or a script name inside dir. No arguments means every file in dir.
func scriptFiles(dir string, args []string) ([]string, error) {
	if len(args) == 0 {
		var files []string
		for _, pattern := range []string{"*.yml", "*.yaml"} {
			matches, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil {
				return nil, err
			}
			files = append(files, matches...)
		}
		sort.Strings(files)
		return files, nil
	}

	files := make([]string, 0, len(args))
	for _, arg := range args {
		path, err := resolveScript(dir, arg)
		if err != nil {
			return nil, err
		}
		files = append(files, path)
	}
	return files, nil
}

func resolveScript(dir, arg string) (string, error) {
	if fileExists(arg) {
		return arg, nil
	}
	for _, ext := range []string{".yml", ".yaml"} {
		path := filepath.Join(dir, arg+ext)
		if fileExists(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("script %q not found in %s", arg, dir)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
