package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/rendis/skillscript/internal/scheduler"
	"github.com/rendis/skillscript/internal/streaming"
	"github.com/rendis/skillscript/pkg/schema"
)

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Cast a script for an actor and tick until it stops",
		ArgsUsage: "<script>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "actor", Value: "player", Usage: "Actor the task runs for"},
			&cli.StringFlag{Name: "cast-trigger", Aliases: []string{"t"}, Usage: "Trigger block to run (default: the configured trigger)"},
			&cli.IntFlag{Name: "max-ticks", Value: 10000, Usage: "Stop after this many ticks (0 = no limit)"},
			&cli.BoolFlag{Name: "no-wait", Usage: "Tick as fast as possible instead of every tick interval"},
			&cli.BoolFlag{Name: "events", Usage: "Print lifecycle and step events"},
			&cli.StringSliceFlag{Name: "var", Usage: "Initial variable as name=value (repeatable)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("run expects exactly one script name")
			}
			cfg := resolveConfig(cmd)
			trigger := cfg.Trigger
			if cmd.IsSet("cast-trigger") {
				trigger = cmd.String("cast-trigger")
			}
			vars, err := parseVars(cmd.StringSlice("var"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer a.close()

			return runScript(ctx, a, writer(cmd), runOptions{
				script:   cmd.Args().First(),
				trigger:  trigger,
				actor:    cmd.String("actor"),
				vars:     vars,
				maxTicks: int(cmd.Int("max-ticks")),
				noWait:   cmd.Bool("no-wait"),
				events:   cmd.Bool("events"),
			})
		},
	}
}

type runOptions struct {
	script   string
	trigger  string
	actor    string
	vars     map[string]any
	maxTicks int
	noWait   bool
	events   bool
}

// runScript casts one script and drives the scheduler until the task is
// gone, printing every delivered message as it arrives.
func runScript(ctx context.Context, a *app, w io.Writer, opts runOptions) error {
	if _, err := a.actors.Register(opts.actor); err != nil {
		return err
	}

	if opts.events {
		ch, cancel, err := a.hub.Subscribe(ctx, streaming.EventFilter{})
		if err != nil {
			return err
		}
		defer cancel()
		go func() {
			for ev := range ch {
				fmt.Fprintf(w, "event %s task=%s step=%s\n", ev.EventType, ev.TaskID, ev.Step)
			}
		}()
	}

	taskID, err := a.caster.Cast(ctx, scheduler.CastRequest{
		Script:    opts.script,
		Trigger:   opts.trigger,
		ActorID:   opts.actor,
		Variables: opts.vars,
	})
	if err != nil {
		return err
	}

	interval, err := a.cfg.Tick()
	if err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for tick := 1; opts.maxTicks == 0 || tick <= opts.maxTicks; tick++ {
		a.sched.AdvanceAll(ctx)
		printInbox(w, a, tick)
		if a.sched.Len() == 0 {
			break
		}
		if opts.noWait {
			if ctx.Err() != nil {
				break
			}
			continue
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	if n := a.sched.Shutdown(context.WithoutCancel(ctx)); n > 0 {
		fmt.Fprintf(w, "stopped %d running task(s)\n", n)
	}

	info, ok := a.sched.Snapshot(taskID)
	if !ok {
		return fmt.Errorf("task %s vanished", taskID)
	}
	fmt.Fprintf(w, "task %s %s after %d ticks (%d steps)\n", info.ID, info.Status, info.Ticks, info.StepsExecuted)
	if info.Status == schema.TaskStatusFailed {
		return fmt.Errorf("script %s failed: %s", opts.script, info.Error)
	}
	return nil
}

func printInbox(w io.Writer, a *app, tick int) {
	for _, id := range a.actors.IDs() {
		for _, msg := range a.actors.Drain(id) {
			fmt.Fprintf(w, "[tick %d] %s: %s\n", tick, msg.To, msg.Text)
		}
	}
}

// parseVars turns name=value pairs into variables. Numbers and booleans
// are decoded; everything else stays a string.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q, want name=value", pair)
		}
		switch {
		case value == "true" || value == "false":
			vars[name] = value == "true"
		default:
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				vars[name] = f
			} else {
				vars[name] = value
			}
		}
	}
	return vars, nil
}
