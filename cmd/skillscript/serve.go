package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/rendis/skillscript/pkg/mcp"
)

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scheduler and expose it as an MCP server over stdio",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "panel-addr",
				Usage:   "Also serve the HTTP panel on this host:port",
				Sources: cli.EnvVars("SKILLSCRIPT_PANEL_ADDR"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := resolveConfig(cmd)
			if cmd.IsSet("panel-addr") {
				cfg.PanelAddr = cmd.String("panel-addr")
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			interval, err := cfg.Tick()
			if err != nil {
				return err
			}

			deps := mcp.ServerDeps{
				Scheduler: a.sched,
				Caster:    a.caster,
				Scripts:   a.library,
				Actors:    a.actors,
				Logger:    logger,
			}
			if a.journal != nil {
				deps.Events = a.journal
			}
			if trg := a.triggers(); trg != nil {
				if err := trg.Start(ctx); err != nil {
					return err
				}
				defer func() {
					if err := trg.Stop(); err != nil {
						logger.Warn("stop triggers", slog.String("error", err.Error()))
					}
				}()
				deps.Triggers = trg
			}

			tickErr := make(chan error, 1)
			go func() { tickErr <- a.sched.Run(ctx, interval) }()

			panelErr := make(chan error, 1)
			if cfg.PanelAddr != "" {
				go func() { panelErr <- a.panel().ListenAndServe(ctx, cfg.PanelAddr) }()
			} else {
				panelErr <- nil
			}

			logger.Info("skillscript serving",
				slog.String("scripts_dir", cfg.ScriptsDir),
				slog.Int("scripts", a.library.Len()),
				slog.Duration("tick", interval),
			)

			mcp.Version = version
			serveErr := mcp.NewServer(deps).Serve(ctx)
			stop()

			if n := a.sched.Shutdown(context.Background()); n > 0 {
				logger.Info("cancelled running tasks", slog.Int("count", n))
			}
			if err := <-tickErr; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if err := <-panelErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
				return serveErr
			}
			return nil
		},
	}
}
