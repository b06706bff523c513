package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/rendis/skillscript/internal/logging"
)

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "skillscript",
		Usage:                 "Run tick-driven scripts for actors",
		Version:               version,
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "scripts-dir",
				Usage:   "Folder holding *.yml script documents",
				Sources: cli.EnvVars("SKILLSCRIPT_SCRIPTS_DIR"),
			},
			&cli.StringFlag{
				Name:    "db-path",
				Usage:   "libSQL journal file (empty disables the journal)",
				Sources: cli.EnvVars("SKILLSCRIPT_DB_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("SKILLSCRIPT_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "tick-interval",
				Usage:   "Time between ticks, e.g. 50ms",
				Sources: cli.EnvVars("SKILLSCRIPT_TICK_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "step-budget",
				Usage:   "Steps one frame or branch may run per tick",
				Sources: cli.EnvVars("SKILLSCRIPT_STEP_BUDGET"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry spans over OTLP/HTTP",
				Sources: cli.EnvVars("SKILLSCRIPT_TRACING"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus backend (memory, gochannel, kafka)",
				Sources: cli.EnvVars("SKILLSCRIPT_EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka brokers for --event-bus kafka",
				Sources: cli.EnvVars("SKILLSCRIPT_KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "trigger",
				Usage:   "Default trigger block to cast",
				Sources: cli.EnvVars("SKILLSCRIPT_TRIGGER"),
			},
		},
		Commands: []*cli.Command{
			newRunCommand(),
			newValidateCommand(),
			newListCommand(),
			newServeCommand(),
			newDiagramCommand(),
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(_ context.Context, cmd *cli.Command) error {
					printVersion(writer(cmd))
					return nil
				},
			},
		},
	}
}

// resolveConfig layers explicitly set flags over loadConfig.
func resolveConfig(cmd *cli.Command) Config {
	cfg := loadConfig()
	if cmd.IsSet("scripts-dir") {
		cfg.ScriptsDir = cmd.String("scripts-dir")
	}
	if cmd.IsSet("db-path") {
		cfg.DBPath = cmd.String("db-path")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("tick-interval") {
		cfg.TickInterval = cmd.String("tick-interval")
	}
	if cmd.IsSet("step-budget") {
		cfg.StepBudget = int(cmd.Int("step-budget"))
	}
	if cmd.IsSet("trigger") {
		cfg.Trigger = cmd.String("trigger")
	}
	if cmd.IsSet("tracing") {
		cfg.Tracing = cmd.Bool("tracing")
	}
	if cmd.IsSet("event-bus") {
		cfg.EventBus = cmd.String("event-bus")
	}
	if cmd.IsSet("kafka-brokers") {
		cfg.KafkaBrokers = cmd.String("kafka-brokers")
	}
	return cfg
}

// newLogger logs to stderr; stdout carries command output and the MCP transport.
func newLogger(cfg Config) *slog.Logger {
	return logging.New(os.Stderr, cfg.LogLevel)
}

func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
