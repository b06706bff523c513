package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rendis/skillscript/internal/actions"
	"github.com/rendis/skillscript/internal/actors"
	"github.com/rendis/skillscript/internal/expressions"
	"github.com/rendis/skillscript/internal/panel"
	"github.com/rendis/skillscript/internal/scheduler"
	"github.com/rendis/skillscript/internal/scripts"
	"github.com/rendis/skillscript/internal/store"
	"github.com/rendis/skillscript/internal/streaming"
	"github.com/rendis/skillscript/internal/tracing"
	"github.com/rendis/skillscript/internal/validation"
	"github.com/rendis/skillscript/pkg/schema"
)

// app is the wired runtime shared by the commands.
type app struct {
	cfg       Config
	logger    *slog.Logger
	registry  *actions.Registry
	validator *validation.ScriptValidator
	library   *scripts.Library
	actors    *actors.Directory
	journal   *store.LibSQLJournal // nil when db_path is empty
	hub       streaming.Bus
	sched     *scheduler.Scheduler
	caster    *scheduler.Caster

	stopTracer func(context.Context) error // nil unless tracing is on
}

// newApp wires every component from cfg and loads the script library.
func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		actors: actors.NewDirectory(),
	}

	var err error
	a.hub, err = streaming.NewBus(ctx, cfg.EventBus, cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}
	a.registry, err = newRegistry(logger, a.actors)
	if err != nil {
		a.close()
		return nil, err
	}
	a.validator, err = validation.NewScriptValidator(a.registry)
	if err != nil {
		a.close()
		return nil, err
	}
	a.library = scripts.NewLibrary(cfg.ScriptsDir,
		scripts.WithLogger(logger),
		scripts.WithValidator(a.validator),
	)

	opts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithStepBudget(cfg.StepBudget),
		scheduler.WithHub(a.hub),
	}
	if cfg.Tracing {
		tracer, stop, err := tracing.NewTracer(ctx, tracing.ServiceName)
		if err != nil {
			a.close()
			return nil, err
		}
		a.stopTracer = stop
		opts = append(opts, scheduler.WithTracer(tracer))
	}
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			a.close()
			return nil, schema.NewErrorf(schema.ErrCodeStore, "create journal folder: %s", err.Error()).WithCause(err)
		}
		a.journal, err = store.NewLibSQLJournal(cfg.DBPath)
		if err != nil {
			a.close()
			return nil, err
		}
		if err := a.journal.Migrate(ctx); err != nil {
			a.close()
			return nil, err
		}
		opts = append(opts, scheduler.WithJournal(a.journal))
	}
	a.sched = scheduler.New(a.registry, opts...)
	a.caster = scheduler.NewCaster(a.sched, a.library, a.actors)
	a.actors.OnDeliver(a.recordDelivery)

	if _, err := a.library.Load(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// recordDelivery journals and publishes every delivered message.
func (a *app) recordDelivery(ctx context.Context, msg actors.Message) {
	payload, _ := json.Marshal(map[string]any{"to": msg.To, "text": msg.Text})
	err := a.sched.AppendEvent(ctx, &store.Event{
		TaskID:  msg.TaskID,
		ActorID: msg.From,
		Step:    schema.StepSendMessage,
		Type:    schema.EventMessageSent,
		Payload: payload,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "record message", slog.String("error", err.Error()))
	}
}

// triggers returns the cron trigger loop, or nil without a journal.
func (a *app) triggers() *scheduler.Triggers {
	if a.journal == nil {
		return nil
	}
	t := scheduler.NewTriggers(a.journal, a.caster, a.logger)
	t.SetEventSink(a.sched)
	return t
}

// panel builds the HTTP panel over the wired components.
func (a *app) panel() *panel.PanelServer {
	deps := panel.PanelDeps{
		Scheduler: a.sched,
		Caster:    a.caster,
		Scripts:   a.library,
		Actors:    a.actors,
		Hub:       a.hub,
		Steps:     a.registry,
		Logger:    a.logger,
	}
	if a.journal != nil {
		deps.Events = a.journal
	}
	return panel.NewPanelServer(deps)
}

func (a *app) close() {
	if a.hub != nil {
		if err := a.hub.Close(); err != nil {
			a.logger.Warn("close event bus", slog.String("error", err.Error()))
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("close journal", slog.String("error", err.Error()))
		}
	}
	if a.stopTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.stopTracer(ctx); err != nil {
			a.logger.Warn("flush traces", slog.String("error", err.Error()))
		}
	}
}

// newRegistry registers the built-in steps with parameter validation on.
func newRegistry(logger *slog.Logger, messenger actions.Messenger) (*actions.Registry, error) {
	jsv, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	engines, err := expressions.NewEngines()
	if err != nil {
		return nil, err
	}
	reg := actions.NewRegistry()
	if err := actions.RegisterBuiltins(reg, actions.BuiltinDeps{
		Validator: jsv,
		Engines:   engines,
		Messenger: messenger,
		Logger:    logger,
	}); err != nil {
		return nil, err
	}
	return reg, nil
}
