package scheduler

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rendis/skillscript/internal/actions"
	"github.com/rendis/skillscript/internal/engine"
	"github.com/rendis/skillscript/internal/tracing"
	"github.com/rendis/skillscript/pkg/schema"
)

// ScriptSource resolves the step list of a script trigger.
type ScriptSource interface {
	Steps(name, trigger string) ([]schema.StepRecord, error)
}

// ActorSource resolves actor IDs to handles.
type ActorSource interface {
	Lookup(id string) (actions.Actor, bool)
}

// CastRequest names a script trigger to run for an actor.
type CastRequest struct {
	Script    string         `json:"script"`
	Trigger   string         `json:"trigger,omitempty"`
	ActorID   string         `json:"actor"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Caster starts tasks from named scripts.
type Caster struct {
	sched   *Scheduler
	scripts ScriptSource
	actors  ActorSource
}

// NewCaster creates a Caster.
func NewCaster(sched *Scheduler, scripts ScriptSource, actors ActorSource) *Caster {
	return &Caster{sched: sched, scripts: scripts, actors: actors}
}

// Cast resolves the script and actor of req and starts a task. An empty
// trigger means schema.DefaultTrigger. The variables "script" and "trigger"
// are seeded alongside req.Variables.
func (c *Caster) Cast(ctx context.Context, req CastRequest) (id string, err error) {
	ctx, span := tracing.StartSpan(ctx, c.sched.tracer, "scheduler.cast",
		attribute.String(tracing.ScriptKey, req.Script),
		attribute.String(tracing.TriggerKey, req.Trigger),
		attribute.String(tracing.ActorIDKey, req.ActorID),
	)
	defer func() {
		if err != nil {
			tracing.SetError(span, err)
		} else {
			span.SetAttributes(attribute.String(tracing.TaskIDKey, id))
		}
		span.End()
	}()

	if req.Script == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "script is required")
	}
	if req.ActorID == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "actor is required")
	}
	if req.Trigger == "" {
		req.Trigger = schema.DefaultTrigger
	}

	actor, ok := c.actors.Lookup(req.ActorID)
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "actor %q not found", req.ActorID)
	}
	steps, err := c.scripts.Steps(req.Script, req.Trigger)
	if err != nil {
		return "", err
	}

	seed := make(map[string]any, len(req.Variables)+2)
	for k, v := range req.Variables {
		seed[k] = v
	}
	seed["script"] = req.Script
	seed["trigger"] = req.Trigger
	return c.sched.Start(ctx, actor, steps, engine.WithVariables(seed))
}
