package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/skillscript/internal/engine"
	"github.com/rendis/skillscript/internal/store"
	"github.com/rendis/skillscript/pkg/schema"
)

const triggerPollInterval = time.Minute

// TriggerStore is the part of the journal that holds cron triggers.
type TriggerStore interface {
	CreateTrigger(ctx context.Context, trigger *store.Trigger) error
	GetTrigger(ctx context.Context, id string) (*store.Trigger, error)
	UpdateTrigger(ctx context.Context, id string, update store.TriggerUpdate) error
	ListTriggers(ctx context.Context, filter store.TriggerFilter) ([]*store.Trigger, error)
	DeleteTrigger(ctx context.Context, id string) error
}

// TriggerCaster is the interface the trigger loop uses to start tasks.
// Satisfied by *Caster.
type TriggerCaster interface {
	Cast(ctx context.Context, req CastRequest) (string, error)
}

// Triggers polls the store for due cron triggers and casts them.
type Triggers struct {
	store  TriggerStore
	caster TriggerCaster
	parser cron.Parser
	logger *slog.Logger
	events engine.EventAppender
	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // trigger IDs currently casting
}

// NewTriggers creates a trigger loop. Five-field cron expressions are accepted.
func NewTriggers(s TriggerStore, caster TriggerCaster, logger *slog.Logger) *Triggers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Triggers{
		store:    s,
		caster:   caster,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
}

// SetEventSink records a trigger_fired event for each successful cast.
func (t *Triggers) SetEventSink(events engine.EventAppender) {
	t.events = events
}

// Add validates the cron expression and stores an enabled trigger.
func (t *Triggers) Add(ctx context.Context, cronExpr, script, trigger, actorID string) (*store.Trigger, error) {
	if script == "" || actorID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "trigger needs a script and an actor")
	}
	next, err := t.CalculateNextRun(cronExpr, t.now())
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	if trigger == "" {
		trigger = schema.DefaultTrigger
	}
	tr := &store.Trigger{
		ID:             uuid.New().String(),
		CronExpression: cronExpr,
		Script:         script,
		TriggerName:    trigger,
		ActorID:        actorID,
		Enabled:        true,
		NextRunAt:      &next,
		CreatedAt:      t.now(),
	}
	if err := t.store.CreateTrigger(ctx, tr); err != nil {
		return nil, err
	}
	return tr, nil
}

// Remove deletes a trigger.
func (t *Triggers) Remove(ctx context.Context, id string) error {
	return t.store.DeleteTrigger(ctx, id)
}

// SetEnabled pauses or resumes a trigger.
func (t *Triggers) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return t.store.UpdateTrigger(ctx, id, store.TriggerUpdate{Enabled: &enabled})
}

// List returns the stored triggers, optionally for one actor.
func (t *Triggers) List(ctx context.Context, actorID string) ([]*store.Trigger, error) {
	return t.store.ListTriggers(ctx, store.TriggerFilter{ActorID: actorID})
}

// Start launches the background polling loop.
func (t *Triggers) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.done != nil {
		t.mu.Unlock()
		return fmt.Errorf("trigger loop already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.loop(loopCtx)
	t.logger.Info("trigger loop started")
	return nil
}

func (t *Triggers) loop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(triggerPollInterval)
	defer ticker.Stop()

	// Missed triggers fire once right away.
	t.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// tick casts every enabled trigger that is due and returns how many fired.
func (t *Triggers) tick(ctx context.Context) int {
	enabled := true
	triggers, err := t.store.ListTriggers(ctx, store.TriggerFilter{Enabled: &enabled})
	if err != nil {
		t.logger.Error("failed to list triggers", slog.String("error", err.Error()))
		return 0
	}

	now := t.now()
	fired := 0
	for _, tr := range triggers {
		if tr.NextRunAt != nil && tr.NextRunAt.After(now) {
			continue
		}
		if !t.tryAcquire(tr.ID) {
			continue
		}
		if err := t.fire(ctx, tr, now); err != nil {
			t.logger.Error("failed to fire trigger",
				slog.String("trigger_id", tr.ID),
				slog.String("error", err.Error()),
			)
		} else {
			fired++
		}
		t.release(tr.ID)
	}
	return fired
}

// fire casts one trigger and records its run.
func (t *Triggers) fire(ctx context.Context, tr *store.Trigger, now time.Time) error {
	t.logger.Info("firing trigger",
		slog.String("trigger_id", tr.ID),
		slog.String("script", tr.Script),
		slog.String("actor_id", tr.ActorID),
	)

	taskID, err := t.caster.Cast(ctx, CastRequest{
		Script:  tr.Script,
		Trigger: tr.TriggerName,
		ActorID: tr.ActorID,
	})
	status := "started"
	if err != nil {
		status = "error"
		t.logger.Error("trigger cast failed",
			slog.String("trigger_id", tr.ID),
			slog.String("error", err.Error()),
		)
	} else if t.events != nil {
		ev := &store.Event{
			TaskID:  taskID,
			ActorID: tr.ActorID,
			Type:    schema.EventTriggerFired,
		}
		ev.Payload = mustJSON(map[string]any{"trigger_id": tr.ID, "script": tr.Script, "cron": tr.CronExpression})
		if eerr := t.events.AppendEvent(ctx, ev); eerr != nil {
			t.logger.Warn("record trigger event", slog.String("error", eerr.Error()))
		}
	}

	nextRun, nerr := t.CalculateNextRun(tr.CronExpression, now)
	if nerr != nil {
		return fmt.Errorf("calculate next run for trigger %q: %w", tr.ID, nerr)
	}
	if uerr := t.store.UpdateTrigger(ctx, tr.ID, store.TriggerUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	}); uerr != nil {
		return uerr
	}
	return err
}

// tryAcquire returns true and marks the trigger as in-flight if it is not already casting.
func (t *Triggers) tryAcquire(id string) bool {
	t.inflightMu.Lock()
	defer t.inflightMu.Unlock()
	if _, ok := t.inflight[id]; ok {
		return false
	}
	t.inflight[id] = struct{}{}
	return true
}

func (t *Triggers) release(id string) {
	t.inflightMu.Lock()
	defer t.inflightMu.Unlock()
	delete(t.inflight, id)
}

// CalculateNextRun computes the next run time for a cron expression.
func (t *Triggers) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := t.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop shuts the polling loop down and waits for it to exit.
func (t *Triggers) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel == nil {
		return nil
	}

	t.cancel()
	<-t.done
	t.cancel = nil
	t.done = nil

	t.logger.Info("trigger loop stopped")
	return nil
}
