package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/skillscript/internal/actions"
	"github.com/rendis/skillscript/internal/engine"
	"github.com/rendis/skillscript/internal/store"
	"github.com/rendis/skillscript/internal/streaming"
	"github.com/rendis/skillscript/internal/tracing"
	"github.com/rendis/skillscript/pkg/schema"
)

// DefaultHistory is how many finished tasks Snapshot can still report.
const DefaultHistory = 128

// TaskInfo is a point-in-time view of one task.
type TaskInfo struct {
	ID            string            `json:"id"`
	ActorID       string            `json:"actor_id"`
	Status        schema.TaskStatus `json:"status"`
	Ticks         int               `json:"ticks"`
	StepsExecuted int               `json:"steps_executed"`
	StackDepth    int               `json:"stack_depth"`
	Delay         int               `json:"delay,omitempty"`
	Error         string            `json:"error,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
}

type entry struct {
	task      *engine.Task
	startedAt time.Time
	reason    string // set by finish before the final transition

	info TaskInfo // refreshed by the tick goroutine under Scheduler.mu
}

// Scheduler owns the live tasks and advances each of them once per tick.
// Ticks are strictly sequential: one task's Advance finishes before the
// next one starts, so tasks need no locking of their own. Only the tick
// goroutine reads task internals; other callers see the TaskInfo copy it
// publishes after every advance.
type Scheduler struct {
	registry actions.ActionRegistry
	logger   *slog.Logger
	budget   int
	sink     *eventSink
	fsm      *engine.TaskFSM
	history  int
	tracer   trace.Tracer

	tickMu sync.Mutex // serializes AdvanceAll and Shutdown

	mu       sync.RWMutex
	tasks    map[string]*entry
	order    []string
	finished map[string]TaskInfo
	recent   []string
	ticks    uint64
}

var _ engine.EventAppender = (*Scheduler)(nil)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler and task logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStepBudget sets the per-frame, per-tick step budget of every task.
func WithStepBudget(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.budget = n
		}
	}
}

// WithJournal records lifecycle and step events.
func WithJournal(j engine.EventAppender) Option {
	return func(s *Scheduler) { s.sink.journal = j }
}

// WithHub publishes lifecycle and step events to live subscribers.
func WithHub(h streaming.EventHub) Option {
	return func(s *Scheduler) { s.sink.hub = h }
}

// WithTracer wraps every tick and cast in a span.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithHistory sets how many finished tasks are remembered for Snapshot.
func WithHistory(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.history = n
		}
	}
}

// New creates a Scheduler dispatching steps through registry.
func New(registry actions.ActionRegistry, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: registry,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		budget:   engine.DefaultStepBudget,
		sink:     &eventSink{},
		history:  DefaultHistory,
		tracer:   tracing.Noop(),
		tasks:    make(map[string]*entry),
		finished: make(map[string]TaskInfo),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sink.logger = s.logger
	s.fsm = engine.NewTaskFSM(s.sink)
	for _, to := range []schema.TaskStatus{
		schema.TaskStatusCompleted, schema.TaskStatusFailed, schema.TaskStatusCancelled,
	} {
		s.fsm.OnAfter(schema.TaskStatusRunning, to, s.retire)
	}
	return s
}

// Start creates a task running steps for actor and returns its ID. The task
// does its first work on the next tick.
func (s *Scheduler) Start(ctx context.Context, actor actions.Actor, steps []schema.StepRecord, opts ...engine.TaskOption) (string, error) {
	if actor == nil || !actor.Valid() {
		return "", schema.NewError(schema.ErrCodeActorInvalid, "cannot start a task for an invalid actor")
	}

	id := uuid.New().String()
	taskOpts := append([]engine.TaskOption{
		engine.WithStepBudget(s.budget),
		engine.WithLogger(s.logger),
		engine.WithAppender(s.sink),
	}, opts...)
	task := engine.NewTask(id, actor, steps, s.registry, taskOpts...)

	err := s.fsm.Transition(ctx, task, schema.TaskStatusPending, schema.TaskStatusRunning,
		map[string]any{"steps": len(steps)})
	if err != nil {
		var se *schema.ScriptError
		if !errors.As(err, &se) || se.Code != schema.ErrCodeStore {
			return "", err
		}
		s.logger.WarnContext(ctx, "task start not recorded",
			slog.String("task_id", id),
			slog.String("error", err.Error()),
		)
	}

	e := &entry{task: task, startedAt: time.Now().UTC()}
	e.info = infoOf(e, schema.TaskStatusRunning)

	s.mu.Lock()
	s.tasks[id] = e
	s.order = append(s.order, id)
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "task started",
		slog.String("task_id", id),
		slog.String("actor_id", actor.ID()),
		slog.Int("steps", len(steps)),
	)
	return id, nil
}

// Cancel flags a task for removal on the next tick. It reports whether the
// task is live; calling it again has no further effect.
func (s *Scheduler) Cancel(taskID string) bool {
	s.mu.RLock()
	e, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	e.task.Cancel()
	return true
}

// CancelAll flags every live task bound to actorID and returns how many
// were newly cancelled.
func (s *Scheduler) CancelAll(actorID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.tasks {
		if e.task.ActorID() != actorID || e.task.Cancelled() {
			continue
		}
		e.task.Cancel()
		n++
	}
	return n
}

// IsRunning reports whether the task is live and not cancelled.
func (s *Scheduler) IsRunning(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[taskID]
	return ok && !e.task.Cancelled()
}

// Len returns the number of live tasks.
func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Ticks returns how many times AdvanceAll has run.
func (s *Scheduler) Ticks() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticks
}

// Snapshot reports the state of a live or recently finished task.
func (s *Scheduler) Snapshot(taskID string) (TaskInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.tasks[taskID]; ok {
		return e.info, true
	}
	info, ok := s.finished[taskID]
	return info, ok
}

// List returns views of all live tasks in start order.
func (s *Scheduler) List() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskInfo, 0, len(s.order))
	for _, id := range s.order {
		if e, ok := s.tasks[id]; ok {
			out = append(out, e.info)
		}
	}
	return out
}

// AppendEvent sends an event through the scheduler's journal and hub.
func (s *Scheduler) AppendEvent(ctx context.Context, event *store.Event) error {
	return s.sink.AppendEvent(ctx, event)
}

// AdvanceAll runs one tick: cancelled tasks are removed, the rest advance
// once in start order, and tasks that stop are removed. A panic escaping a
// task fails only that task.
func (s *Scheduler) AdvanceAll(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	s.ticks++
	tick := s.ticks
	ids := append([]string(nil), s.order...)
	s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, s.tracer, "scheduler.tick",
		attribute.Int64(tracing.TickKey, int64(tick)),
		attribute.Int(tracing.TaskCountKey, len(ids)),
	)
	defer span.End()

	for _, id := range ids {
		s.mu.RLock()
		e, ok := s.tasks[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		if e.task.Cancelled() {
			s.finish(ctx, e, schema.TaskStatusCancelled, "")
			continue
		}

		result, panicMsg := s.advance(ctx, e.task)
		if panicMsg != "" {
			s.logger.ErrorContext(ctx, "task panicked, removed",
				slog.String("task_id", id),
				slog.String("panic", panicMsg),
			)
			s.finish(ctx, e, schema.TaskStatusFailed, panicMsg)
			continue
		}
		if !result.Continues() {
			s.finish(ctx, e, engine.FinalStatus(result), "")
			continue
		}
		info := infoOf(e, schema.TaskStatusRunning)
		s.mu.Lock()
		e.info = info
		s.mu.Unlock()
	}
}

func (s *Scheduler) advance(ctx context.Context, task *engine.Task) (result engine.TickResult, panicMsg string) {
	defer func() {
		if r := recover(); r != nil {
			result = engine.TickFailed
			panicMsg = fmt.Sprintf("task panicked: %v", r)
		}
	}()
	return task.Advance(ctx), ""
}

// finish transitions the task to its final status. The transition's after
// hook (retire) removes it.
func (s *Scheduler) finish(ctx context.Context, e *entry, status schema.TaskStatus, reason string) {
	task := e.task
	if reason == "" {
		reason = task.Err()
	}
	e.reason = reason
	payload := map[string]any{
		"ticks": task.Ticks(),
		"steps": task.StepsExecuted(),
	}
	if reason != "" {
		payload["error"] = reason
	}
	if err := s.fsm.Transition(ctx, task, schema.TaskStatusRunning, status, payload); err != nil {
		s.logger.WarnContext(ctx, "task transition not recorded",
			slog.String("task_id", task.ID()),
			slog.String("error", err.Error()),
		)
		s.retire(ctx, task, schema.TaskStatusRunning, status)
	}
}

// retire drops a finished task from the live set and remembers its final
// view. Calling it for a task that is already gone does nothing.
func (s *Scheduler) retire(ctx context.Context, task *engine.Task, _, status schema.TaskStatus) {
	s.mu.RLock()
	e, ok := s.tasks[task.ID()]
	s.mu.RUnlock()
	if !ok {
		return
	}

	now := time.Now().UTC()
	info := infoOf(e, status)
	info.Error = e.reason
	info.FinishedAt = &now

	s.mu.Lock()
	delete(s.tasks, task.ID())
	for i, id := range s.order {
		if id == task.ID() {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.remember(info)
	s.mu.Unlock()

	trace.SpanFromContext(ctx).AddEvent("task removed", trace.WithAttributes(
		attribute.String(tracing.TaskIDKey, task.ID()),
		attribute.String(tracing.StatusKey, string(status)),
	))
	s.logger.InfoContext(ctx, "task removed",
		slog.String("task_id", task.ID()),
		slog.String("actor_id", task.ActorID()),
		slog.String("status", string(status)),
		slog.Int("ticks", task.Ticks()),
	)
}

// remember must be called with s.mu held.
func (s *Scheduler) remember(info TaskInfo) {
	if s.history == 0 {
		return
	}
	s.finished[info.ID] = info
	s.recent = append(s.recent, info.ID)
	for len(s.recent) > s.history {
		delete(s.finished, s.recent[0])
		s.recent = s.recent[1:]
	}
}

// infoOf reads task internals and must run on the tick goroutine, or before
// the task is published.
func infoOf(e *entry, status schema.TaskStatus) TaskInfo {
	t := e.task
	return TaskInfo{
		ID:            t.ID(),
		ActorID:       t.ActorID(),
		Status:        status,
		Ticks:         t.Ticks(),
		StepsExecuted: t.StepsExecuted(),
		StackDepth:    t.State().Depth(),
		Delay:         t.State().GlobalDelay(),
		Error:         t.Err(),
		StartedAt:     e.startedAt,
	}
}

// Run calls AdvanceAll every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "tick interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "tick loop started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("tick loop stopped")
			return nil
		case <-ticker.C:
			s.AdvanceAll(ctx)
		}
	}
}

// Shutdown cancels and removes every live task immediately and returns how
// many there were.
func (s *Scheduler) Shutdown(ctx context.Context) int {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.RLock()
	entries := make([]*entry, 0, len(s.order))
	for _, id := range s.order {
		if e, ok := s.tasks[id]; ok {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	for _, e := range entries {
		e.task.Cancel()
		s.finish(ctx, e, schema.TaskStatusCancelled, "scheduler shut down")
	}
	return len(entries)
}
