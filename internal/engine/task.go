package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/rendis/skillscript/internal/actions"
	"github.com/rendis/skillscript/internal/logging"
	"github.com/rendis/skillscript/internal/store"
	"github.com/rendis/skillscript/pkg/schema"
)

// DefaultStepBudget bounds how many steps one sequential frame, or one
// parallel branch, may execute in a single tick.
const DefaultStepBudget = 100

// TickResult is what one Advance call reports to the scheduler.
type TickResult int

const (
	// TickContinue means work was done and the task stays alive.
	TickContinue TickResult = iota
	// TickIdle means the task is waiting out a delay.
	TickIdle
	TickCompleted
	TickFailed
	TickCancelled
	TickActorInvalid
)

// Continues reports whether the task should stay scheduled.
func (r TickResult) Continues() bool {
	return r == TickContinue || r == TickIdle
}

func (r TickResult) String() string {
	switch r {
	case TickContinue:
		return "continue"
	case TickIdle:
		return "idle"
	case TickCompleted:
		return "completed"
	case TickFailed:
		return "failed"
	case TickCancelled:
		return "cancelled"
	case TickActorInvalid:
		return "actor_invalid"
	default:
		return fmt.Sprintf("tick(%d)", int(r))
	}
}

// Task is one running script invocation bound to an actor.
type Task struct {
	id       string
	actor    actions.Actor
	vars     *Variables
	state    *ExecutionState
	registry actions.ActionRegistry
	appender EventAppender
	logger   *slog.Logger
	budget   int

	cancelled atomic.Bool
	ticks     int
	executed  int
	err       string
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithStepBudget overrides DefaultStepBudget. Non-positive values are ignored.
func WithStepBudget(n int) TaskOption {
	return func(t *Task) {
		if n > 0 {
			t.budget = n
		}
	}
}

// WithLogger sets the task logger.
func WithLogger(l *slog.Logger) TaskOption {
	return func(t *Task) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithAppender receives step-level events (skipped and failed steps).
func WithAppender(a EventAppender) TaskOption {
	return func(t *Task) { t.appender = a }
}

// WithVariables seeds the variable store.
func WithVariables(seed map[string]any) TaskOption {
	return func(t *Task) {
		for k, v := range seed {
			t.vars.Set(k, v)
		}
	}
}

// NewTask creates a task that will run steps for actor. The variables
// "actor" and "task" are bound to the actor and task IDs after the options
// run, so seeded variables cannot replace them.
func NewTask(id string, actor actions.Actor, steps []schema.StepRecord, registry actions.ActionRegistry, opts ...TaskOption) *Task {
	t := &Task{
		id:       id,
		actor:    actor,
		vars:     NewVariables(nil),
		state:    NewExecutionState(steps),
		registry: registry,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		budget:   DefaultStepBudget,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.vars.Set("task", id)
	if actor != nil {
		t.vars.Set("actor", actor.ID())
	}
	return t
}

func (t *Task) ID() string             { return t.id }
func (t *Task) Actor() actions.Actor   { return t.actor }
func (t *Task) Variables() *Variables  { return t.vars }
func (t *Task) State() *ExecutionState { return t.state }
func (t *Task) Cancelled() bool        { return t.cancelled.Load() }
func (t *Task) Ticks() int             { return t.ticks }
func (t *Task) StepsExecuted() int     { return t.executed }
func (t *Task) Err() string            { return t.err }
func (t *Task) Cancel()                { t.cancelled.Store(true) }

// ActorID returns the bound actor's ID, or "" without an actor.
func (t *Task) ActorID() string {
	if t.actor == nil {
		return ""
	}
	return t.actor.ID()
}

// Advance runs one tick of work.
func (t *Task) Advance(ctx context.Context) TickResult {
	if t.cancelled.Load() {
		return TickCancelled
	}
	if t.actor == nil || !t.actor.Valid() {
		t.err = "actor is no longer valid"
		t.cancelled.Store(true)
		return TickActorInvalid
	}
	t.ticks++
	ctx = logging.WithIDs(ctx, t.id, t.actor.ID())

	for !t.state.IsFinished() && t.state.IsTopFrameFinished() {
		t.state.PopFrame(t.vars)
	}
	if t.state.IsFinished() {
		return TickCompleted
	}

	switch top := t.state.Top().(type) {
	case *SequentialFrame:
		if t.state.IsGloballyDelaying() {
			return TickIdle
		}
		if !t.runSequential(ctx, top) {
			return TickFailed
		}
	case *ParallelFrame:
		t.runParallel(ctx, top)
	}
	return TickContinue
}

// runSequential executes steps of frame until the budget is spent, a step
// delays or pushes a frame, or the frame runs out. It returns false when a
// step failed and the task was cancelled.
func (t *Task) runSequential(ctx context.Context, frame *SequentialFrame) bool {
	for n := 0; n < t.budget; n++ {
		rec, ok := frame.Next()
		if !ok {
			return true
		}
		st := t.execute(ctx, rec)
		switch st.Kind {
		case schema.StatusDelay:
			frame.advance()
			t.state.SetGlobalDelay(st.Ticks)
			return true
		case schema.StatusError:
			t.err = fmt.Sprintf("%s: %s", rec.Name, st.Message)
			t.cancelled.Store(true)
			t.logger.ErrorContext(ctx, "step failed, task cancelled",
				slog.String("step", rec.Name),
				slog.String("error", st.Message),
			)
			return false
		default:
			frame.advance()
			if t.state.Top() != Frame(frame) {
				return true
			}
		}
	}
	return true
}

// runParallel gives every live branch of frame its turn, in declaration order.
func (t *Task) runParallel(ctx context.Context, frame *ParallelFrame) {
	for i, b := range frame.branches {
		if b == nil || b.finished {
			continue
		}
		if t.state.IsBranchDelaying(i) {
			continue
		}
		if !t.runBranch(ctx, frame, i, b) {
			return
		}
	}
}

// runBranch executes steps of one branch. It returns false when a step
// pushed a frame, which suspends the whole split for the rest of the tick.
func (t *Task) runBranch(ctx context.Context, frame *ParallelFrame, i int, b *BranchState) bool {
	for n := 0; n < t.budget; n++ {
		rec, ok := b.Next()
		if !ok {
			b.finish()
			return true
		}
		st := t.execute(ctx, rec)
		b.advance()
		if t.state.Top() != Frame(frame) {
			frame.opener = i
		}
		switch st.Kind {
		case schema.StatusDelay:
			t.state.SetBranchDelay(i, st.Ticks)
			return true
		case schema.StatusError:
			b.finish()
			t.logger.WarnContext(ctx, "parallel branch failed",
				slog.Int("branch", i),
				slog.String("step", rec.Name),
				slog.String("error", st.Message),
			)
			t.emit(ctx, schema.EventStepFailed, rec.Name, map[string]any{"branch": i, "error": st.Message})
			return t.state.Top() == Frame(frame)
		}
		if t.state.Top() != Frame(frame) {
			return false
		}
	}
	return true
}

// execute dispatches one record. Unknown steps are skipped, malformed records
// and invalid parameters fail, and panics become error statuses.
func (t *Task) execute(ctx context.Context, rec schema.StepRecord) (st schema.Status) {
	t.executed++
	ctx = logging.WithStep(ctx, rec.Name)

	defer func() {
		if r := recover(); r != nil {
			st = schema.Failedf("step %q panicked: %v", rec.Name, r)
			t.logger.ErrorContext(ctx, "step panicked", slog.Any("panic", r))
		}
	}()

	if !rec.Valid() {
		if rec.Malformed != "" {
			return schema.Failed(rec.Malformed)
		}
		return schema.Failed("step record has no name")
	}

	action, ok := t.registry.Lookup(rec.Name)
	if !ok {
		t.logger.WarnContext(ctx, "unknown step skipped")
		t.emit(ctx, schema.EventStepSkipped, rec.Name, nil)
		return schema.Completed()
	}

	params := rec.CloneParams()
	if err := action.Validate(params); err != nil {
		return schema.FailedFrom(err)
	}

	depth, pushes := t.state.Depth(), t.state.Pushes()
	st = action.Execute(ctx, actions.ActionInput{
		TaskID: t.id,
		Params: params,
		Vars:   t.vars,
		Flow:   t.state,
		Actor:  t.actor,
	})
	if st.IsDelay() && t.state.Pushes() != pushes {
		t.state.unwind(depth)
		return schema.Failedf("step %q opened a nested scope and requested a delay in the same call", rec.Name)
	}
	t.logger.DebugContext(ctx, "step executed", slog.String("status", st.String()))
	return st
}

func (t *Task) emit(ctx context.Context, eventType, step string, payload map[string]any) {
	if t.appender == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	ev := &store.Event{
		TaskID:  t.id,
		ActorID: t.ActorID(),
		Step:    step,
		Type:    eventType,
		Payload: raw,
	}
	if err := t.appender.AppendEvent(ctx, ev); err != nil {
		t.logger.WarnContext(ctx, "emit step event", slog.String("error", err.Error()))
	}
}
