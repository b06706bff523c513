package engine

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/rendis/skillscript/internal/store"
	"github.com/rendis/skillscript/pkg/schema"
)

// TransitionHook is called after a task status transition.
type TransitionHook func(ctx context.Context, task *Task, from, to schema.TaskStatus)

// EventAppender receives lifecycle and step events. Satisfied by the libSQL
// journal and by the scheduler's fan-out sink.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// ValidTaskTransitions defines the allowed task lifecycle transitions.
var ValidTaskTransitions = map[schema.TaskStatus][]schema.TaskStatus{
	schema.TaskStatusPending:   {schema.TaskStatusRunning, schema.TaskStatusCancelled},
	schema.TaskStatusRunning:   {schema.TaskStatusCompleted, schema.TaskStatusFailed, schema.TaskStatusCancelled},
	schema.TaskStatusCompleted: {},
	schema.TaskStatusFailed:    {},
	schema.TaskStatusCancelled: {},
}

type taskHookKey struct {
	from, to schema.TaskStatus
}

// TaskFSM validates task lifecycle transitions and journals each one.
type TaskFSM struct {
	mu       sync.Mutex
	appender EventAppender
	after    map[taskHookKey][]TransitionHook
}

// NewTaskFSM creates a TaskFSM. A nil appender disables event emission.
func NewTaskFSM(appender EventAppender) *TaskFSM {
	return &TaskFSM{
		appender: appender,
		after:    make(map[taskHookKey][]TransitionHook),
	}
}

// OnAfter registers a hook run after from -> to.
func (f *TaskFSM) OnAfter(from, to schema.TaskStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := taskHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates from -> to for task and emits the matching event
// with payload attached. After hooks run even when the event could not be
// appended; that error is still returned.
func (f *TaskFSM) Transition(ctx context.Context, task *Task, from, to schema.TaskStatus, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !slices.Contains(ValidTaskTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid task transition: %s -> %s", from, to).
			WithDetails(map[string]any{"task_id": task.ID(), "from": string(from), "to": string(to)})
	}

	var err error
	if f.appender != nil {
		var raw json.RawMessage
		if len(payload) > 0 {
			raw, _ = json.Marshal(payload)
		}
		event := &store.Event{
			TaskID:  task.ID(),
			ActorID: task.ActorID(),
			Type:    taskEventType(to),
			Payload: raw,
		}
		if aerr := f.appender.AppendEvent(ctx, event); aerr != nil {
			err = schema.NewErrorf(schema.ErrCodeStore, "emit task event: %s", aerr.Error()).WithCause(aerr)
		}
	}

	for _, hook := range f.after[taskHookKey{from, to}] {
		hook(ctx, task, from, to)
	}
	return err
}

func taskEventType(to schema.TaskStatus) string {
	switch to {
	case schema.TaskStatusRunning:
		return schema.EventTaskStarted
	case schema.TaskStatusCompleted:
		return schema.EventTaskCompleted
	case schema.TaskStatusFailed:
		return schema.EventTaskFailed
	case schema.TaskStatusCancelled:
		return schema.EventTaskCancelled
	default:
		return string(to)
	}
}

// FinalStatus maps a stopping tick result to the task status it ends in.
func FinalStatus(r TickResult) schema.TaskStatus {
	switch r {
	case TickCompleted:
		return schema.TaskStatusCompleted
	case TickCancelled:
		return schema.TaskStatusCancelled
	case TickFailed, TickActorInvalid:
		return schema.TaskStatusFailed
	default:
		return schema.TaskStatusRunning
	}
}
