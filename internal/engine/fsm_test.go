package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/skillscript/pkg/schema"
)

func fsmTask(t *testing.T) *Task {
	t.Helper()
	return NewTask("task-9", newActor("hero"), nil, newTestRegistry(t, &recorder{}))
}

func TestTaskFSM_ValidTransitions(t *testing.T) {
	app := &mockAppender{}
	fsm := NewTaskFSM(app)
	ctx := context.Background()
	task := fsmTask(t)

	require.NoError(t, fsm.Transition(ctx, task, schema.TaskStatusPending, schema.TaskStatusRunning, nil))
	require.NoError(t, fsm.Transition(ctx, task, schema.TaskStatusRunning, schema.TaskStatusCompleted,
		map[string]any{"ticks": 3}))

	events := app.Events()
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventTaskStarted, events[0].Type)
	assert.Equal(t, "task-9", events[0].TaskID)
	assert.Equal(t, "hero", events[0].ActorID)
	assert.Nil(t, events[0].Payload)

	assert.Equal(t, schema.EventTaskCompleted, events[1].Type)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[1].Payload, &payload))
	assert.Equal(t, 3.0, payload["ticks"])
}

func TestTaskFSM_EventTypes(t *testing.T) {
	tests := []struct {
		from, to schema.TaskStatus
		want     string
	}{
		{schema.TaskStatusRunning, schema.TaskStatusFailed, schema.EventTaskFailed},
		{schema.TaskStatusRunning, schema.TaskStatusCancelled, schema.EventTaskCancelled},
		{schema.TaskStatusPending, schema.TaskStatusCancelled, schema.EventTaskCancelled},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			app := &mockAppender{}
			require.NoError(t, NewTaskFSM(app).Transition(context.Background(), fsmTask(t), tt.from, tt.to, nil))
			assert.Equal(t, []string{tt.want}, app.Types())
		})
	}
}

func TestTaskFSM_InvalidTransitions(t *testing.T) {
	fsm := NewTaskFSM(nil)
	ctx := context.Background()
	task := fsmTask(t)

	invalid := [][2]schema.TaskStatus{
		{schema.TaskStatusPending, schema.TaskStatusCompleted},
		{schema.TaskStatusCompleted, schema.TaskStatusRunning},
		{schema.TaskStatusFailed, schema.TaskStatusCancelled},
		{schema.TaskStatusCancelled, schema.TaskStatusRunning},
	}
	for _, pair := range invalid {
		err := fsm.Transition(ctx, task, pair[0], pair[1], nil)
		require.Error(t, err)
		var se *schema.ScriptError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, schema.ErrCodeInvalidTransition, se.Code)
	}
}

func TestTaskFSM_AfterHooks(t *testing.T) {
	app := &mockAppender{}
	fsm := NewTaskFSM(app)
	ctx := context.Background()
	task := fsmTask(t)

	var calls []string
	fsm.OnAfter(schema.TaskStatusPending, schema.TaskStatusRunning, func(_ context.Context, tk *Task, from, to schema.TaskStatus) {
		// The event is already appended when the hook runs.
		calls = append(calls, fmt.Sprintf("%s:%s->%s:%d", tk.ID(), from, to, len(app.Events())))
	})
	fsm.OnAfter(schema.TaskStatusRunning, schema.TaskStatusCompleted, func(context.Context, *Task, schema.TaskStatus, schema.TaskStatus) {
		calls = append(calls, "completed")
	})

	require.NoError(t, fsm.Transition(ctx, task, schema.TaskStatusPending, schema.TaskStatusRunning, nil))
	assert.Equal(t, []string{"task-9:pending->running:1"}, calls)

	require.Error(t, fsm.Transition(ctx, task, schema.TaskStatusCompleted, schema.TaskStatusRunning, nil))
	assert.Len(t, calls, 1, "rejected transitions run no hooks")
}

func TestTaskFSM_AppenderError(t *testing.T) {
	fsm := NewTaskFSM(&failAppender{})
	ran := false
	fsm.OnAfter(schema.TaskStatusPending, schema.TaskStatusRunning, func(context.Context, *Task, schema.TaskStatus, schema.TaskStatus) {
		ran = true
	})

	err := fsm.Transition(context.Background(), fsmTask(t), schema.TaskStatusPending, schema.TaskStatusRunning, nil)
	var se *schema.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, schema.ErrCodeStore, se.Code)
	assert.True(t, ran, "hooks still run when the journal fails")
}

func TestFinalStatus(t *testing.T) {
	assert.Equal(t, schema.TaskStatusCompleted, FinalStatus(TickCompleted))
	assert.Equal(t, schema.TaskStatusFailed, FinalStatus(TickFailed))
	assert.Equal(t, schema.TaskStatusFailed, FinalStatus(TickActorInvalid))
	assert.Equal(t, schema.TaskStatusCancelled, FinalStatus(TickCancelled))
	assert.Equal(t, schema.TaskStatusRunning, FinalStatus(TickIdle))
}
