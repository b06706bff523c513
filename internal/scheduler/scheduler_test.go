package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/skillscript/internal/actions"
	"github.com/rendis/skillscript/internal/actors"
	"github.com/rendis/skillscript/internal/store"
	"github.com/rendis/skillscript/internal/streaming"
	"github.com/rendis/skillscript/pkg/schema"
)

// recordingAppender records appended events.
type recordingAppender struct {
	mu     sync.Mutex
	events []*store.Event
}

func (r *recordingAppender) AppendEvent(_ context.Context, e *store.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAppender) Events() []*store.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*store.Event(nil), r.events...)
}

func (r *recordingAppender) TypesFor(taskID string) []string {
	var out []string
	for _, e := range r.Events() {
		if e.TaskID == taskID {
			out = append(out, e.Type)
		}
	}
	return out
}

// panicActor panics from Valid once armed.
type panicActor struct {
	armed atomic.Bool
}

func (a *panicActor) ID() string { return "bomb" }

func (a *panicActor) Valid() bool {
	if a.armed.Load() {
		panic("actor lookup exploded")
	}
	return true
}

type testEnv struct {
	registry *actions.Registry
	dir      *actors.Directory
	journal  *recordingAppender
	sched    *Scheduler
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		registry: actions.NewRegistry(),
		dir:      actors.NewDirectory(),
		journal:  &recordingAppender{},
	}
	require.NoError(t, actions.RegisterBuiltins(env.registry, actions.BuiltinDeps{Messenger: env.dir}))
	env.sched = New(env.registry, append([]Option{WithJournal(env.journal)}, opts...)...)
	return env
}

func (e *testEnv) actor(t *testing.T, id string) *actors.Actor {
	t.Helper()
	a, err := e.dir.Register(id)
	require.NoError(t, err)
	return a
}

// drain ticks until no task is left and returns the number of ticks.
func (e *testEnv) drain(t *testing.T, max int) int {
	t.Helper()
	for i := 1; i <= max; i++ {
		e.sched.AdvanceAll(context.Background())
		if e.sched.Len() == 0 {
			return i
		}
	}
	t.Fatalf("tasks still running after %d ticks", max)
	return max
}

func steps(t *testing.T, raw ...any) []schema.StepRecord {
	t.Helper()
	out, err := schema.ParseSteps(raw)
	require.NoError(t, err)
	return out
}

func say(text string) map[string]any {
	return map[string]any{schema.StepSendMessage: map[string]any{"message": text}}
}

func wait(n int) map[string]any {
	return map[string]any{schema.StepDelay: map[string]any{"duration": n}}
}

func TestStart_RejectsInvalidActor(t *testing.T) {
	env := newTestEnv(t)
	var se *schema.ScriptError

	_, err := env.sched.Start(context.Background(), nil, nil)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, schema.ErrCodeActorInvalid, se.Code)

	a := env.actor(t, "hero")
	a.Invalidate()
	_, err = env.sched.Start(context.Background(), a, nil)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, schema.ErrCodeActorInvalid, se.Code)
	assert.Zero(t, env.sched.Len())
}

func TestRunsScriptToCompletion(t *testing.T) {
	env := newTestEnv(t)
	hero := env.actor(t, "hero")

	id, err := env.sched.Start(context.Background(), hero, steps(t,
		map[string]any{schema.StepSetVariable: map[string]any{"name": "x", "value": 1}},
		wait(2),
		say("x is {var:x}"),
	))
	require.NoError(t, err)
	assert.True(t, env.sched.IsRunning(id))

	// tick 1: setvariable + delay, tick 2: idle, tick 3: message, tick 4: pop and stop.
	assert.Equal(t, 4, env.drain(t, 10))

	inbox := env.dir.Inbox("hero")
	require.Len(t, inbox, 1)
	assert.Equal(t, "x is 1", inbox[0].Text)
	assert.Equal(t, id, inbox[0].TaskID)

	info, ok := env.sched.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, schema.TaskStatusCompleted, info.Status)
	assert.Equal(t, 4, info.Ticks)
	assert.NotNil(t, info.FinishedAt)
	assert.False(t, env.sched.IsRunning(id))

	assert.Equal(t, []string{schema.EventTaskStarted, schema.EventTaskCompleted}, env.journal.TypesFor(id))
}

func TestEventsReachHub(t *testing.T) {
	hub := streaming.NewMemoryHub()
	env := newTestEnv(t, WithHub(hub))
	hero := env.actor(t, "hero")

	ch, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{ActorID: "hero"})
	require.NoError(t, err)
	defer cancel()

	id, err := env.sched.Start(context.Background(), hero, steps(t, "no.such.step"))
	require.NoError(t, err)
	env.drain(t, 5)

	var got []string
	for len(got) < 3 {
		select {
		case ev := <-ch:
			assert.Equal(t, id, ev.TaskID)
			got = append(got, ev.EventType)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []string{schema.EventTaskStarted, schema.EventStepSkipped, schema.EventTaskCompleted}, got)
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	hero := env.actor(t, "hero")

	id, err := env.sched.Start(context.Background(), hero, steps(t, wait(50)))
	require.NoError(t, err)
	env.sched.AdvanceAll(context.Background())

	assert.True(t, env.sched.Cancel(id))
	assert.True(t, env.sched.Cancel(id))
	assert.False(t, env.sched.IsRunning(id))
	assert.Equal(t, 1, env.sched.Len(), "removal happens on the next tick")

	env.sched.AdvanceAll(context.Background())
	assert.Zero(t, env.sched.Len())
	assert.False(t, env.sched.Cancel(id))

	info, ok := env.sched.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, schema.TaskStatusCancelled, info.Status)
	assert.Equal(t, []string{schema.EventTaskStarted, schema.EventTaskCancelled}, env.journal.TypesFor(id))

	assert.False(t, env.sched.Cancel("unknown"))
}

func TestCancelAll(t *testing.T) {
	env := newTestEnv(t)
	hero := env.actor(t, "hero")
	villain := env.actor(t, "villain")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.sched.Start(ctx, hero, steps(t, wait(10)))
		require.NoError(t, err)
	}
	vid, err := env.sched.Start(ctx, villain, steps(t, wait(10)))
	require.NoError(t, err)

	assert.Equal(t, 2, env.sched.CancelAll("hero"))
	assert.Zero(t, env.sched.CancelAll("hero"))

	env.sched.AdvanceAll(ctx)
	assert.Equal(t, 1, env.sched.Len())
	assert.True(t, env.sched.IsRunning(vid))
}

func TestStepErrorFailsTask(t *testing.T) {
	env := newTestEnv(t)
	hero := env.actor(t, "hero")

	id, err := env.sched.Start(context.Background(), hero, steps(t,
		map[string]any{schema.StepSendMessage: map[string]any{"message": "hi", "target": "ghost"}},
		say("never"),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, env.drain(t, 3))

	info, ok := env.sched.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, schema.TaskStatusFailed, info.Status)
	assert.Contains(t, info.Error, "ghost")
	assert.Empty(t, env.dir.Inbox("hero"))
	assert.Equal(t, []string{schema.EventTaskStarted, schema.EventTaskFailed}, env.journal.TypesFor(id))
}

func TestActorInvalidatedMidRun(t *testing.T) {
	env := newTestEnv(t)
	hero := env.actor(t, "hero")

	id, err := env.sched.Start(context.Background(), hero, steps(t, wait(5), say("late")))
	require.NoError(t, err)
	env.sched.AdvanceAll(context.Background())
	require.True(t, env.dir.Remove("hero"))

	env.sched.AdvanceAll(context.Background())
	assert.Zero(t, env.sched.Len())

	info, ok := env.sched.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, schema.TaskStatusFailed, info.Status)
	assert.NotEmpty(t, info.Error)
}

func TestPanicIsolation(t *testing.T) {
	env := newTestEnv(t)
	hero := env.actor(t, "hero")
	bomb := &panicActor{}
	ctx := context.Background()

	bad, err := env.sched.Start(ctx, bomb, steps(t, wait(3)))
	require.NoError(t, err)
	good, err := env.sched.Start(ctx, hero, steps(t, say("one"), wait(2), say("two")))
	require.NoError(t, err)

	bomb.armed.Store(true)
	env.sched.AdvanceAll(ctx)

	assert.False(t, env.sched.IsRunning(bad))
	assert.True(t, env.sched.IsRunning(good))
	info, ok := env.sched.Snapshot(bad)
	require.True(t, ok)
	assert.Equal(t, schema.TaskStatusFailed, info.Status)
	assert.Contains(t, info.Error, "actor lookup exploded")

	env.drain(t, 10)
	assert.Len(t, env.dir.Inbox("hero"), 2)
}

func TestStepBudgetOption(t *testing.T) {
	env := newTestEnv(t, WithStepBudget(2))
	hero := env.actor(t, "hero")

	raw := make([]any, 5)
	for i := range raw {
		raw[i] = map[string]any{schema.StepSetVariable: map[string]any{"name": "x", "value": i}}
	}
	id, err := env.sched.Start(context.Background(), hero, steps(t, raw...))
	require.NoError(t, err)

	env.sched.AdvanceAll(context.Background())
	info, ok := env.sched.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, schema.TaskStatusRunning, info.Status)
	assert.Equal(t, 2, info.StepsExecuted)
	assert.Equal(t, 1, info.StackDepth)
}

func TestListAndTicks(t *testing.T) {
	env := newTestEnv(t)
	hero := env.actor(t, "hero")
	ctx := context.Background()

	first, err := env.sched.Start(ctx, hero, steps(t, wait(10)))
	require.NoError(t, err)
	second, err := env.sched.Start(ctx, hero, steps(t, wait(10)))
	require.NoError(t, err)

	env.sched.AdvanceAll(ctx)
	env.sched.AdvanceAll(ctx)
	assert.Equal(t, uint64(2), env.sched.Ticks())

	list := env.sched.List()
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ID)
	assert.Equal(t, second, list[1].ID)
	assert.Equal(t, 2, list[0].Ticks)
	assert.Equal(t, 9, list[0].Delay)
}

func TestHistoryLimit(t *testing.T) {
	env := newTestEnv(t, WithHistory(1))
	hero := env.actor(t, "hero")
	ctx := context.Background()

	first, err := env.sched.Start(ctx, hero, nil)
	require.NoError(t, err)
	env.drain(t, 2)
	second, err := env.sched.Start(ctx, hero, nil)
	require.NoError(t, err)
	env.drain(t, 2)

	_, ok := env.sched.Snapshot(first)
	assert.False(t, ok)
	_, ok = env.sched.Snapshot(second)
	assert.True(t, ok)
}

func TestShutdown(t *testing.T) {
	env := newTestEnv(t)
	hero := env.actor(t, "hero")
	ctx := context.Background()

	id, err := env.sched.Start(ctx, hero, steps(t, wait(10)))
	require.NoError(t, err)
	_, err = env.sched.Start(ctx, hero, steps(t, wait(10)))
	require.NoError(t, err)

	assert.Equal(t, 2, env.sched.Shutdown(ctx))
	assert.Zero(t, env.sched.Len())

	info, ok := env.sched.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, schema.TaskStatusCancelled, info.Status)
	assert.Equal(t, "scheduler shut down", info.Error)
}

func TestRun(t *testing.T) {
	env := newTestEnv(t)
	hero := env.actor(t, "hero")

	_, err := env.sched.Start(context.Background(), hero, steps(t, say("hello"), wait(3), say("bye")))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.sched.Run(ctx, time.Millisecond) }()

	assert.Eventually(t, func() bool { return env.sched.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Len(t, env.dir.Inbox("hero"), 2)

	assert.Error(t, env.sched.Run(context.Background(), 0))
}

func TestSnapshotWhileRunning(t *testing.T) {
	env := newTestEnv(t)
	hero := env.actor(t, "hero")
	bg := context.Background()

	var ids []string
	for range 4 {
		id, err := env.sched.Start(bg, hero, steps(t,
			map[string]any{schema.StepForLoop: map[string]any{
				"variable": "i", "to": 200,
				"Do": []any{wait(1)},
			}},
		))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ctx, cancel := context.WithCancel(bg)
	done := make(chan error, 1)
	go func() { done <- env.sched.Run(ctx, time.Millisecond) }()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				for _, id := range ids {
					if info, ok := env.sched.Snapshot(id); ok {
						assert.Equal(t, id, info.ID)
					}
				}
				for _, info := range env.sched.List() {
					assert.GreaterOrEqual(t, info.StackDepth, 0)
				}
			}
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		info, ok := env.sched.Snapshot(ids[0])
		return ok && info.Ticks > 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	env.sched.Shutdown(bg)
}

// brokenJournal fails every append.
type brokenJournal struct{}

func (brokenJournal) AppendEvent(context.Context, *store.Event) error {
	return errors.New("disk full")
}

func TestJournalFailureDoesNotBlockTasks(t *testing.T) {
	registry := actions.NewRegistry()
	dir := actors.NewDirectory()
	require.NoError(t, actions.RegisterBuiltins(registry, actions.BuiltinDeps{Messenger: dir}))
	sched := New(registry, WithJournal(brokenJournal{}))

	hero, err := dir.Register("hero")
	require.NoError(t, err)
	ctx := context.Background()

	id, err := sched.Start(ctx, hero, steps(t, say("still here")))
	require.NoError(t, err)
	assert.True(t, sched.IsRunning(id))

	sched.AdvanceAll(ctx)
	sched.AdvanceAll(ctx)
	assert.Zero(t, sched.Len())

	info, ok := sched.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, schema.TaskStatusCompleted, info.Status)
	assert.Len(t, dir.Inbox("hero"), 1)
}

// mapScripts is a ScriptSource over fixed step lists.
type mapScripts map[string][]schema.StepRecord

func (m mapScripts) Steps(name, trigger string) ([]schema.StepRecord, error) {
	s, ok := m[name+"/"+trigger]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "script %q has no trigger %q", name, trigger)
	}
	return s, nil
}

func TestCaster(t *testing.T) {
	env := newTestEnv(t)
	env.actor(t, "hero")
	scripts := mapScripts{
		"greet/OnCast": steps(t, say("{var:script} {var:trigger} {var:mood}")),
	}
	caster := NewCaster(env.sched, scripts, env.dir)
	ctx := context.Background()

	id, err := caster.Cast(ctx, CastRequest{Script: "greet", ActorID: "hero", Variables: map[string]any{"mood": "happy"}})
	require.NoError(t, err)
	assert.True(t, env.sched.IsRunning(id))
	env.drain(t, 3)

	inbox := env.dir.Inbox("hero")
	require.Len(t, inbox, 1)
	assert.Equal(t, "greet OnCast happy", inbox[0].Text)

	var se *schema.ScriptError
	_, err = caster.Cast(ctx, CastRequest{Script: "greet", ActorID: "ghost"})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, schema.ErrCodeNotFound, se.Code)

	_, err = caster.Cast(ctx, CastRequest{Script: "greet", Trigger: "OnHit", ActorID: "hero"})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, schema.ErrCodeNotFound, se.Code)

	_, err = caster.Cast(ctx, CastRequest{ActorID: "hero"})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, schema.ErrCodeValidation, se.Code)
}
