package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/skillscript/internal/actions"
	"github.com/rendis/skillscript/internal/store"
	"github.com/rendis/skillscript/pkg/schema"
)

// mockAppender records appended events for assertions.
type mockAppender struct {
	mu     sync.Mutex
	events []*store.Event
}

func (m *mockAppender) AppendEvent(_ context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAppender) Events() []*store.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*store.Event, len(m.events))
	copy(cp, m.events)
	return cp
}

func (m *mockAppender) Types() []string {
	var types []string
	for _, e := range m.Events() {
		types = append(types, e.Type)
	}
	return types
}

// failAppender always returns an error.
type failAppender struct{}

func (f *failAppender) AppendEvent(_ context.Context, _ *store.Event) error {
	return errors.New("store unavailable")
}

type testActor struct {
	id    string
	valid atomic.Bool
}

func newActor(id string) *testActor {
	a := &testActor{id: id}
	a.valid.Store(true)
	return a
}

func (a *testActor) ID() string  { return a.id }
func (a *testActor) Valid() bool { return a.valid.Load() }

// funcAction adapts a function to actions.Action.
type funcAction struct {
	name string
	fn   func(ctx context.Context, in actions.ActionInput) schema.Status
}

func (f *funcAction) Name() string                  { return f.name }
func (f *funcAction) Schema() actions.ActionSchema  { return actions.ActionSchema{} }
func (f *funcAction) Validate(map[string]any) error { return nil }

func (f *funcAction) Execute(ctx context.Context, in actions.ActionInput) schema.Status {
	return f.fn(ctx, in)
}

// recorder collects what the "record" step saw, in execution order.
type recorder struct {
	mu     sync.Mutex
	values []any
}

func (r *recorder) add(v any) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *recorder) Values() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.values...)
}

// newTestRegistry registers the built-in steps plus a few test steps:
//   - record {value | var}: records a literal or the current value of a variable
//   - noop: completes
//   - fail: returns an error status
//   - boom: panics
//   - pushdelay: pushes a block and delays in the same call
func newTestRegistry(t *testing.T, rec *recorder) *actions.Registry {
	t.Helper()
	reg := actions.NewRegistry()
	require.NoError(t, actions.RegisterBuiltins(reg, actions.BuiltinDeps{}))

	test := []actions.Action{
		&funcAction{name: "record", fn: func(_ context.Context, in actions.ActionInput) schema.Status {
			if name, ok := in.Params["var"].(string); ok {
				v, _ := in.Vars.Get(name)
				rec.add(v)
			} else {
				rec.add(in.Params["value"])
			}
			return schema.Completed()
		}},
		&funcAction{name: "noop", fn: func(context.Context, actions.ActionInput) schema.Status {
			return schema.Completed()
		}},
		&funcAction{name: "fail", fn: func(context.Context, actions.ActionInput) schema.Status {
			return schema.Failed("boom")
		}},
		&funcAction{name: "boom", fn: func(context.Context, actions.ActionInput) schema.Status {
			panic("kaboom")
		}},
		&funcAction{name: "pushdelay", fn: func(_ context.Context, in actions.ActionInput) schema.Status {
			in.Flow.PushBlock([]schema.StepRecord{schema.NewStep("record", map[string]any{"value": "never"})})
			return schema.Delay(2)
		}},
	}
	for _, a := range test {
		require.NoError(t, reg.Register(a))
	}
	return reg
}

// script decodes a YAML-shaped step list.
func script(t *testing.T, raw ...any) []schema.StepRecord {
	t.Helper()
	steps, err := schema.ParseSteps(raw)
	require.NoError(t, err)
	return steps
}

func record(value any) map[string]any {
	return map[string]any{"record": map[string]any{"value": value}}
}

func recordVar(name string) map[string]any {
	return map[string]any{"record": map[string]any{"var": name}}
}

func delay(n int) map[string]any {
	return map[string]any{"controlflow.delay": map[string]any{"duration": n}}
}

// runToEnd advances task until it stops, returning the final result and the
// number of Advance calls made.
func runToEnd(t *testing.T, task *Task, maxTicks int) (TickResult, int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= maxTicks; i++ {
		r := task.Advance(ctx)
		if !r.Continues() {
			return r, i
		}
	}
	t.Fatalf("task did not stop within %d ticks", maxTicks)
	return TickContinue, maxTicks
}
