package actions

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/skillscript/internal/validation"
	"github.com/rendis/skillscript/pkg/schema"
)

// --- fakes ---

type mapVars map[string]any

func (m mapVars) Set(name string, v any) { m[strings.ToLower(name)] = v }
func (m mapVars) Get(name string) (any, bool) {
	v, ok := m[strings.ToLower(name)]
	return v, ok
}
func (m mapVars) Snapshot() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type numericPush struct {
	variable         string
	start, end, step float64
	body             []schema.StepRecord
}

type listPush struct {
	variable string
	items    []any
	body     []schema.StepRecord
}

type recordingFlow struct {
	blocks   [][]schema.StepRecord
	numeric  []numericPush
	lists    []listPush
	parallel [][][]schema.StepRecord
}

func (f *recordingFlow) PushBlock(steps []schema.StepRecord) bool {
	if len(steps) == 0 {
		return false
	}
	f.blocks = append(f.blocks, steps)
	return true
}

func (f *recordingFlow) PushNumericLoop(variable string, start, end, step float64, body []schema.StepRecord, vars Variables) bool {
	f.numeric = append(f.numeric, numericPush{variable, start, end, step, body})
	vars.Set(variable, start)
	return true
}

func (f *recordingFlow) PushListLoop(variable string, items []any, body []schema.StepRecord, vars Variables) bool {
	if len(items) == 0 {
		return false
	}
	f.lists = append(f.lists, listPush{variable, items, body})
	vars.Set(variable, items[0])
	return true
}

func (f *recordingFlow) PushParallel(branches [][]schema.StepRecord) bool {
	f.parallel = append(f.parallel, branches)
	return true
}

type fakeActor struct {
	id    string
	valid bool
}

func (a fakeActor) ID() string  { return a.id }
func (a fakeActor) Valid() bool { return a.valid }

type delivery struct{ actorID, message string }

type fakeMessenger struct {
	sent []delivery
	err  error
}

func (m *fakeMessenger) Deliver(_ context.Context, actorID, message string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, delivery{actorID, message})
	return nil
}

// --- harness ---

type harness struct {
	reg       *Registry
	messenger *fakeMessenger
	vars      mapVars
	flow      *recordingFlow
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	jsv, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)

	h := &harness{
		reg:       NewRegistry(),
		messenger: &fakeMessenger{},
		vars:      mapVars{},
		flow:      &recordingFlow{},
	}
	require.NoError(t, RegisterBuiltins(h.reg, BuiltinDeps{Validator: jsv, Messenger: h.messenger}))
	return h
}

// run validates and executes one step the way a task does.
func (h *harness) run(t *testing.T, name string, params map[string]any) schema.Status {
	t.Helper()
	action, ok := h.reg.Lookup(name)
	require.True(t, ok, "step %q not registered", name)
	if err := action.Validate(params); err != nil {
		return schema.FailedFrom(err)
	}
	return action.Execute(context.Background(), ActionInput{
		TaskID: "task-1",
		Params: params,
		Vars:   h.vars,
		Flow:   h.flow,
		Actor:  fakeActor{id: "hero", valid: true},
	})
}

func steps(names ...string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

func TestRegisterBuiltins_Names(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{
		schema.StepDelay, schema.StepIf, schema.StepForLoop, schema.StepParallel,
		schema.StepSetVariable, schema.StepCalculate, schema.StepTransform, schema.StepSendMessage,
	} {
		assert.True(t, h.reg.Has(name), name)
	}
	assert.Equal(t, 8, h.reg.Count())

	assert.Error(t, RegisterBuiltins(h.reg, BuiltinDeps{}))
}

// --- controlflow.delay ---

func TestDelay(t *testing.T) {
	h := newHarness(t)

	st := h.run(t, "ControlFlow.Delay", map[string]any{"duration": 3})
	assert.Equal(t, schema.Delay(3), st)

	h.vars.Set("cooldown", 2.0)
	st = h.run(t, schema.StepDelay, map[string]any{"duration": "cooldown + 1"})
	assert.Equal(t, schema.Delay(3), st)

	st = h.run(t, schema.StepDelay, map[string]any{"duration": 0})
	assert.True(t, st.IsCompleted())

	st = h.run(t, schema.StepDelay, map[string]any{"duration": "("})
	assert.True(t, st.IsError())

	st = h.run(t, schema.StepDelay, map[string]any{"duration": 2.9})
	assert.Equal(t, schema.Delay(2), st)

	st = h.run(t, schema.StepDelay, map[string]any{"duration": 1e19})
	assert.True(t, st.IsError())
	assert.Contains(t, st.Message, "exceeds")

	st = h.run(t, schema.StepDelay, map[string]any{"duration": -1e19})
	assert.True(t, st.IsCompleted())

	st = h.run(t, schema.StepDelay, map[string]any{"duration": "1.0 / 0"})
	assert.True(t, st.IsError())

	st = h.run(t, schema.StepDelay, map[string]any{})
	assert.True(t, st.IsError())
}

// --- controlflow.ifcondition ---

func TestIfCondition(t *testing.T) {
	tests := []struct {
		name      string
		condition any
		wantThen  bool
	}{
		{"bool true", true, true},
		{"bool false", false, false},
		{"number", 2, true},
		{"zero", 0, false},
		{"literal string", "TRUE", true},
		{"cel expression", "vars.hp > 50.0", true},
		{"cel over actor", `actor.id == "villain"`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.vars.Set("hp", 100.0)

			st := h.run(t, schema.StepIf, map[string]any{
				"condition": tt.condition,
				"Then":      steps("then.step"),
				"Else":      steps("else.step"),
			})
			require.True(t, st.IsCompleted(), st.String())
			require.Len(t, h.flow.blocks, 1)

			want := "else.step"
			if tt.wantThen {
				want = "then.step"
			}
			assert.Equal(t, want, h.flow.blocks[0][0].Name)
		})
	}
}

func TestIfCondition_MissingBranchPushesNothing(t *testing.T) {
	h := newHarness(t)
	st := h.run(t, schema.StepIf, map[string]any{"condition": false, "Then": steps("x")})
	assert.True(t, st.IsCompleted())
	assert.Empty(t, h.flow.blocks)
}

func TestIfCondition_Errors(t *testing.T) {
	h := newHarness(t)

	st := h.run(t, schema.StepIf, map[string]any{"condition": "vars.", "Then": steps("x")})
	assert.True(t, st.IsError())

	st = h.run(t, schema.StepIf, map[string]any{"condition": `"text"`})
	assert.True(t, st.IsError())

	st = h.run(t, schema.StepIf, map[string]any{"Then": steps("x")})
	assert.True(t, st.IsError())
	assert.Empty(t, h.flow.blocks)
}

// --- controlflow.forloop ---

func TestForLoop_Numeric(t *testing.T) {
	h := newHarness(t)
	st := h.run(t, schema.StepForLoop, map[string]any{
		"variable": "i", "from": 1, "to": 5, "Do": steps("body"),
	})
	require.True(t, st.IsCompleted(), st.String())
	require.Len(t, h.flow.numeric, 1)

	p := h.flow.numeric[0]
	assert.Equal(t, "i", p.variable)
	assert.Equal(t, 1.0, p.start)
	assert.Equal(t, 5.0, p.end)
	assert.Equal(t, 1.0, p.step)
	assert.Equal(t, "body", p.body[0].Name)
}

func TestForLoop_NumericExpressionsAndCountdown(t *testing.T) {
	h := newHarness(t)
	h.vars.Set("n", 4.0)
	st := h.run(t, schema.StepForLoop, map[string]any{
		"variable": "i", "from": "n * 2", "to": 0, "step": "-2",
	})
	require.True(t, st.IsCompleted(), st.String())
	require.Len(t, h.flow.numeric, 1)
	assert.Equal(t, 8.0, h.flow.numeric[0].start)
	assert.Equal(t, -2.0, h.flow.numeric[0].step)
}

func TestForLoop_Errors(t *testing.T) {
	h := newHarness(t)

	st := h.run(t, schema.StepForLoop, map[string]any{"variable": "i", "to": 3, "step": 0})
	assert.True(t, st.IsError())

	st = h.run(t, schema.StepForLoop, map[string]any{"variable": "i"})
	assert.True(t, st.IsError())

	st = h.run(t, schema.StepForLoop, map[string]any{"to": 3})
	assert.True(t, st.IsError())

	st = h.run(t, schema.StepForLoop, map[string]any{"variable": "i", "to": 3, "Do": "nope"})
	assert.True(t, st.IsError())

	assert.Empty(t, h.flow.numeric)
}

func TestForLoop_List(t *testing.T) {
	h := newHarness(t)

	st := h.run(t, schema.StepForLoop, map[string]any{
		"variable": "target", "over": []any{"a", "b"}, "Do": steps("hit"),
	})
	require.True(t, st.IsCompleted())
	require.Len(t, h.flow.lists, 1)
	assert.Equal(t, []any{"a", "b"}, h.flow.lists[0].items)

	h.vars.Set("party", []any{"x", "y", "z"})
	st = h.run(t, schema.StepForLoop, map[string]any{"variable": "m", "over": "party"})
	require.True(t, st.IsCompleted())
	require.Len(t, h.flow.lists, 2)
	assert.Len(t, h.flow.lists[1].items, 3)

	h.vars.Set("hp", 3.0)
	st = h.run(t, schema.StepForLoop, map[string]any{"variable": "m", "over": "hp"})
	assert.True(t, st.IsError())

	st = h.run(t, schema.StepForLoop, map[string]any{"variable": "m", "over": "unset"})
	assert.True(t, st.IsError())
}

// --- controlflow.parallel ---

func TestParallel(t *testing.T) {
	h := newHarness(t)
	st := h.run(t, schema.StepParallel, map[string]any{
		"Branches": []any{steps("a1", "a2"), "junk", steps("b1")},
	})
	require.True(t, st.IsCompleted())
	require.Len(t, h.flow.parallel, 1)

	branches := h.flow.parallel[0]
	require.Len(t, branches, 2)
	assert.Len(t, branches[0], 2)
	assert.Equal(t, "b1", branches[1][0].Name)
}

func TestParallel_NoValidBranch(t *testing.T) {
	h := newHarness(t)
	st := h.run(t, schema.StepParallel, map[string]any{"Branches": []any{"junk"}})
	assert.True(t, st.IsError())

	st = h.run(t, schema.StepParallel, map[string]any{})
	assert.True(t, st.IsError())
	assert.Empty(t, h.flow.parallel)
}

// --- variables ---

func TestSetVariable(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.run(t, "SetVariable", map[string]any{"name": "HP", "value": 5}).IsCompleted())
	assert.Equal(t, 5.0, h.vars["hp"])

	require.True(t, h.run(t, schema.StepSetVariable, map[string]any{"name": "label", "value": "hp={var:hp}"}).IsCompleted())
	assert.Equal(t, "hp=5", h.vars["label"])

	require.True(t, h.run(t, schema.StepSetVariable, map[string]any{"name": "empty"}).IsCompleted())
	v, ok := h.vars.Get("empty")
	assert.True(t, ok)
	assert.Nil(t, v)

	assert.True(t, h.run(t, schema.StepSetVariable, map[string]any{"value": 1}).IsError())
}

func TestCalculate(t *testing.T) {
	h := newHarness(t)
	h.vars.Set("hp", 10.0)

	require.True(t, h.run(t, schema.StepCalculate, map[string]any{"variable": "hp", "expression": "hp * 2"}).IsCompleted())
	assert.Equal(t, 20.0, h.vars["hp"])

	require.True(t, h.run(t, schema.StepCalculate, map[string]any{"variable": "n", "expression": "1 + 1"}).IsCompleted())
	assert.Equal(t, 2.0, h.vars["n"])

	require.True(t, h.run(t, schema.StepCalculate, map[string]any{"variable": "k", "expression": 7}).IsCompleted())
	assert.Equal(t, 7.0, h.vars["k"])

	assert.True(t, h.run(t, schema.StepCalculate, map[string]any{"variable": "x", "expression": "1 +"}).IsError())
}

func TestTransform(t *testing.T) {
	h := newHarness(t)
	h.vars.Set("bag", []any{"potion", "sword"})

	require.True(t, h.run(t, schema.StepTransform, map[string]any{"variable": "count", "query": ".bag | length"}).IsCompleted())
	assert.Equal(t, 2.0, h.vars["count"])

	require.True(t, h.run(t, schema.StepTransform, map[string]any{
		"variable": "loud", "query": "map(ascii_upcase)", "source": "bag",
	}).IsCompleted())
	assert.Equal(t, []any{"POTION", "SWORD"}, h.vars["loud"])

	assert.True(t, h.run(t, schema.StepTransform, map[string]any{"variable": "x", "query": ".", "source": "nope"}).IsError())
	assert.True(t, h.run(t, schema.StepTransform, map[string]any{"variable": "x", "query": ".["}).IsError())
}

// --- targetbehaviour.sendmessage ---

func TestSendMessage(t *testing.T) {
	h := newHarness(t)
	h.vars.Set("hp", 42.0)
	h.vars.Set("dmg", 2.5)

	st := h.run(t, schema.StepSendMessage, map[string]any{"message": "HP {var:hp}, hit {var:dmg}, {var:mana}"})
	require.True(t, st.IsCompleted(), st.String())

	st = h.run(t, schema.StepSendMessage, map[string]any{"message": "boo", "target": "villain"})
	require.True(t, st.IsCompleted())

	require.Len(t, h.messenger.sent, 2)
	assert.Equal(t, delivery{"hero", "HP 42, hit 2.50, {var:mana}"}, h.messenger.sent[0])
	assert.Equal(t, delivery{"villain", "boo"}, h.messenger.sent[1])
}

func TestSendMessage_DeliveryError(t *testing.T) {
	h := newHarness(t)
	h.messenger.err = errors.New("inbox full")

	st := h.run(t, schema.StepSendMessage, map[string]any{"message": "hi"})
	require.True(t, st.IsError())
	assert.Contains(t, st.Message, "inbox full")
}

func TestSendMessage_NoMessenger(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, BuiltinDeps{}))
	action, ok := reg.Lookup(schema.StepSendMessage)
	require.True(t, ok)

	st := action.Execute(context.Background(), ActionInput{
		Params: map[string]any{"message": "hi"},
		Vars:   mapVars{},
		Actor:  fakeActor{id: "hero", valid: true},
	})
	assert.True(t, st.IsError())
}
