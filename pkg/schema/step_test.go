package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStep_Shapes(t *testing.T) {
	tests := []struct {
		name      string
		raw       any
		wantName  string
		malformed bool
	}{
		{"mapping with params", map[string]any{"controlflow.delay": map[string]any{"duration": 5}}, "controlflow.delay", false},
		{"mapping with null params", map[string]any{"noop": nil}, "noop", false},
		{"bare string", "noop", "noop", false},
		{"yaml any-keyed mapping", map[any]any{"setvariable": map[any]any{"name": "x"}}, "setvariable", false},
		{"two names", map[string]any{"a": nil, "b": nil}, "a,b", true},
		{"scalar params", map[string]any{"a": 5}, "a", true},
		{"empty string", "  ", "", true},
		{"nil", nil, "", true},
		{"number", 42, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := ParseStep(tc.raw)
			assert.Equal(t, tc.wantName, rec.Name)
			assert.Equal(t, tc.malformed, rec.Malformed != "", rec.Malformed)
			assert.Equal(t, !tc.malformed, rec.Valid())
		})
	}
}

func TestParseStep_NormalizesNestedParams(t *testing.T) {
	rec := ParseStep(map[any]any{
		"controlflow.forloop": map[any]any{
			"over": []any{1, 2},
			"Do":   []any{map[any]any{"noop": nil}},
		},
	})
	require.True(t, rec.Valid())

	do, ok := rec.Params["Do"].([]any)
	require.True(t, ok)
	_, ok = do[0].(map[string]any)
	assert.True(t, ok)
}

func TestParseSteps(t *testing.T) {
	steps, err := ParseSteps([]any{"a", map[string]any{"b": nil}, 7})
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.True(t, steps[0].Valid())
	assert.True(t, steps[1].Valid())
	assert.False(t, steps[2].Valid())

	steps, err = ParseSteps(nil)
	require.NoError(t, err)
	assert.Empty(t, steps)

	_, err = ParseSteps("not a list")
	require.Error(t, err)
	var se *ScriptError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ErrCodeMalformedStep, se.Code)
}

func TestStepRecord_Key(t *testing.T) {
	assert.Equal(t, "controlflow.delay", NewStep(" ControlFlow.Delay ", nil).Key())
}

func TestStepRecord_CloneParamsIsDeep(t *testing.T) {
	rec := NewStep("setvariable", map[string]any{
		"value": map[string]any{"hp": 10},
		"list":  []any{"a", "b"},
	})

	cp := rec.CloneParams()
	cp["value"].(map[string]any)["hp"] = 99
	cp["list"].([]any)[0] = "z"
	cp["extra"] = true

	assert.Equal(t, 10, rec.Params["value"].(map[string]any)["hp"])
	assert.Equal(t, "a", rec.Params["list"].([]any)[0])
	assert.NotContains(t, rec.Params, "extra")
}
