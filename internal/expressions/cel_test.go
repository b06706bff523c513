package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/skillscript/pkg/schema"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func TestNewCELEngine(t *testing.T) {
	e := newCEL(t)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_Literals(t *testing.T) {
	e := newCEL(t)

	out, err := e.Evaluate(context.Background(), "true", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), "1 + 2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)
}

func TestCEL_ScopeAccess(t *testing.T) {
	e := newCEL(t)
	scope := NewScope(map[string]any{"hp": 100.0, "class": "mage"}, "hero", true)

	tests := []struct {
		name string
		expr string
		want any
	}{
		{"vars comparison", "vars.hp > 50.0", true},
		{"vars string", `vars["class"] == "mage"`, true},
		{"actor id", `actor.id == "hero"`, true},
		{"actor valid", "actor.valid", true},
		{"has macro", "has(vars.mana)", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expr, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestCEL_MissingScopeKeysDefaultEmpty(t *testing.T) {
	e := newCEL(t)
	out, err := e.Evaluate(context.Background(), "size(vars) == 0 && size(actor) == 0", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_EvaluateBool(t *testing.T) {
	e := newCEL(t)
	ctx := context.Background()

	b, err := e.EvaluateBool(ctx, "1 + 1", nil)
	require.NoError(t, err)
	assert.True(t, b)

	b, err = e.EvaluateBool(ctx, "0", nil)
	require.NoError(t, err)
	assert.False(t, b)

	_, err = e.EvaluateBool(ctx, `"yes"`, nil)
	require.Error(t, err)
}

func TestCEL_Errors(t *testing.T) {
	e := newCEL(t)
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		_, err := e.Evaluate(ctx, "", nil)
		var se *schema.ScriptError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, schema.ErrCodeValidation, se.Code)
	})

	t.Run("compile", func(t *testing.T) {
		_, err := e.Evaluate(ctx, "vars.", nil)
		var se *schema.ScriptError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, schema.ErrCodeValidation, se.Code)
	})

	t.Run("undeclared variable", func(t *testing.T) {
		_, err := e.Evaluate(ctx, "steps.x", nil)
		require.Error(t, err)
	})

	t.Run("missing key at runtime", func(t *testing.T) {
		_, err := e.Evaluate(ctx, "vars.missing > 1.0", NewScope(nil, "a", true))
		var se *schema.ScriptError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, schema.ErrCodeExecution, se.Code)
	})
}

func TestCEL_ProgramCache(t *testing.T) {
	e := newCEL(t)
	_, err := e.Evaluate(context.Background(), "vars.hp > 1.0", NewScope(map[string]any{"hp": 2.0}, "a", true))
	require.NoError(t, err)

	e.mu.RLock()
	_, cached := e.cache["vars.hp > 1.0"]
	e.mu.RUnlock()
	assert.True(t, cached)
}

func TestCEL_ConcurrentEvaluation(t *testing.T) {
	e := newCEL(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			scope := NewScope(map[string]any{"n": float64(n)}, "a", true)
			out, err := e.Evaluate(context.Background(), "vars.n >= 25.0", scope)
			assert.NoError(t, err)
			assert.Equal(t, n >= 25, out)
		}(i)
	}
	wg.Wait()
}
