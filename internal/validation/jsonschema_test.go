package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/skillscript/pkg/schema"
)

func newJSV(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func TestValidateDocument_Valid(t *testing.T) {
	v := newJSV(t)
	doc := map[string]any{
		"OnCast": []any{
			"targetbehaviour.sendmessage",
			map[string]any{"controlflow.delay": map[string]any{"duration": 3}},
			map[string]any{"setvariable": nil},
		},
		"OnHit": nil,
	}
	assert.NoError(t, v.ValidateDocument(doc))
}

func TestValidateDocument_Invalid(t *testing.T) {
	v := newJSV(t)

	tests := []struct {
		name string
		doc  map[string]any
	}{
		{"empty document", map[string]any{}},
		{"trigger not a list", map[string]any{"OnCast": "delay"}},
		{"two keys in a record", map[string]any{"OnCast": []any{
			map[string]any{"a": nil, "b": nil},
		}}},
		{"params not a mapping", map[string]any{"OnCast": []any{
			map[string]any{"controlflow.delay": 3},
		}}},
		{"empty step name", map[string]any{"OnCast": []any{""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDocument(tt.doc)
			require.Error(t, err)
			var se *schema.ScriptError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, schema.ErrCodeValidation, se.Code)
		})
	}
}

func TestValidateDocument_Nil(t *testing.T) {
	assert.Error(t, newJSV(t).ValidateDocument(nil))
}

const delaySchema = `{
  "type": "object",
  "required": ["duration"],
  "properties": {
    "duration": { "type": ["number", "string"] }
  }
}`

func TestValidateInput(t *testing.T) {
	v := newJSV(t)

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, v.ValidateInput(map[string]any{"duration": 3}, []byte(delaySchema)))
	})

	t.Run("missing required", func(t *testing.T) {
		err := v.ValidateInput(map[string]any{}, []byte(delaySchema))
		require.Error(t, err)
		var se *schema.ScriptError
		require.ErrorAs(t, err, &se)
		violations, ok := se.Details["violations"].([]string)
		require.True(t, ok)
		assert.Len(t, violations, 1)
	})

	t.Run("nil input treated as empty", func(t *testing.T) {
		assert.Error(t, v.ValidateInput(nil, []byte(delaySchema)))
	})

	t.Run("no schema", func(t *testing.T) {
		assert.NoError(t, v.ValidateInput(map[string]any{"x": 1}, nil))
	})

	t.Run("bad schema", func(t *testing.T) {
		err := v.ValidateInput(map[string]any{}, []byte(`{"type":`))
		require.Error(t, err)
	})
}

func TestValidateInput_CachesSchemas(t *testing.T) {
	v := newJSV(t)
	require.NoError(t, v.ValidateInput(map[string]any{"duration": 1}, []byte(delaySchema)))
	require.NoError(t, v.ValidateInput(map[string]any{"duration": 2}, []byte(delaySchema)))

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}

func TestValidateInput_Concurrent(t *testing.T) {
	v := newJSV(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, v.ValidateInput(map[string]any{"duration": n}, []byte(delaySchema)))
		}(i)
	}
	wg.Wait()
}
