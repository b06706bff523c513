package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/skillscript/pkg/schema"
)

const scriptSchemaURL = "https://skillscript.dev/schemas/script.json"

// scriptSchemaJSON describes a script document: trigger names mapped to step
// lists. Nested blocks inside step parameters are checked semantically.
const scriptSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://skillscript.dev/schemas/script.json",
  "type": "object",
  "minProperties": 1,
  "propertyNames": { "minLength": 1 },
  "additionalProperties": { "$ref": "#/$defs/stepList" },
  "$defs": {
    "stepList": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/step" }
    },
    "step": {
      "oneOf": [
        { "type": "string", "minLength": 1 },
        {
          "type": "object",
          "minProperties": 1,
          "maxProperties": 1,
          "additionalProperties": { "type": ["object", "null"] }
        }
      ]
    }
  }
}`

// JSONSchemaValidator checks script documents and step parameters against
// JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	scriptSchema *jsonschema.Schema

	// mu guards the cache of compiled parameter schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the script schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(scriptSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal script schema: %w", err)
	}
	if err := c.AddResource(scriptSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add script schema resource: %w", err)
	}

	compiled, err := c.Compile(scriptSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile script schema: %w", err)
	}

	return &JSONSchemaValidator{
		scriptSchema: compiled,
		cache:        make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDocument checks a decoded script document against the script schema.
func (v *JSONSchemaValidator) ValidateDocument(doc map[string]any) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "script document is nil")
	}

	value, err := toJSONValue(schema.Normalize(doc))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize script document").WithCause(err)
	}

	if err := v.scriptSchema.Validate(value); err != nil {
		return toScriptError(err)
	}
	return nil
}

// ValidateInput validates step parameters against a JSON Schema provided as
// raw bytes. Compiled schemas are cached by their text.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if len(inputSchema) == 0 {
		return nil
	}
	if input == nil {
		input = map[string]any{}
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid parameter schema").WithCause(err)
	}

	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize parameters").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toScriptError(err)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// A fresh compiler per schema keeps resource URLs from colliding.
	url := fmt.Sprintf("skillscript://params/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips v through encoding/json so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toScriptError flattens a jsonschema.ValidationError into a ScriptError
// whose details list every leaf violation.
func toScriptError(err error) *schema.ScriptError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
