package validation

import (
	"strings"

	"github.com/rendis/skillscript/pkg/schema"
)

// ScriptValidator runs the two-stage validation pipeline:
// 1. Structural (JSON Schema over the raw document)
// 2. Semantic (malformed records, registered steps, nested blocks)
type ScriptValidator struct {
	jsonSchema *JSONSchemaValidator
	actions    ActionLookup
}

var _ Validator = (*ScriptValidator)(nil)

// NewScriptValidator creates a ScriptValidator.
// lookup may be nil to skip step registration checks.
func NewScriptValidator(lookup ActionLookup) (*ScriptValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &ScriptValidator{
		jsonSchema: jsv,
		actions:    lookup,
	}, nil
}

// ValidateDocument validates a raw decoded document. Structural errors
// short-circuit the semantic stage.
func (sv *ScriptValidator) ValidateDocument(name string, doc map[string]any) *schema.ValidationResult {
	result := validateStructural(sv.jsonSchema, doc)
	if !result.Valid() {
		return attribute(name, result)
	}

	def, err := schema.ParseScript(name, doc)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, errMessage(err))
		return attribute(name, result)
	}

	result.Merge(name, sv.ValidateScript(def))
	return attribute(name, result)
}

// ValidateScript runs the semantic stage over a parsed script.
func (sv *ScriptValidator) ValidateScript(def *schema.ScriptDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "script definition is nil")
		return r
	}
	out := &schema.ValidationResult{}
	out.Merge(def.Name, validateSemantic(def, sv.actions, sv.jsonSchema))
	return out
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (sv *ScriptValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return sv.jsonSchema.ValidateInput(input, inputSchema)
}

func validateStructural(v *JSONSchemaValidator, doc map[string]any) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDocument(doc)
	if err == nil {
		return result
	}

	se, ok := err.(*schema.ScriptError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if violations, ok := se.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, se.Message)
	return result
}

func attribute(name string, r *schema.ValidationResult) *schema.ValidationResult {
	out := &schema.ValidationResult{}
	out.Merge(strings.ToLower(name), r)
	return out
}
