package validation

import "github.com/rendis/skillscript/pkg/schema"

// Validator checks script documents before they are cast.
// Uses JSON Schema Draft 2020-12 for document shape and step parameters.
type Validator interface {
	ValidateScript(def *schema.ScriptDefinition) *schema.ValidationResult
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// ActionLookup reports whether a step name is registered.
type ActionLookup interface {
	Has(name string) bool
}
