package expressions

import (
	"math"
	"strconv"
	"strings"
)

// Keys of the evaluation scope shared by the engines.
const (
	ScopeVars  = "vars"
	ScopeActor = "actor"
)

// NewScope builds the data map handed to an engine. CEL reads vars.<name>
// and actor.id; Expr additionally sees every variable by its bare name.
// A variable named vars or actor is shadowed by the scope key.
func NewScope(vars map[string]any, actorID string, actorValid bool) map[string]any {
	scope := make(map[string]any, len(vars)+2)
	for k, v := range vars {
		scope[k] = v
	}
	if vars == nil {
		vars = map[string]any{}
	}
	scope[ScopeVars] = vars
	scope[ScopeActor] = map[string]any{"id": actorID, "valid": actorValid}
	return scope
}

// ToFloat converts numeric values, and strings that parse as numbers, to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
