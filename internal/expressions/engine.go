package expressions

import "context"

// Engine evaluates expressions used by script steps.
// Three implementations: CEL (conditions), Expr (arithmetic), GoJQ (transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Engines bundles one instance of each engine. All of them are safe for
// concurrent use, so a single Engines is shared by every built-in step.
type Engines struct {
	CEL  *CELEngine
	Expr *ExprEngine
	JQ   *GoJQEngine
}

// NewEngines builds the three engines.
func NewEngines() (*Engines, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Engines{
		CEL:  celEngine,
		Expr: NewExprEngine(),
		JQ:   NewGoJQEngine(),
	}, nil
}
