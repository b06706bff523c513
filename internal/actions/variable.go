package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/skillscript/internal/expressions"
	"github.com/rendis/skillscript/internal/validation"
	"github.com/rendis/skillscript/pkg/schema"
)

func variableActions(deps BuiltinDeps) []Action {
	return []Action{
		&calculateAction{validator: deps.Validator, expr: deps.Engines.Expr},
		&transformAction{validator: deps.Validator, jq: deps.Engines.JQ},
	}
}

// storable converts numbers to float64 so every numeric variable has one type.
func storable(v any) any {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32:
		f, _ := expressions.ToFloat(v)
		return f
	}
	return v
}

// --- setvariable ---

var setVariableSchema = json.RawMessage(`{
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "value": {}
  }
}`)

type setVariableAction struct {
	validator *validation.JSONSchemaValidator
}

func (a *setVariableAction) Name() string { return schema.StepSetVariable }

func (a *setVariableAction) Schema() ActionSchema {
	return ActionSchema{
		InputSchema: setVariableSchema,
		Description: "Store a value in a task variable; strings expand {var:name} placeholders",
	}
}

func (a *setVariableAction) Validate(params map[string]any) error {
	return validateParams(a.validator, schema.StepSetVariable, params, setVariableSchema)
}

func (a *setVariableAction) Execute(_ context.Context, input ActionInput) schema.Status {
	name, ok := stringParam(input.Params, "name")
	if !ok {
		return schema.Failed("setvariable requires a name")
	}
	value, _ := param(input.Params, "value")
	if s, isString := value.(string); isString {
		value = expressions.Interpolate(s, input.Vars.Get)
	}
	input.Vars.Set(name, storable(value))
	return schema.Completed()
}

// --- variable.calculate ---

var calculateSchema = json.RawMessage(`{
  "type": "object",
  "required": ["variable", "expression"],
  "properties": {
    "variable": { "type": "string", "minLength": 1 },
    "expression": { "type": ["string", "number"] }
  }
}`)

type calculateAction struct {
	validator *validation.JSONSchemaValidator
	expr      *expressions.ExprEngine
}

func (a *calculateAction) Name() string { return "calculate" }

func (a *calculateAction) Schema() ActionSchema {
	return ActionSchema{
		InputSchema: calculateSchema,
		Description: "Evaluate an Expr expression over the task variables and store the result",
	}
}

func (a *calculateAction) Validate(params map[string]any) error {
	return validateParams(a.validator, schema.StepCalculate, params, calculateSchema)
}

func (a *calculateAction) Execute(ctx context.Context, input ActionInput) schema.Status {
	name, ok := stringParam(input.Params, "variable")
	if !ok {
		return schema.Failed("calculate requires a variable")
	}
	raw, _ := param(input.Params, "expression")

	var result any
	if f, isNumber := expressions.ToFloat(raw); isNumber {
		result = f
	} else {
		expr, _ := raw.(string)
		out, err := a.expr.Evaluate(ctx, expr, scope(input))
		if err != nil {
			return schema.FailedFrom(err)
		}
		result = out
	}

	input.Vars.Set(name, storable(result))
	return schema.Completed()
}

// --- variable.transform ---

var transformSchema = json.RawMessage(`{
  "type": "object",
  "required": ["variable", "query"],
  "properties": {
    "variable": { "type": "string", "minLength": 1 },
    "query": { "type": "string", "minLength": 1 },
    "source": { "type": "string", "minLength": 1 }
  }
}`)

type transformAction struct {
	validator *validation.JSONSchemaValidator
	jq        *expressions.GoJQEngine
}

func (a *transformAction) Name() string { return "transform" }

func (a *transformAction) Schema() ActionSchema {
	return ActionSchema{
		InputSchema: transformSchema,
		Description: "Run a jq query over the variables (or one variable) and store the result",
	}
}

func (a *transformAction) Validate(params map[string]any) error {
	return validateParams(a.validator, schema.StepTransform, params, transformSchema)
}

func (a *transformAction) Execute(ctx context.Context, input ActionInput) schema.Status {
	name, ok := stringParam(input.Params, "variable")
	if !ok {
		return schema.Failed("transform requires a variable")
	}
	query, ok := stringParam(input.Params, "query")
	if !ok {
		return schema.Failed("transform requires a query")
	}

	var data any = input.Vars.Snapshot()
	if source, ok := stringParam(input.Params, "source"); ok {
		v, found := input.Vars.Get(source)
		if !found {
			return schema.Failedf("transform source %q is not set", source)
		}
		data = v
	}

	out, err := a.jq.Run(ctx, query, data)
	if err != nil {
		return schema.FailedFrom(err)
	}
	input.Vars.Set(name, storable(out))
	return schema.Completed()
}
