package actions

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"

	"github.com/rendis/skillscript/internal/expressions"
	"github.com/rendis/skillscript/internal/validation"
	"github.com/rendis/skillscript/pkg/schema"
)

// controlFlowActions returns the steps registered under the controlflow namespace.
func controlFlowActions(deps BuiltinDeps) []Action {
	return []Action{
		&delayAction{validator: deps.Validator, expr: deps.Engines.Expr},
		&ifConditionAction{validator: deps.Validator, cel: deps.Engines.CEL},
		&forLoopAction{validator: deps.Validator, expr: deps.Engines.Expr},
		&parallelAction{validator: deps.Validator, logger: deps.Logger},
	}
}

// --- controlflow.delay ---

var delaySchema = json.RawMessage(`{
  "type": "object",
  "required": ["duration"],
  "properties": {
    "duration": { "type": ["number", "string"] }
  }
}`)

// MaxDelayTicks bounds a single delay.
const MaxDelayTicks = math.MaxInt32

type delayAction struct {
	validator *validation.JSONSchemaValidator
	expr      *expressions.ExprEngine
}

func (a *delayAction) Name() string { return "delay" }

func (a *delayAction) Schema() ActionSchema {
	return ActionSchema{
		InputSchema: delaySchema,
		Description: "Suspend the current scope for a number of ticks",
	}
}

func (a *delayAction) Validate(params map[string]any) error {
	return validateParams(a.validator, schema.StepDelay, params, delaySchema)
}

func (a *delayAction) Execute(ctx context.Context, input ActionInput) schema.Status {
	ticks, _, err := numberParam(ctx, a.expr, input, "duration")
	if err != nil {
		return schema.FailedFrom(err)
	}
	if math.IsNaN(ticks) || math.IsInf(ticks, 0) {
		return schema.Failedf("duration must be a finite number, got %v", ticks)
	}
	// Fractions are truncated toward zero: 2.9 waits 2 ticks.
	ticks = math.Trunc(ticks)
	if ticks <= 0 {
		return schema.Completed()
	}
	if ticks > MaxDelayTicks {
		return schema.Failedf("duration %v exceeds %d ticks", ticks, MaxDelayTicks)
	}
	return schema.Delay(int(ticks))
}

// --- controlflow.ifcondition ---

var ifSchema = json.RawMessage(`{
  "type": "object",
  "required": ["condition"],
  "properties": {
    "condition": { "type": ["boolean", "number", "string", "null"] },
    "Then": { "type": ["array", "null"] },
    "Else": { "type": ["array", "null"] }
  }
}`)

type ifConditionAction struct {
	validator *validation.JSONSchemaValidator
	cel       *expressions.CELEngine
}

func (a *ifConditionAction) Name() string { return "ifcondition" }

func (a *ifConditionAction) Schema() ActionSchema {
	return ActionSchema{
		InputSchema: ifSchema,
		Description: "Run the Then block when condition holds, otherwise the Else block",
	}
}

func (a *ifConditionAction) Validate(params map[string]any) error {
	return validateParams(a.validator, schema.StepIf, params, ifSchema)
}

func (a *ifConditionAction) Execute(ctx context.Context, input ActionInput) schema.Status {
	cond, _ := param(input.Params, "condition")

	result, ok := truthy(cond)
	if !ok {
		expr, _ := cond.(string)
		if a.cel == nil {
			return schema.Failedf("condition %q needs an expression engine", expr)
		}
		var err error
		result, err = a.cel.EvaluateBool(ctx, expr, scope(input))
		if err != nil {
			return schema.FailedFrom(err)
		}
	}

	key := schema.BlockElse
	if result {
		key = schema.BlockThen
	}
	block, err := blockParam(input.Params, key)
	if err != nil {
		return schema.FailedFrom(err)
	}
	input.Flow.PushBlock(block)
	return schema.Completed()
}

// --- controlflow.forloop ---

var forLoopSchema = json.RawMessage(`{
  "type": "object",
  "required": ["variable"],
  "properties": {
    "variable": { "type": "string", "minLength": 1 },
    "from": { "type": ["number", "string"] },
    "to": { "type": ["number", "string"] },
    "step": { "type": ["number", "string"] },
    "over": { "type": ["array", "string"] },
    "Do": { "type": ["array", "null"] }
  }
}`)

type forLoopAction struct {
	validator *validation.JSONSchemaValidator
	expr      *expressions.ExprEngine
}

func (a *forLoopAction) Name() string { return "forloop" }

func (a *forLoopAction) Schema() ActionSchema {
	return ActionSchema{
		InputSchema: forLoopSchema,
		Description: "Repeat the Do block over a numeric range or a list",
	}
}

func (a *forLoopAction) Validate(params map[string]any) error {
	return validateParams(a.validator, schema.StepForLoop, params, forLoopSchema)
}

func (a *forLoopAction) Execute(ctx context.Context, input ActionInput) schema.Status {
	variable, ok := stringParam(input.Params, "variable")
	if !ok {
		return schema.Failed("forloop requires a variable")
	}
	body, err := blockParam(input.Params, schema.BlockDo)
	if err != nil {
		return schema.FailedFrom(err)
	}

	if over, ok := param(input.Params, "over"); ok {
		items, err := listItems(over, input.Vars)
		if err != nil {
			return schema.FailedFrom(err)
		}
		input.Flow.PushListLoop(variable, items, body, input.Vars)
		return schema.Completed()
	}

	end, hasEnd, err := numberParam(ctx, a.expr, input, "to")
	if err != nil {
		return schema.FailedFrom(err)
	}
	if !hasEnd {
		return schema.Failed("forloop requires either to or over")
	}
	start, _, err := numberParam(ctx, a.expr, input, "from")
	if err != nil {
		return schema.FailedFrom(err)
	}
	step, hasStep, err := numberParam(ctx, a.expr, input, "step")
	if err != nil {
		return schema.FailedFrom(err)
	}
	if !hasStep {
		step = 1
	}
	if step == 0 {
		return schema.Failed("forloop step must not be zero")
	}

	input.Flow.PushNumericLoop(variable, start, end, step, body, input.Vars)
	return schema.Completed()
}

// listItems resolves the over parameter: a literal list, or the name of a
// variable holding one.
func listItems(over any, vars Variables) ([]any, error) {
	switch v := over.(type) {
	case []any:
		return v, nil
	case string:
		name := strings.TrimSpace(v)
		if vars == nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "variable %q is not set", name)
		}
		val, ok := vars.Get(name)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "variable %q is not set", name)
		}
		switch list := val.(type) {
		case []any:
			return list, nil
		case []string:
			items := make([]any, len(list))
			for i, s := range list {
				items[i] = s
			}
			return items, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "variable %q holds %T, not a list", name, val)
	case nil:
		return nil, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "over must be a list or a variable name, got %T", over)
	}
}

// --- controlflow.parallel ---

var parallelSchema = json.RawMessage(`{
  "type": "object",
  "required": ["Branches"],
  "properties": {
    "Branches": { "type": "array" }
  }
}`)

type parallelAction struct {
	validator *validation.JSONSchemaValidator
	logger    *slog.Logger
}

func (a *parallelAction) Name() string { return "parallel" }

func (a *parallelAction) Schema() ActionSchema {
	return ActionSchema{
		InputSchema: parallelSchema,
		Description: "Run several step lists side by side, each with its own cursor and delay",
	}
}

func (a *parallelAction) Validate(params map[string]any) error {
	return validateParams(a.validator, schema.StepParallel, params, parallelSchema)
}

func (a *parallelAction) Execute(ctx context.Context, input ActionInput) schema.Status {
	raw, _ := param(input.Params, schema.BlockBranches)
	list, ok := raw.([]any)
	if !ok {
		return schema.Failed("parallel requires a Branches list")
	}

	branches := make([][]schema.StepRecord, 0, len(list))
	for i, item := range list {
		if _, isList := item.([]any); !isList {
			a.warn(ctx, "parallel branch is not a step list, skipped", i)
			continue
		}
		steps, err := schema.ParseSteps(item)
		if err != nil {
			a.warn(ctx, "parallel branch could not be decoded, skipped", i)
			continue
		}
		branches = append(branches, steps)
	}
	if len(branches) == 0 {
		return schema.Failed("parallel has no valid branch")
	}

	input.Flow.PushParallel(branches)
	return schema.Completed()
}

func (a *parallelAction) warn(ctx context.Context, msg string, branch int) {
	if a.logger != nil {
		a.logger.WarnContext(ctx, msg, slog.Int("branch", branch))
	}
}
