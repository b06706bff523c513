package actions

import (
	"context"
	"strings"

	"github.com/rendis/skillscript/internal/expressions"
	"github.com/rendis/skillscript/internal/validation"
	"github.com/rendis/skillscript/pkg/schema"
)

// param fetches a parameter, ignoring case.
func param(params map[string]any, key string) (any, bool) {
	return schema.LookupParam(params, key)
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := param(params, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return strings.TrimSpace(s), ok && strings.TrimSpace(s) != ""
}

// blockParam decodes a nested step list. A missing key is an empty block.
func blockParam(params map[string]any, key string) ([]schema.StepRecord, error) {
	v, ok := param(params, key)
	if !ok || v == nil {
		return nil, nil
	}
	steps, err := schema.ParseSteps(v)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeMalformedStep, "%s: %s", key, errMessage(err)).WithCause(err)
	}
	return steps, nil
}

// scope builds the expression scope of the running task.
func scope(input ActionInput) map[string]any {
	var vars map[string]any
	if input.Vars != nil {
		vars = input.Vars.Snapshot()
	}
	var actorID string
	valid := false
	if input.Actor != nil {
		actorID = input.Actor.ID()
		valid = input.Actor.Valid()
	}
	return expressions.NewScope(vars, actorID, valid)
}

// numberParam resolves a numeric parameter given as a number, a numeric
// string or an Expr expression over the task's variables.
func numberParam(ctx context.Context, eng *expressions.ExprEngine, input ActionInput, key string) (float64, bool, error) {
	v, ok := param(input.Params, key)
	if !ok || v == nil {
		return 0, false, nil
	}
	if f, ok := expressions.ToFloat(v); ok {
		return f, true, nil
	}
	s, isString := v.(string)
	if !isString || eng == nil {
		return 0, true, schema.NewErrorf(schema.ErrCodeValidation, "%s must be a number, got %T", key, v)
	}
	f, err := eng.EvaluateFloat(ctx, s, scope(input))
	if err != nil {
		return 0, true, err
	}
	return f, true, nil
}

// validateParams checks params against raw when a validator is configured.
func validateParams(v *validation.JSONSchemaValidator, name string, params map[string]any, raw []byte) error {
	if v == nil {
		return nil
	}
	if err := v.ValidateInput(params, raw); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: %s", name, errMessage(err)).WithCause(err)
	}
	return nil
}

func errMessage(err error) string {
	if se, ok := err.(*schema.ScriptError); ok {
		return se.Message
	}
	return err.Error()
}

// truthy interprets literal condition values. ok is false when the value
// needs expression evaluation.
func truthy(v any) (result, ok bool) {
	switch c := v.(type) {
	case nil:
		return false, true
	case bool:
		return c, true
	case string:
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "true":
			return true, true
		case "false", "":
			return false, true
		}
		return false, false
	}
	if f, ok := expressions.ToFloat(v); ok {
		return f != 0, true
	}
	return false, false
}
