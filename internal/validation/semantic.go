package validation

import (
	"fmt"

	"github.com/rendis/skillscript/pkg/schema"
)

// MaxNestingDepth bounds how deeply blocks may nest inside one another.
const MaxNestingDepth = 32

// SchemaLookup is implemented by registries that can hand out the parameter
// schema of a step. When the ActionLookup also satisfies it, parameters are
// checked at load time as well as before each execution.
type SchemaLookup interface {
	InputSchema(name string) ([]byte, bool)
}

type semanticWalker struct {
	actions ActionLookup
	schemas SchemaLookup
	inputs  *JSONSchemaValidator
	result  *schema.ValidationResult
}

// validateSemantic walks every trigger block and the blocks nested in
// control-flow steps. Malformed records are errors; unregistered steps are
// warnings because the interpreter skips them.
func validateSemantic(def *schema.ScriptDefinition, lookup ActionLookup, inputs *JSONSchemaValidator) *schema.ValidationResult {
	w := &semanticWalker{
		actions: lookup,
		inputs:  inputs,
		result:  &schema.ValidationResult{},
	}
	if sl, ok := lookup.(SchemaLookup); ok {
		w.schemas = sl
	}

	for _, trigger := range def.TriggerNames() {
		steps := def.Triggers[trigger]
		if len(steps) == 0 {
			w.result.AddWarning(trigger, schema.ErrCodeValidation, "trigger has no steps")
			continue
		}
		w.steps(steps, trigger, 0)
	}
	return w.result
}

func (w *semanticWalker) steps(steps []schema.StepRecord, path string, depth int) {
	if depth > MaxNestingDepth {
		w.result.AddError(path, schema.ErrCodeStructuralMisuse,
			fmt.Sprintf("blocks nested deeper than %d levels", MaxNestingDepth))
		return
	}
	for i, step := range steps {
		w.step(step, fmt.Sprintf("%s[%d]", path, i), depth)
	}
}

func (w *semanticWalker) step(step schema.StepRecord, path string, depth int) {
	if !step.Valid() {
		w.result.AddError(path, schema.ErrCodeMalformedStep, step.Malformed)
		return
	}

	if w.actions != nil && !w.actions.Has(step.Name) {
		w.result.AddWarning(path, schema.ErrCodeUnknownStep,
			fmt.Sprintf("step %q is not registered and will be skipped", step.Name))
	}

	if w.schemas != nil && w.inputs != nil {
		if raw, ok := w.schemas.InputSchema(step.Name); ok {
			if err := w.inputs.ValidateInput(step.Params, raw); err != nil {
				w.result.AddError(path, schema.ErrCodeValidation, errMessage(err))
			}
		}
	}

	switch step.Key() {
	case schema.StepIf:
		if _, ok := schema.LookupParam(step.Params, "condition"); !ok {
			w.result.AddError(path, schema.ErrCodeValidation, "ifcondition requires a condition")
		}
		w.optionalBlock(step, schema.BlockThen, path, depth)
		w.optionalBlock(step, schema.BlockElse, path, depth)
	case schema.StepForLoop:
		w.forLoop(step, path, depth)
	case schema.StepParallel:
		w.parallel(step, path, depth)
	}
}

func (w *semanticWalker) optionalBlock(step schema.StepRecord, key, path string, depth int) {
	raw, ok := schema.LookupParam(step.Params, key)
	if !ok {
		return
	}
	w.block(raw, path+"."+key, depth)
}

func (w *semanticWalker) block(raw any, path string, depth int) {
	steps, err := schema.ParseSteps(raw)
	if err != nil {
		w.result.AddError(path, schema.ErrCodeMalformedStep, errMessage(err))
		return
	}
	w.steps(steps, path, depth+1)
}

func (w *semanticWalker) forLoop(step schema.StepRecord, path string, depth int) {
	if v, ok := schema.LookupParam(step.Params, "variable"); !ok || v == "" {
		w.result.AddError(path, schema.ErrCodeValidation, "forloop requires a variable")
	}

	_, hasTo := schema.LookupParam(step.Params, "to")
	_, hasOver := schema.LookupParam(step.Params, "over")
	switch {
	case !hasTo && !hasOver:
		w.result.AddError(path, schema.ErrCodeValidation, "forloop requires either to or over")
	case hasTo && hasOver:
		w.result.AddWarning(path, schema.ErrCodeValidation, "forloop has both to and over; over wins")
	}

	if raw, ok := schema.LookupParam(step.Params, "step"); ok && isZero(raw) {
		w.result.AddError(path+".step", schema.ErrCodeValidation, "forloop step must not be zero")
	}

	raw, ok := schema.LookupParam(step.Params, schema.BlockDo)
	if !ok {
		w.result.AddWarning(path, schema.ErrCodeValidation, "forloop has no Do block")
		return
	}
	w.block(raw, path+"."+schema.BlockDo, depth)
}

func (w *semanticWalker) parallel(step schema.StepRecord, path string, depth int) {
	raw, ok := schema.LookupParam(step.Params, schema.BlockBranches)
	branches, isList := raw.([]any)
	if !ok || !isList {
		w.result.AddError(path, schema.ErrCodeValidation, "parallel requires a Branches list")
		return
	}

	valid := 0
	for i, branch := range branches {
		bpath := fmt.Sprintf("%s.%s[%d]", path, schema.BlockBranches, i)
		if _, isList := branch.([]any); !isList {
			w.result.AddWarning(bpath, schema.ErrCodeValidation, "branch is not a step list and will be skipped")
			continue
		}
		valid++
		w.block(branch, bpath, depth)
	}
	if valid == 0 {
		w.result.AddError(path, schema.ErrCodeValidation, "parallel has no valid branch")
	}
}

func isZero(v any) bool {
	switch n := v.(type) {
	case int:
		return n == 0
	case int64:
		return n == 0
	case float64:
		return n == 0
	}
	return false
}

func errMessage(err error) string {
	if se, ok := err.(*schema.ScriptError); ok {
		return se.Message
	}
	return err.Error()
}
