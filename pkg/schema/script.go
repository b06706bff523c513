package schema

import (
	"sort"
	"strings"
)

// DefaultTrigger is the trigger block run when a script is cast.
const DefaultTrigger = "OnCast"

// ScriptDefinition is a decoded script document: trigger name to step list.
type ScriptDefinition struct {
	Name     string                  `json:"name"`
	Triggers map[string][]StepRecord `json:"triggers"`
	Source   map[string]any          `json:"-"`
}

// ParseScript decodes a document mapping. Every top-level key is a trigger
// and must hold a step list.
func ParseScript(name string, doc map[string]any) (*ScriptDefinition, error) {
	if len(doc) == 0 {
		return nil, NewErrorf(ErrCodeValidation, "script %q is empty", name)
	}
	norm, _ := Normalize(doc).(map[string]any)

	def := &ScriptDefinition{
		Name:     strings.ToLower(name),
		Triggers: make(map[string][]StepRecord, len(norm)),
		Source:   norm,
	}
	for trigger, raw := range norm {
		steps, err := ParseSteps(raw)
		if err != nil {
			return nil, NewErrorf(ErrCodeValidation, "script %q trigger %q: %s", name, trigger, err.Error()).WithCause(err)
		}
		def.Triggers[trigger] = steps
	}
	return def, nil
}

// Steps returns the step list of a trigger. Exact names win over
// case-insensitive matches.
func (d *ScriptDefinition) Steps(trigger string) ([]StepRecord, bool) {
	if steps, ok := d.Triggers[trigger]; ok {
		return steps, true
	}
	for name, steps := range d.Triggers {
		if strings.EqualFold(name, trigger) {
			return steps, true
		}
	}
	return nil, false
}

// TriggerNames returns the declared trigger names, sorted.
func (d *ScriptDefinition) TriggerNames() []string {
	names := make([]string, 0, len(d.Triggers))
	for name := range d.Triggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
