package schema

import (
	"fmt"
	"sort"
	"strings"
)

// StepRecord is one named, parameterized invocation inside a script.
// Records that could not be decoded keep the reason in Malformed; the
// interpreter reports them as step errors when it reaches them.
type StepRecord struct {
	Name      string         `json:"name"`
	Params    map[string]any `json:"params,omitempty"`
	Malformed string         `json:"malformed,omitempty"`
}

// NewStep builds a well-formed record.
func NewStep(name string, params map[string]any) StepRecord {
	return StepRecord{Name: name, Params: params}
}

// Key is the case-normalized step name used for registry lookups.
func (r StepRecord) Key() string {
	return strings.ToLower(strings.TrimSpace(r.Name))
}

// Valid reports whether the record can be dispatched.
func (r StepRecord) Valid() bool {
	return r.Malformed == "" && r.Key() != ""
}

// CloneParams returns a deep copy of the record's parameters so a step can
// never mutate the view another branch or loop iteration has of them.
func (r StepRecord) CloneParams() map[string]any {
	out := make(map[string]any, len(r.Params))
	for k, v := range r.Params {
		out[k] = CloneValue(v)
	}
	return out
}

// ParseStep decodes one element of a step list. Accepted shapes are a
// single-key mapping {name: {params}} or {name: null}, and a bare name string.
func ParseStep(raw any) StepRecord {
	switch v := Normalize(raw).(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return StepRecord{Malformed: "step name is empty"}
		}
		return StepRecord{Name: v}
	case map[string]any:
		if len(v) != 1 {
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return StepRecord{
				Name:      strings.Join(keys, ","),
				Malformed: fmt.Sprintf("step record must have exactly one name, got %d", len(v)),
			}
		}
		for name, body := range v {
			if strings.TrimSpace(name) == "" {
				return StepRecord{Malformed: "step name is empty"}
			}
			switch p := body.(type) {
			case nil:
				return StepRecord{Name: name, Params: map[string]any{}}
			case map[string]any:
				return StepRecord{Name: name, Params: p}
			default:
				return StepRecord{Name: name, Malformed: fmt.Sprintf("parameters of %q must be a mapping, got %T", name, body)}
			}
		}
	case nil:
		return StepRecord{Malformed: "step record is empty"}
	}
	return StepRecord{Malformed: fmt.Sprintf("step record must be a mapping, got %T", raw)}
}

// ParseSteps decodes a step list. A nil value is an empty list; a value that
// is not a list at all is an error because no record can be recovered from it.
// Individual bad elements become malformed records.
func ParseSteps(raw any) ([]StepRecord, error) {
	switch v := Normalize(raw).(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]StepRecord, 0, len(v))
		for _, item := range v {
			out = append(out, ParseStep(item))
		}
		return out, nil
	case []StepRecord:
		return v, nil
	default:
		return nil, NewErrorf(ErrCodeMalformedStep, "step list must be a sequence, got %T", raw)
	}
}

// Normalize converts decoder output into JSON-shaped values: mappings with
// non-string keys become map[string]any and typed slices become []any.
func Normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	default:
		return v
	}
}

// CloneValue deep-copies maps and slices; other values are returned as is.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = CloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	case []StepRecord:
		out := make([]StepRecord, len(val))
		for i, rec := range val {
			out[i] = StepRecord{Name: rec.Name, Params: rec.CloneParams(), Malformed: rec.Malformed}
		}
		return out
	default:
		return v
	}
}

// LookupParam fetches a parameter by name. Exact keys win over
// case-insensitive matches, so "Do" and "do" both resolve.
func LookupParam(params map[string]any, key string) (any, bool) {
	if v, ok := params[key]; ok {
		return v, true
	}
	for k, v := range params {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
