package expressions

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	placeholderOpen  = "{var:"
	placeholderClose = "}"
)

// Lookup resolves a variable by name.
type Lookup func(name string) (any, bool)

// Interpolate replaces every {var:name} placeholder in text with the
// formatted value of the variable. Unknown variables and unclosed
// placeholders are left as written.
func Interpolate(text string, lookup Lookup) string {
	if !strings.Contains(text, placeholderOpen) {
		return text
	}

	var out strings.Builder
	out.Grow(len(text))

	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], placeholderOpen)
		if idx == -1 {
			out.WriteString(text[i:])
			break
		}
		out.WriteString(text[i : i+idx])
		start := i + idx + len(placeholderOpen)

		end := strings.Index(text[start:], placeholderClose)
		if end == -1 {
			out.WriteString(text[i+idx:])
			break
		}
		end += start

		token := text[i+idx : end+1]
		name := strings.TrimSpace(text[start:end])
		if val, ok := lookup(name); ok && name != "" {
			out.WriteString(FormatValue(val))
		} else {
			out.WriteString(token)
		}
		i = end + 1
	}

	return out.String()
}

// Placeholders lists the variable names referenced by text, in order of
// appearance and without duplicates.
func Placeholders(text string) []string {
	var names []string
	seen := make(map[string]bool)
	rest := text
	for {
		idx := strings.Index(rest, placeholderOpen)
		if idx == -1 {
			return names
		}
		rest = rest[idx+len(placeholderOpen):]
		end := strings.Index(rest, placeholderClose)
		if end == -1 {
			return names
		}
		name := strings.TrimSpace(rest[:end])
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		rest = rest[end+1:]
	}
}

// FormatValue renders a variable for display. Whole floats print without a
// fractional part, other floats with two decimals.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case fmt.Stringer:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	if f == math.Trunc(f) {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}
