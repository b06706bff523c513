package schema

import "fmt"

// ValidationSeverity separates blocking problems from advisory ones.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in a script document, located by a
// path such as "OnCast[2].controlflow.forloop.Do[0]".
type ValidationIssue struct {
	Script   string             `json:"script,omitempty"`
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Script != "" {
		return fmt.Sprintf("%s: %s %s: %s", i.Severity, i.Script, i.Path, i.Message)
	}
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// ValidationResult collects the issues of one or more script documents.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether no error-severity issue was recorded.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError records an error-severity issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddWarning records a warning-severity issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge appends the issues of other. Issues without a script name are
// attributed to script.
func (r *ValidationResult) Merge(script string, other *ValidationResult) {
	if other == nil {
		return
	}
	for _, i := range other.Errors {
		if i.Script == "" {
			i.Script = script
		}
		r.Errors = append(r.Errors, i)
	}
	for _, i := range other.Warnings {
		if i.Script == "" {
			i.Script = script
		}
		r.Warnings = append(r.Warnings, i)
	}
}

// Issues returns errors followed by warnings.
func (r *ValidationResult) Issues() []ValidationIssue {
	out := make([]ValidationIssue, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	return append(out, r.Warnings...)
}

// ToError returns nil for a valid result and a VALIDATION_ERROR otherwise.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].String()
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("script validation failed with %d errors", len(r.Errors))
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
