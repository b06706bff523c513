package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStepFailed        = "STEP_FAILED"
	ErrCodeUnknownStep       = "UNKNOWN_STEP"
	ErrCodeMalformedStep     = "MALFORMED_STEP"
	ErrCodeActorInvalid      = "ACTOR_INVALID"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeStructuralMisuse  = "STRUCTURAL_MISUSE"
)

// ScriptError is the structured error type returned across skillscript packages.
type ScriptError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ScriptError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ScriptError.
func NewError(code, message string) *ScriptError {
	return &ScriptError{Code: code, Message: message}
}

// NewErrorf creates a new ScriptError with a formatted message.
func NewErrorf(code, format string, args ...any) *ScriptError {
	return &ScriptError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches the name of the step that produced the error.
func (e *ScriptError) WithStep(step string) *ScriptError {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *ScriptError) WithCause(err error) *ScriptError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ScriptError) WithDetails(details map[string]any) *ScriptError {
	e.Details = details
	return e
}
