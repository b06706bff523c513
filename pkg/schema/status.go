package schema

import (
	"errors"
	"fmt"
)

// StatusKind discriminates the outcome of one step execution.
type StatusKind int

const (
	StatusCompleted StatusKind = iota
	StatusDelay
	StatusError
)

func (k StatusKind) String() string {
	switch k {
	case StatusCompleted:
		return "completed"
	case StatusDelay:
		return "delay"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(k))
	}
}

// Status is the value a step returns to the interpreter. Ticks is positive
// only for StatusDelay; Message is set only for StatusError.
type Status struct {
	Kind    StatusKind `json:"kind"`
	Ticks   int        `json:"ticks,omitempty"`
	Message string     `json:"message,omitempty"`
}

// Completed reports that the step finished and the next one may run.
func Completed() Status {
	return Status{Kind: StatusCompleted}
}

// Delay suspends forward progress for the given number of ticks.
// A non-positive request is normalized to Completed.
func Delay(ticks int) Status {
	if ticks <= 0 {
		return Completed()
	}
	return Status{Kind: StatusDelay, Ticks: ticks}
}

// Failed reports a step error.
func Failed(message string) Status {
	return Status{Kind: StatusError, Message: message}
}

// Failedf reports a step error with a formatted message.
func Failedf(format string, args ...any) Status {
	return Failed(fmt.Sprintf(format, args...))
}

// FailedFrom converts a Go error into an error status, preferring the
// message of a ScriptError over its formatted code prefix.
func FailedFrom(err error) Status {
	if err == nil {
		return Failed("unknown error")
	}
	var se *ScriptError
	if errors.As(err, &se) {
		return Failed(se.Message)
	}
	return Failed(err.Error())
}

func (s Status) IsCompleted() bool { return s.Kind == StatusCompleted }
func (s Status) IsDelay() bool     { return s.Kind == StatusDelay }
func (s Status) IsError() bool     { return s.Kind == StatusError }

func (s Status) String() string {
	switch s.Kind {
	case StatusDelay:
		return fmt.Sprintf("delay(%d)", s.Ticks)
	case StatusError:
		return fmt.Sprintf("error(%s)", s.Message)
	default:
		return s.Kind.String()
	}
}
