package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/skillscript/pkg/schema"
)

// Action is the implementation behind one step name. Execute runs to
// completion within a single call; the only way to suspend progress is to
// return schema.Delay.
type Action interface {
	Name() string
	Schema() ActionSchema
	Validate(params map[string]any) error
	Execute(ctx context.Context, input ActionInput) schema.Status
}

// ActionRegistry manages the lookup of available actions.
type ActionRegistry interface {
	Register(action Action) error
	Get(name string) (Action, error)
	Lookup(name string) (Action, bool)
	List() []ActionInfo
}

// Variables is the per-task variable store. Names are case-insensitive.
type Variables interface {
	Set(name string, value any)
	Get(name string) (any, bool)
	Snapshot() map[string]any
}

// FlowControl lets a step open nested scopes on the task's frame stack.
// Each Push reports whether a frame was actually pushed.
type FlowControl interface {
	PushBlock(steps []schema.StepRecord) bool
	PushNumericLoop(variable string, start, end, step float64, body []schema.StepRecord, vars Variables) bool
	PushListLoop(variable string, items []any, body []schema.StepRecord, vars Variables) bool
	PushParallel(branches [][]schema.StepRecord) bool
}

// Actor is the entity a task runs on behalf of.
type Actor interface {
	ID() string
	Valid() bool
}

// Messenger delivers text to an actor.
type Messenger interface {
	Deliver(ctx context.Context, actorID, message string) error
}

// ActionSchema describes the parameter contract of an action.
type ActionSchema struct {
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Description string          `json:"description,omitempty"`
}

// ActionInput is the data provided to an action at execution time.
// Params is a private copy; the action may mutate it freely.
type ActionInput struct {
	TaskID string
	Params map[string]any
	Vars   Variables
	Flow   FlowControl
	Actor  Actor
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
