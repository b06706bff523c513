package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/skillscript/internal/expressions"
	"github.com/rendis/skillscript/internal/validation"
	"github.com/rendis/skillscript/pkg/schema"
)

var sendMessageSchema = json.RawMessage(`{
  "type": "object",
  "required": ["message"],
  "properties": {
    "message": { "type": "string" },
    "target": { "type": "string", "minLength": 1 }
  }
}`)

// sendMessageAction delivers an interpolated text to an actor.
type sendMessageAction struct {
	validator *validation.JSONSchemaValidator
	messenger Messenger
}

func (a *sendMessageAction) Name() string { return "sendmessage" }

func (a *sendMessageAction) Schema() ActionSchema {
	return ActionSchema{
		InputSchema: sendMessageSchema,
		Description: "Send a message with {var:name} placeholders expanded to the task's actor or a target",
	}
}

func (a *sendMessageAction) Validate(params map[string]any) error {
	return validateParams(a.validator, schema.StepSendMessage, params, sendMessageSchema)
}

func (a *sendMessageAction) Execute(ctx context.Context, input ActionInput) schema.Status {
	if a.messenger == nil {
		return schema.Failed("no messenger configured")
	}
	msg, _ := param(input.Params, "message")
	text, _ := msg.(string)
	text = expressions.Interpolate(text, input.Vars.Get)

	target, ok := stringParam(input.Params, "target")
	if !ok {
		if input.Actor == nil {
			return schema.Failed("sendmessage has no target and the task has no actor")
		}
		target = input.Actor.ID()
	} else {
		target = expressions.Interpolate(target, input.Vars.Get)
	}

	if err := a.messenger.Deliver(ctx, target, text); err != nil {
		return schema.FailedFrom(err)
	}
	return schema.Completed()
}
