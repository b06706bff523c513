package actions

import (
	"io"
	"log/slog"

	"github.com/rendis/skillscript/internal/expressions"
	"github.com/rendis/skillscript/internal/validation"
)

// BuiltinDeps carries the collaborators of the built-in steps.
// Nil fields get defaults: fresh engines, a discarding logger, no parameter
// validation and no messenger (sendmessage then fails).
type BuiltinDeps struct {
	Validator *validation.JSONSchemaValidator
	Engines   *expressions.Engines
	Messenger Messenger
	Logger    *slog.Logger
}

// RegisterBuiltins registers all built-in steps in the given registry.
func RegisterBuiltins(reg *Registry, deps BuiltinDeps) error {
	if deps.Engines == nil {
		engines, err := expressions.NewEngines()
		if err != nil {
			return err
		}
		deps.Engines = engines
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	namespaces := []struct {
		name    string
		actions []Action
	}{
		{"controlflow", controlFlowActions(deps)},
		{"variable", variableActions(deps)},
		{"targetbehaviour", []Action{&sendMessageAction{validator: deps.Validator, messenger: deps.Messenger}}},
	}
	for _, ns := range namespaces {
		if _, err := reg.RegisterNamespace(ns.name, ns.actions); err != nil {
			return err
		}
	}

	return reg.Register(&setVariableAction{validator: deps.Validator})
}
