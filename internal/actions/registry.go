package actions

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/skillscript/pkg/schema"
)

// Registry is the concrete thread-safe ActionRegistry implementation.
// Names are stored lower-cased, so lookups ignore case.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

var _ ActionRegistry = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds an action to the registry. Returns error on duplicate name.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	name := normalizeName(action.Name())
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", name)
	}

	r.actions[name] = action
	return nil
}

// RegisterNamespace registers actions under "namespace.name"
// (e.g. "controlflow.delay"). It stops at the first conflict and returns
// how many were registered before it.
func (r *Registry) RegisterNamespace(namespace string, acts []Action) (int, error) {
	namespace = normalizeName(namespace)
	if namespace == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "namespace is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered := 0
	for _, a := range acts {
		full := namespace + "." + normalizeName(a.Name())
		if _, exists := r.actions[full]; exists {
			return registered, schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", full)
		}
		r.actions[full] = &namespacedAction{inner: a, name: full}
		registered++
	}
	return registered, nil
}

// Get retrieves an action by name.
func (r *Registry) Get(name string) (Action, error) {
	action, ok := r.Lookup(name)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %q not registered", name)
	}
	return action, nil
}

// Lookup retrieves an action by name, reporting whether it exists.
func (r *Registry) Lookup(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, ok := r.actions[normalizeName(name)]
	return action, ok
}

// Has checks if an action is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// InputSchema returns the parameter schema of a registered action.
func (r *Registry) InputSchema(name string) ([]byte, bool) {
	action, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	raw := action.Schema().InputSchema
	return raw, len(raw) > 0
}

// List returns info for all registered actions, sorted by name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.actions))
	for name, a := range r.actions {
		infos = append(infos, ActionInfo{
			Name:        name,
			Description: a.Schema().Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// namespacedAction exposes an action under its qualified name.
type namespacedAction struct {
	inner Action
	name  string
}

func (n *namespacedAction) Name() string                         { return n.name }
func (n *namespacedAction) Schema() ActionSchema                 { return n.inner.Schema() }
func (n *namespacedAction) Validate(params map[string]any) error { return n.inner.Validate(params) }

func (n *namespacedAction) Execute(ctx context.Context, input ActionInput) schema.Status {
	return n.inner.Execute(ctx, input)
}
