package engine

import (
	"sort"
	"strings"
	"sync"

	"github.com/rendis/skillscript/internal/actions"
)

// Variables is the task-scoped variable store. Names are lower-cased on the
// way in and out. The lock only serves status readers on other goroutines;
// the owning task is the sole writer.
type Variables struct {
	mu     sync.RWMutex
	values map[string]any
}

var _ actions.Variables = (*Variables)(nil)

// NewVariables creates a store seeded with the given values.
func NewVariables(seed map[string]any) *Variables {
	v := &Variables{values: make(map[string]any, len(seed))}
	for name, value := range seed {
		v.values[normalizeName(name)] = value
	}
	return v
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Set stores value under name. Empty names are ignored.
func (v *Variables) Set(name string, value any) {
	key := normalizeName(name)
	if key == "" {
		return
	}
	v.mu.Lock()
	v.values[key] = value
	v.mu.Unlock()
}

// Get returns the value stored under name.
func (v *Variables) Get(name string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[normalizeName(name)]
	return val, ok
}

// Snapshot returns a shallow copy of all variables.
func (v *Variables) Snapshot() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]any, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}

// Names returns the stored names, sorted.
func (v *Variables) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, 0, len(v.values))
	for k := range v.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
