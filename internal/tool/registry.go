package tool

import (
	"sync"

	"github.com/kingrea/taskgate/internal/failure"
)

// Registry holds the tool definitions known to the process. It is populated
// once at startup, validated eagerly and frozen before serving calls.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]Definition
	order  []string
	frozen bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: map[string]Definition{}}
}

// Register validates and installs a definition.
func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return failure.Wrap(failure.KindInvalidDefinition, err, "", "", "%s", err.Error())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return failure.New(failure.KindInvalidDefinition, "", def.Name, "registry is frozen")
	}
	if _, exists := r.defs[def.Name]; exists {
		return failure.New(failure.KindInvalidDefinition, "", def.Name, "already registered")
	}
	r.defs[def.Name] = def.Clone()
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Freeze rejects further registrations and verifies that every depends_on
// reference names a registered tool.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.order {
		dep := r.defs[name].DependsOn
		if dep == "" {
			continue
		}
		if _, ok := r.defs[dep]; !ok {
			return failure.New(failure.KindInvalidDefinition, "", name, "depends_on references unknown tool %s", dep)
		}
	}
	r.frozen = true
	return nil
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Definition, error) {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return Definition{}, failure.New(failure.KindUnknownTool, "", name, "no tool named %q is registered", name)
	}
	return def.Clone(), nil
}

// All returns every definition in registration order.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name].Clone())
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len reports how many tools are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
