package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Options overrides how an agent CLI is launched.
type Options struct {
	// Command replaces the default executable when non-empty.
	Command string
	// Args replaces the default arguments when non-nil.
	Args []string
	// Env is appended to the inherited environment.
	Env []string
}

// Factory creates a fresh backend.
type Factory func(opts Options) Backend

// Registry maps agent type names to factories.
type Registry struct {
	mu sync.RWMutex
	// +checklocks:mu
	factories map[string]Factory
	// +checklocks:mu
	options map[string]Options
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		options:   make(map[string]Options),
	}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Configure sets the launch options passed to the named factory.
func (r *Registry) Configure(name string, opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.options[name] = opts
}

// New creates a backend of the named type.
func (r *Registry) New(name string) (Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	opts := r.options[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return f(opts), nil
}

// Names returns all registered agent types, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
