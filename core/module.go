package core

import (
	"fmt"
	"sort"
	"sync"
)

// ModuleRegistry maps module names to factories.
type ModuleRegistry struct {
	mu        sync.RWMutex
	factories map[string]ModuleFactory
}

// NewModuleRegistry creates an empty registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{factories: make(map[string]ModuleFactory)}
}

// Register adds a factory under name.
func (r *ModuleRegistry) Register(name string, factory ModuleFactory) error {
	if factory == nil {
		return fmt.Errorf("module %s: %w", name, ErrNilHandler)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrModuleExists, name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister is Register that panics on error, for package init.
func (r *ModuleRegistry) MustRegister(name string, factory ModuleFactory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the factory registered under name.
func (r *ModuleRegistry) Lookup(name string) (ModuleFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered module names, sorted.
func (r *ModuleRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
