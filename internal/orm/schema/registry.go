package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages all entities served by the application
type Registry struct {
	entities map[string]*Entity
	mu       sync.RWMutex
}

// NewRegistry creates a new entity registry
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*Entity),
	}
}

// Register validates and registers an entity
func (r *Registry) Register(entity *Entity) error {
	if err := entity.Validate(); err != nil {
		return fmt.Errorf("entity validation failed: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entities[entity.Name]; exists {
		return fmt.Errorf("entity %s is already registered", entity.Name)
	}
	r.entities[entity.Name] = entity
	return nil
}

// Get retrieves an entity by name
func (r *Registry) Get(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, exists := r.entities[name]
	return entity, exists
}

// List returns the registered entity names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered entities
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}
