// Package providers holds the adapter registry and the provider adapters the
// engine provisions resources through.
package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/convergehq/converge/pkg/engine"
)

// Registry is the in-process adapter registry. It implements engine.Registry
// and is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]engine.Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]engine.Adapter),
	}
}

// Register adds an adapter under its metadata name. Registering the same
// name twice is an error.
func (r *Registry) Register(adapter engine.Adapter) error {
	meta := adapter.Metadata()
	if meta.Name == "" {
		return fmt.Errorf("adapter has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[meta.Name]; exists {
		return fmt.Errorf("adapter %s already registered", meta.Name)
	}

	r.adapters[meta.Name] = adapter
	return nil
}

// Get returns the adapter registered under the given name.
func (r *Registry) Get(name string) (engine.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[name]
	if !exists {
		return nil, engine.NewNotFoundError(fmt.Sprintf("adapter %s not registered", name))
	}

	return adapter, nil
}

// List returns metadata for all registered adapters, sorted by name.
func (r *Registry) List() []engine.AdapterMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metadata := make([]engine.AdapterMetadata, 0, len(r.adapters))
	for _, adapter := range r.adapters {
		metadata = append(metadata, adapter.Metadata())
	}
	sort.Slice(metadata, func(i, j int) bool {
		return metadata[i].Name < metadata[j].Name
	})

	return metadata
}
