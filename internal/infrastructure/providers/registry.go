package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/einvoice/connector/internal/domain/connector"
)

// Registry is a thread-safe AdapterRegistry implementation
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]connector.ProviderAdapter
}

// NewRegistry creates a registry holding the given adapters
func NewRegistry(adapters ...connector.ProviderAdapter) *Registry {
	r := &Registry{adapters: make(map[string]connector.ProviderAdapter)}
	for _, adapter := range adapters {
		r.Register(adapter)
	}
	return r
}

// Register adds or replaces the adapter for its provider ID
func (r *Registry) Register(adapter connector.ProviderAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.ProviderID()] = adapter
}

// Get returns the adapter for the given provider
func (r *Registry) Get(providerID string) (connector.ProviderAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for provider %q", connector.ErrNotConfigured, providerID)
	}
	return adapter, nil
}

// List returns all registered adapters ordered by provider ID
func (r *Registry) List() []connector.ProviderAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]connector.ProviderAdapter, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.adapters[id])
	}
	return out
}

var _ connector.AdapterRegistry = (*Registry)(nil)
