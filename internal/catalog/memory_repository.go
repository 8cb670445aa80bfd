package catalog

import (
	"context"
	"sync"
)

// MemoryRepository keeps configs in a map; safe for concurrent use.
type MemoryRepository struct {
	mu      sync.RWMutex
	configs map[string]ServiceProviderConfig
}

// NewMemoryRepository builds an in-memory config store seeded with configs.
func NewMemoryRepository(configs ...ServiceProviderConfig) *MemoryRepository {
	r := &MemoryRepository{configs: make(map[string]ServiceProviderConfig)}
	for _, c := range configs {
		r.configs[key(c.Code, c.ServiceType)] = c
	}
	return r
}

func (r *MemoryRepository) Get(_ context.Context, code string, serviceType ServiceType) (ServiceProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[key(code, serviceType)]
	if !ok {
		return ServiceProviderConfig{}, ErrNotFound
	}
	return c, nil
}

// Put replaces a config. Used by tests and development seeding.
func (r *MemoryRepository) Put(c ServiceProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[key(c.Code, c.ServiceType)] = c
}

func key(code string, serviceType ServiceType) string {
	return string(serviceType) + ":" + code
}
