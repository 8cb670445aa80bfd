package provider

import (
	"fmt"
	"sync"
)

// Registry holds the configured backends and the ones currently active for each
// capability. It is built once at start-up and passed to its consumers.
type Registry struct {
	mu        sync.RWMutex
	backends  map[string]Provider
	fulfiller Fulfiller
	collector Collector
}

// NewRegistry registers the given backends. No backend is active until
// SetFulfiller or SetCollector is called.
func NewRegistry(backends ...Provider) *Registry {
	r := &Registry{backends: make(map[string]Provider, len(backends))}
	for _, b := range backends {
		r.backends[b.Code()] = b
	}
	return r
}

// Register adds or replaces a backend.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[p.Code()] = p
}

func (r *Registry) lookup(code string, want Capability) (Provider, error) {
	p, ok := r.backends[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, code)
	}
	if !p.Capabilities().Has(want) {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityUnsupported, code)
	}
	return p, nil
}

// SetFulfiller makes code the active fulfillment backend.
func (r *Registry) SetFulfiller(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.lookup(code, CapFulfillment)
	if err != nil {
		return err
	}
	f, ok := p.(Fulfiller)
	if !ok {
		return fmt.Errorf("%w: %s declares fulfillment but does not implement it", ErrCapabilityUnsupported, code)
	}
	r.fulfiller = f
	return nil
}

// SetCollector makes code the active payment collection backend.
func (r *Registry) SetCollector(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.lookup(code, CapPaymentCollection)
	if err != nil {
		return err
	}
	c, ok := p.(Collector)
	if !ok {
		return fmt.Errorf("%w: %s declares payment collection but does not implement it", ErrCapabilityUnsupported, code)
	}
	r.collector = c
	return nil
}

// Fulfiller returns the active fulfillment backend.
func (r *Registry) Fulfiller() (Fulfiller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fulfiller == nil {
		return nil, fmt.Errorf("%w: no fulfillment backend configured", ErrUnknownProvider)
	}
	return r.fulfiller, nil
}

// FulfillerFor returns the fulfillment backend registered under code, active or not.
// Orders are requeried against the backend that took them.
func (r *Registry) FulfillerFor(code string) (Fulfiller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, err := r.lookup(code, CapFulfillment)
	if err != nil {
		return nil, err
	}
	f, ok := p.(Fulfiller)
	if !ok {
		return nil, fmt.Errorf("%w: %s declares fulfillment but does not implement it", ErrCapabilityUnsupported, code)
	}
	return f, nil
}

// Collector returns the active payment collection backend.
func (r *Registry) Collector() (Collector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.collector == nil {
		return nil, fmt.Errorf("%w: no payment collection backend configured", ErrUnknownProvider)
	}
	return r.collector, nil
}

// Codes lists registered backend codes with their capabilities.
func (r *Registry) Codes() map[string]Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Capability, len(r.backends))
	for code, p := range r.backends {
		out[code] = p.Capabilities()
	}
	return out
}
