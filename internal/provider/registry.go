package provider

import (
	"fmt"
	"sync"

	"kycflow/pkg/domain"
	"kycflow/pkg/platform/circuit"
)

// Entry couples a vendor's static config, its adapter and the breaker
// guarding it.
type Entry struct {
	Config  VendorConfig
	Adapter Adapter
	Breaker *circuit.Breaker
}

// Registry maps vendors to adapters and tracks the latest health probe
// result per vendor. It is populated once at startup; the health loop
// updates probe results concurrently with router reads.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.VendorID]*Entry
	health  map[domain.VendorID]HealthStatus
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[domain.VendorID]*Entry),
		health:  make(map[domain.VendorID]HealthStatus),
	}
}

// Register adds a vendor. Duplicate registration is a wiring bug.
func (r *Registry) Register(cfg VendorConfig, adapter Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := adapter.ID()
	if cfg.Vendor != id {
		return fmt.Errorf("config vendor %s does not match adapter %s", cfg.Vendor, id)
	}
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("vendor %s already registered", id)
	}
	r.entries[id] = &Entry{
		Config:  cfg,
		Adapter: adapter,
		Breaker: circuit.New(id.String(), circuit.WithFailureThreshold(5)),
	}
	// Until the first probe runs, assume the vendor is reachable.
	r.health[id] = Healthy
	return nil
}

// Get retrieves a vendor entry.
func (r *Registry) Get(id domain.VendorID) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// All returns the registered entries in stable vendor order.
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, id := range domain.AllVendors() {
		if e, ok := r.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// SetHealth records the latest probe result for a vendor.
func (r *Registry) SetHealth(id domain.VendorID, status HealthStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health[id] = status
}

// HealthOf returns the latest probe result. An open circuit breaker
// counts as Unhealthy regardless of the last probe.
func (r *Registry) HealthOf(id domain.VendorID) HealthStatus {
	r.mu.RLock()
	entry := r.entries[id]
	status, ok := r.health[id]
	r.mu.RUnlock()

	if !ok {
		return Unhealthy
	}
	if entry != nil && entry.Breaker.IsOpen() {
		return Unhealthy
	}
	return status
}
