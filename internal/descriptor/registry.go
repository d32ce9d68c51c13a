package descriptor

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds descriptors keyed by identity.
type Registry struct {
	mu   sync.RWMutex
	defs map[IdentityKeys]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[IdentityKeys]*Descriptor)}
}

// Register validates d and adds a copy of it. Registering a second descriptor
// with the same identity fails with ErrDuplicateIdentity.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.defs[d.Identity]; ok {
		return fmt.Errorf("%w: %s (already registered from %s)", ErrDuplicateIdentity, d.Identity, prev.Source)
	}
	cp := d
	r.defs[d.Identity] = &cp
	return nil
}

// Match returns the descriptor whose identity equals the device-reported
// manufacturer and model exactly.
func (r *Registry) Match(manufacturer, model string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[IdentityKeys{Model: model, Manufacturer: manufacturer}]
	return d, ok
}

// All returns registered descriptors ordered by manufacturer then model.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity.Manufacturer != out[j].Identity.Manufacturer {
			return out[i].Identity.Manufacturer < out[j].Identity.Manufacturer
		}
		return out[i].Identity.Model < out[j].Identity.Model
	})
	return out
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
