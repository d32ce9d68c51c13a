package zcl

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds all known ZCL cluster definitions, indexed by ID and by key.
type Registry struct {
	mu       sync.RWMutex
	clusters map[uint16]*ClusterDef
	keys     map[string]uint16
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		clusters: make(map[uint16]*ClusterDef),
		keys:     make(map[string]uint16),
		logger:   logger,
	}
}

// Register adds a cluster definition to the registry, merging into an
// existing definition with the same ID.
func (r *Registry) Register(c ClusterDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clusters[c.ID]; ok {
		existing.Merge(&c)
		if existing.Key != "" {
			r.keys[existing.Key] = existing.ID
		}
		r.logger.Debug("cluster merged", "id", fmt.Sprintf("0x%04X", c.ID), "key", existing.Key)
		return
	}
	clone := c.DeepCopy()
	r.clusters[c.ID] = clone
	if clone.Key != "" {
		r.keys[clone.Key] = clone.ID
	}
	r.logger.Debug("cluster registered", "id", fmt.Sprintf("0x%04X", c.ID), "key", c.Key)
}

// Get returns a cluster definition by ID, or nil if not found.
// The returned value is a deep copy; callers may modify it safely.
func (r *Registry) Get(id uint16) *ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.clusters[id]
	if c == nil {
		return nil
	}
	return c.DeepCopy()
}

// Lookup returns a cluster definition by key ("genOnOff"), or nil.
// Keys are matched exactly.
func (r *Registry) Lookup(key string) *ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.keys[key]
	if !ok {
		return nil
	}
	return r.clusters[id].DeepCopy()
}

// All returns all registered cluster definitions ordered by ID.
func (r *Registry) All() []ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ClusterDef, 0, len(r.clusters))
	for _, c := range r.clusters {
		result = append(result, *c.DeepCopy())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
