// Package registry holds the CapabilityRegistry: the current capability set
// and last observed state of every known agent.
//
// Reads run in parallel; registration is an exclusive write that replaces the
// whole entry. No lock is ever held while calling out to an agent or the
// store, and all returned records are copies.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/harrison/sentinel/internal/models"
)

// Registry maps agent ids to their records
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*models.AgentRecord
	now    func() time.Time
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		agents: make(map[string]*models.AgentRecord),
		now:    time.Now,
	}
}

// Register replaces the agent's entry with the given capability set.
// Capabilities are never merged with a previous registration.
func (r *Registry) Register(id string, caps models.CapabilitySet) models.AgentRecord {
	return r.Put(models.AgentRecord{ID: id, Capabilities: caps})
}

// Put replaces the whole entry for rec.ID, stamping RegisteredAt when unset
func (r *Registry) Put(rec models.AgentRecord) models.AgentRecord {
	rec = rec.Clone()
	if rec.Capabilities == nil {
		rec.Capabilities = models.NewCapabilitySet()
	}
	if rec.RegisteredAt.IsZero() {
		rec.RegisteredAt = r.now()
	}

	r.mu.Lock()
	r.agents[rec.ID] = &rec
	r.mu.Unlock()

	return rec.Clone()
}

// Get returns a copy of the agent's record
func (r *Registry) Get(id string) (models.AgentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.agents[id]
	if !ok {
		return models.AgentRecord{}, false
	}
	return rec.Clone(), true
}

// Capabilities returns a copy of the agent's current capability set
func (r *Registry) Capabilities(id string) (models.CapabilitySet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return rec.Capabilities.Clone(), true
}

// Len returns the number of registered agents
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Snapshot returns copies of all records sorted by id
func (r *Registry) Snapshot() []models.AgentRecord {
	r.mu.RLock()
	out := make([]models.AgentRecord, 0, len(r.agents))
	for _, rec := range r.agents {
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateHealth records the outcome of a health check for a registered agent.
// Unknown agents are ignored and false is returned.
func (r *Registry) UpdateHealth(id string, snap models.ResourceSnapshot, health models.HealthSnapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[id]
	if !ok {
		return false
	}
	rec.Resources = snap.Available
	rec.Utilization = snap.Utilization
	rec.Health = health
	rec.LastValidatedAt = health.CheckedAt
	return true
}

// RegisteredSince returns agents registered strictly after t whose capability
// set covers caps, excluding the given id
func (r *Registry) RegisteredSince(t time.Time, caps models.CapabilitySet, excludeID string) []models.AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.AgentRecord
	for id, rec := range r.agents {
		if id == excludeID || !rec.RegisteredAt.After(t) {
			continue
		}
		if rec.Capabilities.ContainsAll(caps) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CountHealthy returns how many agents last reported HealthHealthy
func (r *Registry) CountHealthy() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.agents {
		if rec.Health.Status == models.HealthHealthy {
			n++
		}
	}
	return n
}
