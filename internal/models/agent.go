// Package models defines the domain types shared by the sentinel components:
// agents and their capabilities, tasks and workflows, validation reports,
// test results, chaos experiments, metrics, alerts and quality scores.
package models

import (
	"sort"
	"strings"
	"time"
)

// Capability is an opaque tag naming a skill an agent can perform
type Capability string

// CapabilitySet is an unordered set of capabilities.
// The zero value is an empty set that is safe to read.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities, dropping blanks
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		c = Capability(strings.TrimSpace(string(c)))
		if c == "" {
			continue
		}
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the capability
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Len returns the number of capabilities in the set
func (s CapabilitySet) Len() int {
	return len(s)
}

// List returns the capabilities sorted alphabetically
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy of the set
func (s CapabilitySet) Clone() CapabilitySet {
	out := make(CapabilitySet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// ContainsAll reports whether every capability of other is present in s
func (s CapabilitySet) ContainsAll(other CapabilitySet) bool {
	for c := range other {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// Resources describes resource quantities, either available on an agent
// or required by a task
type Resources struct {
	CPUCores int   `yaml:"cpu_cores" json:"cpu_cores"`
	MemoryMB int64 `yaml:"memory_mb" json:"memory_mb"`
}

// Utilization is the current load of an agent in percent (0-100)
type Utilization struct {
	CPUPercent    float64 `yaml:"cpu_percent" json:"cpu_percent"`
	MemoryPercent float64 `yaml:"memory_percent" json:"memory_percent"`
}

// ResourceSnapshot is what an agent reports about its capacity and load
type ResourceSnapshot struct {
	Available   Resources   `json:"available"`
	Utilization Utilization `json:"utilization"`
}

// HealthStatus classifies the outcome of an agent health check
type HealthStatus int

const (
	// HealthUnknown means the agent has not been checked yet
	HealthUnknown HealthStatus = iota
	// HealthHealthy means the agent answered quickly and is not overloaded
	HealthHealthy
	// HealthDegraded means the agent answered but above the latency limit
	HealthDegraded
	// HealthOverloaded means CPU or memory utilization is at or above the limit
	HealthOverloaded
	// HealthUnreachable means the ping failed
	HealthUnreachable
)

// String returns the string representation of HealthStatus
func (h HealthStatus) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthOverloaded:
		return "overloaded"
	case HealthUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name
func (h HealthStatus) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// HealthSnapshot is the last known health of an agent
type HealthSnapshot struct {
	Status    HealthStatus  `json:"status"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
	Detail    string        `json:"detail,omitempty"`
}

// AgentRecord is the registry's view of an agent.
// An agent has exactly one capability set; re-registration replaces it.
type AgentRecord struct {
	ID              string         `json:"id"`
	Capabilities    CapabilitySet  `json:"-"`
	Resources       Resources      `json:"resources"`
	Utilization     Utilization    `json:"utilization"`
	Health          HealthSnapshot `json:"health"`
	RegisteredAt    time.Time      `json:"registered_at"`
	LastValidatedAt time.Time      `json:"last_validated_at,omitempty"`
}

// Clone returns a copy of the record that shares no mutable state
func (r AgentRecord) Clone() AgentRecord {
	r.Capabilities = r.Capabilities.Clone()
	return r
}
