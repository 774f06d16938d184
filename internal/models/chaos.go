package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultRecoverySLA is the recovery time under which an experiment succeeds
const DefaultRecoverySLA = 30 * time.Second

// ExperimentKind names an experiment type
type ExperimentKind string

// Experiment kinds
const (
	KindNetworkFailure     ExperimentKind = "network_failure"
	KindAgentCrash         ExperimentKind = "agent_crash"
	KindResourceExhaustion ExperimentKind = "resource_exhaustion"
	KindStoreFailure       ExperimentKind = "store_failure"
	KindMessageLoss        ExperimentKind = "message_loss"
)

// ParseExperimentKind validates an experiment kind name
func ParseExperimentKind(name string) (ExperimentKind, error) {
	switch k := ExperimentKind(name); k {
	case KindNetworkFailure, KindAgentCrash, KindResourceExhaustion, KindStoreFailure, KindMessageLoss:
		return k, nil
	default:
		return "", fmt.Errorf("unknown experiment kind %q", name)
	}
}

// ResourceKind is a resource that can be exhausted
type ResourceKind string

// Resource kinds
const (
	ResourceCPU    ResourceKind = "cpu"
	ResourceMemory ResourceKind = "memory"
	ResourceDisk   ResourceKind = "disk"
)

// ExperimentType is the fault an experiment injects. The set is closed:
// NetworkFailure, AgentCrash, ResourceExhaustion, StoreFailure, MessageLoss.
type ExperimentType interface {
	Kind() ExperimentKind
	// Target names what the fault acts on; experiments on the same target
	// are mutually exclusive.
	Target() string
	isExperimentType()
}

// NetworkFailure cuts connectivity for the experiment duration
type NetworkFailure struct{}

func (NetworkFailure) Kind() ExperimentKind { return KindNetworkFailure }
func (NetworkFailure) Target() string       { return "network" }
func (NetworkFailure) isExperimentType()    {}

// AgentCrash kills one agent
type AgentCrash struct {
	Agent string
}

func (AgentCrash) Kind() ExperimentKind { return KindAgentCrash }
func (c AgentCrash) Target() string     { return "agent:" + c.Agent }
func (AgentCrash) isExperimentType()    {}

// ResourceExhaustion saturates one resource
type ResourceExhaustion struct {
	Resource ResourceKind
}

func (ResourceExhaustion) Kind() ExperimentKind { return KindResourceExhaustion }
func (r ResourceExhaustion) Target() string     { return "resource:" + string(r.Resource) }
func (ResourceExhaustion) isExperimentType()    {}

// StoreFailure makes the analytics store unavailable
type StoreFailure struct{}

func (StoreFailure) Kind() ExperimentKind { return KindStoreFailure }
func (StoreFailure) Target() string       { return "store" }
func (StoreFailure) isExperimentType()    {}

// MessageLoss drops the given fraction (0-1) of messages
type MessageLoss struct {
	Rate float64
}

func (MessageLoss) Kind() ExperimentKind { return KindMessageLoss }
func (MessageLoss) Target() string       { return "network" }
func (MessageLoss) isExperimentType()    {}

// ParseExperimentType builds an experiment type from its kind and the
// kind-specific parameter (agent id, resource kind or loss rate)
func ParseExperimentType(kind ExperimentKind, agent string, resource ResourceKind, rate float64) (ExperimentType, error) {
	switch kind {
	case KindNetworkFailure:
		return NetworkFailure{}, nil
	case KindAgentCrash:
		if agent == "" {
			return nil, fmt.Errorf("%s requires an agent id", kind)
		}
		return AgentCrash{Agent: agent}, nil
	case KindResourceExhaustion:
		switch resource {
		case ResourceCPU, ResourceMemory, ResourceDisk:
			return ResourceExhaustion{Resource: resource}, nil
		default:
			return nil, fmt.Errorf("%s: unknown resource %q (cpu, memory, disk)", kind, resource)
		}
	case KindStoreFailure:
		return StoreFailure{}, nil
	case KindMessageLoss:
		if rate <= 0 || rate > 1 {
			return nil, fmt.Errorf("%s: rate must be in (0, 1], got %v", kind, rate)
		}
		return MessageLoss{Rate: rate}, nil
	default:
		return nil, fmt.Errorf("unknown experiment kind %q", kind)
	}
}

// ExperimentState is a step in the experiment lifecycle:
// Created -> Injecting -> Monitoring -> Completed -> Reported.
// A failed injection moves Injecting -> Aborted.
type ExperimentState int

const (
	StateCreated ExperimentState = iota
	StateInjecting
	StateMonitoring
	StateCompleted
	StateReported
	StateAborted
)

// String returns the string representation of ExperimentState
func (s ExperimentState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInjecting:
		return "injecting"
	case StateMonitoring:
		return "monitoring"
	case StateCompleted:
		return "completed"
	case StateReported:
		return "reported"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s ExperimentState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var experimentTransitions = map[ExperimentState][]ExperimentState{
	StateCreated:    {StateInjecting},
	StateInjecting:  {StateMonitoring, StateAborted},
	StateMonitoring: {StateCompleted},
	StateCompleted:  {StateReported},
}

// CanTransition reports whether the lifecycle allows moving to next
func (s ExperimentState) CanTransition(next ExperimentState) bool {
	for _, allowed := range experimentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ChaosExperiment is one planned fault injection
type ChaosExperiment struct {
	ID        string
	Type      ExperimentType
	Duration  time.Duration // Planned fault duration
	StartedAt time.Time
	State     ExperimentState
}

// Transition moves the experiment to the next state
func (e *ChaosExperiment) Transition(next ExperimentState) error {
	if !e.State.CanTransition(next) {
		return fmt.Errorf("experiment %s: illegal transition %s -> %s", e.ID, e.State, next)
	}
	e.State = next
	return nil
}

// MarshalJSON flattens the experiment type into kind-specific fields
func (e ChaosExperiment) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID         string          `json:"id"`
		Kind       ExperimentKind  `json:"type"`
		Target     string          `json:"target"`
		Agent      string          `json:"agent,omitempty"`
		Resource   ResourceKind    `json:"resource,omitempty"`
		Rate       float64         `json:"rate,omitempty"`
		DurationMS int64           `json:"duration_ms"`
		StartedAt  time.Time       `json:"started_at"`
		State      ExperimentState `json:"state"`
	}
	w := wire{
		ID:         e.ID,
		DurationMS: e.Duration.Milliseconds(),
		StartedAt:  e.StartedAt,
		State:      e.State,
	}
	if e.Type != nil {
		w.Kind = e.Type.Kind()
		w.Target = e.Type.Target()
		switch t := e.Type.(type) {
		case NetworkFailure, StoreFailure:
		case AgentCrash:
			w.Agent = t.Agent
		case ResourceExhaustion:
			w.Resource = t.Resource
		case MessageLoss:
			w.Rate = t.Rate
		default:
			return nil, fmt.Errorf("models: unhandled experiment type %T", e.Type)
		}
	}
	return json.Marshal(w)
}

// RecoveryOutcome is how the monitoring phase ended
type RecoveryOutcome string

const (
	// OutcomeRecovered means the recovery predicate held before the deadline
	OutcomeRecovered RecoveryOutcome = "recovered"
	// OutcomeTimedOut means the bounded wait expired first
	OutcomeTimedOut RecoveryOutcome = "recovery_timed_out"
)

// ChaosExperimentResult is the persisted outcome of a completed experiment
type ChaosExperimentResult struct {
	Experiment   ChaosExperiment `json:"experiment"`
	RecoveryTime time.Duration   `json:"recovery_time"`
	Outcome      RecoveryOutcome `json:"outcome"`
	SLA          time.Duration   `json:"sla"`
	CompletedAt  time.Time       `json:"completed_at"`
}

// Success is derived: the system recovered and did so within the SLA
func (r ChaosExperimentResult) Success() bool {
	sla := r.SLA
	if sla <= 0 {
		sla = DefaultRecoverySLA
	}
	return r.Outcome == OutcomeRecovered && r.RecoveryTime < sla
}

// MarshalJSON includes the derived success flag
func (r ChaosExperimentResult) MarshalJSON() ([]byte, error) {
	type plain ChaosExperimentResult
	return json.Marshal(struct {
		plain
		RecoveryMS int64 `json:"recovery_ms"`
		Success    bool  `json:"success"`
	}{
		plain:      plain(r),
		RecoveryMS: r.RecoveryTime.Milliseconds(),
		Success:    r.Success(),
	})
}
