package validation

import (
	"context"
	"time"

	"github.com/harrison/sentinel/internal/models"
)

// StaticAgent is an Agent with fixed answers. The test orchestrator builds
// one per task to stand in for a real agent.
type StaticAgent struct {
	AgentID      string
	Resources    models.Resources
	Utilization  models.Utilization
	Latency      time.Duration
	PingErr      error
	Dependencies []string
}

// NewStaticAgent returns a healthy agent that satisfies the task's requirements.
func NewStaticAgent(id string, task models.Task) *StaticAgent {
	return &StaticAgent{
		AgentID:      id,
		Resources:    task.Requirements,
		Dependencies: append([]string(nil), task.Dependencies...),
	}
}

func (a *StaticAgent) ID() string { return a.AgentID }

func (a *StaticAgent) Ping(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return a.Latency, a.PingErr
}

func (a *StaticAgent) HasDependency(name string) bool {
	for _, d := range a.Dependencies {
		if d == name {
			return true
		}
	}
	return false
}

func (a *StaticAgent) Snapshot() models.ResourceSnapshot {
	return models.ResourceSnapshot{Available: a.Resources, Utilization: a.Utilization}
}
