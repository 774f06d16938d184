package models

import (
	"errors"
	"fmt"
	"time"
)

// Task is a unit of work that can be assigned to an agent
type Task struct {
	ID                   string        `yaml:"id" json:"id"`
	Name                 string        `yaml:"name" json:"name"`
	RequiredCapabilities []Capability  `yaml:"capabilities" json:"capabilities"`
	Requirements         Resources     `yaml:"requirements" json:"requirements"`
	Dependencies         []string      `yaml:"dependencies" json:"dependencies,omitempty"` // Named dependencies the agent must declare
	DependsOn            []string      `yaml:"depends_on" json:"depends_on,omitempty"`     // Task IDs within the workflow
	Command              string        `yaml:"command" json:"command,omitempty"`           // Used by the in-process executor only
	Outputs              []string      `yaml:"outputs" json:"outputs,omitempty"`           // Session paths the task is expected to write
	Timeout              time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// Validate checks if the task has all required fields
func (t *Task) Validate() error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	if t.Requirements.CPUCores < 0 {
		return fmt.Errorf("task %s: cpu_cores must be >= 0, got %d", t.ID, t.Requirements.CPUCores)
	}
	if t.Requirements.MemoryMB < 0 {
		return fmt.Errorf("task %s: memory_mb must be >= 0, got %d", t.ID, t.Requirements.MemoryMB)
	}
	if t.Timeout < 0 {
		return fmt.Errorf("task %s: timeout must be >= 0, got %v", t.ID, t.Timeout)
	}
	return nil
}

// Capabilities returns the required capabilities as a set
func (t *Task) Capabilities() CapabilitySet {
	return NewCapabilitySet(t.RequiredCapabilities...)
}

// DisplayName returns the task name, or its id when unnamed
func (t *Task) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}
