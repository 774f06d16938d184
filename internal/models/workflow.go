package models

import "time"

// Workflow is a directed graph of tasks with dependencies
type Workflow struct {
	ID       string        // Workflow identifier
	Name     string        // Human-readable name
	Tasks    []Task        // Tasks in declaration order
	Timeout  time.Duration // Declared upper bound on execution time (0 = none)
	FilePath string        // Source document, if loaded from disk
}

// Task looks up a task by id
func (w *Workflow) Task(id string) (*Task, bool) {
	for i := range w.Tasks {
		if w.Tasks[i].ID == id {
			return &w.Tasks[i], true
		}
	}
	return nil, false
}

// Wave is a group of tasks that can run in parallel
type Wave struct {
	Name           string   // Wave name (e.g., "Wave 1")
	TaskIDs        []string // Task ids in this wave
	MaxConcurrency int      // Maximum concurrent tasks in this wave
}

// Schedule tells an executor how to run a workflow
type Schedule struct {
	Waves       []Wave            // Execution order
	Assignments map[string]string // task id -> agent id
	SessionID   string            // Store session to run inside (integration tests)
}

// TaskOutput is the observable result of one task.
// Values must be comparable so executions can be compared by value.
type TaskOutput struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// ResourceUsage is what a task actually consumed
type ResourceUsage struct {
	CPUCores float64 `json:"cpu_cores"`
	MemoryMB int64   `json:"memory_mb"`
}

// ExecutionResult is returned by an executor for one workflow run
type ExecutionResult struct {
	Success     bool                     `json:"success"`
	TaskResults map[string]TaskOutput    `json:"task_results"`
	Usage       map[string]ResourceUsage `json:"usage,omitempty"`
	Duration    time.Duration            `json:"duration"`
}

// Execution is a historical workflow run as recorded by the store
type Execution struct {
	ID         string        `json:"id"`
	WorkflowID string        `json:"workflow_id"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
}
