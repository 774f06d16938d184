package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// IssueCode identifies the kind of a validation issue
type IssueCode string

// Validation issue codes
const (
	CodeMissingCapability     IssueCode = "missing_capability"
	CodeInsufficientResources IssueCode = "insufficient_resources"
	CodeHealthCheckFailed     IssueCode = "health_check_failed"
	CodeMissingDependencies   IssueCode = "missing_dependencies"
	CodeUnhealthyAgent        IssueCode = "unhealthy_agent"
)

// ValidationIssue is one problem found while validating an agent for a task.
// The set of implementations is closed: MissingCapability,
// InsufficientResources, HealthCheckFailed, MissingDependencies and
// UnhealthyAgent.
type ValidationIssue interface {
	Code() IssueCode
	Message() string
	isValidationIssue()
}

// MissingCapability is raised once per capability the agent lacks
type MissingCapability struct {
	Capability Capability
}

func (MissingCapability) Code() IssueCode { return CodeMissingCapability }
func (i MissingCapability) Message() string {
	return fmt.Sprintf("agent lacks capability %q", i.Capability)
}
func (MissingCapability) isValidationIssue() {}

// InsufficientResources is raised when required CPU cores exceed availability
type InsufficientResources struct {
	Required  int
	Available int
}

func (InsufficientResources) Code() IssueCode { return CodeInsufficientResources }
func (i InsufficientResources) Message() string {
	return fmt.Sprintf("task requires %d cpu cores, agent has %d", i.Required, i.Available)
}
func (InsufficientResources) isValidationIssue() {}

// HealthCheckFailed is raised when the agent cannot be pinged
type HealthCheckFailed struct {
	Reason string
}

func (HealthCheckFailed) Code() IssueCode { return CodeHealthCheckFailed }
func (i HealthCheckFailed) Message() string {
	return "health check failed: " + i.Reason
}
func (HealthCheckFailed) isValidationIssue() {}

// MissingDependencies batches every task dependency the agent does not declare
type MissingDependencies struct {
	Names []string
}

func (MissingDependencies) Code() IssueCode { return CodeMissingDependencies }
func (i MissingDependencies) Message() string {
	return "agent is missing dependencies: " + strings.Join(i.Names, ", ")
}
func (MissingDependencies) isValidationIssue() {}

// UnhealthyAgent is a warning: the agent answered but is degraded or overloaded
type UnhealthyAgent struct {
	Status  HealthStatus
	Latency time.Duration
	Detail  string
}

func (UnhealthyAgent) Code() IssueCode { return CodeUnhealthyAgent }
func (i UnhealthyAgent) Message() string {
	if i.Detail != "" {
		return fmt.Sprintf("agent is %s: %s", i.Status, i.Detail)
	}
	return fmt.Sprintf("agent is %s", i.Status)
}
func (UnhealthyAgent) isValidationIssue() {}

// IssueRecord is the wire form of a ValidationIssue
type IssueRecord struct {
	Code    IssueCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// DescribeIssue converts an issue to its wire form
func DescribeIssue(issue ValidationIssue) IssueRecord {
	rec := IssueRecord{Code: issue.Code(), Message: issue.Message()}
	switch i := issue.(type) {
	case MissingCapability:
		rec.Details = map[string]any{"capability": string(i.Capability)}
	case InsufficientResources:
		rec.Details = map[string]any{"required": i.Required, "available": i.Available}
	case HealthCheckFailed:
		rec.Details = map[string]any{"reason": i.Reason}
	case MissingDependencies:
		rec.Details = map[string]any{"names": i.Names}
	case UnhealthyAgent:
		rec.Details = map[string]any{"status": i.Status.String(), "latency_ms": i.Latency.Milliseconds()}
	default:
		panic(fmt.Sprintf("models: unhandled validation issue %T", issue))
	}
	return rec
}

// ValidationReport collects everything wrong with an agent/task pairing.
// Warnings never affect validity.
type ValidationReport struct {
	AgentID   string
	TaskID    string
	Errors    []ValidationIssue
	Warnings  []ValidationIssue
	Duration  time.Duration
	CheckedAt time.Time
}

// IsValid returns true when the report has no errors
func (r *ValidationReport) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error, preserving check order
func (r *ValidationReport) AddError(issue ValidationIssue) {
	r.Errors = append(r.Errors, issue)
}

// AddWarning appends a warning, preserving check order
func (r *ValidationReport) AddWarning(issue ValidationIssue) {
	r.Warnings = append(r.Warnings, issue)
}

// ErrorsWithCode returns the errors carrying the given code
func (r *ValidationReport) ErrorsWithCode(code IssueCode) []ValidationIssue {
	var out []ValidationIssue
	for _, e := range r.Errors {
		if e.Code() == code {
			out = append(out, e)
		}
	}
	return out
}

// MarshalJSON encodes the report with issues in wire form
func (r ValidationReport) MarshalJSON() ([]byte, error) {
	errs := make([]IssueRecord, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, DescribeIssue(e))
	}
	warns := make([]IssueRecord, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		warns = append(warns, DescribeIssue(w))
	}
	return json.Marshal(struct {
		AgentID    string        `json:"agent_id"`
		TaskID     string        `json:"task_id"`
		Valid      bool          `json:"valid"`
		Errors     []IssueRecord `json:"errors"`
		Warnings   []IssueRecord `json:"warnings"`
		DurationMS int64         `json:"duration_ms"`
		CheckedAt  time.Time     `json:"checked_at"`
	}{
		AgentID:    r.AgentID,
		TaskID:     r.TaskID,
		Valid:      r.IsValid(),
		Errors:     errs,
		Warnings:   warns,
		DurationMS: r.Duration.Milliseconds(),
		CheckedAt:  r.CheckedAt,
	})
}
