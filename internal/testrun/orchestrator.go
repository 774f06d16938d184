// Package testrun runs unit, integration and property tests against a
// workflow through an executor.
//
// Test failures are recorded as failed assertions in a models.TestResult.
// Only infrastructure faults are returned as errors (*InfraError). Every
// result that is produced is persisted through the reporter, pass or fail.
package testrun

import (
	"context"
	"fmt"
	"time"

	"github.com/harrison/sentinel/internal/executor"
	"github.com/harrison/sentinel/internal/logger"
	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/reporter"
	"github.com/harrison/sentinel/internal/storeclient"
	"github.com/harrison/sentinel/internal/telemetry"
	"github.com/harrison/sentinel/internal/validation"
)

// Test names as persisted.
const (
	TestUnit        = "unit"
	TestIntegration = "integration"
	TestIdempotency = "property_idempotency"
	TestDeterminism = "property_determinism"
	TestResources   = "property_resource_bounds"
	TestTimeout     = "property_timeout_compliance"
)

// SessionStore is the part of the store client integration tests need.
type SessionStore interface {
	CreateSession(ctx context.Context, req storeclient.CreateSessionRequest) (storeclient.Session, error)
	PutSessionFile(ctx context.Context, sessionID, path string, content []byte) error
	GetSessionFile(ctx context.Context, sessionID, path string) ([]byte, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Options tunes the orchestrator.
type Options struct {
	MaxConcurrency  int           // per-wave parallelism in generated schedules
	DeterminismRuns int           // executions compared by the determinism property
	ParallelRuns    int           // determinism executions allowed in flight at once
	CleanupTimeout  time.Duration // bound on session deletion after an integration test
	AgentType       string        // agent type recorded on integration sessions
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxConcurrency:  executor.DefaultMaxConcurrency,
		DeterminismRuns: 5,
		ParallelRuns:    1,
		CleanupTimeout:  10 * time.Second,
		AgentType:       "sentinel",
	}
}

// Orchestrator runs tests for workflows.
type Orchestrator struct {
	executor  executor.Executor
	sessions  SessionStore
	reporter  reporter.Reporter
	validator *validation.Engine
	opts      Options
	logger    logger.Logger
}

// NewOrchestrator creates an orchestrator. sessions may be nil, which
// disables integration tests; rep and log may be nil.
func NewOrchestrator(exec executor.Executor, sessions SessionStore, rep reporter.Reporter, opts Options, log logger.Logger) *Orchestrator {
	defaults := DefaultOptions()
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaults.MaxConcurrency
	}
	if opts.DeterminismRuns < 2 {
		opts.DeterminismRuns = defaults.DeterminismRuns
	}
	if opts.ParallelRuns <= 0 {
		opts.ParallelRuns = defaults.ParallelRuns
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = defaults.CleanupTimeout
	}
	if opts.AgentType == "" {
		opts.AgentType = defaults.AgentType
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Orchestrator{
		executor:  exec,
		sessions:  sessions,
		reporter:  rep,
		validator: validation.NewEngine(nil, nil, validation.DefaultOptions(), nil),
		opts:      opts,
		logger:    log,
	}
}

// RunAll runs unit, property and, when a session store is configured,
// integration tests, returning results in that order. It stops at the first
// infrastructure fault; results produced before it are returned.
func (o *Orchestrator) RunAll(ctx context.Context, wf *models.Workflow) ([]models.TestResult, error) {
	var results []models.TestResult

	unit, err := o.RunUnit(ctx, wf)
	if err != nil && IsInfraError(err) {
		return results, err
	}
	results = append(results, unit)
	firstErr := err

	props, err := o.RunProperties(ctx, wf)
	results = append(results, props...)
	if err != nil {
		if IsInfraError(err) {
			return results, err
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	if o.sessions == nil {
		o.logger.LogDebug(fmt.Sprintf("workflow %s: no session store, skipping integration test", wf.ID))
		return results, firstErr
	}
	integ, err := o.RunIntegration(ctx, wf)
	if err != nil && IsInfraError(err) {
		return results, err
	}
	results = append(results, integ)
	if firstErr == nil {
		firstErr = err
	}
	return results, firstErr
}

// finish finalizes, logs, counts and persists a result. The returned error
// is a reporting failure, if any.
func (o *Orchestrator) finish(ctx context.Context, result *models.TestResult) error {
	if err := result.Finalize(); err != nil {
		o.logger.LogWarn(err.Error())
	}
	telemetry.RecordTestResult(string(result.Kind), result.Success)
	o.logger.LogTestResult(*result)

	if o.reporter == nil {
		return nil
	}
	return o.reporter.ReportTestResult(ctx, *result)
}

// schedule builds a schedule with the given assignments.
func (o *Orchestrator) schedule(wf *models.Workflow, assignments map[string]string, sessionID string) (models.Schedule, error) {
	s, err := executor.CalculateSchedule(wf, assignments, o.opts.MaxConcurrency)
	if err != nil {
		return models.Schedule{}, err
	}
	s.SessionID = sessionID
	return s, nil
}

// execute runs the workflow; any executor error is an infrastructure fault.
func (o *Orchestrator) execute(ctx context.Context, test string, wf *models.Workflow, schedule models.Schedule) (models.ExecutionResult, error) {
	if o.executor == nil {
		return models.ExecutionResult{}, infra(test, "execute", fmt.Errorf("no executor configured"))
	}
	result, err := o.executor.Execute(ctx, wf, schedule)
	if err != nil {
		return result, infra(test, "execute", err)
	}
	return result, nil
}

// mockAssignments maps every task to a dedicated mock agent id.
func mockAssignments(wf *models.Workflow) map[string]string {
	out := make(map[string]string, len(wf.Tasks))
	for _, t := range wf.Tasks {
		out[t.ID] = mockAgentID(t.ID)
	}
	return out
}

func mockAgentID(taskID string) string {
	return "mock-" + taskID
}

// missingOutputs lists tasks with no result or an empty output, in task order.
func missingOutputs(wf *models.Workflow, result models.ExecutionResult) []string {
	var missing []string
	for _, t := range wf.Tasks {
		out, ok := result.TaskResults[t.ID]
		if !ok || out.Output == "" {
			missing = append(missing, t.ID)
		}
	}
	return missing
}
