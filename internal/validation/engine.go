// Package validation implements the pre-task gate that decides whether an
// agent can run a task.
//
// ValidateAgent runs four checks in a fixed order (capability, resource,
// health, dependency) without short-circuiting, so a report always lists
// every problem. Validation problems are report content, never errors; the
// only error ValidateAgent returns is a reporting failure.
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/harrison/sentinel/internal/logger"
	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/registry"
	"github.com/harrison/sentinel/internal/reporter"
	"github.com/harrison/sentinel/internal/telemetry"
)

// Agent is the runtime view of an agent used by the health and dependency checks.
type Agent interface {
	ID() string
	Ping(ctx context.Context) (time.Duration, error)
	HasDependency(name string) bool
	Snapshot() models.ResourceSnapshot
}

// Options tunes the health classification and SLA.
type Options struct {
	PingTimeout      time.Duration // bound on one ping
	LatencyLimit     time.Duration // ping latency above this is Degraded
	UtilizationLimit float64       // cpu or memory percent at or above this is Overloaded
	SLA              time.Duration // validation latency target
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		PingTimeout:      2 * time.Second,
		LatencyLimit:     100 * time.Millisecond,
		UtilizationLimit: 90,
		SLA:              100 * time.Millisecond,
	}
}

// Engine validates agents against tasks and keeps the registry current.
type Engine struct {
	registry *registry.Registry
	reporter reporter.Reporter
	opts     Options
	logger   logger.Logger
	now      func() time.Time
}

// NewEngine creates an engine. rep and log may be nil.
func NewEngine(reg *registry.Registry, rep reporter.Reporter, opts Options, log logger.Logger) *Engine {
	if reg == nil {
		reg = registry.New()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	defaults := DefaultOptions()
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaults.PingTimeout
	}
	if opts.LatencyLimit <= 0 {
		opts.LatencyLimit = defaults.LatencyLimit
	}
	if opts.UtilizationLimit <= 0 {
		opts.UtilizationLimit = defaults.UtilizationLimit
	}
	if opts.SLA <= 0 {
		opts.SLA = defaults.SLA
	}
	return &Engine{registry: reg, reporter: rep, opts: opts, logger: log, now: time.Now}
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// RegisterAgent replaces the agent's capability set and records a
// registration episode. The registry update stands even when reporting fails.
func (e *Engine) RegisterAgent(ctx context.Context, id string, caps models.CapabilitySet) (models.AgentRecord, error) {
	if id == "" {
		return models.AgentRecord{}, fmt.Errorf("agent id is required")
	}
	rec := e.registry.Register(id, caps)
	e.logger.LogInfo(fmt.Sprintf("registered agent %s with capabilities %v", id, caps.List()))

	if e.reporter == nil {
		return rec, nil
	}
	if err := e.reporter.ReportRegistration(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// ValidateAgent checks the agent against the task, refreshes its registry
// entry with the health snapshot and persists a validation episode.
// The report is always returned; the error, if any, is a *reporter.ReportingFailure.
func (e *Engine) ValidateAgent(ctx context.Context, agent Agent, task models.Task) (models.ValidationReport, error) {
	caps, registered := e.registry.Capabilities(agent.ID())
	if !registered {
		e.logger.LogDebug(fmt.Sprintf("validating unregistered agent %s", agent.ID()))
	}

	report, health, snap := e.Evaluate(ctx, caps, agent, task)

	if registered {
		e.registry.UpdateHealth(agent.ID(), snap, health)
	}

	telemetry.ObserveValidation(report.Duration, report.IsValid())
	if report.Duration > e.opts.SLA {
		telemetry.RecordSLABreach(telemetry.SLAValidation)
		e.logger.LogWarn(fmt.Sprintf("validation of agent %s for task %s took %v (sla %v)", agent.ID(), task.ID, report.Duration, e.opts.SLA))
	}
	e.logger.LogValidation(report)

	if e.reporter == nil {
		return report, nil
	}
	if err := e.reporter.ReportValidation(ctx, report); err != nil {
		return report, err
	}
	return report, nil
}

// Evaluate runs the four checks without touching the registry or the store.
// caps is the agent's registered capability set.
func (e *Engine) Evaluate(ctx context.Context, caps models.CapabilitySet, agent Agent, task models.Task) (models.ValidationReport, models.HealthSnapshot, models.ResourceSnapshot) {
	start := e.now()
	report := models.ValidationReport{
		AgentID:   agent.ID(),
		TaskID:    task.ID,
		CheckedAt: start,
	}
	snap := agent.Snapshot()

	for _, issue := range CheckCapabilities(caps, task) {
		report.AddError(issue)
	}
	for _, issue := range CheckResources(snap, task) {
		report.AddError(issue)
	}

	health, errs, warns := e.checkHealth(ctx, agent, snap)
	for _, issue := range errs {
		report.AddError(issue)
	}
	for _, issue := range warns {
		report.AddWarning(issue)
	}

	for _, issue := range CheckDependencies(agent, task) {
		report.AddError(issue)
	}

	report.Duration = e.now().Sub(start)
	return report, health, snap
}

// CheckCapabilities returns one MissingCapability per required capability
// the set lacks, in task order.
func CheckCapabilities(have models.CapabilitySet, task models.Task) []models.ValidationIssue {
	var issues []models.ValidationIssue
	seen := make(map[models.Capability]bool)
	for _, c := range task.RequiredCapabilities {
		if seen[c] {
			continue
		}
		seen[c] = true
		if !have.Has(c) {
			issues = append(issues, models.MissingCapability{Capability: c})
		}
	}
	return issues
}

// CheckResources compares required CPU cores with what the agent has available.
func CheckResources(snap models.ResourceSnapshot, task models.Task) []models.ValidationIssue {
	if task.Requirements.CPUCores > snap.Available.CPUCores {
		return []models.ValidationIssue{models.InsufficientResources{
			Required:  task.Requirements.CPUCores,
			Available: snap.Available.CPUCores,
		}}
	}
	return nil
}

// CheckDependencies batches every named dependency the agent does not have.
func CheckDependencies(agent Agent, task models.Task) []models.ValidationIssue {
	var missing []string
	for _, dep := range task.Dependencies {
		if !agent.HasDependency(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return []models.ValidationIssue{models.MissingDependencies{Names: missing}}
}

// checkHealth pings the agent and classifies the result. A failed ping is an
// error; slow or overloaded agents produce warnings.
func (e *Engine) checkHealth(ctx context.Context, agent Agent, snap models.ResourceSnapshot) (models.HealthSnapshot, []models.ValidationIssue, []models.ValidationIssue) {
	pingCtx, cancel := context.WithTimeout(ctx, e.opts.PingTimeout)
	defer cancel()

	latency, err := agent.Ping(pingCtx)
	health := models.HealthSnapshot{Latency: latency, CheckedAt: e.now()}

	if err != nil {
		health.Status = models.HealthUnreachable
		health.Detail = err.Error()
		return health, []models.ValidationIssue{models.HealthCheckFailed{Reason: err.Error()}}, nil
	}

	var warnings []models.ValidationIssue
	health.Status = models.HealthHealthy

	if latency > e.opts.LatencyLimit {
		health.Status = models.HealthDegraded
		health.Detail = fmt.Sprintf("ping latency %v exceeds %v", latency, e.opts.LatencyLimit)
		warnings = append(warnings, models.UnhealthyAgent{Status: models.HealthDegraded, Latency: latency, Detail: health.Detail})
	}

	u := snap.Utilization
	if u.CPUPercent >= e.opts.UtilizationLimit || u.MemoryPercent >= e.opts.UtilizationLimit {
		// overloaded outranks degraded in the recorded status
		health.Status = models.HealthOverloaded
		health.Detail = fmt.Sprintf("cpu %.0f%% memory %.0f%% (limit %.0f%%)", u.CPUPercent, u.MemoryPercent, e.opts.UtilizationLimit)
		warnings = append(warnings, models.UnhealthyAgent{Status: models.HealthOverloaded, Latency: latency, Detail: health.Detail})
	}

	return health, nil, warnings
}
