package validation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/registry"
	"github.com/harrison/sentinel/internal/reporter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingReporter captures what the engine reports
type recordingReporter struct {
	mu            sync.Mutex
	validations   []models.ValidationReport
	registrations []models.AgentRecord
	fail          error
}

func (r *recordingReporter) ReportRegistration(_ context.Context, rec models.AgentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registrations = append(r.registrations, rec)
	return r.fail
}

func (r *recordingReporter) ReportValidation(_ context.Context, report models.ValidationReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validations = append(r.validations, report)
	return r.fail
}

func (r *recordingReporter) ReportTestResult(context.Context, models.TestResult) error { return nil }
func (r *recordingReporter) ReportExperiment(context.Context, models.ChaosExperimentResult) error {
	return nil
}
func (r *recordingReporter) ReportMetrics(context.Context, []models.MetricPoint) error { return nil }
func (r *recordingReporter) ReportLogs(context.Context, []models.LogRecord) error      { return nil }
func (r *recordingReporter) ReportAlert(context.Context, models.Alert) error           { return nil }

func newEngine(rep reporter.Reporter) *Engine {
	return NewEngine(registry.New(), rep, DefaultOptions(), nil)
}

func TestValidateAgentCapabilityAndResourceMismatch(t *testing.T) {
	ctx := context.Background()
	rep := &recordingReporter{}
	engine := newEngine(rep)

	_, err := engine.RegisterAgent(ctx, "builder", models.NewCapabilitySet("compile", "test"))
	require.NoError(t, err)

	agent := &StaticAgent{AgentID: "builder", Resources: models.Resources{CPUCores: 2, MemoryMB: 4096}}
	task := models.Task{
		ID:                   "ship",
		RequiredCapabilities: []models.Capability{"compile", "deploy"},
		Requirements:         models.Resources{CPUCores: 4},
	}

	report, err := engine.ValidateAgent(ctx, agent, task)
	require.NoError(t, err)

	assert.False(t, report.IsValid())
	require.Len(t, report.Errors, 2)
	assert.Equal(t, models.MissingCapability{Capability: "deploy"}, report.Errors[0])
	assert.Equal(t, models.InsufficientResources{Required: 4, Available: 2}, report.Errors[1])
	assert.Empty(t, report.Warnings)

	require.Len(t, rep.validations, 1)
	assert.Equal(t, "ship", rep.validations[0].TaskID)
}

func TestReRegistrationReplacesCapabilities(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(nil)

	_, err := engine.RegisterAgent(ctx, "a1", models.NewCapabilitySet("compile", "test"))
	require.NoError(t, err)
	_, err = engine.RegisterAgent(ctx, "a1", models.NewCapabilitySet("deploy"))
	require.NoError(t, err)

	caps, ok := engine.Registry().Capabilities("a1")
	require.True(t, ok)
	assert.Equal(t, []models.Capability{"deploy"}, caps.List())

	task := models.Task{ID: "t", RequiredCapabilities: []models.Capability{"compile"}}
	report, err := engine.ValidateAgent(ctx, &StaticAgent{AgentID: "a1"}, task)
	require.NoError(t, err)
	assert.Equal(t, []models.ValidationIssue{models.MissingCapability{Capability: "compile"}}, report.Errors)
}

func TestHealthClassification(t *testing.T) {
	tests := []struct {
		name       string
		agent      *StaticAgent
		wantStatus models.HealthStatus
		wantErrors []models.IssueCode
		wantWarns  int
	}{
		{
			name:       "healthy",
			agent:      &StaticAgent{AgentID: "a", Latency: 5 * time.Millisecond},
			wantStatus: models.HealthHealthy,
		},
		{
			name:       "degraded by latency",
			agent:      &StaticAgent{AgentID: "a", Latency: 150 * time.Millisecond},
			wantStatus: models.HealthDegraded,
			wantWarns:  1,
		},
		{
			name:       "overloaded cpu at limit",
			agent:      &StaticAgent{AgentID: "a", Utilization: models.Utilization{CPUPercent: 90}},
			wantStatus: models.HealthOverloaded,
			wantWarns:  1,
		},
		{
			name:       "overloaded memory",
			agent:      &StaticAgent{AgentID: "a", Utilization: models.Utilization{MemoryPercent: 97}},
			wantStatus: models.HealthOverloaded,
			wantWarns:  1,
		},
		{
			name:       "ping failure is an error not a warning",
			agent:      &StaticAgent{AgentID: "a", PingErr: errors.New("connection refused")},
			wantStatus: models.HealthUnreachable,
			wantErrors: []models.IssueCode{models.CodeHealthCheckFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newEngine(nil)
			_, err := engine.RegisterAgent(context.Background(), "a", nil)
			require.NoError(t, err)

			report, err := engine.ValidateAgent(context.Background(), tt.agent, models.Task{ID: "t"})
			require.NoError(t, err)

			var codes []models.IssueCode
			for _, e := range report.Errors {
				codes = append(codes, e.Code())
			}
			assert.Equal(t, tt.wantErrors, codes)
			assert.Len(t, report.Warnings, tt.wantWarns)
			for _, w := range report.Warnings {
				assert.Equal(t, models.CodeUnhealthyAgent, w.Code())
			}

			rec, ok := engine.Registry().Get("a")
			require.True(t, ok)
			assert.Equal(t, tt.wantStatus, rec.Health.Status)
			assert.False(t, rec.LastValidatedAt.IsZero())
		})
	}
}

func TestWarningsDoNotInvalidate(t *testing.T) {
	engine := newEngine(nil)
	agent := &StaticAgent{AgentID: "slow", Latency: time.Second, Utilization: models.Utilization{CPUPercent: 99}}
	engine.Registry().Register("slow", nil)

	report, err := engine.ValidateAgent(context.Background(), agent, models.Task{ID: "t"})
	require.NoError(t, err)
	assert.True(t, report.IsValid())
	assert.Len(t, report.Warnings, 2)
}

func TestMissingDependenciesBatched(t *testing.T) {
	engine := newEngine(nil)
	agent := &StaticAgent{AgentID: "a", Dependencies: []string{"go"}}
	task := models.Task{ID: "t", Dependencies: []string{"go", "docker", "helm"}}

	report, err := engine.ValidateAgent(context.Background(), agent, task)
	require.NoError(t, err)

	missing := report.ErrorsWithCode(models.CodeMissingDependencies)
	require.Len(t, missing, 1)
	assert.Equal(t, []string{"docker", "helm"}, missing[0].(models.MissingDependencies).Names)
}

func TestChecksDoNotShortCircuit(t *testing.T) {
	engine := newEngine(nil)
	agent := &StaticAgent{AgentID: "a", PingErr: errors.New("timeout")}
	task := models.Task{
		ID:                   "t",
		RequiredCapabilities: []models.Capability{"x"},
		Requirements:         models.Resources{CPUCores: 1},
		Dependencies:         []string{"dep"},
	}

	report, err := engine.ValidateAgent(context.Background(), agent, task)
	require.NoError(t, err)

	var codes []models.IssueCode
	for _, e := range report.Errors {
		codes = append(codes, e.Code())
	}
	assert.Equal(t, []models.IssueCode{
		models.CodeMissingCapability,
		models.CodeInsufficientResources,
		models.CodeHealthCheckFailed,
		models.CodeMissingDependencies,
	}, codes)
}

func TestReportingFailureKeepsReportAndRegistration(t *testing.T) {
	failure := &reporter.ReportingFailure{Endpoint: "/memory/episodes", Attempts: 3, Err: errors.New("503")}
	rep := &recordingReporter{fail: failure}
	engine := newEngine(rep)

	_, err := engine.RegisterAgent(context.Background(), "a", models.NewCapabilitySet("compile"))
	assert.True(t, reporter.IsReportingFailure(err))
	_, ok := engine.Registry().Get("a")
	assert.True(t, ok, "registry update stands when reporting fails")

	report, err := engine.ValidateAgent(context.Background(), &StaticAgent{AgentID: "a"}, models.Task{ID: "t"})
	assert.True(t, reporter.IsReportingFailure(err))
	assert.Equal(t, "t", report.TaskID)
	assert.True(t, report.IsValid())
}

func TestRegisterAgentRequiresID(t *testing.T) {
	_, err := newEngine(nil).RegisterAgent(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestPingTimeoutBoundsHealthCheck(t *testing.T) {
	opts := DefaultOptions()
	opts.PingTimeout = 10 * time.Millisecond
	engine := NewEngine(registry.New(), nil, opts, nil)

	report, err := engine.ValidateAgent(context.Background(), blockingAgent{}, models.Task{ID: "t"})
	require.NoError(t, err)
	assert.Len(t, report.ErrorsWithCode(models.CodeHealthCheckFailed), 1)
	assert.Less(t, report.Duration, time.Second)
}

type blockingAgent struct{}

func (blockingAgent) ID() string { return "blocked" }
func (blockingAgent) Ping(ctx context.Context) (time.Duration, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}
func (blockingAgent) HasDependency(string) bool { return true }
func (blockingAgent) Snapshot() models.ResourceSnapshot {
	return models.ResourceSnapshot{}
}
