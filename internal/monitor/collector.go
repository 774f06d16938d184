package monitor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/harrison/sentinel/internal/executor"
	"github.com/harrison/sentinel/internal/hoststats"
	"github.com/harrison/sentinel/internal/models"
)

// Metric names produced by the built-in collectors.
const (
	MetricCPUPercent    = "system.cpu.percent"
	MetricMemoryPercent = "system.memory.percent"
	MetricDiskPercent   = "system.disk.percent"
	MetricActiveAgents  = "app.active_agents"
	MetricLatencyP99    = "app.workflow_latency_p99" // seconds
	MetricThroughput    = "app.throughput"           // executions per minute
	MetricErrorRate     = "app.error_rate"           // failed / total, 0-1
)

// Collector produces one batch of metric points.
type Collector interface {
	Collect(ctx context.Context) ([]models.MetricPoint, error)
}

// SystemCollector samples host utilization.
type SystemCollector struct {
	Sampler hoststats.Sampler
	now     func() time.Time
}

// NewSystemCollector wraps a sampler. A nil sampler samples the local host.
func NewSystemCollector(sampler hoststats.Sampler) *SystemCollector {
	if sampler == nil {
		sampler = hoststats.NewHost()
	}
	return &SystemCollector{Sampler: sampler, now: time.Now}
}

// Collect returns cpu, memory and disk gauges. A partial sample is still
// returned together with the error.
func (c *SystemCollector) Collect(ctx context.Context) ([]models.MetricPoint, error) {
	stats, err := c.Sampler.Sample(ctx)
	ts := c.now()
	points := []models.MetricPoint{
		gauge(MetricCPUPercent, stats.CPUPercent, ts),
		gauge(MetricMemoryPercent, stats.MemoryPercent, ts),
		gauge(MetricDiskPercent, stats.DiskPercent, ts),
	}
	if err != nil {
		return points, fmt.Errorf("sample host: %w", err)
	}
	return points, nil
}

// AppStats is the application-level view sampled on each metrics tick.
type AppStats interface {
	ActiveAgents() int
	WorkflowLatencyP99() time.Duration
	Throughput() float64
	ErrorRate() float64
}

// AppCollector turns AppStats into gauges.
type AppCollector struct {
	Stats AppStats
	now   func() time.Time
}

// NewAppCollector creates a collector over stats.
func NewAppCollector(stats AppStats) *AppCollector {
	return &AppCollector{Stats: stats, now: time.Now}
}

// Refresher is implemented by AppStats that must catch up before each sample.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Collect samples the stats. When Stats is a Refresher it is refreshed first;
// a failed refresh still yields gauges from what was already known.
func (c *AppCollector) Collect(ctx context.Context) ([]models.MetricPoint, error) {
	var err error
	if r, ok := c.Stats.(Refresher); ok {
		if rerr := r.Refresh(ctx); rerr != nil {
			err = fmt.Errorf("refresh app stats: %w", rerr)
		}
	}
	ts := c.now()
	return []models.MetricPoint{
		gauge(MetricActiveAgents, float64(c.Stats.ActiveAgents()), ts),
		gauge(MetricLatencyP99, c.Stats.WorkflowLatencyP99().Seconds(), ts),
		gauge(MetricThroughput, c.Stats.Throughput(), ts),
		gauge(MetricErrorRate, c.Stats.ErrorRate(), ts),
	}, err
}

func gauge(name string, v float64, ts time.Time) models.MetricPoint {
	return models.MetricPoint{Name: name, Kind: models.MetricGauge, Value: v, Timestamp: ts}
}

// DefaultStatsWindow is how far back WorkflowStats looks.
const DefaultStatsWindow = 5 * time.Minute

type execution struct {
	at       time.Time
	duration time.Duration
	success  bool
}

// WorkflowStats keeps a sliding window of workflow executions and implements AppStats.
type WorkflowStats struct {
	mu     sync.Mutex
	window time.Duration
	runs   []execution
	agents func() int
	now    func() time.Time
}

// NewWorkflowStats creates stats over window. agents reports the active
// agent count and may be nil.
func NewWorkflowStats(window time.Duration, agents func() int) *WorkflowStats {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	return &WorkflowStats{window: window, agents: agents, now: time.Now}
}

// Record adds one execution that finished now.
func (s *WorkflowStats) Record(result models.ExecutionResult) {
	s.RecordAt(s.now(), result.Duration, result.Success)
}

// RecordAt adds an execution that finished at the given time. Executions
// already outside the window are ignored.
func (s *WorkflowStats) RecordAt(finished time.Time, duration time.Duration, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, execution{at: finished, duration: duration, success: success})
	s.prune()
}

// cutoff is the oldest finish time still inside the window.
func (s *WorkflowStats) cutoff() time.Time {
	return s.now().Add(-s.window)
}

// prune drops executions older than the window; caller holds mu.
func (s *WorkflowStats) prune() {
	cutoff := s.cutoff()
	kept := s.runs[:0]
	for _, r := range s.runs {
		if !r.at.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	s.runs = kept
}

func (s *WorkflowStats) ActiveAgents() int {
	if s.agents == nil {
		return 0
	}
	return s.agents()
}

// WorkflowLatencyP99 is the nearest-rank 99th percentile duration in the window.
func (s *WorkflowStats) WorkflowLatencyP99() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	if len(s.runs) == 0 {
		return 0
	}
	durations := make([]time.Duration, len(s.runs))
	for i, r := range s.runs {
		durations[i] = r.duration
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	rank := int(math.Ceil(0.99*float64(len(durations)))) - 1
	return durations[rank]
}

// Throughput is executions per minute over the window.
func (s *WorkflowStats) Throughput() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	return float64(len(s.runs)) / s.window.Minutes()
}

// ErrorRate is the failed fraction of executions in the window.
func (s *WorkflowStats) ErrorRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	if len(s.runs) == 0 {
		return 0
	}
	failed := 0
	for _, r := range s.runs {
		if !r.success {
			failed++
		}
	}
	return float64(failed) / float64(len(s.runs))
}

// InstrumentedExecutor records every execution into stats.
type InstrumentedExecutor struct {
	next  executor.Executor
	stats *WorkflowStats
}

// Instrument wraps next so its executions feed stats.
func Instrument(next executor.Executor, stats *WorkflowStats) *InstrumentedExecutor {
	return &InstrumentedExecutor{next: next, stats: stats}
}

func (e *InstrumentedExecutor) Execute(ctx context.Context, wf *models.Workflow, schedule models.Schedule) (models.ExecutionResult, error) {
	result, err := e.next.Execute(ctx, wf, schedule)
	if err == nil {
		e.stats.Record(result)
	}
	return result, err
}
