// Package monitor runs the metrics and log collection loops.
//
// The two loops are independent: each has its own ticker and both stop when
// the shared context is cancelled. Each tick runs under a deadline of the
// shorter of its interval and the report SLA. A tick whose persistence fails
// or overruns is logged, counted and dropped; the loop carries on. Threshold
// breaches are turned into alerts and persisted synchronously within the
// metrics tick that observed them.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harrison/sentinel/internal/logger"
	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/reporter"
	"github.com/harrison/sentinel/internal/telemetry"
)

// Loop names used in logs and tick metrics.
const (
	LoopMetrics = "metrics"
	LoopLogs    = "logs"
)

// Options sets loop intervals and the report latency target.
type Options struct {
	MetricsInterval time.Duration
	LogsInterval    time.Duration
	ReportSLA       time.Duration // sample to store acknowledgement
	FlushTimeout    time.Duration // bound on the final log flush after shutdown
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MetricsInterval: 10 * time.Second,
		LogsInterval:    5 * time.Second,
		ReportSLA:       5 * time.Second,
		FlushTimeout:    5 * time.Second,
	}
}

// Service owns the collection loops.
type Service struct {
	collectors []Collector
	logs       *LogAggregator
	alerts     *AlertManager
	reporter   reporter.Reporter
	mirrors    []Mirror
	opts       Options
	logger     logger.Logger
	now        func() time.Time
}

// NewService creates a monitoring service. logs and alerts may be nil to
// disable log forwarding or alerting.
func NewService(rep reporter.Reporter, logs *LogAggregator, alerts *AlertManager, opts Options, log logger.Logger, collectors ...Collector) *Service {
	defaults := DefaultOptions()
	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = defaults.MetricsInterval
	}
	if opts.LogsInterval <= 0 {
		opts.LogsInterval = defaults.LogsInterval
	}
	if opts.ReportSLA <= 0 {
		opts.ReportSLA = defaults.ReportSLA
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = defaults.FlushTimeout
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Service{
		collectors: collectors,
		logs:       logs,
		alerts:     alerts,
		reporter:   rep,
		opts:       opts,
		logger:     log,
		now:        time.Now,
	}
}

// AddMirror registers a batch mirror; nil is ignored.
func (s *Service) AddMirror(m Mirror) {
	if m != nil {
		s.mirrors = append(s.mirrors, m)
	}
}

// Run starts both loops and blocks until ctx is cancelled. Buffered logs
// are flushed once more on the way out.
func (s *Service) Run(ctx context.Context) error {
	if s.reporter == nil {
		return fmt.Errorf("monitoring service needs a reporter")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.loop(gctx, LoopMetrics, s.opts.MetricsInterval, s.CollectMetrics)
		return nil
	})
	if s.logs != nil {
		g.Go(func() error {
			s.loop(gctx, LoopLogs, s.opts.LogsInterval, s.CollectLogs)
			return nil
		})
	}
	err := g.Wait()

	if s.logs != nil && s.logs.Len() > 0 {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FlushTimeout)
		n, ferr := s.CollectLogs(flushCtx)
		cancel()
		s.logger.LogTick(LoopLogs, n, ferr)
	}
	return err
}

// loop ticks immediately and then every interval until ctx is done.
func (s *Service) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context) (int, error)) {
	s.logger.LogDebug(fmt.Sprintf("monitor %s loop every %v", name, interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	timeout := min(interval, s.opts.ReportSLA)
	for {
		tickCtx, cancel := context.WithTimeout(ctx, timeout)
		n, err := tick(tickCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		telemetry.RecordTick(name, err)
		s.logger.LogTick(name, n, err)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CollectMetrics runs one metrics tick: collect, mirror, persist the batch,
// then raise and persist an alert for every threshold breach. It returns the
// number of points collected.
func (s *Service) CollectMetrics(ctx context.Context) (int, error) {
	var points []models.MetricPoint
	var collectErr error
	for _, c := range s.collectors {
		batch, err := c.Collect(ctx)
		points = append(points, batch...)
		collectErr = errors.Join(collectErr, err)
	}
	if len(points) == 0 {
		return 0, collectErr
	}

	for _, m := range s.mirrors {
		if err := m.Mirror(ctx, points); err != nil {
			s.logger.LogWarn(fmt.Sprintf("mirror metrics: %v", err))
		}
	}

	persistErr := s.persistMetrics(ctx, points)

	var alertErr error
	if s.alerts != nil {
		for _, alert := range s.alerts.Evaluate(points) {
			telemetry.RecordAlert(alert.Severity.String())
			s.logger.LogAlert(alert)
			if err := s.reporter.ReportAlert(ctx, alert); err != nil {
				alertErr = errors.Join(alertErr, fmt.Errorf("alert %s: %w", alert.Metric, err))
			}
		}
	}

	return len(points), errors.Join(collectErr, persistErr, alertErr)
}

func (s *Service) persistMetrics(ctx context.Context, points []models.MetricPoint) error {
	sampledAt := points[0].Timestamp
	for _, p := range points[1:] {
		if !p.Timestamp.IsZero() && p.Timestamp.Before(sampledAt) {
			sampledAt = p.Timestamp
		}
	}

	if err := s.reporter.ReportMetrics(ctx, points); err != nil {
		return fmt.Errorf("metrics batch dropped: %w", err)
	}

	if sampledAt.IsZero() {
		return nil
	}
	latency := s.now().Sub(sampledAt)
	telemetry.ObserveReportLatency(latency)
	if latency > s.opts.ReportSLA {
		telemetry.RecordSLABreach(telemetry.SLAMonitoringReport)
		s.logger.LogWarn(fmt.Sprintf("metrics batch acknowledged %v after sampling (sla %v)", latency, s.opts.ReportSLA))
	}
	return nil
}

// CollectLogs forwards everything the aggregator buffered since the last tick.
func (s *Service) CollectLogs(ctx context.Context) (int, error) {
	if s.logs == nil {
		return 0, nil
	}
	records := s.logs.Drain()
	if len(records) == 0 {
		return 0, nil
	}
	if err := s.reporter.ReportLogs(ctx, records); err != nil {
		return len(records), fmt.Errorf("log batch of %d dropped: %w", len(records), err)
	}
	return len(records), nil
}
