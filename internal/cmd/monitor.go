package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harrison/sentinel/internal/agentprobe"
	"github.com/harrison/sentinel/internal/config"
	"github.com/harrison/sentinel/internal/logger"
	"github.com/harrison/sentinel/internal/monitor"
	"github.com/harrison/sentinel/internal/reporter"
)

// NewMonitorCommand creates the monitor command
func NewMonitorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Collect metrics and logs continuously and raise alerts",
		Long: `Run the monitoring loops until interrupted.

Every monitor.metrics_interval the host (cpu, memory, disk) and application
gauges are sampled, mirrored to Prometheus and InfluxDB when configured,
sent to the store as one batch and checked against monitor.thresholds.
Every monitor.logs_interval the buffered log records are forwarded.
Spooled records are replayed in the background.

The workflow latency, throughput and error rate gauges are computed over
monitor.stats_window from the executions the store recorded for the
workflows named by --workflows (or monitor.workflows).

Examples:
  sentinel monitor
  sentinel monitor --metrics-addr :9090 --agents .sentinel/agents
  sentinel monitor --workflows build,deploy`,
		Args: cobra.NoArgs,
		RunE: runMonitor,
	}

	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")
	cmd.Flags().String("agents", ".sentinel/agents", "Directory of agent declarations counted as active agents")
	cmd.Flags().Duration("drain-interval", 30*time.Second, "How often spooled records are replayed (0 = never)")
	cmd.Flags().StringSlice("workflows", nil, "Workflow ids whose recorded executions feed the application gauges (overrides config)")
	return cmd
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	var logs *monitor.LogAggregator
	env, err := newEnvironment(cmd, func(cfg *config.Config, next logger.Logger) logger.Logger {
		logs = monitor.NewLogAggregator(cfg.Monitor.LogBufferSize)
		return logger.NewTee(next, logs, cfg.Log.Level)
	})
	if err != nil {
		return err
	}
	defer env.Close()
	cfg := env.cfg

	agentsDir, _ := cmd.Flags().GetString("agents")
	drainEvery, _ := cmd.Flags().GetDuration("drain-interval")
	workflows := cfg.Monitor.Workflows
	if cmd.Flags().Changed("workflows") {
		workflows, _ = cmd.Flags().GetStringSlice("workflows")
	}

	reg, _, err := loadAgents(agentsDir, env.log)
	if err != nil {
		return err
	}
	watcher := agentprobe.NewWatcher(agentsDir, reg, &http.Client{Timeout: cfg.Validation.PingTimeout}, cfg.Monitor.MetricsInterval, env.log)

	alerts := monitor.NewAlertManager(monitor.ThresholdsFromConfig(cfg.Monitor.Thresholds), cfg.Monitor.AlertCooldown, env.log)
	alerts.SetIncidentSLA(cfg.SLA.MTTD, cfg.SLA.MTTR)

	window := monitor.NewWorkflowStats(cfg.Monitor.StatsWindow, watcher.Up)
	var stats monitor.AppStats = window
	if len(workflows) > 0 {
		workflows = dedupe(workflows)
		stats = monitor.NewExecutionFeed(window, env.store, workflows)
		env.log.LogInfo(fmt.Sprintf("application gauges follow executions of %v", workflows))
	} else {
		env.log.LogInfo("no workflows to follow; latency, throughput and error rate gauges stay at zero")
	}
	svc := monitor.NewService(env.reporter, logs, alerts, monitor.Options{
		MetricsInterval: cfg.Monitor.MetricsInterval,
		LogsInterval:    cfg.Monitor.LogsInterval,
		ReportSLA:       cfg.SLA.MonitoringReport,
	}, env.log, monitor.NewSystemCollector(nil), monitor.NewAppCollector(stats))

	svc.AddMirror(monitor.PrometheusMirror{})
	if influx := monitor.NewInfluxMirror(cfg.Monitor.Influx); influx != nil {
		defer influx.Close()
		svc.AddMirror(influx)
		env.log.LogInfo(fmt.Sprintf("mirroring metrics to influxdb %s bucket %s", cfg.Monitor.Influx.URL, cfg.Monitor.Influx.Bucket))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error {
		if err := watcher.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if cfg.Monitor.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.Monitor.MetricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			env.log.LogInfo("serving prometheus metrics on " + cfg.Monitor.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if drainEvery > 0 && env.outbox != nil {
		g.Go(func() error {
			drainLoop(gctx, env.reporter, drainEvery, env.log)
			return nil
		})
	}

	env.log.LogInfo(fmt.Sprintf("monitoring: metrics every %v, logs every %v", cfg.Monitor.MetricsInterval, cfg.Monitor.LogsInterval))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	env.log.LogInfo("monitoring stopped")
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// drainLoop replays the outbox every interval until ctx is done
func drainLoop(ctx context.Context, rep *reporter.RetryingReporter, every time.Duration, log logger.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		stats, err := rep.Drain(ctx, 0)
		if err != nil {
			if ctx.Err() == nil {
				log.LogWarn(fmt.Sprintf("outbox drain: %v", err))
			}
			continue
		}
		if stats.Delivered > 0 || stats.Buried > 0 {
			log.LogInfo(fmt.Sprintf("outbox drain: %d delivered, %d buried, %d remaining", stats.Delivered, stats.Buried, stats.Remaining))
		}
	}
}
