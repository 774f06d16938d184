// Package telemetry holds the Prometheus collectors exported by sentinel.
// Collectors register on the default registry; cmd/sentinel serves them
// with promhttp when a metrics address is configured.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sentinel"

// SLA names used as the "sla" label
const (
	SLAValidation       = "validation"
	SLAMonitoringReport = "monitoring_report"
	SLAChaosRecovery    = "chaos_recovery"
	SLAMTTD             = "mttd"
	SLAMTTR             = "mttr"
	SLASuccessRate      = "success_rate"
	SLATestCoverage     = "test_coverage"
)

// Delivery results used as the "result" label
const (
	DeliveryDelivered = "delivered"
	DeliverySpooled   = "spooled"
	DeliveryDropped   = "dropped"
	DeliveryReplayed  = "replayed"
	DeliveryBuried    = "buried"
)

var (
	// slaBreaches counts SLA violations. Labels: sla
	slaBreaches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sla_breaches_total",
		Help:      "Total SLA breaches by SLA name",
	}, []string{"sla"})

	// deliveries counts reporter outcomes. Labels: endpoint, result
	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reporter",
		Name:      "deliveries_total",
		Help:      "Store deliveries by endpoint and result",
	}, []string{"endpoint", "result"})

	spoolDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reporter",
		Name:      "spool_depth",
		Help:      "Records waiting in the outbox",
	})

	validationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "validation",
		Name:      "duration_seconds",
		Help:      "Agent validation latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"valid"})

	testResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tests",
		Name:      "results_total",
		Help:      "Test results by kind and outcome",
	}, []string{"kind", "result"})

	chaosExperiments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chaos",
		Name:      "experiments_total",
		Help:      "Chaos experiments by type and outcome",
	}, []string{"type", "outcome"})

	chaosRecovery = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "chaos",
		Name:      "recovery_seconds",
		Help:      "Time from injection to observed recovery",
		Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"type"})

	monitorTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "ticks_total",
		Help:      "Monitoring loop ticks by loop and result",
	}, []string{"loop", "result"})

	// monitorGauge mirrors the latest value of every collected metric point
	monitorGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "metric",
		Help:      "Latest collected value per metric name",
	}, []string{"name"})

	reportLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "report_latency_seconds",
		Help:      "Sample to store acknowledgement latency",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "alerts_total",
		Help:      "Alerts raised by severity",
	}, []string{"severity"})

	incidentDetect = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "time_to_detect_seconds",
		Help:      "Time from first breaching sample to alert",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
	}, []string{"metric"})

	incidentRecover = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "time_to_recover_seconds",
		Help:      "Time from alert to first healthy sample",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800},
	}, []string{"metric"})

	qualityScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "quality",
		Name:      "score",
		Help:      "Latest composite quality score per workflow",
	}, []string{"workflow"})
)

// RecordSLABreach counts one breach of the named SLA
func RecordSLABreach(sla string) {
	slaBreaches.WithLabelValues(sla).Inc()
}

// RecordDelivery counts a reporter outcome for an endpoint
func RecordDelivery(endpoint, result string) {
	deliveries.WithLabelValues(endpoint, result).Inc()
}

// SetSpoolDepth publishes the outbox size
func SetSpoolDepth(n int) {
	spoolDepth.Set(float64(n))
}

// ObserveValidation records one validation
func ObserveValidation(d time.Duration, valid bool) {
	validationDuration.WithLabelValues(boolLabel(valid)).Observe(d.Seconds())
}

// RecordTestResult counts one finished test
func RecordTestResult(kind string, passed bool) {
	result := "failed"
	if passed {
		result = "passed"
	}
	testResults.WithLabelValues(kind, result).Inc()
}

// RecordExperiment counts one experiment and observes its recovery time
func RecordExperiment(kind, outcome string, recovery time.Duration) {
	chaosExperiments.WithLabelValues(kind, outcome).Inc()
	chaosRecovery.WithLabelValues(kind).Observe(recovery.Seconds())
}

// RecordTick counts a monitoring loop tick
func RecordTick(loop string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	monitorTicks.WithLabelValues(loop, result).Inc()
}

// SetMetric mirrors a collected metric point
func SetMetric(name string, value float64) {
	monitorGauge.WithLabelValues(name).Set(value)
}

// ObserveReportLatency records sample to acknowledgement latency
func ObserveReportLatency(d time.Duration) {
	reportLatency.Observe(d.Seconds())
}

// RecordAlert counts a raised alert
func RecordAlert(severity string) {
	alerts.WithLabelValues(severity).Inc()
}

// ObserveTimeToDetect records how long an incident went unalerted
func ObserveTimeToDetect(metric string, d time.Duration) {
	incidentDetect.WithLabelValues(metric).Observe(d.Seconds())
}

// ObserveTimeToRecover records how long an incident lasted
func ObserveTimeToRecover(metric string, d time.Duration) {
	incidentRecover.WithLabelValues(metric).Observe(d.Seconds())
}

// SetQualityScore publishes a workflow score
func SetQualityScore(workflowID string, score float64) {
	qualityScore.WithLabelValues(workflowID).Set(score)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
