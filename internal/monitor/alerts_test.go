package monitor

import (
	"testing"
	"time"

	"github.com/harrison/sentinel/internal/config"
	"github.com/harrison/sentinel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func point(name string, v float64, ts time.Time) models.MetricPoint {
	return models.MetricPoint{Name: name, Kind: models.MetricGauge, Value: v, Timestamp: ts}
}

func TestAlertCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewAlertManager([]Threshold{
		{Metric: MetricCPUPercent, Above: 90, Severity: models.SeverityWarning, Message: "cpu high"},
	}, time.Minute, nil)
	m.now = clock.Now

	alerts := m.Evaluate([]models.MetricPoint{point(MetricCPUPercent, 95, clock.t)})
	require.Len(t, alerts, 1)
	assert.Equal(t, "cpu high", alerts[0].Message)
	assert.Equal(t, 90.0, alerts[0].Threshold)
	assert.Equal(t, 95.0, alerts[0].Observed)
	assert.NotEmpty(t, alerts[0].ID)

	clock.Advance(30 * time.Second)
	assert.Empty(t, m.Evaluate([]models.MetricPoint{point(MetricCPUPercent, 97, clock.t)}), "inside cooldown")

	clock.Advance(31 * time.Second)
	assert.Len(t, m.Evaluate([]models.MetricPoint{point(MetricCPUPercent, 97, clock.t)}), 1)
}

func TestAlertAtThresholdDoesNotFire(t *testing.T) {
	m := NewAlertManager([]Threshold{{Metric: MetricErrorRate, Above: 0.05, Severity: models.SeverityError}}, 0, nil)
	assert.Empty(t, m.Evaluate([]models.MetricPoint{point(MetricErrorRate, 0.05, time.Now())}))

	alerts := m.Evaluate([]models.MetricPoint{point(MetricErrorRate, 0.2, time.Now())})
	require.Len(t, alerts, 1)
	assert.Equal(t, "app.error_rate above 0.05", alerts[0].Message)
}

func TestSeveritiesCoolDownIndependently(t *testing.T) {
	m := NewAlertManager([]Threshold{
		{Metric: MetricDiskPercent, Above: 80, Severity: models.SeverityWarning},
		{Metric: MetricDiskPercent, Above: 95, Severity: models.SeverityCritical},
	}, time.Hour, nil)

	now := time.Now()
	first := m.Evaluate([]models.MetricPoint{point(MetricDiskPercent, 85, now)})
	require.Len(t, first, 1)
	assert.Equal(t, models.SeverityWarning, first[0].Severity)

	second := m.Evaluate([]models.MetricPoint{point(MetricDiskPercent, 99, now)})
	require.Len(t, second, 1)
	assert.Equal(t, models.SeverityCritical, second[0].Severity)
}

func TestIncidentLifecycle(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewAlertManager([]Threshold{{Metric: MetricMemoryPercent, Above: 90, Severity: models.SeverityWarning}}, time.Hour, nil)
	m.now = clock.Now
	m.SetIncidentSLA(2*time.Minute, 5*time.Minute)

	onset := clock.t
	clock.Advance(3 * time.Second)
	require.Len(t, m.Evaluate([]models.MetricPoint{point(MetricMemoryPercent, 93, onset)}), 1)

	open := m.OpenIncidents()
	require.Len(t, open, 1)
	assert.Equal(t, 3*time.Second, open[0].TimeToDetect())

	clock.Advance(time.Minute)
	m.Evaluate([]models.MetricPoint{point(MetricMemoryPercent, 96, clock.t)})
	assert.Len(t, m.OpenIncidents(), 1, "still one incident while breaching")

	clock.Advance(time.Minute)
	m.Evaluate([]models.MetricPoint{point(MetricMemoryPercent, 40, clock.t)})
	assert.Empty(t, m.OpenIncidents())

	closed := m.ClosedIncidents()
	require.Len(t, closed, 1)
	assert.Equal(t, 2*time.Minute+3*time.Second, closed[0].TimeToRecover())
}

func TestThresholdsFromConfig(t *testing.T) {
	got := ThresholdsFromConfig(config.DefaultThresholds())
	require.Len(t, got, len(config.DefaultThresholds()))
	assert.Equal(t, MetricCPUPercent, got[0].Metric)
	assert.Equal(t, MetricLatencyP99, got[len(got)-1].Metric)
}
