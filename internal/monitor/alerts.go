package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/sentinel/internal/config"
	"github.com/harrison/sentinel/internal/logger"
	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/telemetry"
)

// Threshold raises an alert of Severity when Metric exceeds Above
type Threshold struct {
	Metric   string
	Above    float64
	Severity models.Severity
	Message  string
}

// ThresholdsFromConfig converts configured alert rules
func ThresholdsFromConfig(rules []config.ThresholdConfig) []Threshold {
	out := make([]Threshold, 0, len(rules))
	for _, r := range rules {
		out = append(out, Threshold{Metric: r.Metric, Above: r.Above, Severity: r.Severity, Message: r.Message})
	}
	return out
}

// Incident is a period during which a metric breached at least one threshold
type Incident struct {
	Metric      string
	OpenedAt    time.Time // timestamp of the first breaching sample
	DetectedAt  time.Time // when the first alert for it was raised
	RecoveredAt time.Time // timestamp of the first sample back under every threshold
}

// TimeToDetect is DetectedAt - OpenedAt, zero until detected
func (i Incident) TimeToDetect() time.Duration {
	if i.DetectedAt.IsZero() {
		return 0
	}
	return i.DetectedAt.Sub(i.OpenedAt)
}

// TimeToRecover is RecoveredAt - OpenedAt, zero while open
func (i Incident) TimeToRecover() time.Duration {
	if i.RecoveredAt.IsZero() {
		return 0
	}
	return i.RecoveredAt.Sub(i.OpenedAt)
}

// maxClosedIncidents bounds the recovered incident history
const maxClosedIncidents = 100

type alertKey struct {
	metric   string
	severity models.Severity
}

// AlertManager evaluates thresholds with a per (metric, severity) cooldown
// and tracks incidents for time-to-detect and time-to-recover
type AlertManager struct {
	mu         sync.Mutex
	thresholds map[string][]Threshold
	cooldown   time.Duration
	lastFired  map[alertKey]time.Time
	open       map[string]*Incident
	closed     []Incident
	mttd       time.Duration
	mttr       time.Duration
	logger     logger.Logger
	now        func() time.Time
}

// NewAlertManager creates a manager. A zero cooldown alerts on every breaching sample.
func NewAlertManager(thresholds []Threshold, cooldown time.Duration, log logger.Logger) *AlertManager {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	byMetric := make(map[string][]Threshold)
	for _, t := range thresholds {
		byMetric[t.Metric] = append(byMetric[t.Metric], t)
	}
	return &AlertManager{
		thresholds: byMetric,
		cooldown:   cooldown,
		lastFired:  make(map[alertKey]time.Time),
		open:       make(map[string]*Incident),
		logger:     log,
		now:        time.Now,
	}
}

// SetIncidentSLA sets the MTTD and MTTR targets; zero disables a check
func (m *AlertManager) SetIncidentSLA(mttd, mttr time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mttd, m.mttr = mttd, mttr
}

// Evaluate checks every point against its metric's thresholds and returns
// the alerts to raise, in point order
func (m *AlertManager) Evaluate(points []models.MetricPoint) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var alerts []models.Alert
	for _, p := range points {
		rules, ok := m.thresholds[p.Name]
		if !ok {
			continue
		}

		breached := false
		for _, rule := range rules {
			if p.Value <= rule.Above {
				continue
			}
			breached = true
			m.openIncident(p)
			if alert, fire := m.fire(rule, p); fire {
				alerts = append(alerts, alert)
			}
		}
		if !breached {
			m.recover(p)
		}
	}
	return alerts
}

func (m *AlertManager) fire(rule Threshold, p models.MetricPoint) (models.Alert, bool) {
	now := m.now()
	key := alertKey{metric: rule.Metric, severity: rule.Severity}
	if last, ok := m.lastFired[key]; ok && now.Sub(last) < m.cooldown {
		return models.Alert{}, false
	}
	m.lastFired[key] = now

	if inc := m.open[p.Name]; inc != nil && inc.DetectedAt.IsZero() {
		inc.DetectedAt = now
		ttd := inc.TimeToDetect()
		telemetry.ObserveTimeToDetect(p.Name, ttd)
		if m.mttd > 0 && ttd > m.mttd {
			telemetry.RecordSLABreach(telemetry.SLAMTTD)
			m.logger.LogWarn(fmt.Sprintf("incident on %s detected after %v (mttd %v)", p.Name, ttd, m.mttd))
		}
	}

	message := rule.Message
	if message == "" {
		message = fmt.Sprintf("%s above %g", rule.Metric, rule.Above)
	}
	return models.Alert{
		ID:        uuid.NewString(),
		Severity:  rule.Severity,
		Message:   message,
		Metric:    rule.Metric,
		Threshold: rule.Above,
		Observed:  p.Value,
		Timestamp: now,
	}, true
}

func (m *AlertManager) openIncident(p models.MetricPoint) {
	if _, ok := m.open[p.Name]; ok {
		return
	}
	opened := p.Timestamp
	if opened.IsZero() {
		opened = m.now()
	}
	m.open[p.Name] = &Incident{Metric: p.Name, OpenedAt: opened}
}

func (m *AlertManager) recover(p models.MetricPoint) {
	inc, ok := m.open[p.Name]
	if !ok {
		return
	}
	delete(m.open, p.Name)

	inc.RecoveredAt = p.Timestamp
	if inc.RecoveredAt.IsZero() {
		inc.RecoveredAt = m.now()
	}
	ttr := inc.TimeToRecover()
	telemetry.ObserveTimeToRecover(p.Name, ttr)
	if m.mttr > 0 && ttr > m.mttr {
		telemetry.RecordSLABreach(telemetry.SLAMTTR)
		m.logger.LogWarn(fmt.Sprintf("incident on %s recovered after %v (mttr %v)", p.Name, ttr, m.mttr))
	} else {
		m.logger.LogInfo(fmt.Sprintf("incident on %s recovered after %v", p.Name, ttr))
	}
	m.closed = append(m.closed, *inc)
	if len(m.closed) > maxClosedIncidents {
		m.closed = m.closed[len(m.closed)-maxClosedIncidents:]
	}
}

// OpenIncidents returns incidents still in progress, by metric name
func (m *AlertManager) OpenIncidents() []Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Incident, 0, len(m.open))
	for _, inc := range m.open {
		out = append(out, *inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}

// ClosedIncidents returns recovered incidents in recovery order
func (m *AlertManager) ClosedIncidents() []Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Incident(nil), m.closed...)
}
