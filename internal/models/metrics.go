package models

import (
	"fmt"
	"strings"
	"time"
)

// MetricKind distinguishes how a metric value should be interpreted
type MetricKind string

// Metric kinds
const (
	MetricGauge     MetricKind = "gauge"
	MetricCounter   MetricKind = "counter"
	MetricHistogram MetricKind = "histogram"
)

// MetricPoint is a single sampled value
type MetricPoint struct {
	Name      string            `json:"name"`
	Kind      MetricKind        `json:"kind"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Severity is the urgency of an alert
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of Severity
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText encodes the severity by name
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name (used by config files)
func (s *Severity) UnmarshalText(text []byte) error {
	sev, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// ParseSeverity converts a name to a Severity
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "info":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", name)
	}
}

// Alert is raised when a metric breaches its threshold
type Alert struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Metric    string    `json:"metric_name"`
	Threshold float64   `json:"threshold"`
	Observed  float64   `json:"observed_value"`
	Timestamp time.Time `json:"timestamp"`
}

// LogRecord is one buffered log line forwarded to the store
type LogRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`
	Component string            `json:"component,omitempty"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// QualityScore is the weighted quality of a workflow over its history
type QualityScore struct {
	WorkflowID   string        `json:"workflow_id"`
	SuccessRate  float64       `json:"success_rate"`
	AvgDuration  time.Duration `json:"avg_duration"`
	TestCoverage float64       `json:"test_coverage"`
	Score        float64       `json:"score"`
	Executions   int           `json:"executions"`
	Tests        int           `json:"tests"`
	Timestamp    time.Time     `json:"timestamp"`
}
