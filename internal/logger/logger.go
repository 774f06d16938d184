// Package logger provides logging implementations for sentinel.
//
// Every component logs through the Logger interface: plain leveled messages
// plus a handful of domain events (validation reports, test results, chaos
// experiments, alerts and monitoring ticks). Implementations are thread-safe
// and write to the console, to rotating run logs, or to several sinks at once.
package logger

import (
	"fmt"
	"strings"
	"time"

	"github.com/harrison/sentinel/internal/models"
)

// Logger is the logging surface shared by all sentinel components.
type Logger interface {
	LogTrace(message string)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)

	LogValidation(report models.ValidationReport)
	LogTestResult(result models.TestResult)
	LogExperiment(result models.ChaosExperimentResult)
	LogAlert(alert models.Alert)
	LogTick(loop string, records int, err error)
}

// Log level constants for filtering.
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	default:
		return "info"
	}
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch strings.ToLower(level) {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a short human-readable string.
// Examples: "85ms", "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d >= time.Hour:
		hours := d / time.Hour
		minutes := (d % time.Hour) / time.Minute
		if minutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case d >= time.Minute:
		minutes := d / time.Minute
		seconds := (d % time.Minute) / time.Second
		if seconds == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}

// event is the level-tagged text form of a domain event, shared by every sink.
type event struct {
	level     string
	component string
	message   string
	fields    map[string]string
}

func validationEvent(r models.ValidationReport) event {
	ev := event{
		level:     "INFO",
		component: "validation",
		fields: map[string]string{
			"agent":    r.AgentID,
			"task":     r.TaskID,
			"errors":   fmt.Sprint(len(r.Errors)),
			"warnings": fmt.Sprint(len(r.Warnings)),
		},
	}
	if r.IsValid() {
		ev.message = fmt.Sprintf("agent %s valid for task %s (%s)", r.AgentID, r.TaskID, formatDuration(r.Duration))
		if len(r.Warnings) > 0 {
			ev.level = "WARN"
			ev.message += ": " + joinIssues(r.Warnings)
		}
		return ev
	}
	ev.level = "WARN"
	ev.message = fmt.Sprintf("agent %s rejected for task %s: %s", r.AgentID, r.TaskID, joinIssues(r.Errors))
	return ev
}

func joinIssues(issues []models.ValidationIssue) string {
	parts := make([]string, len(issues))
	for i, issue := range issues {
		parts[i] = issue.Message()
	}
	return strings.Join(parts, "; ")
}

func testEvent(r models.TestResult) event {
	ev := event{
		level:     "INFO",
		component: "testrun",
		fields: map[string]string{
			"test":     r.Name,
			"kind":     string(r.Kind),
			"workflow": r.WorkflowID,
		},
	}
	status := "PASS"
	if !r.Success {
		status = "FAIL"
		ev.level = "WARN"
	}
	ev.message = fmt.Sprintf("%s %s [%s] on %s (%d assertions, %s)", status, r.Name, r.Kind, r.WorkflowID, len(r.Assertions), formatDuration(r.Duration))
	for _, f := range r.Failures() {
		ev.message += fmt.Sprintf("\n  - %s: %s", f.Name, f.Message)
	}
	return ev
}

func experimentEvent(r models.ChaosExperimentResult) event {
	ev := event{
		level:     "INFO",
		component: "chaos",
		fields: map[string]string{
			"experiment": r.Experiment.ID,
			"outcome":    string(r.Outcome),
		},
	}
	kind := "unknown"
	if r.Experiment.Type != nil {
		kind = string(r.Experiment.Type.Kind())
		ev.fields["target"] = r.Experiment.Type.Target()
	}
	ev.fields["kind"] = kind
	if r.Success() {
		ev.message = fmt.Sprintf("experiment %s (%s) recovered in %s", r.Experiment.ID, kind, formatDuration(r.RecoveryTime))
	} else {
		ev.level = "ERROR"
		ev.message = fmt.Sprintf("experiment %s (%s) failed: %s after %s", r.Experiment.ID, kind, r.Outcome, formatDuration(r.RecoveryTime))
	}
	return ev
}

func alertEvent(a models.Alert) event {
	level := "WARN"
	if a.Severity >= models.SeverityError {
		level = "ERROR"
	} else if a.Severity == models.SeverityInfo {
		level = "INFO"
	}
	return event{
		level:     level,
		component: "monitor",
		message:   fmt.Sprintf("ALERT %s [%s] %s: %s=%.2f > %.2f", a.ID, a.Severity, a.Message, a.Metric, a.Observed, a.Threshold),
		fields: map[string]string{
			"alert":    a.ID,
			"severity": a.Severity.String(),
			"metric":   a.Metric,
		},
	}
}

func tickEvent(loop string, records int, err error) event {
	ev := event{
		level:     "DEBUG",
		component: "monitor",
		message:   fmt.Sprintf("%s tick: %d records reported", loop, records),
		fields:    map[string]string{"loop": loop},
	}
	if err != nil {
		ev.level = "WARN"
		ev.message = fmt.Sprintf("%s tick: dropped %d records: %v", loop, records, err)
	}
	return ev
}

// NoOpLogger is a Logger implementation that discards all log messages.
// Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) LogTrace(string) {}
func (n *NoOpLogger) LogDebug(string) {}
func (n *NoOpLogger) LogInfo(string) {}
func (n *NoOpLogger) LogWarn(string) {}
func (n *NoOpLogger) LogError(string) {}
func (n *NoOpLogger) LogValidation(models.ValidationReport) {}
func (n *NoOpLogger) LogTestResult(models.TestResult) {}
func (n *NoOpLogger) LogExperiment(models.ChaosExperimentResult) {}
func (n *NoOpLogger) LogAlert(models.Alert) {}
func (n *NoOpLogger) LogTick(string, int, error) {}
