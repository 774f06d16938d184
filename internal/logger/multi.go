package logger

import (
	"strings"
	"time"

	"github.com/harrison/sentinel/internal/models"
)

// MultiLogger fans every call out to several loggers
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger returns a logger writing to all non-nil loggers
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

func (m *MultiLogger) each(fn func(Logger)) {
	for _, l := range m.loggers {
		fn(l)
	}
}

func (m *MultiLogger) LogTrace(msg string) { m.each(func(l Logger) { l.LogTrace(msg) }) }
func (m *MultiLogger) LogDebug(msg string) { m.each(func(l Logger) { l.LogDebug(msg) }) }
func (m *MultiLogger) LogInfo(msg string)  { m.each(func(l Logger) { l.LogInfo(msg) }) }
func (m *MultiLogger) LogWarn(msg string)  { m.each(func(l Logger) { l.LogWarn(msg) }) }
func (m *MultiLogger) LogError(msg string) { m.each(func(l Logger) { l.LogError(msg) }) }

func (m *MultiLogger) LogValidation(r models.ValidationReport) {
	m.each(func(l Logger) { l.LogValidation(r) })
}

func (m *MultiLogger) LogTestResult(r models.TestResult) {
	m.each(func(l Logger) { l.LogTestResult(r) })
}

func (m *MultiLogger) LogExperiment(r models.ChaosExperimentResult) {
	m.each(func(l Logger) { l.LogExperiment(r) })
}

func (m *MultiLogger) LogAlert(a models.Alert) {
	m.each(func(l Logger) { l.LogAlert(a) })
}

func (m *MultiLogger) LogTick(loop string, records int, err error) {
	m.each(func(l Logger) { l.LogTick(loop, records, err) })
}

// Sink receives log records for forwarding to the store.
// Append must not block; the monitoring log aggregator drops on overflow.
type Sink interface {
	Append(rec models.LogRecord)
}

// TeeLogger passes every call to the wrapped logger and copies records at or
// above its level into a Sink
type TeeLogger struct {
	next  Logger
	sink  Sink
	level string
}

// NewTee wraps next so that records at or above level also reach sink
func NewTee(next Logger, sink Sink, level string) *TeeLogger {
	if next == nil {
		next = NewNoOpLogger()
	}
	return &TeeLogger{next: next, sink: sink, level: normalizeLogLevel(level)}
}

func (t *TeeLogger) forward(ev event) {
	if t.sink == nil || logLevelToInt(ev.level) < logLevelToInt(t.level) {
		return
	}
	t.sink.Append(models.LogRecord{
		Timestamp: time.Now().UTC(),
		Level:     strings.ToLower(ev.level),
		Component: ev.component,
		Message:   ev.message,
		Fields:    ev.fields,
	})
}

func (t *TeeLogger) LogTrace(msg string) {
	t.next.LogTrace(msg)
	t.forward(event{level: "TRACE", message: msg})
}

func (t *TeeLogger) LogDebug(msg string) {
	t.next.LogDebug(msg)
	t.forward(event{level: "DEBUG", message: msg})
}

func (t *TeeLogger) LogInfo(msg string) {
	t.next.LogInfo(msg)
	t.forward(event{level: "INFO", message: msg})
}

func (t *TeeLogger) LogWarn(msg string) {
	t.next.LogWarn(msg)
	t.forward(event{level: "WARN", message: msg})
}

func (t *TeeLogger) LogError(msg string) {
	t.next.LogError(msg)
	t.forward(event{level: "ERROR", message: msg})
}

func (t *TeeLogger) LogValidation(r models.ValidationReport) {
	t.next.LogValidation(r)
	t.forward(validationEvent(r))
}

func (t *TeeLogger) LogTestResult(r models.TestResult) {
	t.next.LogTestResult(r)
	t.forward(testEvent(r))
}

func (t *TeeLogger) LogExperiment(r models.ChaosExperimentResult) {
	t.next.LogExperiment(r)
	t.forward(experimentEvent(r))
}

func (t *TeeLogger) LogAlert(a models.Alert) {
	t.next.LogAlert(a)
	t.forward(alertEvent(a))
}

// LogTick is not forwarded; the log loop would otherwise feed itself
func (t *TeeLogger) LogTick(loop string, records int, err error) {
	t.next.LogTick(loop, records, err)
}
