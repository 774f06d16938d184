package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harrison/sentinel/internal/models"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationOptions bounds the size of a run log. A zero MaxSizeMB disables rotation.
type RotationOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// FileLogger writes timestamped per-run log files and maintains a latest.log
// symlink pointing to the most recent run. Long-running commands (monitor)
// rotate the run file through lumberjack.
// Domain events carry their component and fields so the file stays greppable.
type FileLogger struct {
	logDir   string
	runFile  string
	out      io.WriteCloser
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates the log directory, opens run-YYYYMMDD-HHMMSS.log
// and points latest.log at it
func NewFileLogger(logDir string, logLevel string, rotation RotationOptions) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	stamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", stamp))

	var out io.WriteCloser
	if rotation.MaxSizeMB > 0 {
		out = &lumberjack.Logger{
			Filename:   runFile,
			MaxSize:    rotation.MaxSizeMB,
			MaxBackups: rotation.MaxBackups,
			MaxAge:     rotation.MaxAgeDays,
			Compress:   rotation.Compress,
		}
	} else {
		file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to create run log file: %w", err)
		}
		out = file
	}

	fl := &FileLogger{
		logDir:   logDir,
		runFile:  runFile,
		out:      out,
		logLevel: normalizeLogLevel(logLevel),
	}

	// lumberjack opens lazily; the header write creates the file before the symlink
	fl.write("=== Sentinel Run Log ===\n")
	fl.write(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			out.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		out.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	return fl, nil
}

// RunFile returns the path of the current run log.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

// LogTrace logs a trace-level message (most verbose).
func (fl *FileLogger) LogTrace(message string) {
	fl.logEvent(event{level: "TRACE", message: message})
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) {
	fl.logEvent(event{level: "DEBUG", message: message})
}

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) {
	fl.logEvent(event{level: "INFO", message: message})
}

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) {
	fl.logEvent(event{level: "WARN", message: message})
}

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) {
	fl.logEvent(event{level: "ERROR", message: message})
}

func (fl *FileLogger) LogValidation(report models.ValidationReport) {
	fl.logEvent(validationEvent(report))
}

func (fl *FileLogger) LogTestResult(result models.TestResult) {
	fl.logEvent(testEvent(result))
}

func (fl *FileLogger) LogExperiment(result models.ChaosExperimentResult) {
	fl.logEvent(experimentEvent(result))
}

func (fl *FileLogger) LogAlert(alert models.Alert) {
	fl.logEvent(alertEvent(alert))
}

func (fl *FileLogger) LogTick(loop string, records int, err error) {
	fl.logEvent(tickEvent(loop, records, err))
}

func (fl *FileLogger) logEvent(ev event) {
	if !fl.shouldLog(ev.level) {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] ", timestamp(), ev.level)
	if ev.component != "" {
		fmt.Fprintf(&b, "[%s] ", ev.component)
	}
	b.WriteString(ev.message)
	if len(ev.fields) > 0 {
		keys := make([]string, 0, len(ev.fields))
		for k := range ev.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, ev.fields[k])
		}
	}
	b.WriteByte('\n')
	fl.write(b.String())
}

// Close flushes and closes the run log.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.out == nil {
		return nil
	}
	err := fl.out.Close()
	fl.out = nil
	return err
}

func (fl *FileLogger) write(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.out == nil {
		return
	}
	fl.out.Write([]byte(message))
}
