package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCycle is returned when the task graph contains a circular dependency.
var ErrCycle = errors.New("circular dependency detected")

// TaskError represents an error that occurred during task execution.
// It includes context about which task failed and when.
type TaskError struct {
	TaskID    string    // ID of the task that failed
	Message   string    // Human-readable error message
	Err       error     // Underlying error (optional)
	Timestamp time.Time // When the error occurred
}

// NewTaskError creates a new TaskError with the current timestamp.
func NewTaskError(id, msg string, err error) *TaskError {
	return &TaskError{
		TaskID:    id,
		Message:   msg,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface for TaskError.
func (e *TaskError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("task %s: %s", e.TaskID, e.Message))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// TimeoutError represents a task that exceeded its declared timeout.
type TimeoutError struct {
	TaskID          string
	TimeoutDuration time.Duration
	Timestamp       time.Time
}

// NewTimeoutError creates a new TimeoutError with the current timestamp.
func NewTimeoutError(id string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		TaskID:          id,
		TimeoutDuration: duration,
		Timestamp:       time.Now(),
	}
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s: timeout after %v", e.TaskID, e.TimeoutDuration)
}

// Unwrap returns context.DeadlineExceeded to support error wrapping.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// UnavailableError means the executor itself could not run the workflow
// (as opposed to the workflow failing). Callers treat it as an infrastructure fault.
type UnavailableError struct {
	Reason string
	Err    error
}

// Error implements the error interface for UnavailableError.
func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("executor unavailable: %s: %v", e.Reason, e.Err)
	}
	return "executor unavailable: " + e.Reason
}

// Unwrap returns the underlying error.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsTaskError checks if the error is or wraps a TaskError.
func IsTaskError(err error) bool {
	var te *TaskError
	return err != nil && errors.As(err, &te)
}

// IsTimeoutError checks if the error is or wraps a TimeoutError or context.DeadlineExceeded.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsUnavailable checks if the error is or wraps an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return err != nil && errors.As(err, &ue)
}
