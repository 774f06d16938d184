package reporter

import (
	"errors"
	"fmt"
)

// ReportingFailure means a record could not be delivered to the store.
// It is distinct from the content being reported: the caller keeps its
// in-memory result either way.
type ReportingFailure struct {
	Endpoint string // Store endpoint the record was sent to
	Attempts int    // Delivery attempts made
	Spooled  bool   // Record was written to the outbox for replay
	Err      error  // Last delivery error
}

// Error implements the error interface for ReportingFailure.
func (e *ReportingFailure) Error() string {
	state := "dropped"
	if e.Spooled {
		state = "spooled"
	}
	return fmt.Sprintf("reporting to %s failed after %d attempt(s), %s: %v", e.Endpoint, e.Attempts, state, e.Err)
}

// Unwrap returns the underlying delivery error.
func (e *ReportingFailure) Unwrap() error {
	return e.Err
}

// IsReportingFailure checks if the error is or wraps a ReportingFailure.
func IsReportingFailure(err error) bool {
	var rf *ReportingFailure
	return err != nil && errors.As(err, &rf)
}

// AsReportingFailure extracts the ReportingFailure from err.
func AsReportingFailure(err error) (*ReportingFailure, bool) {
	var rf *ReportingFailure
	if errors.As(err, &rf) {
		return rf, true
	}
	return nil, false
}
