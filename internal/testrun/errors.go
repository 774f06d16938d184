package testrun

import (
	"errors"
	"fmt"
)

// InfraError is an infrastructure fault (executor or store unreachable)
// that prevented a test from producing a result. Failed assertions are
// never InfraErrors.
type InfraError struct {
	Test string // test name
	Op   string // what was being attempted
	Err  error
}

// Error implements the error interface.
func (e *InfraError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Test, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *InfraError) Unwrap() error {
	return e.Err
}

// IsInfraError checks if an error is an InfraError.
func IsInfraError(err error) bool {
	var target *InfraError
	return errors.As(err, &target)
}

func infra(test, op string, err error) *InfraError {
	return &InfraError{Test: test, Op: op, Err: err}
}
