package chaos

import (
	"errors"
	"fmt"
	"time"

	"github.com/harrison/sentinel/internal/models"
)

var (
	// ErrTargetBusy is returned when another experiment holds the target
	ErrTargetBusy = errors.New("chaos target is busy")

	// ErrRecoveryTimedOut is returned with a persisted result when the
	// system did not recover within the bounded wait
	ErrRecoveryTimedOut = errors.New("recovery timed out")
)

// InjectionFailed is returned when the injector could not apply the fault.
// The experiment is aborted and nothing is persisted.
type InjectionFailed struct {
	ExperimentID string
	Kind         models.ExperimentKind
	Target       string
	Err          error
	Timestamp    time.Time
}

// NewInjectionFailed creates an InjectionFailed for the experiment
func NewInjectionFailed(exp models.ChaosExperiment, err error) *InjectionFailed {
	f := &InjectionFailed{ExperimentID: exp.ID, Err: err, Timestamp: time.Now()}
	if exp.Type != nil {
		f.Kind = exp.Type.Kind()
		f.Target = exp.Type.Target()
	}
	return f
}

// Error implements the error interface
func (e *InjectionFailed) Error() string {
	return fmt.Sprintf("experiment %s: inject %s on %s: %v", e.ExperimentID, e.Kind, e.Target, e.Err)
}

// Unwrap returns the injector error
func (e *InjectionFailed) Unwrap() error {
	return e.Err
}

// IsInjectionFailed checks if an error is an InjectionFailed
func IsInjectionFailed(err error) bool {
	var target *InjectionFailed
	return errors.As(err, &target)
}
