package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoAssertions marks a test result that asserted nothing.
// Such a result is malformed and never counts as passing.
var ErrNoAssertions = errors.New("test result has no assertions")

// TestKind is the class of a test.
type TestKind string

// Test classes.
const (
	KindUnit        TestKind = "unit"
	KindIntegration TestKind = "integration"
	KindProperty    TestKind = "property"
)

// Assertion is a single checked condition inside a test.
type Assertion struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// TestResult represents the result of running one test against a workflow.
type TestResult struct {
	Name       string        `json:"test_name"`
	Kind       TestKind      `json:"kind"`
	WorkflowID string        `json:"workflow_id"`
	Success    bool          `json:"success"` // AND of all assertions; set by Finalize
	Assertions []Assertion   `json:"assertions"`
	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
	Malformed  bool          `json:"malformed,omitempty"`
}

// NewTestResult starts a result for the named test.
func NewTestResult(name string, kind TestKind, workflowID string) *TestResult {
	return &TestResult{
		Name:       name,
		Kind:       kind,
		WorkflowID: workflowID,
		StartedAt:  time.Now(),
	}
}

// Assert records an assertion. The message is only kept for failures.
func (r *TestResult) Assert(name string, passed bool, format string, args ...interface{}) bool {
	a := Assertion{Name: name, Passed: passed}
	if !passed {
		a.Message = fmt.Sprintf(format, args...)
	}
	r.Assertions = append(r.Assertions, a)
	return passed
}

// Finalize computes Success from the assertions and stamps the duration.
// A result without assertions is marked malformed and returns ErrNoAssertions.
func (r *TestResult) Finalize() error {
	r.Duration = time.Since(r.StartedAt)
	if len(r.Assertions) == 0 {
		r.Success = false
		r.Malformed = true
		return fmt.Errorf("%s: %w", r.Name, ErrNoAssertions)
	}
	r.Success = true
	for _, a := range r.Assertions {
		if !a.Passed {
			r.Success = false
			break
		}
	}
	return nil
}

// Failures returns the failed assertions.
func (r *TestResult) Failures() []Assertion {
	var out []Assertion
	for _, a := range r.Assertions {
		if !a.Passed {
			out = append(out, a)
		}
	}
	return out
}
