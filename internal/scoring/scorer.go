// Package scoring computes a workflow's quality score from its persisted
// execution and test history.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/harrison/sentinel/internal/logger"
	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/telemetry"
)

// ErrNoData is returned when a workflow has no execution history
var ErrNoData = errors.New("no execution history")

// Score weights and the duration at which the speed term reaches zero
const (
	WeightSuccessRate  = 0.4
	WeightSpeed        = 0.3
	WeightTestCoverage = 0.3
	DurationCeiling    = 300 * time.Second
)

// History is the store view the scorer reads
type History interface {
	ListExecutions(ctx context.Context, workflowID string) ([]models.Execution, error)
	ListTestResults(ctx context.Context, workflowID string) ([]models.TestResult, error)
}

// Scorer scores workflows
type Scorer struct {
	history History
	logger  logger.Logger
	now     func() time.Time
}

// NewScorer creates a scorer over the store history
func NewScorer(history History, log logger.Logger) *Scorer {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Scorer{history: history, logger: log, now: time.Now}
}

// Score fetches the workflow's history and computes its quality score
func (s *Scorer) Score(ctx context.Context, workflowID string) (models.QualityScore, error) {
	if workflowID == "" {
		return models.QualityScore{}, fmt.Errorf("workflow id is required")
	}
	execs, err := s.history.ListExecutions(ctx, workflowID)
	if err != nil {
		return models.QualityScore{}, fmt.Errorf("list executions for %s: %w", workflowID, err)
	}
	if len(execs) == 0 {
		return models.QualityScore{}, fmt.Errorf("workflow %s: %w", workflowID, ErrNoData)
	}
	tests, err := s.history.ListTestResults(ctx, workflowID)
	if err != nil {
		return models.QualityScore{}, fmt.Errorf("list test results for %s: %w", workflowID, err)
	}

	score, err := Compute(workflowID, execs, tests)
	if err != nil {
		return models.QualityScore{}, err
	}
	score.Timestamp = s.now()

	telemetry.SetQualityScore(workflowID, score.Score)
	s.logger.LogInfo(fmt.Sprintf("workflow %s scored %.3f (success %.1f%%, avg %v, coverage %.1f%% over %d tests)",
		workflowID, score.Score, score.SuccessRate*100, score.AvgDuration.Round(time.Millisecond), score.TestCoverage*100, score.Tests))
	return score, nil
}

// Compute is the pure scoring function. Malformed test results count as
// run but never as passed.
func Compute(workflowID string, execs []models.Execution, tests []models.TestResult) (models.QualityScore, error) {
	if len(execs) == 0 {
		return models.QualityScore{}, fmt.Errorf("workflow %s: %w", workflowID, ErrNoData)
	}

	var successes int
	var total time.Duration
	for _, e := range execs {
		if e.Success {
			successes++
		}
		total += e.Duration
	}
	successRate := float64(successes) / float64(len(execs))
	avg := total / time.Duration(len(execs))

	var passed int
	for _, t := range tests {
		if t.Success && !t.Malformed {
			passed++
		}
	}
	coverage := 0.0
	if len(tests) > 0 {
		coverage = float64(passed) / float64(len(tests))
	}

	speed := 1 - math.Min(float64(avg)/float64(DurationCeiling), 1)
	if speed < 0 {
		speed = 0
	}
	value := WeightSuccessRate*successRate + WeightSpeed*speed + WeightTestCoverage*coverage

	return models.QualityScore{
		WorkflowID:   workflowID,
		SuccessRate:  successRate,
		AvgDuration:  avg,
		TestCoverage: coverage,
		Score:        clamp(value),
		Executions:   len(execs),
		Tests:        len(tests),
	}, nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
