package scoring

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/harrison/sentinel/internal/config"
	"github.com/harrison/sentinel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	execs    []models.Execution
	tests    []models.TestResult
	execErr  error
	testsErr error
}

func (f fakeHistory) ListExecutions(context.Context, string) ([]models.Execution, error) {
	return f.execs, f.execErr
}

func (f fakeHistory) ListTestResults(context.Context, string) ([]models.TestResult, error) {
	return f.tests, f.testsErr
}

func runs(successes, failures int, d time.Duration) []models.Execution {
	var out []models.Execution
	for i := 0; i < successes; i++ {
		out = append(out, models.Execution{Success: true, Duration: d})
	}
	for i := 0; i < failures; i++ {
		out = append(out, models.Execution{Success: false, Duration: d})
	}
	return out
}

func tests(passed, failed int) []models.TestResult {
	var out []models.TestResult
	for i := 0; i < passed; i++ {
		out = append(out, models.TestResult{Kind: models.KindUnit, Success: true})
	}
	for i := 0; i < failed; i++ {
		out = append(out, models.TestResult{Kind: models.KindUnit, Success: false})
	}
	return out
}

func TestCompute(t *testing.T) {
	tc := []struct {
		name         string
		execs        []models.Execution
		tests        []models.TestResult
		wantScore    float64
		wantCoverage float64
	}{
		{
			name:         "perfect and instant",
			execs:        runs(4, 0, 0),
			tests:        tests(10, 0),
			wantScore:    1,
			wantCoverage: 1,
		},
		{
			name:         "half success, 150s average, 80% coverage",
			execs:        runs(1, 1, 150*time.Second),
			tests:        tests(4, 1),
			wantScore:    0.4*0.5 + 0.3*0.5 + 0.3*0.8,
			wantCoverage: 0.8,
		},
		{
			name:         "duration beyond ceiling saturates",
			execs:        runs(1, 0, time.Hour),
			tests:        tests(1, 0),
			wantScore:    0.4 + 0 + 0.3,
			wantCoverage: 1,
		},
		{
			name:         "no tests means zero coverage",
			execs:        runs(2, 0, 0),
			wantScore:    0.7,
			wantCoverage: 0,
		},
		{
			name:         "all failing",
			execs:        runs(0, 3, 10*time.Minute),
			tests:        tests(0, 3),
			wantScore:    0,
			wantCoverage: 0,
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute("wf", tt.execs, tt.tests)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantScore, got.Score, 1e-9)
			assert.InDelta(t, tt.wantCoverage, got.TestCoverage, 1e-9)
			assert.Equal(t, len(tt.execs), got.Executions)
		})
	}
}

func TestMalformedResultsNeverPass(t *testing.T) {
	got, err := Compute("wf", runs(1, 0, 0), []models.TestResult{
		{Success: true},
		{Success: true, Malformed: true},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.TestCoverage, 1e-9)
}

func TestScoreAlwaysInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		execs := runs(rng.Intn(20), rng.Intn(20)+1, time.Duration(rng.Int63n(int64(time.Hour))))
		got, err := Compute("wf", execs, tests(rng.Intn(30), rng.Intn(30)))
		require.NoError(t, err)
		if got.Score < 0 || got.Score > 1 {
			t.Fatalf("score %v out of range for %+v", got.Score, got)
		}
	}
}

func TestScoreNoData(t *testing.T) {
	s := NewScorer(fakeHistory{tests: tests(3, 0)}, nil)
	_, err := s.Score(context.Background(), "wf-empty")
	assert.ErrorIs(t, err, ErrNoData)

	_, err = Compute("wf", nil, nil)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestScoreFetchErrors(t *testing.T) {
	boom := errors.New("store unreachable")

	_, err := NewScorer(fakeHistory{execErr: boom}, nil).Score(context.Background(), "wf")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoData)

	_, err = NewScorer(fakeHistory{execs: runs(1, 0, 0), testsErr: boom}, nil).Score(context.Background(), "wf")
	assert.ErrorIs(t, err, boom)

	_, err = NewScorer(fakeHistory{}, nil).Score(context.Background(), "")
	assert.Error(t, err)
}

func TestScoreStampsTime(t *testing.T) {
	s := NewScorer(fakeHistory{execs: runs(3, 1, time.Minute), tests: tests(9, 1)}, nil)
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	got, err := s.Score(context.Background(), "wf-release")
	require.NoError(t, err)
	assert.Equal(t, "wf-release", got.WorkflowID)
	assert.Equal(t, fixed, got.Timestamp)
	assert.Equal(t, time.Minute, got.AvgDuration)
	assert.InDelta(t, 0.75, got.SuccessRate, 1e-9)
}

func TestEvaluateSLA(t *testing.T) {
	sla := config.DefaultConfig().SLA

	tc := []struct {
		name     string
		score    models.QualityScore
		wantSLAs []string
	}{
		{name: "healthy", score: models.QualityScore{SuccessRate: 0.99, TestCoverage: 0.9}},
		{name: "low success", score: models.QualityScore{SuccessRate: 0.9, TestCoverage: 0.9}, wantSLAs: []string{"success_rate"}},
		{name: "coverage at floor", score: models.QualityScore{SuccessRate: 1, TestCoverage: 0.8}, wantSLAs: []string{"test_coverage"}},
		{name: "both", score: models.QualityScore{}, wantSLAs: []string{"success_rate", "test_coverage"}},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, b := range EvaluateSLA(tt.score, sla) {
				got = append(got, b.SLA)
			}
			assert.Equal(t, tt.wantSLAs, got)
		})
	}
}
