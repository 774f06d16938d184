package devstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/reporter"
	"github.com/harrison/sentinel/internal/spool"
	"github.com/harrison/sentinel/internal/storeclient"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newServer(t *testing.T) (*Store, *storeclient.Client) {
	t.Helper()
	store := New()
	srv := httptest.NewServer(NewRouter(store, nil))
	t.Cleanup(srv.Close)
	return store, storeclient.New(srv.URL, 5*time.Second)
}

func TestHealthAndAvailability(t *testing.T) {
	store, client := newServer(t)
	ctx := context.Background()

	require.NoError(t, client.Health(ctx))

	store.SetAvailable(false)
	err := client.Health(ctx)
	require.Error(t, err)
	assert.True(t, storeclient.Retryable(err))
	assert.Contains(t, err.Error(), "store unavailable")

	store.SetAvailable(true)
	assert.NoError(t, client.Health(ctx))
}

func TestAdminAvailabilityRoute(t *testing.T) {
	store := New()
	router := NewRouter(store, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/admin/availability", strings.NewReader(`{"available":false}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, store.Available())

	// admin routes stay reachable while the store is down
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/availability", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var env struct {
		Success bool `json:"success"`
		Data    struct {
			Available bool `json:"available"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.False(t, env.Data.Available)
}

func TestTestResultsFilteredByWorkflow(t *testing.T) {
	_, client := newServer(t)
	ctx := context.Background()

	for _, wf := range []string{"build", "build", "deploy"} {
		r := models.NewTestResult("unit", models.KindUnit, wf)
		r.Assert("has_tasks", true, "")
		r.Finalize()
		require.NoError(t, client.PostTestResult(ctx, *r))
	}

	results, err := client.ListTestResults(ctx, "build")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "build", r.WorkflowID)
		assert.True(t, r.Success)
	}

	all, err := client.ListTestResults(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRejectsNonObjectTestResult(t *testing.T) {
	_, client := newServer(t)
	err := client.Send(context.Background(), http.MethodPost, storeclient.PathTestResults, []byte(`[1,2]`))
	require.Error(t, err)
	assert.False(t, storeclient.Retryable(err))
}

func TestMetricsLogsAlerts(t *testing.T) {
	store, client := newServer(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, client.PostMetric(ctx, models.MetricPoint{Name: "system.cpu.percent", Kind: models.MetricGauge, Value: 12, Timestamp: now}))
	require.NoError(t, client.PostMetricsBatch(ctx, []models.MetricPoint{
		{Name: "app.active_agents", Kind: models.MetricGauge, Value: 3, Timestamp: now},
		{Name: "app.error_rate", Kind: models.MetricGauge, Value: 0.1, Timestamp: now},
	}))
	require.NoError(t, client.PostLogs(ctx, []models.LogRecord{{Timestamp: now, Level: "info", Message: "tick"}}))
	require.NoError(t, client.PostAlert(ctx, models.Alert{Severity: models.SeverityCritical, Metric: "system.cpu.percent", Observed: 97}))

	assert.Len(t, store.Metrics(), 3)
	assert.Len(t, store.Logs(), 1)
	alerts := store.Alerts()
	require.Len(t, alerts, 1)
	assert.NotEmpty(t, alerts[0].ID)

	err := client.PostMetric(ctx, models.MetricPoint{Value: 1})
	require.Error(t, err)
	assert.False(t, storeclient.Retryable(err))
}

func TestSessionLifecycle(t *testing.T) {
	store, client := newServer(t)
	ctx := context.Background()

	sess, err := client.CreateSession(ctx, storeclient.CreateSessionRequest{Name: "it", WorkflowID: "build"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "build", sess.WorkflowID)

	content := []byte("{\"ok\":true}\n")
	require.NoError(t, client.PutSessionFile(ctx, sess.ID, "results/compile.json", content))

	got, err := client.GetSessionFile(ctx, sess.ID, "results/compile.json")
	require.NoError(t, err)
	assert.Equal(t, content, got, "file content is returned byte for byte")

	_, err = client.GetSessionFile(ctx, sess.ID, "results/missing.json")
	assert.True(t, storeclient.IsNotFound(err))

	mr, err := client.MergeSession(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, mr.FilesMerged)

	require.NoError(t, client.DeleteSession(ctx, sess.ID))
	assert.Zero(t, store.SessionCount())

	assert.True(t, storeclient.IsNotFound(client.DeleteSession(ctx, sess.ID)))
	assert.True(t, storeclient.IsNotFound(client.PutSessionFile(ctx, sess.ID, "a", []byte("x"))))
}

func TestEpisodeSearch(t *testing.T) {
	_, client := newServer(t)
	ctx := context.Background()

	require.NoError(t, client.PostEpisode(ctx, storeclient.Episode{Type: reporter.EpisodeRegistration, AgentID: "builder", Outcome: "registered", Success: true}))
	require.NoError(t, client.PostEpisode(ctx, storeclient.Episode{Type: reporter.EpisodeValidation, AgentID: "builder", TaskID: "ship", Outcome: "invalid"}))
	require.NoError(t, client.PostEpisode(ctx, storeclient.Episode{Type: reporter.EpisodeValidation, AgentID: "tester", TaskID: "ship", Outcome: "valid", Success: true}))

	eps, err := client.SearchEpisodes(ctx, storeclient.SearchRequest{Query: "BUILDER"})
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, reporter.EpisodeValidation, eps[0].Type, "newest first")

	eps, err = client.SearchEpisodes(ctx, storeclient.SearchRequest{Type: reporter.EpisodeValidation, Limit: 1})
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "tester", eps[0].AgentID)

	eps, err = client.SearchEpisodes(ctx, storeclient.SearchRequest{Query: "nothing matches"})
	require.NoError(t, err)
	assert.Empty(t, eps)

	assert.Error(t, client.PostEpisode(ctx, storeclient.Episode{Outcome: "untyped"}))
}

func TestExecutionsAndQualityAnalysis(t *testing.T) {
	store, client := newServer(t)
	ctx := context.Background()

	store.AddExecution("build", models.Execution{Success: true, Duration: 30 * time.Second})
	store.AddExecution("build", models.Execution{Success: false, Duration: 90 * time.Second})

	execs, err := client.ListExecutions(ctx, "build")
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "build", execs[0].WorkflowID)

	none, err := client.ListExecutions(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)

	r := models.NewTestResult("unit", models.KindUnit, "build")
	r.Assert("has_tasks", true, "")
	r.Finalize()
	require.NoError(t, client.PostTestResult(ctx, *r))

	qa, err := client.QualityAnalysis(ctx)
	require.NoError(t, err)
	require.Len(t, qa.Workflows, 1)
	score := qa.Workflows[0]
	assert.Equal(t, "build", score.WorkflowID)
	assert.InDelta(t, 0.5, score.SuccessRate, 1e-9)
	assert.InDelta(t, 1.0, score.TestCoverage, 1e-9)
	assert.InDelta(t, score.Score, qa.AvgScore, 1e-9)
}

func TestRecordsAreCapped(t *testing.T) {
	store := New()
	store.maxRecords = 2
	for i := 0; i < 5; i++ {
		store.AddMetrics(models.MetricPoint{Name: "m", Value: float64(i)})
	}
	points := store.Metrics()
	require.Len(t, points, 2)
	assert.Equal(t, 3.0, points[0].Value)
	assert.Equal(t, 4.0, points[1].Value)
}

// TestReporterSpoolsDuringOutage drives the real reporter and spool against
// the store: records spooled while it is down are delivered by Drain.
func TestReporterSpoolsDuringOutage(t *testing.T) {
	store, client := newServer(t)
	ctx := context.Background()

	outbox, err := spool.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { outbox.Close() })

	opts := reporter.Options{MaxRetries: 1, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, DrainRate: 1000, DrainBurst: 10, MaxAttempts: 5}
	rep := reporter.New(client, outbox, opts, nil)

	store.SetAvailable(false)

	result := models.NewTestResult("unit", models.KindUnit, "build")
	result.Finalize()
	err = rep.ReportTestResult(ctx, *result)
	failure, ok := reporter.AsReportingFailure(err)
	require.True(t, ok)
	assert.True(t, failure.Spooled)

	// metrics are at-most-once and never reach the spool
	err = rep.ReportMetrics(ctx, []models.MetricPoint{{Name: "m", Value: 1}})
	failure, ok = reporter.AsReportingFailure(err)
	require.True(t, ok)
	assert.False(t, failure.Spooled)

	n, err := outbox.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// still down: the drain pass stops without losing the record
	stats, err := rep.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, stats.Delivered)

	store.SetAvailable(true)
	stats, err = rep.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delivered)
	assert.Zero(t, stats.Remaining)

	assert.Len(t, store.TestResults("build"), 1)
	assert.Empty(t, store.Metrics())
}
