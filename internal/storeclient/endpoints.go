package storeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harrison/sentinel/internal/models"
)

// Store endpoint paths
const (
	PathHealth        = "/health"
	PathTestResults   = "/test-results"
	PathMetrics       = "/metrics"
	PathMetricsBatch  = "/metrics/batch"
	PathLogs          = "/logs"
	PathAlerts        = "/alerts"
	PathQuality       = "/analysis/quality"
	PathSessions      = "/sessions"
	PathEpisodes      = "/memory/episodes"
	PathEpisodeSearch = "/memory/search"
)

// Session is an isolated store workspace for one workflow run
type Session struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateSessionRequest is the body of POST /sessions
type CreateSessionRequest struct {
	Name       string `json:"name"`
	WorkflowID string `json:"workflow_id,omitempty"`
	AgentType  string `json:"agent_type,omitempty"`
}

// MergeResult is returned by POST /sessions/{id}/merge
type MergeResult struct {
	MergeID     string `json:"merge_id"`
	FilesMerged int    `json:"files_merged"`
}

// Episode is a stored record of a completed outcome, retrievable later
type Episode struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	AgentID   string          `json:"agent_id,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	Outcome   string          `json:"outcome"`
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// SearchRequest is the body of POST /memory/search
type SearchRequest struct {
	Query string `json:"query"`
	Type  string `json:"type,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// QualityAnalysis is the store's own quality summary across workflows
type QualityAnalysis struct {
	Workflows   []models.QualityScore `json:"workflows"`
	AvgScore    float64               `json:"avg_score"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// SessionFilePath returns the escaped path of a file inside a session
func SessionFilePath(sessionID, path string) string {
	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/%s/files/%s", PathSessions, url.PathEscape(sessionID), strings.Join(segments, "/"))
}

// Health probes GET /health
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, PathHealth, "", nil)
	return err
}

// PostTestResult persists one test result
func (c *Client) PostTestResult(ctx context.Context, result models.TestResult) error {
	return c.doJSON(ctx, http.MethodPost, PathTestResults, result, nil)
}

// ListTestResults fetches test results, optionally filtered by workflow
func (c *Client) ListTestResults(ctx context.Context, workflowID string) ([]models.TestResult, error) {
	path := PathTestResults
	if workflowID != "" {
		path += "?workflow_id=" + url.QueryEscape(workflowID)
	}
	var results []models.TestResult
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &results); err != nil {
		return nil, err
	}
	// chaos results share the endpoint and carry no test kind
	out := results[:0]
	for _, r := range results {
		switch r.Kind {
		case models.KindUnit, models.KindIntegration, models.KindProperty:
			out = append(out, r)
		}
	}
	return out, nil
}

// PostMetric persists a single point
func (c *Client) PostMetric(ctx context.Context, point models.MetricPoint) error {
	return c.doJSON(ctx, http.MethodPost, PathMetrics, point, nil)
}

// PostMetricsBatch persists a batch of points
func (c *Client) PostMetricsBatch(ctx context.Context, points []models.MetricPoint) error {
	return c.doJSON(ctx, http.MethodPost, PathMetricsBatch, points, nil)
}

// PostLogs persists a batch of log records
func (c *Client) PostLogs(ctx context.Context, records []models.LogRecord) error {
	return c.doJSON(ctx, http.MethodPost, PathLogs, records, nil)
}

// PostAlert persists an alert
func (c *Client) PostAlert(ctx context.Context, alert models.Alert) error {
	return c.doJSON(ctx, http.MethodPost, PathAlerts, alert, nil)
}

// QualityAnalysis fetches GET /analysis/quality
func (c *Client) QualityAnalysis(ctx context.Context) (QualityAnalysis, error) {
	var qa QualityAnalysis
	err := c.doJSON(ctx, http.MethodGet, PathQuality, nil, &qa)
	return qa, err
}

// CreateSession opens a new session
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (Session, error) {
	var s Session
	if err := c.doJSON(ctx, http.MethodPost, PathSessions, req, &s); err != nil {
		return Session{}, err
	}
	if s.ID == "" {
		return Session{}, fmt.Errorf("store returned a session without id")
	}
	return s, nil
}

// PutSessionFile writes raw content to a session path
func (c *Client) PutSessionFile(ctx context.Context, sessionID, path string, content []byte) error {
	if content == nil {
		content = []byte{}
	}
	_, err := c.do(ctx, http.MethodPut, SessionFilePath(sessionID, path), "application/octet-stream", content)
	return err
}

// GetSessionFile reads raw content from a session path
func (c *Client) GetSessionFile(ctx context.Context, sessionID, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, SessionFilePath(sessionID, path), "", nil)
}

// MergeSession merges session changes back into the workspace
func (c *Client) MergeSession(ctx context.Context, sessionID, strategy string) (MergeResult, error) {
	if strategy == "" {
		strategy = "auto"
	}
	var mr MergeResult
	path := fmt.Sprintf("%s/%s/merge", PathSessions, url.PathEscape(sessionID))
	err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"strategy": strategy}, &mr)
	return mr, err
}

// DeleteSession removes a session and its files
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("%s/%s", PathSessions, url.PathEscape(sessionID)), nil, nil)
}

// PostEpisode stores an episode
func (c *Client) PostEpisode(ctx context.Context, ep Episode) error {
	return c.doJSON(ctx, http.MethodPost, PathEpisodes, ep, nil)
}

// SearchEpisodes queries stored episodes
func (c *Client) SearchEpisodes(ctx context.Context, req SearchRequest) ([]Episode, error) {
	var eps []Episode
	if err := c.doJSON(ctx, http.MethodPost, PathEpisodeSearch, req, &eps); err != nil {
		return nil, err
	}
	return eps, nil
}

// ListExecutions fetches the execution history of a workflow
func (c *Client) ListExecutions(ctx context.Context, workflowID string) ([]models.Execution, error) {
	var execs []models.Execution
	path := fmt.Sprintf("/workflows/%s/executions", url.PathEscape(workflowID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &execs); err != nil {
		return nil, err
	}
	return execs, nil
}
