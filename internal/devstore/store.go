// Package devstore is an in-memory implementation of the analytics store
// REST contract. It backs local runs and the client integration tests.
package devstore

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/scoring"
	"github.com/harrison/sentinel/internal/storeclient"
)

// DefaultMaxRecords caps each append-only collection; the oldest entries go first
const DefaultMaxRecords = 10000

type session struct {
	storeclient.Session
	files map[string][]byte
}

// Store holds everything the REST contract persists
type Store struct {
	mu          sync.RWMutex
	testResults []json.RawMessage
	metrics     []models.MetricPoint
	logs        []models.LogRecord
	alerts      []models.Alert
	episodes    []storeclient.Episode
	sessions    map[string]*session
	executions  map[string][]models.Execution
	unavailable bool
	maxRecords  int
	now         func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		sessions:   make(map[string]*session),
		executions: make(map[string][]models.Execution),
		maxRecords: DefaultMaxRecords,
		now:        time.Now,
	}
}

// SetAvailable toggles the store between serving and answering 503 on
// every route except the admin routes
func (s *Store) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = !available
}

// Available reports whether the store is serving
func (s *Store) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.unavailable
}

func capped[T any](items []T, max int) []T {
	if max > 0 && len(items) > max {
		return items[len(items)-max:]
	}
	return items
}

// AddTestResult stores one raw result document
func (s *Store) AddTestResult(doc json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.testResults = capped(append(s.testResults, append(json.RawMessage(nil), doc...)), s.maxRecords)
}

// TestResults returns stored result documents, optionally filtered by workflow id
func (s *Store) TestResults(workflowID string) []json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]json.RawMessage, 0, len(s.testResults))
	for _, doc := range s.testResults {
		if workflowID != "" {
			var probe struct {
				WorkflowID string `json:"workflow_id"`
			}
			if json.Unmarshal(doc, &probe) != nil || probe.WorkflowID != workflowID {
				continue
			}
		}
		out = append(out, doc)
	}
	return out
}

// AddMetrics stores a batch of points
func (s *Store) AddMetrics(points ...models.MetricPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = capped(append(s.metrics, points...), s.maxRecords)
}

// Metrics returns all stored points
func (s *Store) Metrics() []models.MetricPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.MetricPoint(nil), s.metrics...)
}

// AddLogs stores a batch of log records
func (s *Store) AddLogs(records ...models.LogRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = capped(append(s.logs, records...), s.maxRecords)
}

// Logs returns all stored log records
func (s *Store) Logs() []models.LogRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.LogRecord(nil), s.logs...)
}

// AddAlert stores an alert, assigning an id when missing
func (s *Store) AddAlert(a models.Alert) models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.alerts = capped(append(s.alerts, a), s.maxRecords)
	return a
}

// Alerts returns all stored alerts
func (s *Store) Alerts() []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Alert(nil), s.alerts...)
}

// AddEpisode stores an episode, assigning an id and timestamp when missing
func (s *Store) AddEpisode(ep storeclient.Episode) storeclient.Episode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = s.now().UTC()
	}
	s.episodes = capped(append(s.episodes, ep), s.maxRecords)
	return ep
}

// SearchEpisodes matches the query case-insensitively against outcome,
// agent, task and payload, newest first
func (s *Store) SearchEpisodes(req storeclient.SearchRequest) []storeclient.Episode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(req.Query))
	var out []storeclient.Episode
	for i := len(s.episodes) - 1; i >= 0; i-- {
		ep := s.episodes[i]
		if req.Type != "" && ep.Type != req.Type {
			continue
		}
		if query != "" {
			haystack := strings.ToLower(strings.Join([]string{ep.Outcome, ep.AgentID, ep.TaskID, string(ep.Payload)}, " "))
			if !strings.Contains(haystack, query) {
				continue
			}
		}
		out = append(out, ep)
		if req.Limit > 0 && len(out) == req.Limit {
			break
		}
	}
	return out
}

// CreateSession opens a session
func (s *Store) CreateSession(req storeclient.CreateSessionRequest) storeclient.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &session{
		Session: storeclient.Session{
			ID:         uuid.NewString(),
			Name:       req.Name,
			WorkflowID: req.WorkflowID,
			CreatedAt:  s.now().UTC(),
		},
		files: make(map[string][]byte),
	}
	s.sessions[sess.ID] = sess
	return sess.Session
}

// PutFile writes a session file; false when the session does not exist
func (s *Store) PutFile(sessionID, path string, content []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	sess.files[path] = append([]byte(nil), content...)
	return true
}

// File reads a session file
func (s *Store) File(sessionID, path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	data, ok := sess.files[path]
	return data, ok
}

// MergeSession reports how many files the session holds
func (s *Store) MergeSession(sessionID string) (storeclient.MergeResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return storeclient.MergeResult{}, false
	}
	return storeclient.MergeResult{MergeID: uuid.NewString(), FilesMerged: len(sess.files)}, true
}

// DeleteSession removes a session; false when it did not exist
func (s *Store) DeleteSession(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return false
	}
	delete(s.sessions, sessionID)
	return true
}

// SessionCount returns the number of open sessions
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// AddExecution records a workflow execution, assigning an id when missing
func (s *Store) AddExecution(workflowID string, e models.Execution) models.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.WorkflowID = workflowID
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = s.now().UTC()
	}
	s.executions[workflowID] = capped(append(s.executions[workflowID], e), s.maxRecords)
	return e
}

// Executions returns a workflow's execution history
func (s *Store) Executions(workflowID string) []models.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Execution{}, s.executions[workflowID]...)
}

// QualityAnalysis scores every workflow with execution history
func (s *Store) QualityAnalysis() storeclient.QualityAnalysis {
	s.mu.RLock()
	ids := make([]string, 0, len(s.executions))
	for id := range s.executions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	qa := storeclient.QualityAnalysis{Workflows: []models.QualityScore{}, GeneratedAt: s.now().UTC()}
	var total float64
	for _, id := range ids {
		score, err := scoring.Compute(id, s.Executions(id), s.testResultsFor(id))
		if err != nil {
			continue
		}
		score.Timestamp = qa.GeneratedAt
		qa.Workflows = append(qa.Workflows, score)
		total += score.Score
	}
	if n := len(qa.Workflows); n > 0 {
		qa.AvgScore = total / float64(n)
	}
	return qa
}

// testResultsFor decodes the workflow's test results, skipping chaos results
func (s *Store) testResultsFor(workflowID string) []models.TestResult {
	var out []models.TestResult
	for _, doc := range s.TestResults(workflowID) {
		var r models.TestResult
		if json.Unmarshal(doc, &r) != nil {
			continue
		}
		switch r.Kind {
		case models.KindUnit, models.KindIntegration, models.KindProperty:
			out = append(out, r)
		}
	}
	return out
}
