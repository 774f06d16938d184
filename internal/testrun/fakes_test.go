package testrun

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/storeclient"
)

// fakeExecutor echoes each task id as its output unless told otherwise
type fakeExecutor struct {
	mu        sync.Mutex
	calls     int
	schedules []models.Schedule
	err       error
	success   *bool
	outputs   func(call int, taskID string) string
	usage     map[string]models.ResourceUsage
	duration  time.Duration
}

func (f *fakeExecutor) Execute(_ context.Context, wf *models.Workflow, schedule models.Schedule) (models.ExecutionResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.schedules = append(f.schedules, schedule)
	f.mu.Unlock()

	if f.err != nil {
		return models.ExecutionResult{}, f.err
	}
	result := models.ExecutionResult{
		Success:     true,
		TaskResults: make(map[string]models.TaskOutput),
		Usage:       f.usage,
		Duration:    f.duration,
	}
	if f.success != nil {
		result.Success = *f.success
	}
	for _, t := range wf.Tasks {
		out := t.ID
		if f.outputs != nil {
			out = f.outputs(call, t.ID)
		}
		result.TaskResults[t.ID] = models.TaskOutput{Output: out}
	}
	return result, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memSessions is an in-memory SessionStore
type memSessions struct {
	mu       sync.Mutex
	files    map[string]map[string][]byte
	created  int
	deleted  []string
	putErr   error
	createEr error
	seed     map[string][]byte // copied into every new session
}

func newMemSessions() *memSessions {
	return &memSessions{files: make(map[string]map[string][]byte)}
}

func (m *memSessions) CreateSession(_ context.Context, req storeclient.CreateSessionRequest) (storeclient.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createEr != nil {
		return storeclient.Session{}, m.createEr
	}
	m.created++
	id := fmt.Sprintf("sess-%d", m.created)
	files := make(map[string][]byte)
	for k, v := range m.seed {
		files[k] = v
	}
	m.files[id] = files
	return storeclient.Session{ID: id, Name: req.Name, WorkflowID: req.WorkflowID}, nil
}

func (m *memSessions) PutSessionFile(_ context.Context, sessionID, path string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	files, ok := m.files[sessionID]
	if !ok {
		return &storeclient.APIError{Method: http.MethodPut, Path: path, Status: http.StatusNotFound}
	}
	files[path] = append([]byte(nil), content...)
	return nil
}

func (m *memSessions) GetSessionFile(_ context.Context, sessionID, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[sessionID][path]
	if !ok {
		return nil, &storeclient.APIError{Method: http.MethodGet, Path: path, Status: http.StatusNotFound}
	}
	return data, nil
}

func (m *memSessions) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[sessionID]; !ok {
		return errors.New("unknown session")
	}
	delete(m.files, sessionID)
	m.deleted = append(m.deleted, sessionID)
	return nil
}

// resultSink records persisted test results
type resultSink struct {
	mu      sync.Mutex
	results []models.TestResult
}

func (r *resultSink) ReportRegistration(context.Context, models.AgentRecord) error { return nil }
func (r *resultSink) ReportValidation(context.Context, models.ValidationReport) error {
	return nil
}
func (r *resultSink) ReportTestResult(_ context.Context, res models.TestResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}
func (r *resultSink) ReportExperiment(context.Context, models.ChaosExperimentResult) error {
	return nil
}
func (r *resultSink) ReportMetrics(context.Context, []models.MetricPoint) error { return nil }
func (r *resultSink) ReportLogs(context.Context, []models.LogRecord) error      { return nil }
func (r *resultSink) ReportAlert(context.Context, models.Alert) error           { return nil }

func pipeline() *models.Workflow {
	return &models.Workflow{
		ID:      "wf-build",
		Timeout: time.Minute,
		Tasks: []models.Task{
			{ID: "compile", RequiredCapabilities: []models.Capability{"compile"}, Requirements: models.Resources{CPUCores: 2, MemoryMB: 512}},
			{ID: "test", RequiredCapabilities: []models.Capability{"test"}, DependsOn: []string{"compile"}, Requirements: models.Resources{CPUCores: 1}},
			{ID: "package", DependsOn: []string{"test"}, Outputs: []string{"dist/app.tar.gz"}},
		},
	}
}
