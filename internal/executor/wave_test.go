package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harrison/sentinel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	envs     map[string]TaskEnv
	fail     map[string]bool
	err      map[string]error
	delay    time.Duration
	inFlight int32
	peak     int32
}

func (f *fakeRunner) Run(ctx context.Context, task models.Task, env TaskEnv) (models.TaskOutput, models.ResourceUsage, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, task.ID)
	if f.envs == nil {
		f.envs = make(map[string]TaskEnv)
	}
	f.envs[task.ID] = env
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return models.TaskOutput{ExitCode: -1}, models.ResourceUsage{}, ctx.Err()
		}
	}
	if err := f.err[task.ID]; err != nil {
		return models.TaskOutput{}, models.ResourceUsage{}, err
	}
	out := models.TaskOutput{Output: "done " + task.ID}
	if f.fail[task.ID] {
		out.ExitCode = 1
	}
	return out, models.ResourceUsage{CPUCores: 0.5, MemoryMB: 10}, nil
}

func chainWorkflow() *models.Workflow {
	return &models.Workflow{
		ID: "wf",
		Tasks: []models.Task{
			{ID: "a"},
			{ID: "b", DependsOn: []string{"a"}},
			{ID: "c", DependsOn: []string{"a"}},
			{ID: "d", DependsOn: []string{"b", "c"}},
		},
	}
}

func TestWaveExecutorRunsAllWaves(t *testing.T) {
	wf := chainWorkflow()
	sched, err := CalculateSchedule(wf, map[string]string{"a": "agent-1"}, 0)
	require.NoError(t, err)
	sched.SessionID = "sess-1"

	runner := &fakeRunner{}
	result, err := NewWaveExecutor(runner, nil).Execute(context.Background(), wf, sched)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Len(t, result.TaskResults, 4)
	assert.Equal(t, "done d", result.TaskResults["d"].Output)
	assert.Equal(t, 0.5, result.Usage["b"].CPUCores)
	assert.Equal(t, "a", runner.calls[0])
	assert.Equal(t, "d", runner.calls[3])
	assert.Equal(t, TaskEnv{SessionID: "sess-1", AgentID: "agent-1"}, runner.envs["a"])
}

func TestWaveExecutorStopsAfterFailedWave(t *testing.T) {
	wf := chainWorkflow()
	sched, err := CalculateSchedule(wf, nil, 0)
	require.NoError(t, err)

	runner := &fakeRunner{fail: map[string]bool{"b": true}}
	result, err := NewWaveExecutor(runner, nil).Execute(context.Background(), wf, sched)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.TaskResults["b"].ExitCode)
	assert.Contains(t, result.TaskResults, "c", "siblings in the failed wave still run")
	assert.NotContains(t, result.TaskResults, "d")
}

func TestWaveExecutorBoundsConcurrency(t *testing.T) {
	wf := &models.Workflow{ID: "wide"}
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5", "t6"} {
		wf.Tasks = append(wf.Tasks, models.Task{ID: id})
	}
	sched, err := CalculateSchedule(wf, nil, 2)
	require.NoError(t, err)

	runner := &fakeRunner{delay: 20 * time.Millisecond}
	result, err := NewWaveExecutor(runner, nil).Execute(context.Background(), wf, sched)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.LessOrEqual(t, atomic.LoadInt32(&runner.peak), int32(2))
}

func TestWaveExecutorTaskTimeout(t *testing.T) {
	wf := &models.Workflow{ID: "slow", Tasks: []models.Task{{ID: "a", Timeout: 10 * time.Millisecond}}}
	sched, err := CalculateSchedule(wf, nil, 0)
	require.NoError(t, err)

	runner := &fakeRunner{delay: time.Second}
	result, err := NewWaveExecutor(runner, nil).Execute(context.Background(), wf, sched)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestWaveExecutorUnavailable(t *testing.T) {
	wf := &models.Workflow{ID: "wf", Tasks: []models.Task{{ID: "a"}}}
	sched, err := CalculateSchedule(wf, nil, 0)
	require.NoError(t, err)

	runner := &fakeRunner{err: map[string]error{"a": &UnavailableError{Reason: "agent pool offline"}}}
	_, err = NewWaveExecutor(runner, nil).Execute(context.Background(), wf, sched)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))

	_, err = NewWaveExecutor(nil, nil).Execute(context.Background(), wf, sched)
	assert.True(t, IsUnavailable(err))
}

func TestRunTaskWrapsErrors(t *testing.T) {
	w := NewWaveExecutor(&fakeRunner{err: map[string]error{"a": errors.New("boom")}}, nil)
	oc := w.runTask(context.Background(), models.Task{ID: "a"}, TaskEnv{})
	assert.True(t, IsTaskError(oc.err))

	w = NewWaveExecutor(&fakeRunner{delay: time.Second}, nil)
	oc = w.runTask(context.Background(), models.Task{ID: "a", Timeout: 5 * time.Millisecond}, TaskEnv{})
	var te *TimeoutError
	require.True(t, errors.As(oc.err, &te))
	assert.True(t, IsTimeoutError(oc.err))
	assert.Equal(t, "a", te.TaskID)
}
