package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/sentinel/internal/logger"
	"github.com/harrison/sentinel/internal/models"
	"golang.org/x/sync/errgroup"
)

// Executor runs a whole workflow according to a schedule.
// A returned error means the executor could not run the workflow at all;
// task failures are reported through ExecutionResult.Success.
type Executor interface {
	Execute(ctx context.Context, wf *models.Workflow, schedule models.Schedule) (models.ExecutionResult, error)
}

// TaskEnv carries the per-task execution context.
type TaskEnv struct {
	SessionID string
	AgentID   string
}

// TaskRunner executes a single task.
type TaskRunner interface {
	Run(ctx context.Context, task models.Task, env TaskEnv) (models.TaskOutput, models.ResourceUsage, error)
}

// WaveExecutor runs waves sequentially and the tasks of a wave in parallel,
// bounded by the wave's MaxConcurrency. A wave with a failed task stops the run.
type WaveExecutor struct {
	runner TaskRunner
	logger logger.Logger
}

// NewWaveExecutor constructs a WaveExecutor. The logger may be nil.
func NewWaveExecutor(runner TaskRunner, log logger.Logger) *WaveExecutor {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &WaveExecutor{runner: runner, logger: log}
}

type taskOutcome struct {
	output models.TaskOutput
	usage  models.ResourceUsage
	err    error
}

// Execute runs the workflow. Waves must only reference tasks of wf.
func (w *WaveExecutor) Execute(ctx context.Context, wf *models.Workflow, schedule models.Schedule) (models.ExecutionResult, error) {
	if w == nil || w.runner == nil {
		return models.ExecutionResult{}, &UnavailableError{Reason: "no task runner configured"}
	}
	if wf == nil {
		return models.ExecutionResult{}, fmt.Errorf("workflow is nil")
	}

	start := time.Now()
	result := models.ExecutionResult{
		Success:     true,
		TaskResults: make(map[string]models.TaskOutput),
		Usage:       make(map[string]models.ResourceUsage),
	}

	runCtx := ctx
	if wf.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, wf.Timeout)
		defer cancel()
	}

	for _, wave := range schedule.Waves {
		if err := runCtx.Err(); err != nil {
			result.Success = false
			w.logger.LogWarn(fmt.Sprintf("workflow %s: stopped before %s: %v", wf.ID, wave.Name, err))
			break
		}

		outcomes, err := w.executeWave(runCtx, wf, wave, schedule)
		if err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		waveFailed := false
		for _, id := range wave.TaskIDs {
			oc := outcomes[id]
			result.TaskResults[id] = oc.output
			result.Usage[id] = oc.usage
			if oc.err != nil || oc.output.ExitCode != 0 {
				waveFailed = true
				w.logger.LogWarn(fmt.Sprintf("workflow %s: task %s failed (exit %d): %v", wf.ID, id, oc.output.ExitCode, oc.err))
			}
		}
		if waveFailed {
			result.Success = false
			w.logger.LogWarn(fmt.Sprintf("workflow %s: %s failed, skipping remaining waves", wf.ID, wave.Name))
			break
		}
		w.logger.LogDebug(fmt.Sprintf("workflow %s: %s completed (%d tasks)", wf.ID, wave.Name, len(wave.TaskIDs)))
	}

	result.Duration = time.Since(start)
	return result, nil
}

// executeWave runs one wave. Only an UnavailableError aborts the wave; task
// failures are collected per task.
func (w *WaveExecutor) executeWave(ctx context.Context, wf *models.Workflow, wave models.Wave, schedule models.Schedule) (map[string]taskOutcome, error) {
	limit := wave.MaxConcurrency
	if limit <= 0 {
		limit = DefaultMaxConcurrency
	}

	var mu sync.Mutex
	outcomes := make(map[string]taskOutcome, len(wave.TaskIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, id := range wave.TaskIDs {
		task, ok := wf.Task(id)
		if !ok {
			return nil, fmt.Errorf("%s references unknown task %s", wave.Name, id)
		}
		t := *task
		env := TaskEnv{SessionID: schedule.SessionID, AgentID: schedule.Assignments[t.ID]}

		g.Go(func() error {
			oc := w.runTask(gctx, t, env)
			if IsUnavailable(oc.err) {
				return oc.err
			}
			mu.Lock()
			outcomes[t.ID] = oc
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (w *WaveExecutor) runTask(ctx context.Context, task models.Task, env TaskEnv) taskOutcome {
	taskCtx := ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	output, usage, err := w.runner.Run(taskCtx, task, env)
	if err != nil {
		switch {
		case IsUnavailable(err):
		case task.Timeout > 0 && errors.Is(taskCtx.Err(), context.DeadlineExceeded):
			err = NewTimeoutError(task.ID, task.Timeout)
		case !IsTaskError(err):
			err = NewTaskError(task.ID, "execution failed", err)
		}
	}
	return taskOutcome{output: output, usage: usage, err: err}
}
