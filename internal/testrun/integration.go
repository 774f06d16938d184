package testrun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/storeclient"
)

// ResultPath is where an integration test writes a task's result in the session.
func ResultPath(taskID string) string {
	return "results/" + taskID + ".json"
}

// RunIntegration creates a store session, executes the workflow inside it
// and verifies the session's state. The session is deleted on every exit path.
func (o *Orchestrator) RunIntegration(ctx context.Context, wf *models.Workflow) (models.TestResult, error) {
	result := models.NewTestResult(TestIntegration, models.KindIntegration, wf.ID)
	if o.sessions == nil {
		return *result, infra(TestIntegration, "create session", fmt.Errorf("no session store configured"))
	}

	session, err := o.sessions.CreateSession(ctx, storeclient.CreateSessionRequest{
		Name:       "integration-" + wf.ID,
		WorkflowID: wf.ID,
		AgentType:  o.opts.AgentType,
	})
	if err != nil {
		return *result, infra(TestIntegration, "create session", err)
	}
	defer o.deleteSession(ctx, session.ID)

	schedule, err := o.schedule(wf, mockAssignments(wf), session.ID)
	if err != nil {
		result.Assert("schedulable", false, "%v", err)
		return *result, o.finish(ctx, result)
	}

	exec, err := o.execute(ctx, TestIntegration, wf, schedule)
	if err != nil {
		return *result, err
	}
	result.Assert("execution_succeeded", exec.Success, "executor reported failure")

	if err := o.verifySession(ctx, result, wf, session.ID, exec); err != nil {
		return *result, err
	}
	return *result, o.finish(ctx, result)
}

// verifySession round-trips each task result through the session and checks
// every declared output is readable. Store faults are returned; missing
// files are failed assertions.
func (o *Orchestrator) verifySession(ctx context.Context, result *models.TestResult, wf *models.Workflow, sessionID string, exec models.ExecutionResult) error {
	for _, task := range wf.Tasks {
		out, ok := exec.TaskResults[task.ID]
		if !result.Assert("result_present:"+task.ID, ok, "executor returned no result for %s", task.ID) {
			continue
		}

		want, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("encode result for %s: %w", task.ID, err)
		}
		path := ResultPath(task.ID)
		if err := o.sessions.PutSessionFile(ctx, sessionID, path, want); err != nil {
			return infra(TestIntegration, "write "+path, err)
		}
		got, err := o.readSessionFile(ctx, result, sessionID, "result_roundtrip:"+task.ID, path)
		if err != nil {
			return err
		}
		if got != nil {
			result.Assert("result_roundtrip:"+task.ID, bytes.Equal(bytes.TrimSpace(got), want),
				"%s read back %q, wrote %q", path, got, want)
		}

		for _, output := range task.Outputs {
			data, err := o.readSessionFile(ctx, result, sessionID, "output_readable:"+output, output)
			if err != nil {
				return err
			}
			if data != nil {
				result.Assert("output_readable:"+output, true, "")
			}
		}
	}
	return nil
}

// readSessionFile returns the file content, or nil after recording a failed
// assertion when the store has no such file.
func (o *Orchestrator) readSessionFile(ctx context.Context, result *models.TestResult, sessionID, assertion, path string) ([]byte, error) {
	data, err := o.sessions.GetSessionFile(ctx, sessionID, path)
	if err == nil {
		if data == nil {
			data = []byte{}
		}
		return data, nil
	}
	if storeclient.IsNotFound(err) {
		result.Assert(assertion, false, "%s not found in session %s", path, sessionID)
		return nil, nil
	}
	return nil, infra(TestIntegration, "read "+path, err)
}

// deleteSession runs with a context detached from the caller's cancellation.
func (o *Orchestrator) deleteSession(ctx context.Context, sessionID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.CleanupTimeout)
	defer cancel()
	if err := o.sessions.DeleteSession(cleanupCtx, sessionID); err != nil {
		o.logger.LogWarn(fmt.Sprintf("delete session %s: %v", sessionID, err))
		return
	}
	o.logger.LogDebug(fmt.Sprintf("deleted session %s", sessionID))
}
