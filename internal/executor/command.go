package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/harrison/sentinel/internal/models"
)

// Environment variables exported to task commands.
const (
	EnvTaskID    = "SENTINEL_TASK_ID"
	EnvSessionID = "SENTINEL_SESSION_ID"
	EnvAgentID   = "SENTINEL_AGENT_ID"
)

// CommandRunner is a TaskRunner that executes the task's shell command via sh -c.
// Stdout (trimmed) becomes the task output; a non-zero exit is a failed task,
// not an error.
type CommandRunner struct {
	WorkDir string   // Working directory for commands (empty = current dir)
	Shell   string   // Shell binary, defaults to "sh"
	Env     []string // Extra environment entries (KEY=VALUE)
}

// NewCommandRunner creates a CommandRunner rooted at workDir.
func NewCommandRunner(workDir string) *CommandRunner {
	return &CommandRunner{WorkDir: workDir, Shell: "sh"}
}

// Run executes task.Command and measures its resource usage.
func (r *CommandRunner) Run(ctx context.Context, task models.Task, env TaskEnv) (models.TaskOutput, models.ResourceUsage, error) {
	if strings.TrimSpace(task.Command) == "" {
		return models.TaskOutput{}, models.ResourceUsage{}, NewTaskError(task.ID, "no command", nil)
	}

	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", task.Command)
	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Env = append(cmd.Env,
		EnvTaskID+"="+task.ID,
		EnvSessionID+"="+env.SessionID,
		EnvAgentID+"="+env.AgentID,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	wall := time.Since(start)

	output := models.TaskOutput{Output: strings.TrimSpace(stdout.String())}
	usage := measureUsage(cmd.ProcessState, wall)

	if err == nil {
		return output, usage, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		output.ExitCode = -1
		return output, usage, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		output.ExitCode = exitErr.ExitCode()
		if output.Output == "" {
			output.Output = strings.TrimSpace(stderr.String())
		}
		return output, usage, nil
	}

	if errors.Is(err, exec.ErrNotFound) {
		return output, usage, &UnavailableError{Reason: fmt.Sprintf("shell %q not found", shell), Err: err}
	}
	return output, usage, NewTaskError(task.ID, "failed to start command", err)
}

// measureUsage derives average cores from user+system time over wall time.
func measureUsage(state *os.ProcessState, wall time.Duration) models.ResourceUsage {
	if state == nil {
		return models.ResourceUsage{}
	}
	var usage models.ResourceUsage
	if wall > 0 {
		cpu := state.UserTime() + state.SystemTime()
		usage.CPUCores = float64(cpu) / float64(wall)
	}
	usage.MemoryMB = maxRSSMB(state)
	return usage
}
