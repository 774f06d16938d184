package chaos

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/harrison/sentinel/internal/executor"
	"github.com/harrison/sentinel/internal/models"
)

// Injector applies a fault. Inject returns once the fault is in place; the
// fault itself lasts for the experiment duration.
type Injector interface {
	Inject(ctx context.Context, exp models.ChaosExperiment) error
}

// Reverter is implemented by injectors that can undo a fault early.
// The controller calls Revert after monitoring ends.
type Reverter interface {
	Revert(ctx context.Context, exp models.ChaosExperiment) error
}

// RevertSuffix marks the command that undoes a fault, e.g. "network_failure.revert"
const RevertSuffix = ".revert"

// CommandData is what injection command templates can reference.
type CommandData struct {
	ID       string
	Kind     models.ExperimentKind
	Target   string
	Agent    string
	Resource models.ResourceKind
	Rate     float64
	Seconds  int
}

// NewCommandData flattens an experiment for templating.
func NewCommandData(exp models.ChaosExperiment) CommandData {
	data := CommandData{ID: exp.ID, Seconds: int(exp.Duration.Seconds())}
	if exp.Type == nil {
		return data
	}
	data.Kind = exp.Type.Kind()
	data.Target = exp.Type.Target()
	switch t := exp.Type.(type) {
	case models.AgentCrash:
		data.Agent = t.Agent
	case models.ResourceExhaustion:
		data.Resource = t.Resource
	case models.MessageLoss:
		data.Rate = t.Rate
	}
	return data
}

// CommandInjector runs a configured shell command per experiment kind.
type CommandInjector struct {
	commands map[string]*template.Template
	runner   executor.TaskRunner
}

// NewCommandInjector parses the command templates. Keys are experiment
// kinds, optionally suffixed with RevertSuffix.
func NewCommandInjector(commands map[string]string, runner executor.TaskRunner) (*CommandInjector, error) {
	if runner == nil {
		runner = executor.NewCommandRunner("")
	}
	parsed := make(map[string]*template.Template, len(commands))
	for key, text := range commands {
		kind := strings.TrimSuffix(key, RevertSuffix)
		if _, err := models.ParseExperimentKind(kind); err != nil {
			return nil, fmt.Errorf("chaos command %q: %w", key, err)
		}
		tmpl, err := template.New(key).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("chaos command %q: %w", key, err)
		}
		parsed[key] = tmpl
	}
	return &CommandInjector{commands: parsed, runner: runner}, nil
}

// Supports reports whether an inject command is configured for kind.
func (c *CommandInjector) Supports(kind models.ExperimentKind) bool {
	_, ok := c.commands[string(kind)]
	return ok
}

// Inject runs the kind's command. A missing command or a non-zero exit is an error.
func (c *CommandInjector) Inject(ctx context.Context, exp models.ChaosExperiment) error {
	if exp.Type == nil {
		return fmt.Errorf("experiment has no type")
	}
	key := string(exp.Type.Kind())
	if _, ok := c.commands[key]; !ok {
		return fmt.Errorf("no injection command configured for %s", key)
	}
	return c.run(ctx, key, exp)
}

// Revert runs the kind's revert command when one is configured.
func (c *CommandInjector) Revert(ctx context.Context, exp models.ChaosExperiment) error {
	if exp.Type == nil {
		return nil
	}
	key := string(exp.Type.Kind()) + RevertSuffix
	if _, ok := c.commands[key]; !ok {
		return nil
	}
	return c.run(ctx, key, exp)
}

// Render expands the command template for key.
func (c *CommandInjector) Render(key string, exp models.ChaosExperiment) (string, error) {
	tmpl, ok := c.commands[key]
	if !ok {
		return "", fmt.Errorf("no command %q", key)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, NewCommandData(exp)); err != nil {
		return "", fmt.Errorf("render %s: %w", key, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (c *CommandInjector) run(ctx context.Context, key string, exp models.ChaosExperiment) error {
	command, err := c.Render(key, exp)
	if err != nil {
		return err
	}
	task := models.Task{ID: exp.ID + ":" + key, Name: key, Command: command}
	out, _, err := c.runner.Run(ctx, task, executor.TaskEnv{AgentID: NewCommandData(exp).Agent})
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("%s exited with code %d: %s", key, out.ExitCode, out.Output)
	}
	return nil
}
