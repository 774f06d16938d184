package cmd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/sentinel/internal/agentprobe"
	"github.com/harrison/sentinel/internal/registry"
	"github.com/harrison/sentinel/internal/reporter"
	"github.com/harrison/sentinel/internal/validation"
)

// NewGateCommand creates the gate command
func NewGateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate <workflow-file-or-directory>...",
		Short: "Validate agents against workflow tasks",
		Long: `Validate declared agents against the tasks of one or more workflows.

Each agent is checked for capabilities, resources, health and declared
dependencies. Every check runs; the report lists all problems. Health is
probed through the agent's HTTP endpoint (GET /health, GET /resources).
Every validation is recorded in the analytics store.

Examples:
  sentinel gate --agents .sentinel/agents workflow.yaml
  sentinel gate --agents agents/ --agent builder --task compile workflow.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: runGate,
	}

	cmd.Flags().String("agents", ".sentinel/agents", "Directory of agent declarations")
	cmd.Flags().String("agent", "", "Validate only this agent")
	cmd.Flags().String("task", "", "Validate only this task")
	return cmd
}

func runGate(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment(cmd, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	agentsDir, _ := cmd.Flags().GetString("agents")
	onlyAgent, _ := cmd.Flags().GetString("agent")
	onlyTask, _ := cmd.Flags().GetString("task")

	workflows, err := loadWorkflows(args)
	if err != nil {
		return err
	}

	reg := registry.New()
	engine := validation.NewEngine(reg, env.reporter, validation.Options{
		PingTimeout:      env.cfg.Validation.PingTimeout,
		LatencyLimit:     env.cfg.Validation.LatencyLimit,
		UtilizationLimit: env.cfg.Validation.UtilizationLimit,
		SLA:              env.cfg.SLA.Validation,
	}, env.log)

	_, decls, err := loadAgents(agentsDir, env.log)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: env.cfg.Validation.PingTimeout}
	var agents []*agentprobe.HTTPAgent
	for _, d := range decls {
		if onlyAgent != "" && d.ID != onlyAgent {
			continue
		}
		if _, err := engine.RegisterAgent(cmd.Context(), d.ID, d.Capabilities.Set()); err != nil && !reporter.IsReportingFailure(err) {
			return err
		}
		probe := agentprobe.New(d, httpClient)
		if _, err := probe.Refresh(cmd.Context()); err != nil {
			env.log.LogDebug(fmt.Sprintf("resources of %s unavailable, using declaration: %v", d.ID, err))
		}
		agents = append(agents, probe)
	}
	if len(agents) == 0 {
		if onlyAgent != "" {
			return fmt.Errorf("agent %q is not declared in %s", onlyAgent, agentsDir)
		}
		return fmt.Errorf("no agent declarations found in %s", agentsDir)
	}

	out := cmd.OutOrStdout()
	var checked, invalid, unreported int
	var unassignable []string
	for _, wf := range workflows {
		fmt.Fprintf(out, "Workflow %s (%d tasks)\n", wf.ID, len(wf.Tasks))
		for _, task := range wf.Tasks {
			if onlyTask != "" && task.ID != onlyTask {
				continue
			}
			assignable := false
			for _, agent := range agents {
				report, err := engine.ValidateAgent(cmd.Context(), agent, task)
				if err != nil {
					unreported++
				}
				checked++
				if report.IsValid() {
					assignable = true
				} else {
					invalid++
				}
				printValidation(out, report)
			}
			if !assignable {
				unassignable = append(unassignable, wf.ID+"/"+task.ID)
			}
		}
	}

	if checked == 0 {
		return fmt.Errorf("no task matched %q", onlyTask)
	}
	fmt.Fprintf(out, "\n%d validation(s), %d invalid\n", checked, invalid)
	if unreported > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %d validation(s) could not be recorded in the store\n", unreported)
	}
	if len(unassignable) > 0 {
		return fmt.Errorf("no valid agent for %d task(s): %s", len(unassignable), strings.Join(unassignable, ", "))
	}
	return nil
}
