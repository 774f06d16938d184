package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrison/sentinel/internal/agentprobe"
	"github.com/harrison/sentinel/internal/chaos"
	"github.com/harrison/sentinel/internal/hoststats"
	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/reporter"
)

// NewChaosCommand creates the chaos command
func NewChaosCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chaos <kind>",
		Short: "Inject a failure and measure recovery",
		Long: `Run one chaos experiment.

Kinds: network_failure, agent_crash, resource_exhaustion, store_failure,
message_loss. The fault is applied by the shell command configured under
chaos.commands for the kind; "<kind>.revert" commands undo it afterwards.

Recovery is detected per kind:
  network_failure, store_failure, message_loss  the store answers GET /health
  agent_crash          a declared agent with the crashed agent's capabilities registers again
  resource_exhaustion  the resource's host utilization drops under chaos.resource_threshold

Experiments on the same target are mutually exclusive, across processes
sharing the lock directory. Every completed experiment is recorded.

Examples:
  sentinel chaos network_failure --duration 20s
  sentinel chaos agent_crash --agent builder --agents .sentinel/agents
  sentinel chaos resource_exhaustion --resource cpu
  sentinel chaos message_loss --rate 0.3`,
		Args: cobra.ExactArgs(1),
		RunE: runChaos,
	}

	cmd.Flags().String("agent", "", "Agent to crash (agent_crash)")
	cmd.Flags().String("resource", "", "Resource to exhaust: cpu, memory, disk (resource_exhaustion)")
	cmd.Flags().Float64("rate", 0, "Fraction of messages to drop, in (0,1] (message_loss)")
	cmd.Flags().Duration("duration", 0, "Fault duration (default: chaos.default_duration)")
	cmd.Flags().String("agents", ".sentinel/agents", "Directory of agent declarations")
	return cmd
}

func runChaos(cmd *cobra.Command, args []string) error {
	kind, err := models.ParseExperimentKind(args[0])
	if err != nil {
		return err
	}
	agentID, _ := cmd.Flags().GetString("agent")
	resource, _ := cmd.Flags().GetString("resource")
	rate, _ := cmd.Flags().GetFloat64("rate")
	duration, _ := cmd.Flags().GetDuration("duration")
	agentsDir, _ := cmd.Flags().GetString("agents")

	typ, err := models.ParseExperimentType(kind, agentID, models.ResourceKind(resource), rate)
	if err != nil {
		return err
	}

	env, err := newEnvironment(cmd, nil)
	if err != nil {
		return err
	}
	defer env.Close()
	cfg := env.cfg

	if cfg.Chaos.LockDir == "" {
		if err := cfg.ResolvePaths(); err != nil {
			env.log.LogWarn(fmt.Sprintf("no lock directory, experiment locks are in-process only: %v", err))
		}
	}

	injector, err := chaos.NewCommandInjector(cfg.Chaos.Commands, nil)
	if err != nil {
		return fmt.Errorf("invalid chaos.commands: %w", err)
	}
	if !injector.Supports(kind) {
		return fmt.Errorf("no injection command configured for %s (set chaos.commands.%s)", kind, kind)
	}

	reg, _, err := loadAgents(agentsDir, env.log)
	if err != nil {
		return err
	}
	if crash, ok := typ.(models.AgentCrash); ok {
		if _, registered := reg.Get(crash.Agent); !registered {
			return fmt.Errorf("agent %q is not declared in %s", crash.Agent, agentsDir)
		}
	}

	probes := chaos.DefaultProbes(env.store, reg, hoststats.NewHost(), cfg.Chaos.ResourceThreshold)
	mon := chaos.NewPollingMonitor(cfg.Chaos.PollInterval, probes, env.log)
	ctrl := chaos.NewController(injector, mon, env.reporter, chaos.Options{
		RecoveryTimeout: cfg.Chaos.RecoveryTimeout,
		SLA:             cfg.SLA.ChaosRecovery,
		DefaultDuration: cfg.Chaos.DefaultDuration,
		LockDir:         cfg.Chaos.LockDir,
	}, env.log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if kind == models.KindAgentCrash {
		watcher := agentprobe.NewWatcher(agentsDir, reg, &http.Client{Timeout: cfg.Validation.PingTimeout}, cfg.Chaos.PollInterval, env.log)
		go watcher.Run(ctx)
	}

	result, err := ctrl.Run(ctx, typ, duration)
	if st := result.Experiment.State; st == models.StateCompleted || st == models.StateReported {
		printExperiment(cmd.OutOrStdout(), result)
	}

	if reporter.IsReportingFailure(err) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: experiment result could not be recorded in the store: %v\n", err)
		if errors.Is(err, chaos.ErrRecoveryTimedOut) {
			return chaos.ErrRecoveryTimedOut
		}
		err = nil
	}
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("recovered in %v, over the %v SLA", result.RecoveryTime, result.SLA)
	}
	return nil
}
