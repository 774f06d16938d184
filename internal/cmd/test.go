package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/sentinel/internal/executor"
	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/monitor"
	"github.com/harrison/sentinel/internal/reporter"
	"github.com/harrison/sentinel/internal/testrun"
)

// test suites selectable with --suite
const (
	suiteAll         = "all"
	suiteUnit        = "unit"
	suiteIntegration = "integration"
	suiteProperties  = "properties"
)

// NewTestCommand creates the test command
func NewTestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <workflow-file-or-directory>...",
		Short: "Run unit, integration and property tests against workflows",
		Long: `Exercise workflows with the in-process wave executor.

Suites:
  unit         structure checks, mock agent validation, one execution
  properties   idempotency, determinism, resource bounds, timeout compliance
  integration  execution inside a store session with result round trips
  all          unit, properties, then integration (default)

Every result is recorded in the analytics store. Failing assertions are
reported as results; the command fails only when a test fails or the
executor or store cannot be reached.

Examples:
  sentinel test workflow.yaml
  sentinel test --suite properties --determinism-runs 10 --parallel 3 workflows/`,
		Args: cobra.MinimumNArgs(1),
		RunE: runTest,
	}

	cmd.Flags().String("suite", suiteAll, "Suite to run: all, unit, integration, properties")
	cmd.Flags().String("workdir", "", "Working directory for task commands (default: current directory)")
	cmd.Flags().Int("max-concurrency", executor.DefaultMaxConcurrency, "Maximum parallel tasks per wave")
	cmd.Flags().Int("determinism-runs", 5, "Executions compared by the determinism property")
	cmd.Flags().Int("parallel", 1, "Determinism executions in flight at once")
	return cmd
}

func runTest(cmd *cobra.Command, args []string) error {
	suite, _ := cmd.Flags().GetString("suite")
	switch suite {
	case suiteAll, suiteUnit, suiteIntegration, suiteProperties:
	default:
		return fmt.Errorf("invalid suite %q, must be one of: all, unit, integration, properties", suite)
	}

	env, err := newEnvironment(cmd, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	workflows, err := loadWorkflows(args)
	if err != nil {
		return err
	}

	workDir, _ := cmd.Flags().GetString("workdir")
	maxConc, _ := cmd.Flags().GetInt("max-concurrency")
	runs, _ := cmd.Flags().GetInt("determinism-runs")
	parallel, _ := cmd.Flags().GetInt("parallel")

	stats := monitor.NewWorkflowStats(0, nil)
	exec := monitor.Instrument(executor.NewWaveExecutor(executor.NewCommandRunner(workDir), env.log), stats)
	orch := testrun.NewOrchestrator(exec, env.store, env.reporter, testrun.Options{
		MaxConcurrency:  maxConc,
		DeterminismRuns: runs,
		ParallelRuns:    parallel,
	}, env.log)

	out := cmd.OutOrStdout()
	var failed []string
	var unreported int
	for _, wf := range workflows {
		fmt.Fprintf(out, "Workflow %s (%d tasks)\n", wf.ID, len(wf.Tasks))

		results, err := runSuite(cmd, orch, suite, wf)
		for _, r := range results {
			printTestResult(out, r)
			if !r.Success {
				failed = append(failed, wf.ID+"/"+r.Name)
			}
		}
		if err != nil {
			if reporter.IsReportingFailure(err) {
				unreported++
				continue
			}
			return fmt.Errorf("workflow %s: %w", wf.ID, err)
		}
	}

	fmt.Fprintf(out, "\nexecutions: %.0f/min, error rate %.1f%%, p99 %.1fs\n", stats.Throughput(), stats.ErrorRate()*100, stats.WorkflowLatencyP99().Seconds())
	if unreported > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: results of %d workflow(s) could not be recorded in the store\n", unreported)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d test(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

func runSuite(cmd *cobra.Command, orch *testrun.Orchestrator, suite string, wf *models.Workflow) ([]models.TestResult, error) {
	ctx := cmd.Context()
	single := func(r models.TestResult, err error) ([]models.TestResult, error) {
		// an infrastructure fault leaves no result worth showing
		if testrun.IsInfraError(err) {
			return nil, err
		}
		return []models.TestResult{r}, err
	}
	switch suite {
	case suiteUnit:
		return single(orch.RunUnit(ctx, wf))
	case suiteIntegration:
		return single(orch.RunIntegration(ctx, wf))
	case suiteProperties:
		return orch.RunProperties(ctx, wf)
	default:
		return orch.RunAll(ctx, wf)
	}
}
