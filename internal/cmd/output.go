package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/parser"
)

var (
	passLabel = color.New(color.FgGreen, color.Bold).Sprint("PASS")
	failLabel = color.New(color.FgRed, color.Bold).Sprint("FAIL")
	warnLabel = color.New(color.FgYellow).Sprint("WARN")
)

func verdict(ok bool) string {
	if ok {
		return passLabel
	}
	return failLabel
}

// loadWorkflows parses every workflow file or directory argument
func loadWorkflows(args []string) ([]*models.Workflow, error) {
	var out []*models.Workflow
	for _, arg := range args {
		wfs, err := parser.ParsePath(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", arg, err)
		}
		out = append(out, wfs...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no workflows found in %s", strings.Join(args, ", "))
	}
	return out, nil
}

func printValidation(w io.Writer, report models.ValidationReport) {
	fmt.Fprintf(w, "%s  agent %s for task %s (%s)\n", verdict(report.IsValid()), report.AgentID, report.TaskID, report.Duration.Round(time.Microsecond))
	for _, e := range report.Errors {
		fmt.Fprintf(w, "      %s %s\n", failLabel, e.Message())
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "      %s %s\n", warnLabel, warning.Message())
	}
}

func printTestResult(w io.Writer, r models.TestResult) {
	fmt.Fprintf(w, "%s  %s %s (%d assertions, %s)\n", verdict(r.Success), r.WorkflowID, r.Name, len(r.Assertions), r.Duration.Round(time.Millisecond))
	if r.Malformed {
		fmt.Fprintf(w, "      %s no assertions recorded\n", failLabel)
	}
	for _, a := range r.Assertions {
		if !a.Passed {
			fmt.Fprintf(w, "      %s %s: %s\n", failLabel, a.Name, a.Message)
		}
	}
}

func printExperiment(w io.Writer, r models.ChaosExperimentResult) {
	kind, target := "", ""
	if r.Experiment.Type != nil {
		kind, target = string(r.Experiment.Type.Kind()), r.Experiment.Type.Target()
	}
	fmt.Fprintf(w, "%s  %s on %s: %s, recovery %s (sla %s)\n", verdict(r.Success()), kind, target, r.Outcome, r.RecoveryTime.Round(time.Millisecond), r.SLA)
}

func printScore(w io.Writer, s models.QualityScore) {
	fmt.Fprintf(w, "%s  score %.3f  success %.1f%%  coverage %.1f%%  avg %s  (%d executions, %d tests)\n",
		s.WorkflowID, s.Score, s.SuccessRate*100, s.TestCoverage*100, s.AvgDuration.Round(time.Millisecond), s.Executions, s.Tests)
}
