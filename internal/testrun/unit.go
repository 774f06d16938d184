package testrun

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/harrison/sentinel/internal/executor"
	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/validation"
)

// RunUnit checks the workflow's structure, validates a mock agent per task,
// executes the workflow and asserts every task produced output.
func (o *Orchestrator) RunUnit(ctx context.Context, wf *models.Workflow) (models.TestResult, error) {
	result := models.NewTestResult(TestUnit, models.KindUnit, wf.ID)

	if !assertStructure(result, wf) {
		return *result, o.finish(ctx, result)
	}

	agents := o.assertMockAgents(ctx, result, wf)

	schedule, err := o.schedule(wf, agents, "")
	if err != nil {
		// structure assertions passed, so this is a scheduling bug
		result.Assert("schedulable", false, "%v", err)
		return *result, o.finish(ctx, result)
	}

	exec, err := o.execute(ctx, TestUnit, wf, schedule)
	if err != nil {
		return *result, err
	}

	result.Assert("execution_succeeded", exec.Success, "executor reported failure")
	missing := missingOutputs(wf, exec)
	result.Assert("outputs_present", len(missing) == 0, "tasks without output: %s", strings.Join(missing, ", "))

	return *result, o.finish(ctx, result)
}

// assertStructure records the structural assertions and reports whether the
// workflow can be scheduled.
func assertStructure(result *models.TestResult, wf *models.Workflow) bool {
	ok := result.Assert("has_tasks", len(wf.Tasks) > 0, "workflow %s has no tasks", wf.ID)

	var invalid []string
	for i := range wf.Tasks {
		if err := wf.Tasks[i].Validate(); err != nil {
			invalid = append(invalid, err.Error())
		}
	}
	ok = result.Assert("tasks_well_formed", len(invalid) == 0, "%s", strings.Join(invalid, "; ")) && ok

	dups := executor.DuplicateTaskIDs(wf.Tasks)
	ok = result.Assert("unique_task_ids", len(dups) == 0, "duplicate task ids: %s", strings.Join(dups, ", ")) && ok

	unknown := executor.UnknownDependencies(wf.Tasks)
	ok = result.Assert("known_dependencies", len(unknown) == 0, "%s", formatUnknown(unknown)) && ok

	acyclic := !executor.BuildDependencyGraph(wf.Tasks).HasCycle()
	ok = result.Assert("acyclic", acyclic, "dependency cycle detected") && ok
	return ok
}

func formatUnknown(unknown map[string][]string) string {
	ids := make([]string, 0, len(unknown))
	for id := range unknown {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s -> %s", id, strings.Join(unknown[id], ", ")))
	}
	return "unknown dependencies: " + strings.Join(parts, "; ")
}

// assertMockAgents builds one agent per task that satisfies its requirements
// and checks it passes validation. The returned map assigns each task to its agent.
func (o *Orchestrator) assertMockAgents(ctx context.Context, result *models.TestResult, wf *models.Workflow) map[string]string {
	assignments := mockAssignments(wf)

	var rejected []string
	for _, task := range wf.Tasks {
		agent := validation.NewStaticAgent(assignments[task.ID], task)
		caps := models.NewCapabilitySet(task.RequiredCapabilities...)
		report, _, _ := o.validator.Evaluate(ctx, caps, agent, task)
		if !report.IsValid() {
			rejected = append(rejected, fmt.Sprintf("%s: %v", task.ID, report.Errors))
		}
	}
	result.Assert("mock_agents_valid", len(rejected) == 0, "%s", strings.Join(rejected, "; "))
	return assignments
}
