package testrun

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/harrison/sentinel/internal/models"
)

// RunProperties checks idempotency, determinism, resource bounds and timeout
// compliance. Each property yields one result with one assertion. Resource
// bounds and timeout compliance are judged over every execution made for
// the first two properties.
func (o *Orchestrator) RunProperties(ctx context.Context, wf *models.Workflow) ([]models.TestResult, error) {
	schedule, err := o.schedule(wf, mockAssignments(wf), "")
	if err != nil {
		// an unschedulable workflow fails every property the same way
		var results []models.TestResult
		for _, name := range []string{TestIdempotency, TestDeterminism, TestResources, TestTimeout} {
			r := models.NewTestResult(name, models.KindProperty, wf.ID)
			r.Assert(strings.TrimPrefix(name, "property_"), false, "workflow cannot be scheduled: %v", err)
			if ferr := o.finish(ctx, r); ferr != nil {
				return append(results, *r), ferr
			}
			results = append(results, *r)
		}
		return results, nil
	}

	idem := models.NewTestResult(TestIdempotency, models.KindProperty, wf.ID)
	first, err := o.runSequential(ctx, TestIdempotency, wf, schedule, 2)
	if err != nil {
		return nil, err
	}
	diff := diffOutputs(first[0].TaskResults, first[1].TaskResults)
	idem.Assert("idempotent", len(diff) == 0, "results differ between runs for: %s", strings.Join(diff, ", "))

	det := models.NewTestResult(TestDeterminism, models.KindProperty, wf.ID)
	runs, err := o.runDeterminism(ctx, wf, schedule)
	if err != nil {
		return nil, err
	}
	var unstable []string
	for i := 1; i < len(runs); i++ {
		if d := diffOutputs(runs[i-1].TaskResults, runs[i].TaskResults); len(d) > 0 {
			unstable = append(unstable, fmt.Sprintf("runs %d/%d: %s", i, i+1, strings.Join(d, ", ")))
		}
	}
	det.Assert("deterministic", len(unstable) == 0, "%s", strings.Join(unstable, "; "))

	all := append(first, runs...)

	res := models.NewTestResult(TestResources, models.KindProperty, wf.ID)
	over := resourceViolations(wf, all)
	res.Assert("within_requirements", len(over) == 0, "%s", strings.Join(over, "; "))

	tmo := models.NewTestResult(TestTimeout, models.KindProperty, wf.ID)
	if wf.Timeout > 0 {
		slowest := all[0].Duration
		for _, r := range all[1:] {
			if r.Duration > slowest {
				slowest = r.Duration
			}
		}
		tmo.Assert("within_timeout", slowest <= wf.Timeout, "slowest run took %v, timeout is %v", slowest, wf.Timeout)
	} else {
		tmo.Assert("within_timeout", true, "")
	}

	results := make([]models.TestResult, 0, 4)
	for _, r := range []*models.TestResult{idem, det, res, tmo} {
		if err := o.finish(ctx, r); err != nil {
			return append(results, *r), err
		}
		results = append(results, *r)
	}
	return results, nil
}

func (o *Orchestrator) runSequential(ctx context.Context, test string, wf *models.Workflow, schedule models.Schedule, n int) ([]models.ExecutionResult, error) {
	out := make([]models.ExecutionResult, 0, n)
	for i := 0; i < n; i++ {
		r, err := o.execute(ctx, test, wf, schedule)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// runDeterminism executes DeterminismRuns times with up to ParallelRuns in
// flight. Results keep run order.
func (o *Orchestrator) runDeterminism(ctx context.Context, wf *models.Workflow, schedule models.Schedule) ([]models.ExecutionResult, error) {
	if o.opts.ParallelRuns <= 1 {
		return o.runSequential(ctx, TestDeterminism, wf, schedule, o.opts.DeterminismRuns)
	}

	out := make([]models.ExecutionResult, o.opts.DeterminismRuns)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.ParallelRuns)
	for i := range out {
		g.Go(func() error {
			r, err := o.execute(gctx, TestDeterminism, wf, schedule)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// diffOutputs returns the sorted task ids whose outputs differ or that are
// present in only one map.
func diffOutputs(a, b map[string]models.TaskOutput) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var diff []string
	for id, out := range a {
		seen[id] = true
		if other, ok := b[id]; !ok || other != out {
			diff = append(diff, id)
		}
	}
	for id := range b {
		if !seen[id] {
			diff = append(diff, id)
		}
	}
	sort.Strings(diff)
	return diff
}

// resourceViolations compares measured usage with each task's declared
// requirements. A zero requirement leaves that dimension unbounded.
func resourceViolations(wf *models.Workflow, runs []models.ExecutionResult) []string {
	var out []string
	for _, task := range wf.Tasks {
		var peakCPU float64
		var peakMem int64
		for _, r := range runs {
			u := r.Usage[task.ID]
			if u.CPUCores > peakCPU {
				peakCPU = u.CPUCores
			}
			if u.MemoryMB > peakMem {
				peakMem = u.MemoryMB
			}
		}
		req := task.Requirements
		if req.CPUCores > 0 && peakCPU > float64(req.CPUCores) {
			out = append(out, fmt.Sprintf("%s used %.2f cores, declared %d", task.ID, peakCPU, req.CPUCores))
		}
		if req.MemoryMB > 0 && peakMem > req.MemoryMB {
			out = append(out, fmt.Sprintf("%s used %d MB, declared %d", task.ID, peakMem, req.MemoryMB))
		}
	}
	return out
}
