package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/sentinel/internal/models"
)

// ExecutionLister lists the executions the store recorded for a workflow.
// *storeclient.Client implements it.
type ExecutionLister interface {
	ListExecutions(ctx context.Context, workflowID string) ([]models.Execution, error)
}

// ExecutionFeed fills WorkflowStats from the store's execution history, so
// the application gauges cover workflows run by other processes. It is
// refreshed by the AppCollector on every metrics tick.
type ExecutionFeed struct {
	*WorkflowStats
	lister    ExecutionLister
	workflows []string

	mu   sync.Mutex
	seen map[string]time.Time // execution key -> finish time
}

// NewExecutionFeed creates a feed over the given workflow ids.
func NewExecutionFeed(stats *WorkflowStats, lister ExecutionLister, workflows []string) *ExecutionFeed {
	return &ExecutionFeed{
		WorkflowStats: stats,
		lister:        lister,
		workflows:     append([]string(nil), workflows...),
		seen:          make(map[string]time.Time),
	}
}

// Refresh records every execution inside the window that was not recorded
// before. A workflow whose listing fails is skipped until the next refresh.
func (f *ExecutionFeed) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := f.cutoff()
	for key, finished := range f.seen {
		if finished.Before(cutoff) {
			delete(f.seen, key)
		}
	}

	var errs error
	for _, id := range f.workflows {
		execs, err := f.lister.ListExecutions(ctx, id)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("workflow %s: %w", id, err))
			continue
		}
		for _, e := range execs {
			finished := e.StartedAt.Add(e.Duration)
			if e.StartedAt.IsZero() || finished.Before(cutoff) {
				continue
			}
			key := e.ID
			if key == "" {
				key = id + "@" + e.StartedAt.Format(time.RFC3339Nano)
			}
			if _, ok := f.seen[key]; ok {
				continue
			}
			f.seen[key] = finished
			f.RecordAt(finished, e.Duration, e.Success)
		}
	}
	return errs
}
