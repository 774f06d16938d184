package reporter

import (
	"context"
	"errors"
	"fmt"

	"github.com/harrison/sentinel/internal/storeclient"
	"github.com/harrison/sentinel/internal/telemetry"
)

// DrainStats summarizes one Drain pass.
type DrainStats struct {
	Delivered int
	Failed    int
	Buried    int
	Remaining int
}

// ErrNoOutbox is returned by Drain when no spool is configured.
var ErrNoOutbox = errors.New("no outbox configured")

// Drain replays spooled records oldest first, paced by the drain rate limiter.
// A retryable failure stops the pass so a down store is not hammered;
// rejected (4xx) records and records past MaxAttempts are buried.
func (r *RetryingReporter) Drain(ctx context.Context, limit int) (DrainStats, error) {
	var stats DrainStats
	if r.outbox == nil {
		return stats, ErrNoOutbox
	}
	if r.sender == nil {
		return stats, errors.New("no store configured")
	}

	records, err := r.outbox.Pending(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("load outbox: %w", err)
	}

	for _, rec := range records {
		if err := r.limiter.Wait(ctx); err != nil {
			break
		}

		sendErr := r.sender.Send(ctx, rec.Method, rec.Endpoint, rec.Payload)
		if sendErr == nil {
			if err := r.outbox.Delete(ctx, rec.ID); err != nil {
				return stats, err
			}
			stats.Delivered++
			telemetry.RecordDelivery(rec.Endpoint, telemetry.DeliveryReplayed)
			continue
		}

		stats.Failed++
		if !storeclient.Retryable(sendErr) || rec.Attempts+1 >= r.opts.MaxAttempts {
			if err := r.outbox.Bury(ctx, rec.ID); err != nil {
				return stats, err
			}
			stats.Buried++
			telemetry.RecordDelivery(rec.Endpoint, telemetry.DeliveryBuried)
			r.logger.LogWarn(fmt.Sprintf("outbox record %d (%s %s) buried: %v", rec.ID, rec.Method, rec.Endpoint, sendErr))
			continue
		}

		if err := r.outbox.MarkFailed(ctx, rec.ID, sendErr.Error()); err != nil {
			return stats, err
		}
		r.logger.LogDebug(fmt.Sprintf("outbox drain paused at record %d: %v", rec.ID, sendErr))
		break
	}

	if n, err := r.outbox.Count(ctx); err == nil {
		stats.Remaining = n
		telemetry.SetSpoolDepth(n)
	}
	return stats, nil
}
