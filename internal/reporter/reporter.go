// Package reporter delivers sentinel results to the store.
//
// At-least-once records are retried with exponential backoff and, if they
// still fail, written to the spool and replayed later by Drain. At-most-once
// records (monitoring ticks) get a single attempt and are dropped on failure.
package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/harrison/sentinel/internal/logger"
	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/spool"
	"github.com/harrison/sentinel/internal/storeclient"
	"github.com/harrison/sentinel/internal/telemetry"
	"golang.org/x/time/rate"
)

// Episode types
const (
	EpisodeValidation   = "validation"
	EpisodeRegistration = "registration"
)

// Policy decides what happens to a record whose delivery failed
type Policy int

const (
	// AtLeastOnce spools the record for replay
	AtLeastOnce Policy = iota
	// AtMostOnce drops the record
	AtMostOnce
)

func (p Policy) String() string {
	if p == AtMostOnce {
		return "at-most-once"
	}
	return "at-least-once"
}

// Reporter persists results. Every method returns *ReportingFailure when
// delivery did not succeed.
type Reporter interface {
	ReportRegistration(ctx context.Context, rec models.AgentRecord) error
	ReportValidation(ctx context.Context, report models.ValidationReport) error
	ReportTestResult(ctx context.Context, result models.TestResult) error
	ReportExperiment(ctx context.Context, result models.ChaosExperimentResult) error
	ReportMetrics(ctx context.Context, points []models.MetricPoint) error
	ReportLogs(ctx context.Context, records []models.LogRecord) error
	ReportAlert(ctx context.Context, alert models.Alert) error
}

// Sender issues one store request with an encoded payload
type Sender interface {
	Send(ctx context.Context, method, path string, payload []byte) error
}

// Outbox is the durable spool used for at-least-once records
type Outbox interface {
	Enqueue(ctx context.Context, method, endpoint string, payload []byte) (int64, error)
	Pending(ctx context.Context, limit int) ([]spool.Record, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, cause string) error
	Bury(ctx context.Context, id int64) error
}

// Options tunes delivery
type Options struct {
	MaxRetries  int           // retries after the first attempt
	Backoff     time.Duration // initial backoff
	MaxBackoff  time.Duration // backoff cap
	DrainRate   float64       // replayed records per second
	DrainBurst  int
	MaxAttempts int // replay attempts before a record is buried
}

// DefaultOptions mirrors the config defaults
func DefaultOptions() Options {
	return Options{
		MaxRetries:  3,
		Backoff:     200 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		DrainRate:   20,
		DrainBurst:  5,
		MaxAttempts: 50,
	}
}

// RetryingReporter is the store-backed Reporter
type RetryingReporter struct {
	sender  Sender
	outbox  Outbox
	opts    Options
	logger  logger.Logger
	limiter *rate.Limiter
	now     func() time.Time
}

// New creates a reporter. outbox may be nil, in which case at-least-once
// records that fail are reported but not spooled. log may be nil.
func New(sender Sender, outbox Outbox, opts Options, log logger.Logger) *RetryingReporter {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultOptions().Backoff
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = opts.Backoff
	}
	if opts.DrainRate <= 0 {
		opts.DrainRate = DefaultOptions().DrainRate
	}
	if opts.DrainBurst <= 0 {
		opts.DrainBurst = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	return &RetryingReporter{
		sender:  sender,
		outbox:  outbox,
		opts:    opts,
		logger:  log,
		limiter: rate.NewLimiter(rate.Limit(opts.DrainRate), opts.DrainBurst),
		now:     time.Now,
	}
}

type registrationPayload struct {
	Agent        models.AgentRecord  `json:"agent"`
	Capabilities []models.Capability `json:"capabilities"`
}

// ReportRegistration stores a registration episode
func (r *RetryingReporter) ReportRegistration(ctx context.Context, rec models.AgentRecord) error {
	payload, err := json.Marshal(registrationPayload{Agent: rec, Capabilities: rec.Capabilities.List()})
	if err != nil {
		return r.encodeFailure(storeclient.PathEpisodes, err)
	}
	ep := storeclient.Episode{
		Type:      EpisodeRegistration,
		AgentID:   rec.ID,
		Outcome:   "registered",
		Success:   true,
		Payload:   payload,
		CreatedAt: r.now().UTC(),
	}
	return r.deliver(ctx, http.MethodPost, storeclient.PathEpisodes, ep, AtLeastOnce)
}

// ReportValidation stores a validation episode
func (r *RetryingReporter) ReportValidation(ctx context.Context, report models.ValidationReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return r.encodeFailure(storeclient.PathEpisodes, err)
	}
	outcome := "invalid"
	if report.IsValid() {
		outcome = "valid"
	}
	ep := storeclient.Episode{
		Type:      EpisodeValidation,
		AgentID:   report.AgentID,
		TaskID:    report.TaskID,
		Outcome:   outcome,
		Success:   report.IsValid(),
		Payload:   payload,
		CreatedAt: r.now().UTC(),
	}
	return r.deliver(ctx, http.MethodPost, storeclient.PathEpisodes, ep, AtLeastOnce)
}

// ReportTestResult stores a test result
func (r *RetryingReporter) ReportTestResult(ctx context.Context, result models.TestResult) error {
	return r.deliver(ctx, http.MethodPost, storeclient.PathTestResults, result, AtLeastOnce)
}

// ReportExperiment stores a chaos experiment result
func (r *RetryingReporter) ReportExperiment(ctx context.Context, result models.ChaosExperimentResult) error {
	return r.deliver(ctx, http.MethodPost, storeclient.PathTestResults, result, AtLeastOnce)
}

// ReportMetrics stores a metrics batch; failed batches are dropped
func (r *RetryingReporter) ReportMetrics(ctx context.Context, points []models.MetricPoint) error {
	return r.deliver(ctx, http.MethodPost, storeclient.PathMetricsBatch, points, AtMostOnce)
}

// ReportLogs stores a log batch; failed batches are dropped
func (r *RetryingReporter) ReportLogs(ctx context.Context, records []models.LogRecord) error {
	return r.deliver(ctx, http.MethodPost, storeclient.PathLogs, records, AtMostOnce)
}

// ReportAlert stores an alert
func (r *RetryingReporter) ReportAlert(ctx context.Context, alert models.Alert) error {
	return r.deliver(ctx, http.MethodPost, storeclient.PathAlerts, alert, AtLeastOnce)
}

func (r *RetryingReporter) encodeFailure(endpoint string, err error) error {
	telemetry.RecordDelivery(endpoint, telemetry.DeliveryDropped)
	return &ReportingFailure{Endpoint: endpoint, Err: fmt.Errorf("encode payload: %w", err)}
}

func (r *RetryingReporter) deliver(ctx context.Context, method, endpoint string, body any, policy Policy) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return r.encodeFailure(endpoint, err)
	}

	tries := r.opts.MaxRetries + 1
	if policy == AtMostOnce {
		// a dropped record is not worth holding the caller for
		tries = 1
	}
	attempts, err := r.send(ctx, method, endpoint, payload, tries)
	if err == nil {
		telemetry.RecordDelivery(endpoint, telemetry.DeliveryDelivered)
		return nil
	}

	failure := &ReportingFailure{Endpoint: endpoint, Attempts: attempts, Err: err}
	if policy == AtLeastOnce && r.outbox != nil && spoolable(err) {
		// the caller's context may already be done; the spool write must still happen
		spoolCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, serr := r.outbox.Enqueue(spoolCtx, method, endpoint, payload); serr != nil {
			r.logger.LogError(fmt.Sprintf("spool %s %s failed: %v", method, endpoint, serr))
			failure.Err = errors.Join(err, serr)
		} else {
			failure.Spooled = true
			r.publishDepth(spoolCtx)
		}
	}

	result := telemetry.DeliveryDropped
	if failure.Spooled {
		result = telemetry.DeliverySpooled
	}
	telemetry.RecordDelivery(endpoint, result)
	r.logger.LogWarn(fmt.Sprintf("report %s %s (%s): %v", method, endpoint, policy, failure))
	return failure
}

// send makes up to tries attempts, retrying only retryable errors
func (r *RetryingReporter) send(ctx context.Context, method, endpoint string, payload []byte, tries int) (int, error) {
	if r.sender == nil {
		return 0, errors.New("no store configured")
	}

	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		err := r.sender.Send(ctx, method, endpoint, payload)
		if err != nil && !storeclient.Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.opts.Backoff,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         r.opts.MaxBackoff,
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(tries)),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return attempts, err
}

// spoolable reports whether a failed at-least-once record goes to the outbox.
// Rejected records (4xx) would fail again on replay.
func spoolable(err error) bool {
	return storeclient.Retryable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (r *RetryingReporter) publishDepth(ctx context.Context) {
	if n, err := r.outbox.Count(ctx); err == nil {
		telemetry.SetSpoolDepth(n)
	}
}
