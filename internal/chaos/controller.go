// Package chaos injects faults and measures how long the system takes to
// recover.
//
// Every experiment walks Created -> Injecting -> Monitoring -> Completed ->
// Reported. A failed injection aborts the experiment and nothing is
// persisted. Recovery is timed from the end of the fault: for a timed fault
// that is the later of Inject returning and the injection start plus the
// experiment duration; an agent crash ends when Inject returns. The
// monitoring phase is bounded by RecoveryTimeout past that point; on expiry
// the experiment completes with a recovery_timed_out outcome, is persisted,
// and ErrRecoveryTimedOut is returned with the result. Experiments on the
// same target exclude each other.
package chaos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/sentinel/internal/filelock"
	"github.com/harrison/sentinel/internal/logger"
	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/reporter"
	"github.com/harrison/sentinel/internal/telemetry"
)

// Options bounds an experiment.
type Options struct {
	RecoveryTimeout time.Duration // bounded wait for recovery
	SLA             time.Duration // recovery time under which an experiment succeeds
	DefaultDuration time.Duration // fault duration when none is given
	RevertTimeout   time.Duration // bound on the revert command
	LockDir         string        // flock directory; empty keeps locks in-process
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		RecoveryTimeout: 5 * time.Minute,
		SLA:             models.DefaultRecoverySLA,
		DefaultDuration: 10 * time.Second,
		RevertTimeout:   30 * time.Second,
	}
}

// Controller runs chaos experiments.
type Controller struct {
	injector Injector
	monitor  RecoveryMonitor
	reporter reporter.Reporter
	locks    *filelock.KeyedLocks
	opts     Options
	logger   logger.Logger
	now      func() time.Time
}

// NewController creates a controller. rep and log may be nil.
func NewController(inj Injector, mon RecoveryMonitor, rep reporter.Reporter, opts Options, log logger.Logger) *Controller {
	defaults := DefaultOptions()
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = defaults.RecoveryTimeout
	}
	if opts.SLA <= 0 {
		opts.SLA = defaults.SLA
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = defaults.DefaultDuration
	}
	if opts.RevertTimeout <= 0 {
		opts.RevertTimeout = defaults.RevertTimeout
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Controller{
		injector: inj,
		monitor:  mon,
		reporter: rep,
		locks:    filelock.NewKeyedLocks(opts.LockDir),
		opts:     opts,
		logger:   log,
		now:      time.Now,
	}
}

// InjectNetworkFailure cuts connectivity for duration and waits for the store to be reachable again.
func (c *Controller) InjectNetworkFailure(ctx context.Context, duration time.Duration) (models.ChaosExperimentResult, error) {
	return c.Run(ctx, models.NetworkFailure{}, duration)
}

// InjectAgentCrash kills the agent and waits for a replacement registration.
func (c *Controller) InjectAgentCrash(ctx context.Context, agentID string) (models.ChaosExperimentResult, error) {
	if agentID == "" {
		return models.ChaosExperimentResult{}, fmt.Errorf("agent id is required")
	}
	return c.Run(ctx, models.AgentCrash{Agent: agentID}, 0)
}

// InjectResourceExhaustion saturates the resource and waits for utilization to drop.
func (c *Controller) InjectResourceExhaustion(ctx context.Context, resource models.ResourceKind) (models.ChaosExperimentResult, error) {
	typ, err := models.ParseExperimentType(models.KindResourceExhaustion, "", resource, 0)
	if err != nil {
		return models.ChaosExperimentResult{}, err
	}
	return c.Run(ctx, typ, 0)
}

// Run executes one experiment of any type. A zero duration uses the default.
func (c *Controller) Run(ctx context.Context, typ models.ExperimentType, duration time.Duration) (models.ChaosExperimentResult, error) {
	if typ == nil {
		return models.ChaosExperimentResult{}, fmt.Errorf("experiment type is required")
	}
	if c.injector == nil || c.monitor == nil {
		return models.ChaosExperimentResult{}, fmt.Errorf("chaos controller needs an injector and a recovery monitor")
	}
	if duration <= 0 {
		duration = c.opts.DefaultDuration
	}

	release, err := c.locks.TryAcquire(typ.Target())
	if err != nil {
		if errors.Is(err, filelock.ErrLocked) {
			return models.ChaosExperimentResult{}, fmt.Errorf("%s: %w", typ.Target(), ErrTargetBusy)
		}
		return models.ChaosExperimentResult{}, err
	}
	defer func() {
		if err := release(); err != nil {
			c.logger.LogWarn(fmt.Sprintf("release chaos lock %s: %v", typ.Target(), err))
		}
	}()

	exp := models.ChaosExperiment{
		ID:        uuid.NewString(),
		Type:      typ,
		Duration:  duration,
		StartedAt: c.now(),
		State:     models.StateCreated,
	}
	c.logger.LogInfo(fmt.Sprintf("experiment %s: %s on %s for %v", exp.ID, typ.Kind(), typ.Target(), duration))
	if f, ok := c.monitor.(Forgetter); ok {
		defer f.Forget(exp)
	}

	if err := exp.Transition(models.StateInjecting); err != nil {
		return models.ChaosExperimentResult{}, err
	}
	injectStart := c.now()
	if err := c.inject(ctx, exp); err != nil {
		if terr := exp.Transition(models.StateAborted); terr != nil {
			return models.ChaosExperimentResult{}, terr
		}
		telemetry.RecordExperiment(string(typ.Kind()), models.StateAborted.String(), 0)
		failure := NewInjectionFailed(exp, err)
		c.logger.LogError(failure.Error())
		return models.ChaosExperimentResult{Experiment: exp}, failure
	}
	faultEnd := c.now()
	if _, crash := typ.(models.AgentCrash); !crash {
		if end := injectStart.Add(duration); end.After(faultEnd) {
			faultEnd = end
		}
	}

	if err := exp.Transition(models.StateMonitoring); err != nil {
		return models.ChaosExperimentResult{}, err
	}
	recovery, outcome, err := c.awaitRecovery(ctx, exp, faultEnd)
	c.revert(ctx, exp)
	if err != nil {
		return models.ChaosExperimentResult{Experiment: exp}, err
	}

	if err := exp.Transition(models.StateCompleted); err != nil {
		return models.ChaosExperimentResult{}, err
	}
	result := models.ChaosExperimentResult{
		Experiment:   exp,
		RecoveryTime: recovery,
		Outcome:      outcome,
		SLA:          c.opts.SLA,
		CompletedAt:  c.now(),
	}

	telemetry.RecordExperiment(string(typ.Kind()), string(outcome), recovery)
	if !result.Success() {
		telemetry.RecordSLABreach(telemetry.SLAChaosRecovery)
	}
	c.logger.LogExperiment(result)

	var timedOut error
	if outcome == models.OutcomeTimedOut {
		timedOut = fmt.Errorf("experiment %s after %v: %w", exp.ID, c.opts.RecoveryTimeout, ErrRecoveryTimedOut)
	}

	if c.reporter != nil {
		if err := c.reporter.ReportExperiment(ctx, result); err != nil {
			return result, errors.Join(timedOut, err)
		}
	}
	if err := exp.Transition(models.StateReported); err != nil {
		return result, err
	}
	result.Experiment = exp
	return result, timedOut
}

// inject records the baseline and applies the fault; either failing aborts.
func (c *Controller) inject(ctx context.Context, exp models.ChaosExperiment) error {
	if err := c.monitor.Baseline(ctx, exp); err != nil {
		return fmt.Errorf("baseline: %w", err)
	}
	return c.injector.Inject(ctx, exp)
}

// awaitRecovery waits up to RecoveryTimeout past faultEnd. Expiry of the
// bounded wait is an outcome; cancellation of the caller's context is an error.
func (c *Controller) awaitRecovery(ctx context.Context, exp models.ChaosExperiment, faultEnd time.Time) (time.Duration, models.RecoveryOutcome, error) {
	waitCtx, cancel := context.WithDeadline(ctx, faultEnd.Add(c.opts.RecoveryTimeout))
	defer cancel()

	recovery, err := c.monitor.AwaitRecovery(waitCtx, exp, faultEnd)
	switch {
	case err == nil:
		return recovery, models.OutcomeRecovered, nil
	case ctx.Err() != nil:
		return 0, "", fmt.Errorf("experiment %s interrupted while monitoring: %w", exp.ID, ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		if recovery < c.opts.RecoveryTimeout {
			recovery = c.opts.RecoveryTimeout
		}
		return recovery, models.OutcomeTimedOut, nil
	default:
		return 0, "", fmt.Errorf("experiment %s: recovery monitor: %w", exp.ID, err)
	}
}

// revert undoes the fault when the injector supports it. It runs even after
// the caller's context is cancelled.
func (c *Controller) revert(ctx context.Context, exp models.ChaosExperiment) {
	r, ok := c.injector.(Reverter)
	if !ok {
		return
	}
	revertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RevertTimeout)
	defer cancel()
	if err := r.Revert(revertCtx, exp); err != nil {
		c.logger.LogWarn(fmt.Sprintf("experiment %s: revert %s: %v", exp.ID, exp.Type.Kind(), err))
	}
}
