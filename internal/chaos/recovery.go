package chaos

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/sentinel/internal/hoststats"
	"github.com/harrison/sentinel/internal/logger"
	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/registry"
)

// RecoveryMonitor observes the system after a fault. Baseline is called
// before injection; AwaitRecovery blocks until the system recovered or ctx
// is done and returns the time elapsed since faultEnd.
type RecoveryMonitor interface {
	Baseline(ctx context.Context, exp models.ChaosExperiment) error
	AwaitRecovery(ctx context.Context, exp models.ChaosExperiment, faultEnd time.Time) (time.Duration, error)
}

// Forgetter is implemented by monitors and probes that keep per-experiment
// state. The controller calls Forget once the experiment is over, whatever
// its outcome.
type Forgetter interface {
	Forget(exp models.ChaosExperiment)
}

// Probe is the recovery predicate for one experiment kind.
type Probe interface {
	Baseline(ctx context.Context, exp models.ChaosExperiment) error
	Recovered(ctx context.Context, exp models.ChaosExperiment, faultEnd time.Time) (bool, error)
}

// DefaultPollInterval is used when the monitor is built with a zero interval.
const DefaultPollInterval = time.Second

// PollingMonitor polls the kind's probe at a fixed interval.
type PollingMonitor struct {
	probes   map[models.ExperimentKind]Probe
	interval time.Duration
	logger   logger.Logger
	now      func() time.Time
}

// NewPollingMonitor creates a monitor dispatching to probes by experiment kind.
func NewPollingMonitor(interval time.Duration, probes map[models.ExperimentKind]Probe, log logger.Logger) *PollingMonitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &PollingMonitor{probes: probes, interval: interval, logger: log, now: time.Now}
}

func (m *PollingMonitor) probe(exp models.ChaosExperiment) (Probe, error) {
	if exp.Type == nil {
		return nil, fmt.Errorf("experiment has no type")
	}
	p, ok := m.probes[exp.Type.Kind()]
	if !ok {
		return nil, fmt.Errorf("no recovery probe for %s", exp.Type.Kind())
	}
	return p, nil
}

// Baseline records pre-fault state in the kind's probe.
func (m *PollingMonitor) Baseline(ctx context.Context, exp models.ChaosExperiment) error {
	p, err := m.probe(exp)
	if err != nil {
		return err
	}
	return p.Baseline(ctx, exp)
}

// AwaitRecovery waits for faultEnd, then checks immediately and on every
// tick. The elapsed time is measured from faultEnd. Probe errors count as not
// yet recovered.
func (m *PollingMonitor) AwaitRecovery(ctx context.Context, exp models.ChaosExperiment, faultEnd time.Time) (time.Duration, error) {
	p, err := m.probe(exp)
	if err != nil {
		return 0, err
	}

	if wait := faultEnd.Sub(m.now()); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		ok, err := p.Recovered(ctx, exp, faultEnd)
		if err != nil {
			m.logger.LogDebug(fmt.Sprintf("experiment %s: recovery probe: %v", exp.ID, err))
		}
		if ok {
			return max(m.now().Sub(faultEnd), 0), nil
		}

		select {
		case <-ctx.Done():
			return max(m.now().Sub(faultEnd), 0), ctx.Err()
		case <-ticker.C:
		}
	}
}

// Forget releases the kind's probe state for exp.
func (m *PollingMonitor) Forget(exp models.ChaosExperiment) {
	p, err := m.probe(exp)
	if err != nil {
		return
	}
	if f, ok := p.(Forgetter); ok {
		f.Forget(exp)
	}
}

// HealthChecker is the store connectivity probe.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ConnectivityProbe counts the system recovered when the store answers /health.
type ConnectivityProbe struct {
	Store HealthChecker
}

func (p ConnectivityProbe) Baseline(context.Context, models.ChaosExperiment) error { return nil }

func (p ConnectivityProbe) Recovered(ctx context.Context, _ models.ChaosExperiment, _ time.Time) (bool, error) {
	if err := p.Store.Health(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ReplacementProbe counts a crash recovered once an agent registered after
// the crash carries the crashed agent's capabilities. A restart under the
// same id qualifies.
type ReplacementProbe struct {
	Registry *registry.Registry

	mu   sync.Mutex
	caps map[string]models.CapabilitySet // by experiment id
}

// NewReplacementProbe creates a probe over the registry.
func NewReplacementProbe(reg *registry.Registry) *ReplacementProbe {
	return &ReplacementProbe{Registry: reg, caps: make(map[string]models.CapabilitySet)}
}

// Baseline captures the capabilities of the agent about to crash.
func (p *ReplacementProbe) Baseline(_ context.Context, exp models.ChaosExperiment) error {
	crash, ok := exp.Type.(models.AgentCrash)
	if !ok {
		return fmt.Errorf("replacement probe needs an agent crash, got %s", exp.Type.Kind())
	}
	caps, ok := p.Registry.Capabilities(crash.Agent)
	if !ok {
		return fmt.Errorf("agent %s is not registered", crash.Agent)
	}
	p.mu.Lock()
	p.caps[exp.ID] = caps
	p.mu.Unlock()
	return nil
}

func (p *ReplacementProbe) Recovered(_ context.Context, exp models.ChaosExperiment, crashedAt time.Time) (bool, error) {
	p.mu.Lock()
	caps, ok := p.caps[exp.ID]
	p.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("no baseline for experiment %s", exp.ID)
	}
	return len(p.Registry.RegisteredSince(crashedAt, caps, "")) > 0, nil
}

// Forget drops the baseline kept for exp.
func (p *ReplacementProbe) Forget(exp models.ChaosExperiment) {
	p.mu.Lock()
	delete(p.caps, exp.ID)
	p.mu.Unlock()
}

// Pending reports how many experiments still hold a baseline.
func (p *ReplacementProbe) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.caps)
}

// ResourceProbe counts exhaustion recovered when the resource's utilization
// drops under Threshold percent.
type ResourceProbe struct {
	Sampler   hoststats.Sampler
	Threshold float64
}

func (p ResourceProbe) Baseline(context.Context, models.ChaosExperiment) error { return nil }

func (p ResourceProbe) Recovered(ctx context.Context, exp models.ChaosExperiment, _ time.Time) (bool, error) {
	re, ok := exp.Type.(models.ResourceExhaustion)
	if !ok {
		return false, fmt.Errorf("resource probe needs resource exhaustion, got %s", exp.Type.Kind())
	}
	v, err := p.Sampler.Resource(ctx, re.Resource)
	if err != nil {
		return false, err
	}
	return v < p.Threshold, nil
}

// DefaultProbes wires the standard predicate for every experiment kind.
func DefaultProbes(store HealthChecker, reg *registry.Registry, sampler hoststats.Sampler, threshold float64) map[models.ExperimentKind]Probe {
	connectivity := ConnectivityProbe{Store: store}
	return map[models.ExperimentKind]Probe{
		models.KindNetworkFailure:     connectivity,
		models.KindStoreFailure:       connectivity,
		models.KindMessageLoss:        connectivity,
		models.KindAgentCrash:         NewReplacementProbe(reg),
		models.KindResourceExhaustion: ResourceProbe{Sampler: sampler, Threshold: threshold},
	}
}
