// Package agentprobe talks to a running agent over its health API so the
// validation gate can check it.
package agentprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/registry"
)

// Agent health API paths.
const (
	PathHealth    = "/health"
	PathResources = "/resources"
)

// HTTPAgent is a validation.Agent backed by an agent's HTTP health API.
// Until Refresh succeeds the snapshot is the declared capacity with no load.
type HTTPAgent struct {
	decl   registry.Declaration
	client *http.Client
	now    func() time.Time

	mu   sync.RWMutex
	snap models.ResourceSnapshot
}

// New creates a probe for a declared agent. A nil client uses http.DefaultClient.
func New(decl registry.Declaration, client *http.Client) *HTTPAgent {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAgent{
		decl:   decl,
		client: client,
		now:    time.Now,
		snap:   models.ResourceSnapshot{Available: decl.Resources},
	}
}

func (a *HTTPAgent) ID() string { return a.decl.ID }

// Endpoint returns the agent's base URL.
func (a *HTTPAgent) Endpoint() string {
	return strings.TrimRight(a.decl.Endpoint, "/")
}

// Ping issues GET /health and returns the round-trip latency. Any non-2xx
// status is a failed ping.
func (a *HTTPAgent) Ping(ctx context.Context) (time.Duration, error) {
	start := a.now()
	resp, err := a.get(ctx, PathHealth)
	latency := a.now().Sub(start)
	if err != nil {
		return latency, err
	}
	resp.Body.Close()
	return latency, nil
}

// HasDependency reports whether the declaration lists the dependency.
func (a *HTTPAgent) HasDependency(name string) bool {
	return a.decl.HasDependency(name)
}

// Snapshot returns the last known resources and load.
func (a *HTTPAgent) Snapshot() models.ResourceSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

// Refresh fetches GET /resources. Fields the agent omits keep their
// declared values.
func (a *HTTPAgent) Refresh(ctx context.Context) (models.ResourceSnapshot, error) {
	resp, err := a.get(ctx, PathResources)
	if err != nil {
		return a.Snapshot(), err
	}
	defer resp.Body.Close()

	var reported models.ResourceSnapshot
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&reported); err != nil {
		return a.Snapshot(), fmt.Errorf("agent %s: decode resources: %w", a.decl.ID, err)
	}
	if reported.Available.CPUCores == 0 {
		reported.Available.CPUCores = a.decl.Resources.CPUCores
	}
	if reported.Available.MemoryMB == 0 {
		reported.Available.MemoryMB = a.decl.Resources.MemoryMB
	}

	a.mu.Lock()
	a.snap = reported
	a.mu.Unlock()
	return reported, nil
}

func (a *HTTPAgent) get(ctx context.Context, path string) (*http.Response, error) {
	if a.decl.Endpoint == "" {
		return nil, fmt.Errorf("agent %s has no endpoint", a.decl.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.Endpoint()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.decl.ID, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.decl.ID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("agent %s: GET %s returned %d", a.decl.ID, path, resp.StatusCode)
	}
	return resp, nil
}
