package agentprobe

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/harrison/sentinel/internal/logger"
	"github.com/harrison/sentinel/internal/registry"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentPings = 8

// Watcher re-registers agents as they come back. Every interval it
// re-reads the declarations and pings each agent; an agent that answers
// after having been down, or that was newly declared, is registered again,
// which stamps a fresh registration time. A restart faster than one
// interval is not observed.
type Watcher struct {
	Dir      string
	Registry *registry.Registry
	Client   *http.Client
	Interval time.Duration
	Logger   logger.Logger

	mu sync.Mutex
	up map[string]bool
}

// NewWatcher creates a watcher over the declarations in dir
func NewWatcher(dir string, reg *registry.Registry, client *http.Client, interval time.Duration, log logger.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Watcher{Dir: dir, Registry: reg, Client: client, Interval: interval, Logger: log, up: make(map[string]bool)}
}

// Run polls until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	// agents registered before the watcher started count as up
	w.mu.Lock()
	for _, rec := range w.Registry.Snapshot() {
		w.up[rec.ID] = true
	}
	w.mu.Unlock()

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		w.Poll(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll runs one pass and returns the ids it registered
func (w *Watcher) Poll(ctx context.Context) []string {
	decls, problems, err := registry.Discover(w.Dir)
	if err != nil {
		w.Logger.LogWarn(fmt.Sprintf("agent watch: %v", err))
		return nil
	}
	for _, p := range problems {
		w.Logger.LogDebug(fmt.Sprintf("agent watch: %v", p))
	}

	// ping without holding mu so Up never waits on a slow agent
	pingErrs := make([]error, len(decls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPings)
	for i, d := range decls {
		g.Go(func() error {
			_, pingErrs[i] = New(d, w.Client).Ping(gctx)
			return nil
		})
	}
	g.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	var registered []string
	for i, d := range decls {
		wasUp, known := w.up[d.ID]
		if err := pingErrs[i]; err != nil {
			if wasUp {
				w.Logger.LogInfo(fmt.Sprintf("agent %s stopped answering: %v", d.ID, err))
			}
			w.up[d.ID] = false
			continue
		}
		if known && wasUp {
			continue
		}
		w.Registry.Put(d.Record())
		w.up[d.ID] = true
		registered = append(registered, d.ID)
		w.Logger.LogInfo(fmt.Sprintf("agent %s registered with capabilities %v", d.ID, d.Capabilities.Set().List()))
	}
	return registered
}

// Up returns how many agents answered their last ping
func (w *Watcher) Up() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, up := range w.up {
		if up {
			n++
		}
	}
	return n
}
