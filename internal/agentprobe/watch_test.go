package agentprobe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDecl(t *testing.T, dir, id, endpoint string) {
	t.Helper()
	body := fmt.Sprintf("id: %s\nendpoint: %s\ncapabilities: compile, test\n", id, endpoint)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".yaml"), []byte(body), 0644))
}

func TestWatcherReRegistersRestartedAgent(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeDecl(t, dir, "builder", srv.URL)

	reg := registry.New()
	w := NewWatcher(dir, reg, nil, time.Millisecond, nil)
	ctx := context.Background()

	assert.Equal(t, []string{"builder"}, w.Poll(ctx), "first sighting registers")
	first, ok := reg.Get("builder")
	require.True(t, ok)
	assert.Empty(t, w.Poll(ctx), "an agent that stays up is not re-registered")

	healthy.Store(false)
	assert.Empty(t, w.Poll(ctx))

	time.Sleep(2 * time.Millisecond)
	healthy.Store(true)
	assert.Equal(t, []string{"builder"}, w.Poll(ctx))

	again, _ := reg.Get("builder")
	assert.True(t, again.RegisteredAt.After(first.RegisteredAt))

	caps := models.NewCapabilitySet("compile")
	assert.Len(t, reg.RegisteredSince(first.RegisteredAt.Add(time.Nanosecond), caps, ""), 1)
}

func TestWatcherPicksUpNewDeclarations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	dir := t.TempDir()
	reg := registry.New()
	reg.Register("old", models.NewCapabilitySet("compile"))

	w := NewWatcher(dir, reg, nil, time.Millisecond, nil)
	w.up["old"] = true

	writeDecl(t, dir, "replacement", srv.URL)
	assert.Equal(t, []string{"replacement"}, w.Poll(context.Background()))
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, 2, w.Up())
}

func TestWatcherRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := NewWatcher(t.TempDir(), registry.New(), nil, 5*time.Millisecond, nil).Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUpDoesNotWaitForSlowPing(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}))
	defer slow.Close()
	defer close(release)

	dir := t.TempDir()
	writeDecl(t, dir, "slow", slow.URL)
	reg := registry.New()
	reg.Register("steady", models.NewCapabilitySet("compile"))

	w := NewWatcher(dir, reg, nil, time.Second, nil)
	w.up["steady"] = true

	polled := make(chan []string, 1)
	go func() { polled <- w.Poll(context.Background()) }()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("poll never reached the agent")
	}

	start := time.Now()
	assert.Equal(t, 1, w.Up())
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Up must not block behind an in-flight ping")

	release <- struct{}{}
	assert.Equal(t, []string{"slow"}, <-polled)
	assert.Equal(t, 2, w.Up())
}
