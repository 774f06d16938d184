package agentprobe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/registry"
	"github.com/harrison/sentinel/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ validation.Agent = (*HTTPAgent)(nil)

func agentServer(t *testing.T, healthStatus int, resources string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(PathHealth, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(healthStatus)
	})
	mux.HandleFunc(PathResources, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(resources))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPing(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"healthy", http.StatusOK, false},
		{"no content", http.StatusNoContent, false},
		{"unhealthy", http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := agentServer(t, tt.status, `{}`)
			agent := New(registry.Declaration{ID: "a1", Endpoint: srv.URL + "/"}, nil)

			latency, err := agent.Ping(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Greater(t, latency, time.Duration(0))
		})
	}
}

func TestPingWithoutEndpoint(t *testing.T) {
	_, err := New(registry.Declaration{ID: "a1"}, nil).Ping(context.Background())
	assert.ErrorContains(t, err, "no endpoint")
}

func TestPingHonorsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(registry.Declaration{ID: "a1", Endpoint: srv.URL}, nil).Ping(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSnapshotAndRefresh(t *testing.T) {
	srv := agentServer(t, http.StatusOK, `{"available":{"cpu_cores":8},"utilization":{"cpu_percent":42.5,"memory_percent":60}}`)
	decl := registry.Declaration{
		ID:           "builder",
		Endpoint:     srv.URL,
		Resources:    models.Resources{CPUCores: 4, MemoryMB: 8192},
		Dependencies: []string{"go"},
	}
	agent := New(decl, nil)

	assert.Equal(t, models.ResourceSnapshot{Available: decl.Resources}, agent.Snapshot())
	assert.True(t, agent.HasDependency("go"))
	assert.False(t, agent.HasDependency("docker"))

	snap, err := agent.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, snap.Available.CPUCores)
	assert.Equal(t, int64(8192), snap.Available.MemoryMB, "omitted fields keep declared values")
	assert.Equal(t, 42.5, snap.Utilization.CPUPercent)
	assert.Equal(t, snap, agent.Snapshot())
}

func TestRefreshBadBodyKeepsSnapshot(t *testing.T) {
	srv := agentServer(t, http.StatusOK, `not json`)
	decl := registry.Declaration{ID: "a1", Endpoint: srv.URL, Resources: models.Resources{CPUCores: 2}}
	agent := New(decl, nil)

	snap, err := agent.Refresh(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 2, snap.Available.CPUCores)
}

func TestValidatesThroughEngine(t *testing.T) {
	srv := agentServer(t, http.StatusOK, `{"utilization":{"cpu_percent":95}}`)
	decl := registry.Declaration{ID: "builder", Endpoint: srv.URL, Resources: models.Resources{CPUCores: 4}}
	agent := New(decl, nil)
	_, err := agent.Refresh(context.Background())
	require.NoError(t, err)

	engine := validation.NewEngine(nil, nil, validation.DefaultOptions(), nil)
	_, err = engine.RegisterAgent(context.Background(), decl.ID, models.NewCapabilitySet("compile"))
	require.NoError(t, err)

	report, err := engine.ValidateAgent(context.Background(), agent, models.Task{
		ID:                   "build",
		RequiredCapabilities: []models.Capability{"compile"},
		Requirements:         models.Resources{CPUCores: 2},
	})
	require.NoError(t, err)
	assert.True(t, report.IsValid())
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, models.CodeUnhealthyAgent, report.Warnings[0].Code())
}
