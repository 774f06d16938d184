package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harrison/sentinel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterReplacesCapabilities(t *testing.T) {
	r := New()
	r.Register("a1", models.NewCapabilitySet("x", "y"))
	r.Register("a1", models.NewCapabilitySet("z"))

	caps, ok := r.Capabilities("a1")
	require.True(t, ok)
	assert.Equal(t, []models.Capability{"z"}, caps.List())
	assert.Equal(t, 1, r.Len())
}

func TestGetReturnsCopy(t *testing.T) {
	r := New()
	r.Register("a1", models.NewCapabilitySet("compile"))

	rec, ok := r.Get("a1")
	require.True(t, ok)
	rec.Capabilities["deploy"] = struct{}{}

	caps, _ := r.Capabilities("a1")
	assert.False(t, caps.Has("deploy"), "mutating a returned record must not affect the registry")

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestUpdateHealth(t *testing.T) {
	r := New()
	r.Register("a1", models.NewCapabilitySet("compile"))

	now := time.Now()
	ok := r.UpdateHealth("a1",
		models.ResourceSnapshot{Available: models.Resources{CPUCores: 8}, Utilization: models.Utilization{CPUPercent: 12}},
		models.HealthSnapshot{Status: models.HealthHealthy, CheckedAt: now},
	)
	require.True(t, ok)

	rec, _ := r.Get("a1")
	assert.Equal(t, 8, rec.Resources.CPUCores)
	assert.Equal(t, models.HealthHealthy, rec.Health.Status)
	assert.Equal(t, now, rec.LastValidatedAt)
	assert.Equal(t, 1, r.CountHealthy())

	assert.False(t, r.UpdateHealth("ghost", models.ResourceSnapshot{}, models.HealthSnapshot{}))
}

func TestRegisteredSince(t *testing.T) {
	r := New()
	base := time.Now()
	tick := base
	r.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	r.Register("crashed", models.NewCapabilitySet("compile", "test"))
	crashAt := tick
	r.Register("other", models.NewCapabilitySet("deploy"))
	r.Register("replacement", models.NewCapabilitySet("compile", "test", "lint"))

	got := r.RegisteredSince(crashAt, models.NewCapabilitySet("compile", "test"), "crashed")
	require.Len(t, got, 1)
	assert.Equal(t, "replacement", got[0].ID)

	assert.Empty(t, r.RegisteredSince(tick, models.NewCapabilitySet(), ""))
}

func TestSnapshotSorted(t *testing.T) {
	r := New()
	for _, id := range []string{"c", "a", "b"} {
		r.Register(id, nil)
	}
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a", snap[0].ID)
	assert.Equal(t, "c", snap[2].ID)
	assert.NotNil(t, snap[0].Capabilities)
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.Register(fmt.Sprintf("a%d", i%5), models.NewCapabilitySet(models.Capability(fmt.Sprint(i))))
		}(i)
		go func(i int) {
			defer wg.Done()
			r.Capabilities(fmt.Sprintf("a%d", i%5))
			r.Snapshot()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, r.Len())
	for _, rec := range r.Snapshot() {
		assert.Equal(t, 1, rec.Capabilities.Len(), "each agent holds exactly one capability set")
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"builder.yaml": "id: builder\ncapabilities: compile, test\nresources:\n  cpu_cores: 4\n  memory_mb: 8192\ndependencies: [go]\n",
		"pool/deployer.yml": "id: deployer\ncapabilities: [deploy]\nendpoint: http://10.0.0.2:9000\n",
		"reviewer.md": "---\nid: reviewer\ncapabilities: review\n---\n# Reviewer\nReviews code.\n",
		"README.md":   "# Agents\n",
		"broken.yaml": "id: [\n",
		"noid.yaml":   "capabilities: compile\n",
		"dupe.yaml":   "id: builder\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	decls, problems, err := Discover(dir)
	require.NoError(t, err)
	assert.Len(t, problems, 3, "broken, noid and dupe should be reported: %v", problems)

	byID := map[string]Declaration{}
	for _, d := range decls {
		byID[d.ID] = d
	}
	require.Len(t, byID, 3)
	assert.Equal(t, []models.Capability{"compile", "test"}, byID["builder"].Capabilities.Set().List())
	assert.Equal(t, 4, byID["builder"].Resources.CPUCores)
	assert.True(t, byID["builder"].HasDependency("go"))
	assert.Equal(t, "http://10.0.0.2:9000", byID["deployer"].Endpoint)
	assert.True(t, byID["reviewer"].Capabilities.Set().Has("review"))

	r := New()
	LoadInto(r, decls)
	assert.Equal(t, 3, r.Len())
}

func TestDiscoverMissingDir(t *testing.T) {
	decls, problems, err := Discover(filepath.Join(t.TempDir(), "none"))
	assert.NoError(t, err)
	assert.Empty(t, decls)
	assert.Empty(t, problems)
}
