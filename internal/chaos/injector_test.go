package chaos

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harrison/sentinel/internal/models"
)

func crashExperiment(agent string) models.ChaosExperiment {
	return models.ChaosExperiment{
		ID:       "exp-1",
		Type:     models.AgentCrash{Agent: agent},
		Duration: 15 * time.Second,
	}
}

func TestCommandInjectorRender(t *testing.T) {
	inj, err := NewCommandInjector(map[string]string{
		"agent_crash":  "pkill -f 'agent --id {{.Agent}}'",
		"message_loss": "tc qdisc add dev eth0 root netem loss {{.Rate}} # {{.Seconds}}s on {{.Target}}",
	}, nil)
	if err != nil {
		t.Fatalf("NewCommandInjector() error = %v", err)
	}

	tests := []struct {
		name string
		key  string
		exp  models.ChaosExperiment
		want string
	}{
		{
			name: "agent id",
			key:  "agent_crash",
			exp:  crashExperiment("worker-3"),
			want: "pkill -f 'agent --id worker-3'",
		},
		{
			name: "loss rate and seconds",
			key:  "message_loss",
			exp:  models.ChaosExperiment{ID: "e", Type: models.MessageLoss{Rate: 0.25}, Duration: 20 * time.Second},
			want: "tc qdisc add dev eth0 root netem loss 0.25 # 20s on network",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := inj.Render(tt.key, tt.exp)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandInjectorRejectsBadConfig(t *testing.T) {
	if _, err := NewCommandInjector(map[string]string{"meteor_strike": "true"}, nil); err == nil {
		t.Error("unknown kind should be rejected")
	}
	if _, err := NewCommandInjector(map[string]string{"store_failure": "{{.Nope"}, nil); err == nil {
		t.Error("malformed template should be rejected")
	}
}

func TestCommandInjectorRunsCommands(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "crashed")
	reverted := filepath.Join(dir, "reverted")

	inj, err := NewCommandInjector(map[string]string{
		"agent_crash":        "echo {{.Agent}} > " + marker,
		"agent_crash.revert": "touch " + reverted,
		"store_failure":      "exit 3",
	}, nil)
	if err != nil {
		t.Fatalf("NewCommandInjector() error = %v", err)
	}

	ctx := context.Background()
	if err := inj.Inject(ctx, crashExperiment("worker-7")); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("marker not written: %v", err)
	}
	if strings.TrimSpace(string(data)) != "worker-7" {
		t.Errorf("marker = %q", data)
	}

	if err := inj.Revert(ctx, crashExperiment("worker-7")); err != nil {
		t.Fatalf("Revert() error = %v", err)
	}
	if _, err := os.Stat(reverted); err != nil {
		t.Errorf("revert command did not run: %v", err)
	}

	storeDown := models.ChaosExperiment{ID: "e2", Type: models.StoreFailure{}}
	if err := inj.Inject(ctx, storeDown); err == nil || !strings.Contains(err.Error(), "code 3") {
		t.Errorf("non-zero exit should fail injection, got %v", err)
	}
	if err := inj.Revert(ctx, storeDown); err != nil {
		t.Errorf("missing revert command should be a no-op: %v", err)
	}

	network := models.ChaosExperiment{ID: "e3", Type: models.NetworkFailure{}}
	if inj.Supports(models.KindNetworkFailure) {
		t.Error("network_failure has no command")
	}
	if err := inj.Inject(ctx, network); err == nil {
		t.Error("unconfigured kind should fail injection")
	}
}
