package executor

import (
	"errors"
	"testing"

	"github.com/harrison/sentinel/internal/models"
)

func TestValidateTasks(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []models.Task
		wantErr bool
	}{
		{
			name: "valid tasks",
			tasks: []models.Task{
				{ID: "a", Name: "Task A"},
				{ID: "b", Name: "Task B", DependsOn: []string{"a"}},
			},
			wantErr: false,
		},
		{
			name: "non-existent dependency",
			tasks: []models.Task{
				{ID: "a", DependsOn: []string{"missing"}},
			},
			wantErr: true,
		},
		{
			name: "duplicate task ids",
			tasks: []models.Task{
				{ID: "a", Name: "Task A"},
				{ID: "a", Name: "Task A Duplicate"},
			},
			wantErr: true,
		},
		{
			name:    "empty id",
			tasks:   []models.Task{{Name: "nameless"}},
			wantErr: true,
		},
		{
			name:    "empty task list",
			tasks:   []models.Task{},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTasks(tt.tasks)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTasks() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDuplicateAndUnknown(t *testing.T) {
	tasks := []models.Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a", "ghost"}},
		{ID: "a"},
	}
	dups := DuplicateTaskIDs(tasks)
	if len(dups) != 1 || dups[0] != "a" {
		t.Errorf("DuplicateTaskIDs() = %v", dups)
	}
	unknown := UnknownDependencies(tasks)
	if len(unknown) != 1 || unknown["b"][0] != "ghost" {
		t.Errorf("UnknownDependencies() = %v", unknown)
	}
}

func TestHasCycle(t *testing.T) {
	tests := []struct {
		name  string
		tasks []models.Task
		want  bool
	}{
		{
			name:  "linear chain",
			tasks: []models.Task{{ID: "a"}, {ID: "b", DependsOn: []string{"a"}}, {ID: "c", DependsOn: []string{"b"}}},
			want:  false,
		},
		{
			name:  "diamond",
			tasks: []models.Task{{ID: "a"}, {ID: "b", DependsOn: []string{"a"}}, {ID: "c", DependsOn: []string{"a"}}, {ID: "d", DependsOn: []string{"b", "c"}}},
			want:  false,
		},
		{
			name:  "two node cycle",
			tasks: []models.Task{{ID: "a", DependsOn: []string{"b"}}, {ID: "b", DependsOn: []string{"a"}}},
			want:  true,
		},
		{
			name:  "self reference",
			tasks: []models.Task{{ID: "a", DependsOn: []string{"a"}}},
			want:  true,
		},
		{
			name:  "cycle behind an acyclic prefix",
			tasks: []models.Task{{ID: "a"}, {ID: "b", DependsOn: []string{"a", "d"}}, {ID: "c", DependsOn: []string{"b"}}, {ID: "d", DependsOn: []string{"c"}}},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildDependencyGraph(tt.tasks).HasCycle(); got != tt.want {
				t.Errorf("HasCycle() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateWaves(t *testing.T) {
	tasks := []models.Task{
		{ID: "d", DependsOn: []string{"b", "c"}},
		{ID: "c", DependsOn: []string{"a"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "a"},
	}

	waves, err := CalculateWaves(tasks, 2)
	if err != nil {
		t.Fatalf("CalculateWaves() error = %v", err)
	}

	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if len(waves) != len(want) {
		t.Fatalf("expected %d waves, got %d", len(want), len(waves))
	}
	for i, w := range want {
		if waves[i].Name != "Wave "+string(rune('1'+i)) {
			t.Errorf("wave %d name = %q", i, waves[i].Name)
		}
		if waves[i].MaxConcurrency != 2 {
			t.Errorf("wave %d concurrency = %d", i, waves[i].MaxConcurrency)
		}
		if len(waves[i].TaskIDs) != len(w) {
			t.Fatalf("wave %d = %v, want %v", i, waves[i].TaskIDs, w)
		}
		for j := range w {
			if waves[i].TaskIDs[j] != w[j] {
				t.Errorf("wave %d = %v, want %v", i, waves[i].TaskIDs, w)
			}
		}
	}
}

func TestCalculateWavesErrors(t *testing.T) {
	cyclic := []models.Task{{ID: "a", DependsOn: []string{"b"}}, {ID: "b", DependsOn: []string{"a"}}}
	if _, err := CalculateWaves(cyclic, 0); !errors.Is(err, ErrCycle) {
		t.Errorf("expected ErrCycle, got %v", err)
	}

	waves, err := CalculateWaves(nil, 0)
	if err != nil || len(waves) != 0 {
		t.Errorf("empty input: waves=%v err=%v", waves, err)
	}
}

func TestCalculateSchedule(t *testing.T) {
	wf := &models.Workflow{ID: "wf", Tasks: []models.Task{{ID: "a"}, {ID: "b", DependsOn: []string{"a"}}}}
	sched, err := CalculateSchedule(wf, nil, 0)
	if err != nil {
		t.Fatalf("CalculateSchedule() error = %v", err)
	}
	if len(sched.Waves) != 2 || sched.Waves[0].MaxConcurrency != DefaultMaxConcurrency {
		t.Errorf("unexpected schedule: %+v", sched)
	}
	if sched.Assignments == nil {
		t.Error("assignments should never be nil")
	}

	wf.Tasks[0].DependsOn = []string{"b"}
	if _, err := CalculateSchedule(wf, nil, 0); !errors.Is(err, ErrCycle) {
		t.Errorf("expected wrapped ErrCycle, got %v", err)
	}
}
