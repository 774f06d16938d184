package executor

import (
	"fmt"
	"sort"

	"github.com/harrison/sentinel/internal/models"
)

// DefaultMaxConcurrency bounds parallel tasks in a wave when no limit is configured.
const DefaultMaxConcurrency = 10

// DependencyGraph represents task dependencies within a workflow.
type DependencyGraph struct {
	Tasks    map[string]*models.Task
	Edges    map[string][]string // prerequisite -> tasks that depend on it
	InDegree map[string]int      // task -> number of known prerequisites
}

// DuplicateTaskIDs returns task ids declared more than once, sorted.
func DuplicateTaskIDs(tasks []models.Task) []string {
	counts := make(map[string]int)
	for _, t := range tasks {
		counts[t.ID]++
	}
	var dups []string
	for id, n := range counts {
		if n > 1 {
			dups = append(dups, id)
		}
	}
	sort.Strings(dups)
	return dups
}

// UnknownDependencies maps each task id to the depends_on entries that name
// no task in the workflow.
func UnknownDependencies(tasks []models.Task) map[string][]string {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}
	out := make(map[string][]string)
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !known[dep] {
				out[t.ID] = append(out[t.ID], dep)
			}
		}
	}
	return out
}

// ValidateTasks checks that task ids are present and unique and that every
// dependency references an existing task.
func ValidateTasks(tasks []models.Task) error {
	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("task has empty id")
		}
	}
	if dups := DuplicateTaskIDs(tasks); len(dups) > 0 {
		return fmt.Errorf("task %s: duplicate task id", dups[0])
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, err := findTask(tasks, dep); err != nil {
				return fmt.Errorf("task %s (%s): depends on non-existent task %s", t.ID, t.DisplayName(), dep)
			}
		}
	}
	return nil
}

func findTask(tasks []models.Task, id string) (*models.Task, error) {
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i], nil
		}
	}
	return nil, fmt.Errorf("task %s not found", id)
}

// BuildDependencyGraph constructs a dependency graph from tasks.
// Dependencies on unknown tasks are ignored; ValidateTasks reports them.
func BuildDependencyGraph(tasks []models.Task) *DependencyGraph {
	g := &DependencyGraph{
		Tasks:    make(map[string]*models.Task),
		Edges:    make(map[string][]string),
		InDegree: make(map[string]int),
	}

	for i := range tasks {
		g.Tasks[tasks[i].ID] = &tasks[i]
		g.InDegree[tasks[i].ID] = 0
	}

	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			if _, exists := g.Tasks[dep]; !exists {
				continue
			}
			g.Edges[dep] = append(g.Edges[dep], task.ID)
			g.InDegree[task.ID]++
		}
	}

	return g
}

// HasCycle detects if the dependency graph contains a cycle using DFS with color marking.
func (g *DependencyGraph) HasCycle() bool {
	const (
		white = 0 // not visited
		gray  = 1 // visiting
		black = 2 // visited
	)

	colors := make(map[string]int, len(g.Tasks))

	var dfs func(string) bool
	dfs = func(node string) bool {
		colors[node] = gray
		for _, neighbor := range g.Edges[node] {
			if colors[neighbor] == gray {
				return true // back edge
			}
			if colors[neighbor] == white && dfs(neighbor) {
				return true
			}
		}
		colors[node] = black
		return false
	}

	ids := make([]string, 0, len(g.Tasks))
	for id := range g.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if colors[id] == white && dfs(id) {
			return true
		}
	}
	return false
}

// CalculateWaves groups tasks into waves with Kahn's algorithm. Tasks in a
// wave only depend on tasks in earlier waves. Ids inside a wave are sorted.
func CalculateWaves(tasks []models.Task, maxConcurrency int) ([]models.Wave, error) {
	if err := ValidateTasks(tasks); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return []models.Wave{}, nil
	}

	graph := BuildDependencyGraph(tasks)
	if graph.HasCycle() {
		return nil, ErrCycle
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	inDegree := make(map[string]int, len(graph.InDegree))
	for k, v := range graph.InDegree {
		inDegree[k] = v
	}

	var waves []models.Wave
	for len(inDegree) > 0 {
		var current []string
		for id, degree := range inDegree {
			if degree == 0 {
				current = append(current, id)
			}
		}
		if len(current) == 0 {
			return nil, fmt.Errorf("graph error: no tasks with zero in-degree")
		}
		sort.Strings(current)

		waves = append(waves, models.Wave{
			Name:           fmt.Sprintf("Wave %d", len(waves)+1),
			TaskIDs:        current,
			MaxConcurrency: maxConcurrency,
		})

		for _, id := range current {
			delete(inDegree, id)
			for _, dependent := range graph.Edges[id] {
				if _, exists := inDegree[dependent]; exists {
					inDegree[dependent]--
				}
			}
		}
	}

	return waves, nil
}

// CalculateSchedule builds the waves for a workflow and attaches the given
// task -> agent assignments.
func CalculateSchedule(wf *models.Workflow, assignments map[string]string, maxConcurrency int) (models.Schedule, error) {
	waves, err := CalculateWaves(wf.Tasks, maxConcurrency)
	if err != nil {
		return models.Schedule{}, fmt.Errorf("workflow %s: %w", wf.ID, err)
	}
	if assignments == nil {
		assignments = map[string]string{}
	}
	return models.Schedule{Waves: waves, Assignments: assignments}, nil
}
