// Package plan loads the YAML plan file that defines the task graph.
// The plan is read once: tasks are seeded into the state document at the
// start of a run and the graph never changes shape afterwards.
package plan

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/aristath/conductor/internal/state"
)

// DefaultMaxAttempts is used when a plan task omits maxAttempts.
const DefaultMaxAttempts = 3

// safeID restricts task ids to characters safe for branch names and
// filesystem paths. Validated here and again at workspace creation.
var safeID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// TaskSpec is one task entry in the plan file.
type TaskSpec struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Prompt      string   `yaml:"prompt,omitempty"`
	DependsOn   []string `yaml:"dependsOn,omitempty"`
	Priority    int      `yaml:"priority,omitempty"`
	MaxAttempts int      `yaml:"maxAttempts,omitempty"`
}

// Plan is the parsed plan file.
type Plan struct {
	Name  string     `yaml:"name,omitempty"`
	Tasks []TaskSpec `yaml:"tasks"`
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plan: reading %s: %w", path, err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("plan: parsing %s: %w", path, err)
	}

	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("plan: %s: %w", path, err)
	}
	return &p, nil
}

func (p *Plan) validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("no tasks defined")
	}

	seen := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task with empty id")
		}
		if !safeID.MatchString(t.ID) {
			return fmt.Errorf("task id %q contains unsafe characters", t.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}

	// Dependency references must resolve within the plan.
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
			if dep == t.ID {
				return fmt.Errorf("task %q depends on itself", t.ID)
			}
		}
	}

	return nil
}

// Seed converts the plan into the initial task list for a fresh state
// document. Document order preserves plan order, which the eligibility
// sort uses as its tiebreak.
func (p *Plan) Seed() []state.Task {
	tasks := make([]state.Task, 0, len(p.Tasks))
	for _, spec := range p.Tasks {
		maxAttempts := spec.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = DefaultMaxAttempts
		}
		tasks = append(tasks, state.Task{
			ID:        spec.ID,
			Title:     spec.Title,
			Prompt:    spec.Prompt,
			Status:    state.StatusPending,
			DependsOn: append([]string(nil), spec.DependsOn...),
			Priority:  spec.Priority,
			Retries:   state.Retries{MaxAttempts: maxAttempts},
		})
	}
	return tasks
}
