// Package graph provides pure queries over a state document snapshot:
// cycle detection, eligible-task selection, and terminal-state
// classification. Nothing here mutates the document.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gammazero/toposort"

	"github.com/aristath/conductor/internal/state"
)

// RunState classifies a snapshot with no eligible tasks.
type RunState int

const (
	// RunActive means at least one task is eligible or in progress.
	RunActive RunState = iota
	// RunComplete means every task has passed.
	RunComplete
	// RunBlocked means no task is eligible and at least one has not passed.
	RunBlocked
)

// Stuck describes why an unfinished task cannot run, for the BLOCKED
// report. RootCause names the permanently blocked task this one
// transitively depends on, when there is one.
type Stuck struct {
	ID        string
	Reason    string
	RootCause string
}

// Validate checks that every dependency reference resolves and that the
// graph is acyclic. On a cycle the error lists the member tasks; the
// cycle is reported, never silently broken.
func Validate(doc *state.Document) error {
	index := make(map[string]*state.Task, len(doc.Tasks))
	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		if _, dup := index[t.ID]; dup {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		index[t.ID] = t
	}

	for _, t := range doc.Tasks {
		for _, dep := range t.DependsOn {
			if _, ok := index[dep]; !ok {
				return fmt.Errorf("task %q depends on non-existent task %q", t.ID, dep)
			}
		}
	}

	var edges []toposort.Edge
	for _, t := range doc.Tasks {
		if len(t.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, dep := range t.DependsOn {
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		members := cycleMembers(doc)
		return fmt.Errorf("dependency cycle detected involving tasks: %s", strings.Join(members, ", "))
	}
	return nil
}

// cycleMembers finds the tasks that cannot be topologically ordered by
// repeatedly stripping tasks whose dependencies are all stripped.
// Whatever remains participates in (or depends on) a cycle.
func cycleMembers(doc *state.Document) []string {
	resolved := make(map[string]bool, len(doc.Tasks))
	for {
		progressed := false
		for _, t := range doc.Tasks {
			if resolved[t.ID] {
				continue
			}
			ok := true
			for _, dep := range t.DependsOn {
				if !resolved[dep] {
					ok = false
					break
				}
			}
			if ok {
				resolved[t.ID] = true
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	var members []string
	for _, t := range doc.Tasks {
		if !resolved[t.ID] {
			members = append(members, t.ID)
		}
	}
	sort.Strings(members)
	return members
}

// Eligible returns the ids of tasks that can run now: status pending or
// retryable failed, not in progress, and every dependency passed.
// Results are sorted ascending by priority; ties keep document order.
func Eligible(doc *state.Document) []string {
	index := taskIndex(doc)

	type candidate struct {
		id       string
		priority int
		pos      int
	}
	var out []candidate

	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		switch t.Status {
		case state.StatusPending:
		case state.StatusFailed:
			if !t.Retryable() {
				continue
			}
		default:
			continue
		}

		ready := true
		for _, dep := range t.DependsOn {
			d, ok := index[dep]
			if !ok || d.Status != state.StatusPassed {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, candidate{id: t.ID, priority: t.Priority, pos: i})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].pos < out[j].pos
	})

	if len(out) == 0 {
		return nil
	}
	ids := make([]string, len(out))
	for i, c := range out {
		ids[i] = c.id
	}
	return ids
}

// Terminal classifies a snapshot. It returns RunActive while anything is
// eligible or in progress; otherwise RunComplete when every task passed,
// or RunBlocked with a stuck report for every unfinished task.
func Terminal(doc *state.Document) (RunState, []Stuck) {
	if len(Eligible(doc)) > 0 {
		return RunActive, nil
	}
	for _, t := range doc.Tasks {
		if t.Status == state.StatusInProgress {
			return RunActive, nil
		}
	}

	allPassed := true
	for _, t := range doc.Tasks {
		if t.Status != state.StatusPassed {
			allPassed = false
			break
		}
	}
	if allPassed {
		return RunComplete, nil
	}

	return RunBlocked, stuckReport(doc)
}

// stuckReport explains every unfinished task: an exhausted retry budget,
// or the first unmet dependency, with the cascade root cause when a
// permanently blocked task sits anywhere in the dependency closure.
func stuckReport(doc *state.Document) []Stuck {
	index := taskIndex(doc)

	var report []Stuck
	for _, t := range doc.Tasks {
		if t.Status == state.StatusPassed {
			continue
		}

		s := Stuck{ID: t.ID}
		switch {
		case t.Status == state.StatusBlocked, t.Status == state.StatusFailed && !t.Retryable():
			s.Reason = fmt.Sprintf("retry budget exhausted (%d/%d attempts)", t.Retries.Attempts, t.Retries.MaxAttempts)
			s.RootCause = t.ID
		default:
			for _, dep := range t.DependsOn {
				if d, ok := index[dep]; ok && d.Status != state.StatusPassed {
					s.Reason = fmt.Sprintf("waiting on dependency %q (status %s)", dep, d.Status)
					break
				}
			}
			if root := blockedRoot(&t, index); root != "" {
				s.RootCause = root
			}
		}
		report = append(report, s)
	}
	return report
}

// blockedRoot walks the transitive dependency closure looking for a
// permanently blocked task.
func blockedRoot(t *state.Task, index map[string]*state.Task) string {
	seen := make(map[string]bool)
	queue := append([]string(nil), t.DependsOn...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		dep, ok := index[id]
		if !ok {
			continue
		}
		if dep.Status == state.StatusBlocked || (dep.Status == state.StatusFailed && !dep.Retryable()) {
			return dep.ID
		}
		queue = append(queue, dep.DependsOn...)
	}
	return ""
}

// Lineage returns the given task plus its transitive dependency closure,
// in document order. Serves the --story restriction.
func Lineage(doc *state.Document, taskID string) ([]string, error) {
	index := taskIndex(doc)
	if _, ok := index[taskID]; !ok {
		return nil, fmt.Errorf("task %q not found", taskID)
	}

	keep := map[string]bool{taskID: true}
	queue := []string{taskID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range index[id].DependsOn {
			if !keep[dep] {
				keep[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	var ids []string
	for _, t := range doc.Tasks {
		if keep[t.ID] {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

func taskIndex(doc *state.Document) map[string]*state.Task {
	index := make(map[string]*state.Task, len(doc.Tasks))
	for i := range doc.Tasks {
		index[doc.Tasks[i].ID] = &doc.Tasks[i]
	}
	return index
}
