package orchestrator

import (
	"github.com/aristath/conductor/internal/graph"
	"github.com/aristath/conductor/internal/state"
)

// dryRun simulates the run against an in-memory copy of the document:
// every eligible task is assumed to pass, wave after wave, so the
// output is the dependency-ordered execution plan. Nothing is spawned
// and nothing is written.
func (r *Runner) dryRun() (*Result, error) {
	doc, err := r.store.Read()
	if err != nil {
		return nil, err
	}
	view := r.scoped(doc)

	sim := &state.Document{Tasks: make([]state.Task, len(view.Tasks))}
	copy(sim.Tasks, view.Tasks)

	maxParallel := r.cfg.Run.MaxParallel
	if maxParallel <= 0 || !r.opts.Parallel {
		maxParallel = 1
	}

	var plan [][]string
	for {
		eligible := graph.Eligible(sim)
		if len(eligible) == 0 {
			break
		}
		if len(eligible) > maxParallel {
			eligible = eligible[:maxParallel]
		}
		plan = append(plan, eligible)
		for _, id := range eligible {
			sim.Task(id).Status = state.StatusPassed
		}
	}

	outcome := OutcomeComplete
	var stuck []graph.Stuck
	if rs, s := graph.Terminal(sim); rs == graph.RunBlocked {
		outcome = OutcomeBlocked
		stuck = s
	}

	return &Result{
		Outcome: outcome,
		Stuck:   stuck,
		Waves:   len(plan),
		Tasks:   sim.Tasks,
		Plan:    plan,
	}, nil
}
