package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/graph"
	"github.com/aristath/conductor/internal/state"
	"github.com/aristath/conductor/internal/worker"
	"github.com/aristath/conductor/internal/workspace"
)

// activeWorker tracks one spawned worker and its workspace.
type activeWorker struct {
	handle *worker.Handle
	info   *workspace.Info
	wave   int
}

// runParallel is the PARALLEL_RUN state: fill up to maxParallel worker
// slots, poll all of them, and refill slots as soon as outcomes free
// them and unblock new tasks. Waves are batches of spawns, not rigid
// barriers. Returns to QUERY once no worker is active and no refill is
// possible.
func (r *Runner) runParallel(ctx context.Context) error {
	active := make(map[string]*activeWorker)

	// Always reap whatever is still running when we leave, so a
	// cancelled run never strands processes or workspaces.
	defer func() {
		for id, aw := range active {
			if err := r.monitor.Kill(aw.handle); err != nil {
				log.Printf("WARNING: failed to kill worker for task %q: %v", id, err)
			}
			r.releaseWorkspace(id)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		spawned, err := r.fillSlots(ctx, active)
		if err != nil {
			return err
		}

		if len(active) == 0 {
			if !spawned {
				return nil // Back to QUERY for terminal classification.
			}
			continue
		}

		if err := r.sleep(ctx); err != nil {
			return err
		}

		if err := r.reapFinished(ctx, active); err != nil {
			return err
		}
	}
}

// fillSlots spawns eligible tasks into open slots. Each batch of one or
// more spawns is a new wave.
func (r *Runner) fillSlots(ctx context.Context, active map[string]*activeWorker) (bool, error) {
	maxParallel := r.cfg.Run.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 4
	}
	if len(active) >= maxParallel {
		return false, nil
	}

	doc, err := r.store.Read()
	if err != nil {
		return false, err
	}

	var batch []string
	for _, id := range graph.Eligible(r.scoped(doc)) {
		if len(active)+len(batch) >= maxParallel {
			break
		}
		if _, running := active[id]; running {
			continue
		}
		if r.spawns+len(batch) >= r.cfg.Run.MaxIterations {
			break // The QUERY loop turns this into MAX_ITERATIONS.
		}
		batch = append(batch, id)
	}
	if len(batch) == 0 {
		return false, nil
	}

	r.wave++
	wave := r.wave
	r.publish(events.TopicRun, events.WaveStartedEvent{Wave: wave, TaskIDs: batch, Timestamp: time.Now()})

	for _, id := range batch {
		if err := r.spawnIntoSlot(ctx, id, wave, active); err != nil {
			return true, err
		}
	}
	return true, nil
}

// spawnIntoSlot creates the workspace, transitions the task to
// in_progress, and launches the worker. Workspaces branch from the
// base's current tip, so later spawns in a wave already include
// earlier merges.
func (r *Runner) spawnIntoSlot(ctx context.Context, taskID string, wave int, active map[string]*activeWorker) error {
	if err := r.breakers.Allow(r.spawner.ExecutorType()); err != nil {
		log.Printf("executor %q circuit open, not spawning task %q", r.spawner.ExecutorType(), taskID)
		return r.recordFailure(ctx, taskID, state.PhaseExecution, err.Error())
	}

	info, err := r.workspaces.Create(taskID, r.cfg.Run.BaseBranch)
	if err != nil {
		return r.recordFailure(ctx, taskID, state.PhaseExecution, fmt.Sprintf("workspace creation failed: %v", err))
	}

	doc, err := r.store.Write(func(doc *state.Document) error {
		t := doc.Task(taskID)
		if t == nil {
			return fmt.Errorf("task %q vanished from state document", taskID)
		}
		t.Status = state.StatusInProgress
		t.Wave = wave
		t.WorkspaceRef = info.Path
		meta := doc.EnsureExecution()
		meta.Mode = "parallel"
		meta.MaxParallel = r.cfg.Run.MaxParallel
		meta.CurrentWave = wave
		meta.AddActiveWorkspace(taskID)
		return nil
	})
	if err != nil {
		r.releaseWorkspace(taskID)
		return err
	}

	task := doc.Task(taskID)
	handle, err := r.spawner.Spawn(ctx, task, info.Path)
	if err != nil {
		r.breakers.Record(r.spawner.ExecutorType(), err)
		r.releaseWorkspace(taskID)
		return r.recordFailure(ctx, taskID, state.PhaseExecution, fmt.Sprintf("spawn failed: %v", err))
	}
	r.spawns++

	active[taskID] = &activeWorker{handle: handle, info: info, wave: wave}
	r.publish(events.TopicTask, events.TaskSpawnedEvent{
		ID:        taskID,
		Title:     task.Title,
		Wave:      wave,
		Workspace: info.Path,
		Timestamp: time.Now(),
	})
	r.publishProgress(doc)
	return nil
}

// reapFinished polls every active worker once and settles terminal
// outcomes. Merges happen here, one at a time, as workers finish.
func (r *Runner) reapFinished(ctx context.Context, active map[string]*activeWorker) error {
	for id, aw := range active {
		if r.monitor.TimedOut(aw.handle, r.cfg.Run.Timeout()) {
			if err := r.monitor.Kill(aw.handle); err != nil {
				log.Printf("WARNING: failed to kill timed-out worker for task %q: %v", id, err)
			}
			if err := r.settle(ctx, id, aw, "timed_out"); err != nil {
				return err
			}
			delete(active, id)
			continue
		}

		outcome, err := r.monitor.Status(aw.handle)
		if err != nil {
			log.Printf("WARNING: failed to poll worker for task %q: %v", id, err)
			continue
		}
		if outcome == worker.Running {
			continue
		}

		if err := r.settle(ctx, id, aw, outcome.String()); err != nil {
			return err
		}
		delete(active, id)
	}
	return nil
}

// settle applies one terminal outcome: merge on success, failure record
// otherwise, then workspace teardown and bookkeeping.
func (r *Runner) settle(ctx context.Context, taskID string, aw *activeWorker, outcome string) error {
	duration := time.Since(aw.handle.StartedAt)
	r.breakers.Record(r.spawner.ExecutorType(), crashError(outcome))

	switch outcome {
	case "succeeded":
		if err := r.integrate(ctx, taskID, aw); err != nil {
			return err
		}
	case "failed":
		if err := r.recordFailure(ctx, taskID, state.PhaseExecution, "worker signaled failure"); err != nil {
			return err
		}
	case "crashed":
		if err := r.recordFailure(ctx, taskID, state.PhaseCrash, "worker exited without emitting a completion token"); err != nil {
			return err
		}
	case "timed_out":
		msg := fmt.Sprintf("worker exceeded %s limit", r.cfg.Run.Timeout())
		if err := r.recordFailure(ctx, taskID, state.PhaseTimeout, msg); err != nil {
			return err
		}
	}

	r.releaseWorkspace(taskID)

	doc, err := r.store.Read()
	if err != nil {
		return err
	}
	var attempts int
	if t := doc.Task(taskID); t != nil {
		attempts = t.Retries.Attempts
	}
	r.publish(events.TopicTask, events.TaskOutcomeEvent{
		ID:        taskID,
		Outcome:   outcome,
		Attempts:  attempts,
		Duration:  duration,
		Timestamp: time.Now(),
	})
	r.publishProgress(doc)
	return nil
}

// integrate merges a succeeded workspace into the base. A conflict is
// a retryable task failure: by the next attempt the base already
// contains whatever caused it.
func (r *Runner) integrate(ctx context.Context, taskID string, aw *activeWorker) error {
	result, err := r.merger.Integrate(aw.info)
	if err != nil {
		return r.recordFailure(ctx, taskID, state.PhaseMergeConflict, fmt.Sprintf("integration error: %v", err))
	}

	r.publish(events.TopicTask, events.TaskMergedEvent{
		ID:            taskID,
		Merged:        result.Merged,
		ConflictFiles: result.ConflictFiles,
		Timestamp:     time.Now(),
	})

	if !result.Merged {
		msg := "merge conflict"
		if len(result.ConflictFiles) > 0 {
			msg = fmt.Sprintf("merge conflict in: %v", result.ConflictFiles)
		}
		return r.recordFailure(ctx, taskID, state.PhaseMergeConflict, msg)
	}

	return r.recordPassed(ctx, taskID, result.ConflictFiles, "")
}

// releaseWorkspace removes a task's workspace, tolerating repeats.
func (r *Runner) releaseWorkspace(taskID string) {
	if err := r.workspaces.Remove(taskID); err != nil {
		log.Printf("WARNING: failed to remove workspace for task %q: %v", taskID, err)
	}
}

// crashError feeds the circuit breaker: only crashes count against the
// executor; a clean PASS or FAIL token means the executor itself works.
func crashError(outcome string) error {
	if outcome == "crashed" {
		return fmt.Errorf("worker crashed")
	}
	return nil
}
