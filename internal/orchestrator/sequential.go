package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"

	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/state"
	"github.com/aristath/conductor/internal/worker"
)

// runSequential is the SEQUENTIAL_RUN state: one task, executed
// directly in the shared repository with no workspace and no merge.
// Success additionally requires the quality gates and, when a review
// executor is configured, an approving review pass.
func (r *Runner) runSequential(ctx context.Context, taskID string) error {
	r.wave++
	wave := r.wave
	r.publish(events.TopicRun, events.WaveStartedEvent{Wave: wave, TaskIDs: []string{taskID}, Timestamp: time.Now()})

	if err := r.breakers.Allow(r.spawner.ExecutorType()); err != nil {
		return r.recordFailure(ctx, taskID, state.PhaseExecution, err.Error())
	}

	doc, err := r.store.Write(func(doc *state.Document) error {
		t := doc.Task(taskID)
		if t == nil {
			return fmt.Errorf("task %q vanished from state document", taskID)
		}
		t.Status = state.StatusInProgress
		t.Wave = wave
		meta := doc.EnsureExecution()
		meta.Mode = "sequential"
		meta.CurrentWave = wave
		return nil
	})
	if err != nil {
		return err
	}
	task := doc.Task(taskID)

	handle, err := r.spawner.Spawn(ctx, task, r.opts.RepoPath)
	if err != nil {
		r.breakers.Record(r.spawner.ExecutorType(), err)
		return r.recordFailure(ctx, taskID, state.PhaseExecution, fmt.Sprintf("spawn failed: %v", err))
	}
	r.spawns++
	r.publish(events.TopicTask, events.TaskSpawnedEvent{
		ID:        taskID,
		Title:     task.Title,
		Wave:      wave,
		Workspace: r.opts.RepoPath,
		Timestamp: time.Now(),
	})
	r.publishProgress(doc)

	outcome, err := r.await(ctx, handle)
	if err != nil {
		return err
	}
	r.breakers.Record(r.spawner.ExecutorType(), crashError(outcome))

	duration := time.Since(handle.StartedAt)
	defer func() {
		var attempts int
		if doc, rerr := r.store.Read(); rerr == nil {
			if t := doc.Task(taskID); t != nil {
				attempts = t.Retries.Attempts
			}
			r.publishProgress(doc)
		}
		r.publish(events.TopicTask, events.TaskOutcomeEvent{
			ID:        taskID,
			Outcome:   outcome,
			Attempts:  attempts,
			Duration:  duration,
			Timestamp: time.Now(),
		})
	}()

	switch outcome {
	case "failed":
		return r.recordFailure(ctx, taskID, state.PhaseExecution, "worker signaled failure")
	case "crashed":
		return r.recordFailure(ctx, taskID, state.PhaseCrash, "worker exited without emitting a completion token")
	case "timed_out":
		return r.recordFailure(ctx, taskID, state.PhaseTimeout, fmt.Sprintf("worker exceeded %s limit", r.cfg.Run.Timeout()))
	}

	if gate, gerr := r.runGates(ctx); gerr != nil {
		outcome = "failed"
		return r.recordFailure(ctx, taskID, state.PhaseQualityGate, fmt.Sprintf("gate %q failed: %v", gate, gerr))
	}

	if r.review != nil {
		verdict, rerr := r.runReview(ctx, task)
		if rerr != nil {
			return rerr
		}
		if verdict != "" {
			outcome = "failed"
			return r.recordFailure(ctx, taskID, state.PhaseReview, verdict)
		}
	}

	return r.recordPassed(ctx, taskID, nil, "")
}

// await polls the worker until a terminal outcome or timeout.
func (r *Runner) await(ctx context.Context, handle *worker.Handle) (string, error) {
	for {
		if r.monitor.TimedOut(handle, r.cfg.Run.Timeout()) {
			if err := r.monitor.Kill(handle); err != nil {
				log.Printf("WARNING: failed to kill timed-out worker for task %q: %v", handle.TaskID, err)
			}
			return "timed_out", nil
		}

		outcome, err := r.monitor.Status(handle)
		if err != nil {
			log.Printf("WARNING: failed to poll worker for task %q: %v", handle.TaskID, err)
		} else if outcome != worker.Running {
			return outcome.String(), nil
		}

		if err := r.sleep(ctx); err != nil {
			if kerr := r.monitor.Kill(handle); kerr != nil {
				log.Printf("WARNING: failed to kill worker for task %q on shutdown: %v", handle.TaskID, kerr)
			}
			return "", err
		}
	}
}

// runGates runs each configured gate command in the repository via the
// shell. The first non-zero exit fails the task.
func (r *Runner) runGates(ctx context.Context) (string, error) {
	for _, gate := range r.cfg.Gates {
		cmd := exec.CommandContext(ctx, "sh", "-c", gate)
		cmd.Dir = r.opts.RepoPath
		if out, err := cmd.CombinedOutput(); err != nil {
			return gate, fmt.Errorf("%w: %s", err, truncate(string(out), 500))
		}
	}
	return "", nil
}

// runReview spawns the review executor against the just-completed task
// and interprets its completion token as the verdict. An empty verdict
// means approved; a non-empty one is the rejection reason.
func (r *Runner) runReview(ctx context.Context, task *state.Task) (string, error) {
	reviewTask := &state.Task{
		ID:    task.ID,
		Title: "review: " + task.Title,
		Prompt: fmt.Sprintf(
			"Review the most recent commits implementing the following task and verify they are correct, complete, and do not break existing behavior.\n\nOriginal task: %s",
			task.Prompt),
	}

	handle, err := r.review.Spawn(ctx, reviewTask, r.opts.RepoPath)
	if err != nil {
		return fmt.Sprintf("review spawn failed: %v", err), nil
	}

	outcome, err := r.await(ctx, handle)
	if err != nil {
		return "", err
	}
	if outcome == "succeeded" {
		return "", nil
	}
	return "reviewer rejected the change", nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
