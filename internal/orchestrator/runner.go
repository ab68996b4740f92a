// Package orchestrator drives the run: it reads the state document,
// asks the graph queries what can run, executes tasks sequentially or
// in parallel workspaces, reconciles results, and persists every
// transition atomically. The control loop is single-threaded; workers
// run as independent OS processes and are only ever polled.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aristath/conductor/internal/config"
	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/graph"
	"github.com/aristath/conductor/internal/history"
	"github.com/aristath/conductor/internal/merge"
	"github.com/aristath/conductor/internal/state"
	"github.com/aristath/conductor/internal/worker"
	"github.com/aristath/conductor/internal/workspace"
)

// Run outcomes.
const (
	OutcomeComplete      = "COMPLETE"
	OutcomeBlocked       = "BLOCKED"
	OutcomeMaxIterations = "MAX_ITERATIONS"
)

// ExitCode maps a run outcome to the process exit code.
func ExitCode(outcome string) int {
	switch outcome {
	case OutcomeComplete:
		return 0
	case OutcomeBlocked:
		return 1
	default:
		return 2
	}
}

// WorkspaceManager is the isolated-workspace lifecycle the runner
// drives. Satisfied by *workspace.Manager; tests substitute fakes.
type WorkspaceManager interface {
	Create(taskID, baseRevision string) (*workspace.Info, error)
	Remove(taskID string) error
	Prune() error
}

// Merger integrates a workspace into the shared base.
type Merger interface {
	Integrate(info *workspace.Info) (*merge.Result, error)
}

// Spawner launches worker processes.
type Spawner interface {
	Spawn(ctx context.Context, task *state.Task, dir string) (*worker.Handle, error)
	ExecutorType() string
}

// Archive records runs for later inspection. Optional.
type Archive interface {
	BeginRun(ctx context.Context, runID, mode string, startedAt time.Time) error
	FinishRun(ctx context.Context, runID, outcome string, waves, spawns int) error
	AppendProgress(ctx context.Context, rec history.ProgressRecord) error
	AppendFailure(ctx context.Context, rec history.FailureRecord) error
}

// Options configures one run.
type Options struct {
	RepoPath string
	Parallel bool
	DryRun   bool
	Story    string // Restrict the run to one task's lineage
	RunID    string
}

// Result is the terminal report of a run.
type Result struct {
	Outcome string
	Stuck   []graph.Stuck
	Waves   int
	Spawns  int
	Tasks   []state.Task // Final snapshot for the summary table
	Plan    [][]string   // Simulated wave plan, dry runs only
}

// Runner owns the control loop. Only the runner ever writes the state
// document; workers communicate exclusively through their output
// streams.
type Runner struct {
	store      *state.Store
	workspaces WorkspaceManager
	merger     Merger
	spawner    Spawner
	review     Spawner
	monitor    *worker.Monitor
	breakers   *BreakerRegistry
	bus        *events.Bus
	archive    Archive
	cfg        *config.Config
	opts       Options

	lineage map[string]bool // Non-nil when --story restricts the run
	wave    int
	spawns  int

	poll time.Duration // Overrides the configured poll interval when set
}

// NewRunner assembles a runner. bus and archive may be nil.
func NewRunner(store *state.Store, ws WorkspaceManager, merger Merger, spawner Spawner, review Spawner, cfg *config.Config, bus *events.Bus, archive Archive, opts Options) *Runner {
	return &Runner{
		store:      store,
		workspaces: ws,
		merger:     merger,
		spawner:    spawner,
		review:     review,
		monitor:    worker.NewMonitor(),
		breakers:   NewBreakerRegistry(),
		bus:        bus,
		archive:    archive,
		cfg:        cfg,
		opts:       opts,
	}
}

// Run executes the state machine to a terminal outcome. The returned
// error is reserved for infrastructure failures (state corruption,
// context cancellation); BLOCKED and MAX_ITERATIONS are ordinary
// results, not errors.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.init(ctx); err != nil {
		return nil, err
	}

	if r.opts.DryRun {
		return r.dryRun()
	}

	mode := "sequential"
	if r.opts.Parallel {
		mode = "parallel"
	}
	if r.archive != nil {
		if err := r.archive.BeginRun(ctx, r.opts.RunID, mode, time.Now()); err != nil {
			log.Printf("WARNING: failed to archive run start: %v", err)
		}
	}

	result, err := r.loop(ctx)
	if err != nil {
		return nil, err
	}

	if r.archive != nil {
		if aerr := r.archive.FinishRun(ctx, r.opts.RunID, result.Outcome, result.Waves, result.Spawns); aerr != nil {
			log.Printf("WARNING: failed to archive run finish: %v", aerr)
		}
	}
	r.publish(events.TopicRun, events.RunFinishedEvent{
		Result:    result.Outcome,
		Waves:     result.Waves,
		Spawns:    result.Spawns,
		Timestamp: time.Now(),
	})

	return result, nil
}

// init is the INIT state: crash recovery, graph validation, and the
// --story lineage restriction.
func (r *Runner) init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.recoverOrphans(); err != nil {
		return err
	}

	doc, err := r.store.Read()
	if err != nil {
		return err
	}
	if len(doc.Tasks) == 0 {
		return fmt.Errorf("no tasks in state document; run `conductor validate` against your plan first")
	}
	if err := graph.Validate(doc); err != nil {
		return fmt.Errorf("task graph rejected: %w", err)
	}

	if r.opts.Story != "" {
		ids, err := graph.Lineage(doc, r.opts.Story)
		if err != nil {
			return err
		}
		r.lineage = make(map[string]bool, len(ids))
		for _, id := range ids {
			r.lineage[id] = true
		}
	}

	return nil
}

// loop is the QUERY state machine: classify the snapshot, dispatch a
// sequential task or a parallel batch, repeat.
func (r *Runner) loop(ctx context.Context) (*Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, err := r.store.Read()
		if err != nil {
			return nil, err
		}
		view := r.scoped(doc)

		eligible := graph.Eligible(view)
		if len(eligible) == 0 {
			rs, stuck := graph.Terminal(view)
			switch rs {
			case graph.RunComplete:
				return r.result(OutcomeComplete, nil, doc), nil
			case graph.RunBlocked:
				return r.result(OutcomeBlocked, stuck, doc), nil
			default:
				return nil, fmt.Errorf("no eligible tasks but run still active; state document is inconsistent")
			}
		}

		if r.spawns >= r.cfg.Run.MaxIterations {
			return r.result(OutcomeMaxIterations, nil, doc), nil
		}

		if len(eligible) >= 2 && r.opts.Parallel {
			if err := r.runParallel(ctx); err != nil {
				return nil, err
			}
			continue
		}

		if err := r.runSequential(ctx, eligible[0]); err != nil {
			return nil, err
		}
	}
}

// scoped narrows the document to the story lineage when one is set.
// The returned view is only used for queries, never persisted.
func (r *Runner) scoped(doc *state.Document) *state.Document {
	if r.lineage == nil {
		return doc
	}
	view := &state.Document{}
	for _, t := range doc.Tasks {
		if r.lineage[t.ID] {
			view.Tasks = append(view.Tasks, t)
		}
	}
	return view
}

func (r *Runner) result(outcome string, stuck []graph.Stuck, doc *state.Document) *Result {
	tasks := doc.Tasks
	if r.lineage != nil {
		tasks = r.scoped(doc).Tasks
	}
	return &Result{
		Outcome: outcome,
		Stuck:   stuck,
		Waves:   r.wave,
		Spawns:  r.spawns,
		Tasks:   tasks,
	}
}

// recordFailure applies a task-local failure to the document: attempts
// incremented, failure logged, and the task either retryable-failed or
// permanently blocked once the budget is exhausted.
func (r *Runner) recordFailure(ctx context.Context, taskID, phase, message string) error {
	_, err := r.store.Write(func(doc *state.Document) error {
		t := doc.Task(taskID)
		if t == nil {
			return fmt.Errorf("task %q vanished from state document", taskID)
		}
		t.Retries.Attempts++
		t.Retries.FailureLog = append(t.Retries.FailureLog, state.FailureRecord{
			Phase:     phase,
			Timestamp: time.Now(),
			Message:   message,
		})
		t.WorkspaceRef = ""
		if t.Retryable() {
			t.Status = state.StatusFailed
		} else {
			t.Status = state.StatusBlocked
		}
		if doc.Execution != nil {
			doc.Execution.RemoveActiveWorkspace(taskID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if r.archive != nil {
		if aerr := r.archive.AppendFailure(ctx, history.FailureRecord{
			RunID: r.opts.RunID, TaskID: taskID, Phase: phase, Message: message,
		}); aerr != nil {
			log.Printf("WARNING: failed to archive failure for task %q: %v", taskID, aerr)
		}
	}
	return nil
}

// recordPassed marks a task passed and appends its progress entry.
func (r *Runner) recordPassed(ctx context.Context, taskID string, files []string, learnings string) error {
	var wave int
	_, err := r.store.Write(func(doc *state.Document) error {
		t := doc.Task(taskID)
		if t == nil {
			return fmt.Errorf("task %q vanished from state document", taskID)
		}
		t.Status = state.StatusPassed
		t.WorkspaceRef = ""
		wave = t.Wave
		doc.AppendProgress(state.ProgressEntry{
			Timestamp: time.Now(),
			Wave:      t.Wave,
			TaskID:    taskID,
			Outcome:   "passed",
			Files:     files,
			Learnings: learnings,
		})
		if doc.Execution != nil {
			doc.Execution.RemoveActiveWorkspace(taskID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if r.archive != nil {
		if aerr := r.archive.AppendProgress(ctx, history.ProgressRecord{
			RunID:     r.opts.RunID,
			Wave:      wave,
			TaskID:    taskID,
			Outcome:   "passed",
			Files:     strings.Join(files, ","),
			Learnings: learnings,
		}); aerr != nil {
			log.Printf("WARNING: failed to archive progress for task %q: %v", taskID, aerr)
		}
	}
	return nil
}

func (r *Runner) publish(topic string, event events.Event) {
	if r.bus != nil {
		r.bus.Publish(topic, event)
	}
}

// publishProgress emits a status-count snapshot for observers.
func (r *Runner) publishProgress(doc *state.Document) {
	if r.bus == nil {
		return
	}
	e := events.GraphProgressEvent{Total: len(doc.Tasks), Timestamp: time.Now()}
	for _, t := range doc.Tasks {
		switch t.Status {
		case state.StatusPassed:
			e.Passed++
		case state.StatusInProgress:
			e.InProgress++
		case state.StatusFailed:
			e.Failed++
		case state.StatusBlocked:
			e.Blocked++
		default:
			e.Pending++
		}
	}
	r.bus.Publish(events.TopicRun, e)
}

// sleep waits for the poll interval or context cancellation.
func (r *Runner) sleep(ctx context.Context) error {
	interval := r.cfg.Run.PollInterval()
	if r.poll > 0 {
		interval = r.poll
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(interval):
		return nil
	}
}
