package state

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusPassed     Status = "passed"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
)

// Failure phases recorded in a task's failure log.
const (
	PhaseExecution     = "execution"
	PhaseTimeout       = "timeout"
	PhaseCrash         = "crash"
	PhaseMergeConflict = "merge_conflict"
	PhaseQualityGate   = "quality_gate"
	PhaseReview        = "review"
)

// FailureRecord is one entry in a task's failure log.
type FailureRecord struct {
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Retries tracks a task's retry budget and failure history.
type Retries struct {
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	FailureLog  []FailureRecord `json:"failureLog,omitempty"`
}

// Task is one unit of schedulable work.
type Task struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Prompt       string   `json:"prompt,omitempty"`
	Status       Status   `json:"status"`
	DependsOn    []string `json:"dependsOn,omitempty"`
	Priority     int      `json:"priority"`
	Retries      Retries  `json:"retries"`
	Wave         int      `json:"wave,omitempty"`
	WorkspaceRef string   `json:"workspaceRef,omitempty"`
}

// Retryable reports whether the task can be attempted again.
func (t *Task) Retryable() bool {
	return t.Retries.Attempts < t.Retries.MaxAttempts
}

// ProgressEntry is an append-only audit record of a terminal task outcome.
type ProgressEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Wave      int       `json:"wave"`
	TaskID    string    `json:"taskId"`
	Outcome   string    `json:"outcome"`
	Files     []string  `json:"files,omitempty"`
	Learnings string    `json:"learnings,omitempty"`
}

// ExecutionMetadata is run-lifetime bookkeeping for parallel execution.
// ActiveWorkspaces is the sole source of truth for crash recovery: an
// entry is added when a worker is spawned and removed on its terminal
// outcome, so anything still listed at startup is an orphan.
type ExecutionMetadata struct {
	Mode             string   `json:"mode"`
	MaxParallel      int      `json:"maxParallel"`
	CurrentWave      int      `json:"currentWave"`
	ActiveWorkspaces []string `json:"activeWorkspaces"`
}

// Document is the full persisted state: the task graph plus run history.
// Execution is nil for documents written by sequential-only runs.
type Document struct {
	Tasks     []Task             `json:"tasks"`
	Progress  []ProgressEntry    `json:"progress"`
	Execution *ExecutionMetadata `json:"execution,omitempty"`
}

// Task returns a pointer to the task with the given id, or nil.
func (d *Document) Task(id string) *Task {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return &d.Tasks[i]
		}
	}
	return nil
}

// AppendProgress records a terminal outcome in the audit log.
func (d *Document) AppendProgress(e ProgressEntry) {
	d.Progress = append(d.Progress, e)
}

// EnsureExecution returns the execution metadata, creating it on the
// first parallel run.
func (d *Document) EnsureExecution() *ExecutionMetadata {
	if d.Execution == nil {
		d.Execution = &ExecutionMetadata{Mode: "parallel"}
	}
	return d.Execution
}

// AddActiveWorkspace records a workspace id as checked out.
func (m *ExecutionMetadata) AddActiveWorkspace(id string) {
	for _, ws := range m.ActiveWorkspaces {
		if ws == id {
			return
		}
	}
	m.ActiveWorkspaces = append(m.ActiveWorkspaces, id)
}

// RemoveActiveWorkspace clears a workspace id after its terminal outcome.
func (m *ExecutionMetadata) RemoveActiveWorkspace(id string) {
	kept := m.ActiveWorkspaces[:0]
	for _, ws := range m.ActiveWorkspaces {
		if ws != id {
			kept = append(kept, ws)
		}
	}
	m.ActiveWorkspaces = kept
}
