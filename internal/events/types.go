package events

import "time"

// Event is the base interface for all orchestration events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask = "task"
	TopicRun  = "run"
)

// Event type constants
const (
	EventTypeWaveStarted   = "run.wave_started"
	EventTypeTaskSpawned   = "task.spawned"
	EventTypeTaskOutcome   = "task.outcome"
	EventTypeTaskMerged    = "task.merged"
	EventTypeGraphProgress = "run.graph_progress"
	EventTypeRunFinished   = "run.finished"
)

// WaveStartedEvent is published when a new batch of workers is spawned.
type WaveStartedEvent struct {
	Wave      int
	TaskIDs   []string
	Timestamp time.Time
}

func (e WaveStartedEvent) EventType() string { return EventTypeWaveStarted }
func (e WaveStartedEvent) TaskID() string    { return "" }

// TaskSpawnedEvent is published when a worker starts on a task.
type TaskSpawnedEvent struct {
	ID        string
	Title     string
	Wave      int
	Workspace string
	Timestamp time.Time
}

func (e TaskSpawnedEvent) EventType() string { return EventTypeTaskSpawned }
func (e TaskSpawnedEvent) TaskID() string    { return e.ID }

// TaskOutcomeEvent is published when a worker reaches a terminal
// outcome. Outcome is one of succeeded, failed, crashed, timed_out.
type TaskOutcomeEvent struct {
	ID        string
	Outcome   string
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskOutcomeEvent) EventType() string { return EventTypeTaskOutcome }
func (e TaskOutcomeEvent) TaskID() string    { return e.ID }

// TaskMergedEvent is published after an integration attempt.
type TaskMergedEvent struct {
	ID            string
	Merged        bool
	ConflictFiles []string
	Timestamp     time.Time
}

func (e TaskMergedEvent) EventType() string { return EventTypeTaskMerged }
func (e TaskMergedEvent) TaskID() string    { return e.ID }

// GraphProgressEvent is a snapshot of task counts by status.
type GraphProgressEvent struct {
	Total      int
	Passed     int
	InProgress int
	Failed     int
	Blocked    int
	Pending    int
	Timestamp  time.Time
}

func (e GraphProgressEvent) EventType() string { return EventTypeGraphProgress }
func (e GraphProgressEvent) TaskID() string    { return "" }

// RunFinishedEvent is published once, with the run's terminal result.
type RunFinishedEvent struct {
	Result    string // COMPLETE, BLOCKED, or MAX_ITERATIONS
	Waves     int
	Spawns    int
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) TaskID() string    { return "" }
