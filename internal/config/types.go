package config

import "time"

// ExecutorConfig selects and parameterizes the worker executor.
type ExecutorConfig struct {
	Type    string   `json:"type"`              // "claude", "codex", or "command"
	Command string   `json:"command,omitempty"` // Binary for the command executor
	Args    []string `json:"args,omitempty"`    // Extra args for the command executor
	Model   string   `json:"model,omitempty"`   // Model override for CLI executors
}

// RunConfig holds the orchestration knobs.
type RunConfig struct {
	MaxParallel         int    `json:"maxParallel"`         // Worker slots under parallel execution
	MaxIterations       int    `json:"maxIterations"`       // Global spawn cap for one run
	TimeoutSeconds      int    `json:"timeoutSeconds"`      // Per-task wall-clock limit
	PollIntervalSeconds int    `json:"pollIntervalSeconds"` // Monitor poll interval
	BaseBranch          string `json:"baseBranch"`          // Shared base revision
	WorkspaceDir        string `json:"workspaceDir"`        // Isolated workspace root
	StatePath           string `json:"statePath"`           // Canonical state document
	PlanPath            string `json:"planPath"`            // YAML plan file
	HistoryPath         string `json:"historyPath"`         // sqlite run archive
}

// Timeout returns the per-task limit as a duration.
func (r RunConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// PollInterval returns the monitor poll interval as a duration.
func (r RunConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalSeconds) * time.Second
}

// Config is the top-level configuration.
type Config struct {
	Executor ExecutorConfig  `json:"executor"`
	Review   *ExecutorConfig `json:"review,omitempty"` // Optional review pass executor
	Run      RunConfig       `json:"run"`
	Gates    []string        `json:"gates,omitempty"` // Quality-gate shell commands
}
