package config

import "path/filepath"

// DefaultConfig returns the built-in defaults. Timeout and poll values
// match the worker contract: 900s per task, 5s between polls.
func DefaultConfig() *Config {
	return &Config{
		Executor: ExecutorConfig{
			Type: "claude",
		},
		Run: RunConfig{
			MaxParallel:         4,
			MaxIterations:       20,
			TimeoutSeconds:      900,
			PollIntervalSeconds: 5,
			BaseBranch:          "main",
			WorkspaceDir:        filepath.Join(".conductor", "workspaces"),
			StatePath:           filepath.Join(".conductor", "state.json"),
			PlanPath:            "conductor.yaml",
			HistoryPath:         filepath.Join(".conductor", "history.db"),
		},
	}
}
