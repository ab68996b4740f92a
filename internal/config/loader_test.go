package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Run.MaxParallel != 4 {
		t.Errorf("MaxParallel = %d, want 4", cfg.Run.MaxParallel)
	}
	if cfg.Run.MaxIterations != 20 {
		t.Errorf("MaxIterations = %d, want 20", cfg.Run.MaxIterations)
	}
	if cfg.Run.TimeoutSeconds != 900 {
		t.Errorf("TimeoutSeconds = %d, want 900", cfg.Run.TimeoutSeconds)
	}
	if cfg.Executor.Type != "claude" {
		t.Errorf("Executor.Type = %q, want claude", cfg.Executor.Type)
	}
}

func TestLoadMissingFilesAreNotErrors(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nope.json"), filepath.Join(dir, "also-nope.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Run.MaxParallel != 4 {
		t.Errorf("defaults not applied, MaxParallel = %d", cfg.Run.MaxParallel)
	}
}

func TestLoadProjectOverridesGlobal(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global.json", `{
		"executor": {"type": "codex", "model": "gpt-5"},
		"run": {"maxParallel": 8, "maxIterations": 20, "timeoutSeconds": 900, "pollIntervalSeconds": 5,
			"baseBranch": "main", "workspaceDir": ".conductor/workspaces",
			"statePath": ".conductor/state.json", "planPath": "conductor.yaml",
			"historyPath": ".conductor/history.db"}
	}`)
	project := writeConfig(t, dir, "project.json", `{
		"run": {"maxParallel": 2, "maxIterations": 20, "timeoutSeconds": 900, "pollIntervalSeconds": 5,
			"baseBranch": "develop", "workspaceDir": ".conductor/workspaces",
			"statePath": ".conductor/state.json", "planPath": "conductor.yaml",
			"historyPath": ".conductor/history.db"},
		"gates": ["go test ./..."]
	}`)

	cfg, err := Load(global, project)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Executor.Type != "codex" {
		t.Errorf("Executor.Type = %q, want codex (from global)", cfg.Executor.Type)
	}
	if cfg.Run.MaxParallel != 2 {
		t.Errorf("MaxParallel = %d, want 2 (project wins)", cfg.Run.MaxParallel)
	}
	if cfg.Run.BaseBranch != "develop" {
		t.Errorf("BaseBranch = %q, want develop", cfg.Run.BaseBranch)
	}
	if len(cfg.Gates) != 1 || cfg.Gates[0] != "go test ./..." {
		t.Errorf("Gates = %v", cfg.Gates)
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	bad := writeConfig(t, dir, "bad.json", `{not json`)

	if _, err := Load(bad, ""); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Run.MaxParallel = 6
	cfg.Gates = []string{"make test"}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Run.MaxParallel != 6 {
		t.Errorf("MaxParallel = %d, want 6", loaded.Run.MaxParallel)
	}
	if len(loaded.Gates) != 1 || loaded.Gates[0] != "make test" {
		t.Errorf("Gates = %v", loaded.Gates)
	}
}
