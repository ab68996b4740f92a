// Package worker spawns and monitors the external executor processes
// that perform task work. A worker is opaque to the engine: it consumes
// a directive and a working directory, and reports its outcome solely
// by emitting one of two completion tokens on its output stream before
// exiting. Exit codes are not trusted; a clean exit without a token is
// a crash.
package worker

import "fmt"

// Executor builds the command line for one worker invocation. The
// concrete executor (claude CLI, codex CLI, arbitrary command) is an
// implementation detail behind this interface; tests substitute scripts.
type Executor interface {
	// Command returns the binary and arguments that run the directive.
	Command(directive string) (name string, args []string)
	// Type identifies the executor for logging and circuit breaking.
	Type() string
}

// Config selects and parameterizes an executor.
type Config struct {
	Type    string   `json:"type"`              // "claude", "codex", or "command"
	Command string   `json:"command,omitempty"` // Binary for the generic executor
	Args    []string `json:"args,omitempty"`    // Extra args for the generic executor
	Model   string   `json:"model,omitempty"`   // Model override for CLI executors
}

// New creates an executor from configuration.
func New(cfg Config) (Executor, error) {
	switch cfg.Type {
	case "claude":
		return &ClaudeExecutor{Model: cfg.Model}, nil
	case "codex":
		return &CodexExecutor{Model: cfg.Model}, nil
	case "command":
		if cfg.Command == "" {
			return nil, fmt.Errorf("command executor requires a command")
		}
		return &CommandExecutor{Name: cfg.Command, Args: cfg.Args}, nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", cfg.Type)
	}
}

// ClaudeExecutor runs the claude CLI in non-interactive print mode.
type ClaudeExecutor struct {
	Model string
}

func (e *ClaudeExecutor) Command(directive string) (string, []string) {
	args := []string{"-p", directive, "--dangerously-skip-permissions"}
	if e.Model != "" {
		args = append(args, "--model", e.Model)
	}
	return "claude", args
}

func (e *ClaudeExecutor) Type() string { return "claude" }

// CodexExecutor runs the codex CLI in exec mode.
type CodexExecutor struct {
	Model string
}

func (e *CodexExecutor) Command(directive string) (string, []string) {
	args := []string{"exec", directive, "--full-auto"}
	if e.Model != "" {
		args = append(args, "--model", e.Model)
	}
	return "codex", args
}

func (e *CodexExecutor) Type() string { return "codex" }

// CommandExecutor runs an arbitrary binary; the directive is appended
// as the final argument.
type CommandExecutor struct {
	Name string
	Args []string
}

func (e *CommandExecutor) Command(directive string) (string, []string) {
	args := append(append([]string(nil), e.Args...), directive)
	return e.Name, args
}

func (e *CommandExecutor) Type() string { return "command" }
