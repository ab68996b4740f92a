package worker

import (
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"
)

// Outcome classifies a worker's observed status.
type Outcome int

const (
	// Running means the process is alive with no token emitted yet.
	Running Outcome = iota
	// Succeeded means the pass token was found in the capture sink.
	Succeeded
	// Failed means the fail token was found in the capture sink.
	Failed
	// Crashed means the process exited without emitting either token.
	// This is the least-trusted outcome: nothing the worker produced
	// can be assumed complete.
	Crashed
)

func (o Outcome) String() string {
	switch o {
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Crashed:
		return "crashed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Monitor classifies running workers. All methods are safe to call
// repeatedly from the orchestrator's poll loop.
type Monitor struct{}

// NewMonitor creates a monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Status inspects a worker. A live process whose sink already contains
// a token is classified by that token (the worker may still be flushing
// output); a live process without one is Running. An exited process is
// re-scanned: token wins, absence is Crashed regardless of exit code.
func (m *Monitor) Status(h *Handle) (Outcome, error) {
	exited, _ := h.Exited()

	outcome, err := scanSink(h.SinkPath)
	if err != nil {
		return Running, err
	}
	if outcome == Succeeded || outcome == Failed {
		return outcome, nil
	}

	if exited {
		return Crashed, nil
	}
	return Running, nil
}

// TimedOut reports whether the worker has exceeded its wall-clock
// limit.
func (m *Monitor) TimedOut(h *Handle, limit time.Duration) bool {
	if limit <= 0 {
		return false
	}
	return time.Since(h.StartedAt) > limit
}

// Kill terminates the worker's entire process group. It is idempotent
// and a no-op when the process has already exited.
func (m *Monitor) Kill(h *Handle) error {
	if exited, _ := h.Exited(); exited {
		return nil
	}
	pid := h.Pid()
	if pid == 0 {
		return nil
	}
	// Negative pid targets the whole process group, so worker-spawned
	// children die with it.
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if err == syscall.ESRCH {
			return nil // Already gone between the check and the signal.
		}
		return fmt.Errorf("failed to kill worker process group %d: %w", pid, err)
	}
	return nil
}

// scanSink looks for a completion token in the capture sink. A missing
// sink reads as no token yet.
func scanSink(path string) (Outcome, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Running, nil
	}
	if err != nil {
		return Running, fmt.Errorf("failed to read capture sink: %w", err)
	}

	// Tokens must stand on their own line; this keeps an executor that
	// echoes the directive text from matching. The last token wins if a
	// worker emits both.
	outcome := Running
	for _, line := range strings.Split(string(data), "\n") {
		switch strings.TrimSpace(line) {
		case TokenPassed:
			outcome = Succeeded
		case TokenFailed:
			outcome = Failed
		}
	}
	return outcome, nil
}
