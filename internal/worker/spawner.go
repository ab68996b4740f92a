package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/aristath/conductor/internal/state"
)

// Handle tracks one spawned worker process. The spawner returns
// immediately; the caller owns monitoring via Monitor.
type Handle struct {
	TaskID    string
	StartedAt time.Time
	SinkPath  string

	cmd  *exec.Cmd
	sink *os.File

	mu       sync.Mutex
	exited   bool
	exitErr  error
	waitDone chan struct{}
}

// Exited reports whether the process has exited, and its wait error.
func (h *Handle) Exited() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited, h.exitErr
}

// Wait blocks until the process exits or the context is cancelled.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.waitDone:
		_, err := h.Exited()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pid returns the worker's process id, or 0 before start.
func (h *Handle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Spawner launches executor processes bound to workspaces.
type Spawner struct {
	executor Executor
	procMgr  *ProcessManager
}

// NewSpawner creates a spawner. The ProcessManager is optional; when
// set, spawned workers are tracked for shutdown kill-all.
func NewSpawner(executor Executor, procMgr *ProcessManager) *Spawner {
	return &Spawner{executor: executor, procMgr: procMgr}
}

// ExecutorType returns the configured executor's type.
func (s *Spawner) ExecutorType() string {
	return s.executor.Type()
}

// Spawn launches a worker for the task in dir and returns immediately.
// Combined stdout/stderr is redirected to the workspace-local capture
// sink; the worker runs in its own process group so the whole subtree
// can be terminated together.
func (s *Spawner) Spawn(ctx context.Context, task *state.Task, dir string) (*Handle, error) {
	directive := BuildDirective(task)
	name, args := s.executor.Command(directive)

	sinkPath := filepath.Join(dir, filepath.FromSlash(CaptureFile))
	if err := os.MkdirAll(filepath.Dir(sinkPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture sink dir: %w", err)
	}
	sink, err := os.OpenFile(sinkPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture sink: %w", err)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = sink
	cmd.Stderr = sink
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // New process group for clean subtree termination
	}

	if err := cmd.Start(); err != nil {
		sink.Close()
		os.Remove(sinkPath)
		return nil, fmt.Errorf("failed to start worker for task %q: %w", task.ID, err)
	}

	if s.procMgr != nil {
		s.procMgr.Track(cmd)
	}

	h := &Handle{
		TaskID:    task.ID,
		StartedAt: time.Now(),
		SinkPath:  sinkPath,
		cmd:       cmd,
		sink:      sink,
		waitDone:  make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		sink.Close()
		if s.procMgr != nil {
			s.procMgr.Untrack(cmd)
		}
		h.mu.Lock()
		h.exited = true
		h.exitErr = err
		h.mu.Unlock()
		close(h.waitDone)
	}()

	return h, nil
}
