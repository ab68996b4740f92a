package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/conductor/internal/state"
)

func TestNewExecutor(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "claude", cfg: Config{Type: "claude"}},
		{name: "codex", cfg: Config{Type: "codex", Model: "gpt-5"}},
		{name: "command", cfg: Config{Type: "command", Command: "./agent.sh"}},
		{name: "command missing binary", cfg: Config{Type: "command"}, wantErr: true},
		{name: "unknown type", cfg: Config{Type: "gemini"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Type, e.Type())
		})
	}
}

func TestExecutorCommands(t *testing.T) {
	claude := &ClaudeExecutor{Model: "opus"}
	name, args := claude.Command("do the thing")
	assert.Equal(t, "claude", name)
	assert.Contains(t, args, "-p")
	assert.Contains(t, args, "do the thing")
	assert.Contains(t, args, "opus")

	cmd := &CommandExecutor{Name: "./agent.sh", Args: []string{"--quiet"}}
	name, args = cmd.Command("directive")
	assert.Equal(t, "./agent.sh", name)
	assert.Equal(t, []string{"--quiet", "directive"}, args)
}

func TestBuildDirective(t *testing.T) {
	task := &state.Task{
		ID:     "auth-api",
		Title:  "Build the auth API",
		Prompt: "Implement login and logout endpoints.",
	}

	d := BuildDirective(task)

	assert.Contains(t, d, "auth-api")
	assert.Contains(t, d, "Build the auth API")
	assert.Contains(t, d, "Implement login and logout endpoints.")
	assert.Contains(t, d, TokenPassed)
	assert.Contains(t, d, TokenFailed)
	assert.Contains(t, d, "state file")

	// The tokens are referenced but never appear as bare lines the
	// monitor would match if the directive were echoed to the sink.
	for _, line := range strings.Split(d, "\n") {
		trimmed := strings.TrimSpace(line)
		assert.NotEqual(t, TokenPassed, trimmed)
		assert.NotEqual(t, TokenFailed, trimmed)
	}
}

func writeSink(t *testing.T, content string) *Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), filepath.FromSlash(CaptureFile))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	h := &Handle{TaskID: "t", SinkPath: path, StartedAt: time.Now(), waitDone: make(chan struct{})}
	return h
}

func TestMonitorStatusTokens(t *testing.T) {
	m := NewMonitor()

	tests := []struct {
		name    string
		content string
		exited  bool
		want    Outcome
	}{
		{name: "no token, alive", content: "working...\n", want: Running},
		{name: "pass token, alive", content: "done\nCONDUCTOR_RESULT: PASS\n", want: Succeeded},
		{name: "fail token, alive", content: "CONDUCTOR_RESULT: FAIL\n", want: Failed},
		{name: "pass token after exit", content: "CONDUCTOR_RESULT: PASS\n", exited: true, want: Succeeded},
		{name: "no token after exit is a crash", content: "segfault\n", exited: true, want: Crashed},
		{name: "token with surrounding whitespace", content: "  CONDUCTOR_RESULT: PASS  \n", want: Succeeded},
		{name: "token embedded in prose is ignored", content: `print the exact line "CONDUCTOR_RESULT: PASS".` + "\n", exited: true, want: Crashed},
		{name: "last token wins", content: "CONDUCTOR_RESULT: PASS\nCONDUCTOR_RESULT: FAIL\n", want: Failed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := writeSink(t, tt.content)
			h.exited = tt.exited

			got, err := m.Status(h)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMonitorStatusMissingSink(t *testing.T) {
	m := NewMonitor()
	h := &Handle{TaskID: "t", SinkPath: filepath.Join(t.TempDir(), "missing.log"), waitDone: make(chan struct{})}

	got, err := m.Status(h)
	require.NoError(t, err)
	assert.Equal(t, Running, got)
}

func TestMonitorTimedOut(t *testing.T) {
	m := NewMonitor()
	h := &Handle{StartedAt: time.Now().Add(-10 * time.Minute)}

	assert.True(t, m.TimedOut(h, 5*time.Minute))
	assert.False(t, m.TimedOut(h, time.Hour))
	assert.False(t, m.TimedOut(h, 0), "zero limit disables the timeout")
}

func TestSpawnAndWait(t *testing.T) {
	dir := t.TempDir()
	spawner := NewSpawner(&CommandExecutor{Name: "sh", Args: []string{"-c", "echo 'CONDUCTOR_RESULT: PASS'; true"}}, nil)

	// The sh -c script ignores the appended directive argument.
	h, err := spawner.Spawn(context.Background(), &state.Task{ID: "t1"}, dir)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	exited, _ := h.Exited()
	assert.True(t, exited)

	m := NewMonitor()
	got, err := m.Status(h)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, got)

	// Kill after exit is a no-op.
	assert.NoError(t, m.Kill(h))
}

func TestSpawnCrashClassification(t *testing.T) {
	dir := t.TempDir()
	spawner := NewSpawner(&CommandExecutor{Name: "sh", Args: []string{"-c", "echo silent worker; exit 0"}}, nil)

	h, err := spawner.Spawn(context.Background(), &state.Task{ID: "t2"}, dir)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	// Zero exit without a token is not trusted.
	got, err := NewMonitor().Status(h)
	require.NoError(t, err)
	assert.Equal(t, Crashed, got)
}

func TestProcessManagerTracking(t *testing.T) {
	pm := NewProcessManager()
	assert.Equal(t, 0, pm.Count())

	dir := t.TempDir()
	spawner := NewSpawner(&CommandExecutor{Name: "sh", Args: []string{"-c", "sleep 30"}}, pm)

	h, err := spawner.Spawn(context.Background(), &state.Task{ID: "t3"}, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, pm.Count())

	require.NoError(t, pm.KillAll())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = h.Wait(ctx)
	assert.Equal(t, 0, pm.Count())
}
