package merge

import (
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/aristath/conductor/internal/workspace"
)

// setupTestRepo creates a temporary git repository with one commit on
// main.
func setupTestRepo(t *testing.T) string {
	t.Helper()

	repoPath := t.TempDir()

	mustGit(t, repoPath, "init")
	mustGit(t, repoPath, "config", "user.name", "Test User")
	mustGit(t, repoPath, "config", "user.email", "test@example.com")
	mustGit(t, repoPath, "checkout", "-b", "main")

	readme := filepath.Join(repoPath, "README.md")
	if err := os.WriteFile(readme, []byte("# Test Repo\n"), 0644); err != nil {
		t.Fatalf("failed to write initial file: %v", err)
	}
	mustGit(t, repoPath, "add", ".")
	mustGit(t, repoPath, "commit", "-m", "initial commit")

	return repoPath
}

func mustGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v (output: %s)", strings.Join(args, " "), err, string(output))
	}
	return string(output)
}

// createWorkspace checks out a workspace for the task and commits the
// given files on its branch.
func createWorkspace(t *testing.T, repoPath, taskID string, files map[string]string) *workspace.Info {
	t.Helper()

	m := workspace.NewManager(workspace.Config{RepoPath: repoPath, BaseBranch: "main"})
	info, err := m.Create(taskID, "")
	if err != nil {
		t.Fatalf("Create workspace failed: %v", err)
	}

	for name, content := range files {
		if err := os.WriteFile(filepath.Join(info.Path, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s in workspace: %v", name, err)
		}
	}
	mustGit(t, info.Path, "add", ".")
	mustGit(t, info.Path, "commit", "-m", "workspace changes")

	return info
}

func TestIntegrateClean(t *testing.T) {
	repoPath := setupTestRepo(t)
	info := createWorkspace(t, repoPath, "merge-clean-task", map[string]string{
		"feature.txt": "new feature\n",
	})

	c := NewCoordinator(repoPath, "main")
	result, err := c.Integrate(info)
	if err != nil {
		t.Fatalf("Integrate failed: %v", err)
	}
	if !result.Merged {
		t.Errorf("expected clean merge, got Merged=false (detail: %s)", result.Detail)
	}

	if _, err := os.Stat(filepath.Join(repoPath, "feature.txt")); os.IsNotExist(err) {
		t.Errorf("feature.txt not found on base after merge")
	}

	status := mustGit(t, repoPath, "status", "--porcelain")
	if strings.TrimSpace(status) != "" {
		t.Errorf("base not clean after merge: %s", status)
	}
}

func TestIntegrateConflict(t *testing.T) {
	repoPath := setupTestRepo(t)
	info := createWorkspace(t, repoPath, "conflict-task", map[string]string{
		"README.md": "# Test Repo\nWorkspace branch content\n",
	})

	// Advance the base with a competing change to the same file.
	if err := os.WriteFile(filepath.Join(repoPath, "README.md"), []byte("# Test Repo\nMain branch content\n"), 0644); err != nil {
		t.Fatalf("failed to modify README on base: %v", err)
	}
	mustGit(t, repoPath, "add", "README.md")
	mustGit(t, repoPath, "commit", "-m", "update README on base")

	c := NewCoordinator(repoPath, "main")
	result, err := c.Integrate(info)
	if err != nil {
		t.Fatalf("Integrate returned error: %v", err)
	}
	if result.Merged {
		t.Errorf("expected conflict detection, got Merged=true")
	}
	if len(result.ConflictFiles) == 0 || result.ConflictFiles[0] != "README.md" {
		t.Errorf("ConflictFiles = %v, want [README.md]", result.ConflictFiles)
	}

	// The attempt must leave the base byte-identical: no merge in
	// progress, no dirty files, base content untouched.
	status := mustGit(t, repoPath, "status", "--porcelain")
	if strings.TrimSpace(status) != "" {
		t.Errorf("base not clean after conflict rollback: %s", status)
	}
	content, err := os.ReadFile(filepath.Join(repoPath, "README.md"))
	if err != nil {
		t.Fatalf("failed to read README: %v", err)
	}
	if string(content) != "# Test Repo\nMain branch content\n" {
		t.Errorf("base README changed by a rolled-back merge: %q", content)
	}
}

// TestIntegratePreservesEngineState verifies that the pre-merge stash
// never sweeps the reserved directory: the state document must stay on
// disk through an integration while other local changes are stashed
// and restored.
func TestIntegratePreservesEngineState(t *testing.T) {
	repoPath := setupTestRepo(t)
	info := createWorkspace(t, repoPath, "state-task", map[string]string{
		"feature.txt": "new feature\n",
	})

	stateDoc := []byte(`{"tasks":[{"id":"state-task"}]}`)
	statePath := filepath.Join(repoPath, workspace.ReservedDir, "state.json")
	if err := os.WriteFile(statePath, stateDoc, 0644); err != nil {
		t.Fatalf("failed to write state file: %v", err)
	}

	// An unrelated untracked file dirties the base so the stash path
	// actually runs.
	notesPath := filepath.Join(repoPath, "notes.txt")
	if err := os.WriteFile(notesPath, []byte("scratch\n"), 0644); err != nil {
		t.Fatalf("failed to write notes file: %v", err)
	}

	c := NewCoordinator(repoPath, "main")
	result, err := c.Integrate(info)
	if err != nil {
		t.Fatalf("Integrate failed: %v", err)
	}
	if !result.Merged {
		t.Fatalf("expected clean merge, got Merged=false (detail: %s)", result.Detail)
	}
	if result.StashRef != "" {
		t.Fatalf("local changes left stranded in %s", result.StashRef)
	}

	// The state document was on disk the whole time and is unchanged.
	got, err := os.ReadFile(statePath)
	if err != nil {
		t.Fatalf("state file missing after integration: %v", err)
	}
	if string(got) != string(stateDoc) {
		t.Errorf("state file changed by integration: %q", got)
	}

	// The scratch file went through the stash and came back.
	notes, err := os.ReadFile(notesPath)
	if err != nil {
		t.Fatalf("local file missing after integration: %v", err)
	}
	if string(notes) != "scratch\n" {
		t.Errorf("local file changed by integration: %q", notes)
	}
}

// TestIntegrateMissingBranch verifies an unmergeable ref surfaces as an
// error instead of a conflict, so it cannot eat into retry budgets.
func TestIntegrateMissingBranch(t *testing.T) {
	repoPath := setupTestRepo(t)

	c := NewCoordinator(repoPath, "main")
	info := &workspace.Info{TaskID: "ghost", Branch: "conductor/ghost"}

	result, err := c.Integrate(info)
	if err == nil {
		t.Fatalf("expected error for missing branch, got result %+v", result)
	}
	if result != nil && !result.Merged && len(result.ConflictFiles) > 0 {
		t.Errorf("missing branch misclassified as a content conflict: %v", result.ConflictFiles)
	}
}

func TestParseConflictFiles(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{
			name:   "single conflict",
			output: "Auto-merging main.go\nCONFLICT (content): Merge conflict in main.go\nAutomatic merge failed;\n",
			want:   []string{"main.go"},
		},
		{
			name: "multiple conflicts",
			output: "CONFLICT (content): Merge conflict in api/handler.go\n" +
				"CONFLICT (content): Merge conflict in api/routes.go\n",
			want: []string{"api/handler.go", "api/routes.go"},
		},
		{
			name:   "no conflicts",
			output: "Merge made by the 'ort' strategy.\n",
			want:   nil,
		},
		{
			name:   "conflict line without file",
			output: "some CONFLICT happened in somewhere/deep.txt\n",
			want:   []string{"somewhere/deep.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseConflictFiles(tt.output)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseConflictFiles() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTransientLockError(t *testing.T) {
	tests := []struct {
		output string
		want   bool
	}{
		{"fatal: Unable to create '/repo/.git/index.lock': File exists.", true},
		{"Another git process seems to be running in this repository", true},
		{"CONFLICT (content): Merge conflict in main.go", false},
		{"fatal: not a git repository", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isTransientLockError(tt.output); got != tt.want {
			t.Errorf("isTransientLockError(%q) = %v, want %v", tt.output, got, tt.want)
		}
	}
}

func TestNewCoordinatorDefaultBranch(t *testing.T) {
	c := NewCoordinator("/repo", "")
	if c.baseBranch != "main" {
		t.Errorf("default base branch = %q, want main", c.baseBranch)
	}
}
