// Package workspace manages per-task isolated filesystem copies,
// implemented as git worktrees branched from the shared base revision.
// Each worker gets a disjoint tree it can modify freely; only the merge
// coordinator ever advances the base.
package workspace

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// BranchPrefix namespaces the branches created alongside workspaces.
const BranchPrefix = "conductor/"

// ReservedDir is the engine-owned directory under the repository root:
// state document, run history, and workspaces live there. It must stay
// out of version control, or the base's dirty check would see it and
// the pre-merge stash would sweep the live state off disk.
const ReservedDir = ".conductor"

// safeID guards every filesystem path and branch name built from a task
// id. Rejecting anything else up front closes the path-traversal hole a
// malformed id would open.
var safeID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Info describes a checked-out workspace.
type Info struct {
	Path   string // Absolute path to the workspace directory
	Branch string // Branch name (e.g., "conductor/task-123")
	TaskID string // Owning task id
	Head   string // HEAD commit hash at creation
}

// Config configures the manager.
type Config struct {
	RepoPath     string // Absolute path to the git repository
	BaseBranch   string // Branch workspaces are created from (e.g., "main")
	WorkspaceDir string // Directory under the repo for workspaces
}

// Manager creates and removes workspaces.
type Manager struct {
	config Config
}

// NewManager creates a workspace manager.
func NewManager(cfg Config) *Manager {
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = filepath.Join(ReservedDir, "workspaces")
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	return &Manager{config: cfg}
}

// ValidateID reports whether a task id is safe to use in paths and
// branch names.
func ValidateID(taskID string) error {
	if !safeID.MatchString(taskID) {
		return fmt.Errorf("workspace id %q contains unsafe characters", taskID)
	}
	return nil
}

// Branch returns the branch name for a task's workspace.
func Branch(taskID string) string {
	return BranchPrefix + taskID
}

// Dir returns the workspace directory for a task id.
func (m *Manager) Dir(taskID string) string {
	return filepath.Join(m.config.RepoPath, m.config.WorkspaceDir, taskID)
}

// EnsureExcluded registers the reserved directory (and the workspace
// dir, when configured elsewhere) in the repository's info/exclude, so
// engine state never shows up as untracked on the base. info/exclude is
// used instead of .gitignore because worker commits must not carry
// engine bookkeeping into the project's tree.
func (m *Manager) EnsureExcluded() error {
	gitDirOut, err := m.git("rev-parse", "--git-common-dir")
	if err != nil {
		return fmt.Errorf("failed to locate git dir: %w (output: %s)", err, gitDirOut)
	}
	gitDir := strings.TrimSpace(gitDirOut)
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(m.config.RepoPath, gitDir)
	}

	entries := []string{"/" + ReservedDir + "/"}
	if rel, err := filepath.Rel(m.config.RepoPath, filepath.Join(m.config.RepoPath, m.config.WorkspaceDir)); err == nil {
		if top := strings.Split(filepath.ToSlash(rel), "/")[0]; top != ReservedDir && top != ".." {
			entries = append(entries, "/"+filepath.ToSlash(rel)+"/")
		}
	}

	excludePath := filepath.Join(gitDir, "info", "exclude")
	existing, err := os.ReadFile(excludePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", excludePath, err)
	}

	var missing []string
	for _, entry := range entries {
		if !containsLine(string(existing), entry) {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(excludePath), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(excludePath), err)
	}
	f, err := os.OpenFile(excludePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", excludePath, err)
	}
	defer f.Close()

	prefix := ""
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		prefix = "\n"
	}
	if _, err := fmt.Fprintf(f, "%s%s\n", prefix, strings.Join(missing, "\n")); err != nil {
		return fmt.Errorf("failed to write %s: %w", excludePath, err)
	}
	return nil
}

func containsLine(content, line string) bool {
	for _, l := range strings.Split(content, "\n") {
		if strings.TrimSpace(l) == line {
			return true
		}
	}
	return false
}

func (m *Manager) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = m.config.RepoPath
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// Create checks out a new workspace for the task, branched from
// baseRevision (or the configured base branch when empty).
func (m *Manager) Create(taskID, baseRevision string) (*Info, error) {
	if err := ValidateID(taskID); err != nil {
		return nil, err
	}

	if err := m.EnsureExcluded(); err != nil {
		return nil, err
	}
	if baseRevision == "" {
		baseRevision = m.config.BaseBranch
	}

	branch := Branch(taskID)
	wsPath := m.Dir(taskID)

	cmd := exec.Command("git", "worktree", "add", "-b", branch, wsPath, baseRevision)
	cmd.Dir = m.config.RepoPath
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w (output: %s)", err, string(output))
	}

	headCmd := exec.Command("git", "rev-parse", "HEAD")
	headCmd.Dir = wsPath
	headOutput, err := headCmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace HEAD: %w (output: %s)", err, string(headOutput))
	}

	return &Info{
		Path:   wsPath,
		Branch: branch,
		TaskID: taskID,
		Head:   strings.TrimSpace(string(headOutput)),
	}, nil
}

// Remove deletes the task's workspace and its branch. Idempotent: a
// workspace that is already gone is success, and branch deletion
// failures for missing branches are ignored.
func (m *Manager) Remove(taskID string) error {
	if err := ValidateID(taskID); err != nil {
		return err
	}

	wsPath := m.Dir(taskID)

	if _, err := os.Stat(wsPath); err == nil {
		removeCmd := exec.Command("git", "worktree", "remove", "--force", wsPath)
		removeCmd.Dir = m.config.RepoPath
		if output, err := removeCmd.CombinedOutput(); err != nil {
			// The directory may exist without being a registered
			// worktree (e.g. after a partial crash). Fall back to a
			// plain removal plus prune.
			if rmErr := os.RemoveAll(wsPath); rmErr != nil {
				return fmt.Errorf("failed to remove workspace: %w (output: %s)", err, string(output))
			}
			_ = m.Prune()
		}
	}

	// Branch cleanup; a branch that never existed is not an error.
	branchCmd := exec.Command("git", "branch", "-D", Branch(taskID))
	branchCmd.Dir = m.config.RepoPath
	if output, err := branchCmd.CombinedOutput(); err != nil {
		out := string(output)
		if !strings.Contains(out, "not found") && !strings.Contains(out, "not a git repository") {
			return fmt.Errorf("failed to delete workspace branch: %w (output: %s)", err, out)
		}
	}

	return nil
}

// List returns all workspaces currently checked out under the workspace
// directory.
func (m *Manager) List() ([]Info, error) {
	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	cmd.Dir = m.config.RepoPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w (output: %s)", err, string(output))
	}

	root := filepath.Join(m.config.RepoPath, m.config.WorkspaceDir)

	var infos []Info
	var current Info
	flush := func() {
		if current.Path != "" && strings.HasPrefix(current.Path, root) {
			infos = append(infos, current)
		}
		current = Info{}
	}

	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			branch := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(branch, "refs/heads/")
			current.TaskID = strings.TrimPrefix(current.Branch, BranchPrefix)
		}
	}
	flush()

	return infos, nil
}

// Prune cleans stale worktree metadata and removes orphaned directories
// left under the workspace dir by a crashed run. Called at startup.
func (m *Manager) Prune() error {
	cmd := exec.Command("git", "worktree", "prune")
	cmd.Dir = m.config.RepoPath
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to prune workspaces: %w (output: %s)", err, string(output))
	}

	// Directories no longer registered as worktrees are orphans.
	root := filepath.Join(m.config.RepoPath, m.config.WorkspaceDir)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to scan workspace dir: %w", err)
	}

	registered := make(map[string]bool)
	if infos, err := m.List(); err == nil {
		for _, info := range infos {
			registered[info.Path] = true
		}
	}

	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if !registered[path] {
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("failed to remove orphaned workspace %s: %w", path, err)
			}
		}
	}

	return nil
}
