// Package merge integrates completed workspaces back into the shared
// base branch. Integrations are strictly serialized: workers run in
// parallel, but the base only ever advances one merge at a time, which
// removes write races on the shared revision by construction.
package merge

import (
	"bufio"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aristath/conductor/internal/workspace"
)

// Result is the outcome of one integration attempt.
type Result struct {
	Merged        bool
	ConflictFiles []string
	// StashRef is set when local base changes were stashed before the
	// merge and restoring them failed. The stash entry is deliberately
	// left in place so the work survives; the caller must surface it.
	StashRef string
	Detail   string
}

// Coordinator serializes merges into the base branch.
type Coordinator struct {
	repoPath   string
	baseBranch string
	mu         sync.Mutex
}

// NewCoordinator creates a merge coordinator for the repo.
func NewCoordinator(repoPath, baseBranch string) *Coordinator {
	if baseBranch == "" {
		baseBranch = "main"
	}
	return &Coordinator{repoPath: repoPath, baseBranch: baseBranch}
}

// Integrate merges the workspace's branch into the base branch with a
// non-destructive --no-ff merge. Any uncommitted changes on the base
// are stashed first and restored afterwards. On conflict the attempt is
// fully rolled back and Result.Merged is false, leaving the base
// byte-identical to its pre-attempt state.
func (c *Coordinator) Integrate(info *workspace.Info) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if out, err := c.git("checkout", c.baseBranch); err != nil {
		return nil, fmt.Errorf("failed to checkout base branch: %w (output: %s)", err, out)
	}

	stashed, err := c.stashLocalChanges()
	if err != nil {
		return nil, err
	}

	result, err := c.merge(info)

	if stashed {
		if out, popErr := c.git("stash", "pop"); popErr != nil {
			// Never drop the stashed work: leave the entry and name it.
			ref := "stash@{0}"
			if result == nil {
				result = &Result{}
			}
			result.StashRef = ref
			if err == nil {
				err = fmt.Errorf("merge finished but restoring local changes failed; work preserved in %s: %w (output: %s)", ref, popErr, out)
			}
		}
	}

	return result, err
}

// merge runs the conflict precheck and the actual merge. The caller
// holds the coordinator lock and has a clean base.
func (c *Coordinator) merge(info *workspace.Info) (*Result, error) {
	// Dry-run merge first: merge-tree detects conflicts without
	// touching the index or the working tree. It exits 1 on conflict;
	// anything else (missing branch, git too old for --write-tree) is
	// an environment error, not a conflict, and must not burn the
	// task's retry budget.
	detectOut, detectErr := c.git("merge-tree", "--write-tree", c.baseBranch, info.Branch)
	if detectErr != nil && !isConflictExit(detectErr) {
		return nil, fmt.Errorf("conflict precheck failed: %w (output: %s)", detectErr, detectOut)
	}
	if detectErr != nil || strings.Contains(detectOut, "CONFLICT") {
		return &Result{
			Merged:        false,
			ConflictFiles: parseConflictFiles(detectOut),
			Detail:        strings.TrimSpace(detectOut),
		}, nil
	}

	message := fmt.Sprintf("Merge task %s", info.TaskID)
	mergeOut, err := c.gitRetry("merge", "--no-ff", "-m", message, info.Branch)
	if err != nil {
		// Roll back whatever the failed merge left behind.
		if abortOut, abortErr := c.git("merge", "--abort"); abortErr != nil && !strings.Contains(abortOut, "MERGE_HEAD missing") {
			return nil, fmt.Errorf("merge failed and abort failed: %v (abort output: %s)", err, abortOut)
		}
		if strings.Contains(mergeOut, "CONFLICT") {
			return &Result{
				Merged:        false,
				ConflictFiles: parseConflictFiles(mergeOut),
				Detail:        strings.TrimSpace(mergeOut),
			}, nil
		}
		return nil, fmt.Errorf("merge failed: %w (output: %s)", err, mergeOut)
	}

	return &Result{Merged: true}, nil
}

// stashLocalChanges sets aside uncommitted changes on the base so the
// merge attempt itself never dirties or loses them. The reserved
// directory is excluded from both the dirty check and the stash:
// stashing it would remove the live state document from disk for the
// duration of the merge, and recovery reads that file. Returns whether
// anything was stashed.
func (c *Coordinator) stashLocalChanges() (bool, error) {
	pathspec := []string{"--", ".", ":(exclude)" + workspace.ReservedDir}

	statusOut, err := c.git(append([]string{"status", "--porcelain"}, pathspec...)...)
	if err != nil {
		return false, fmt.Errorf("failed to check base status: %w (output: %s)", err, statusOut)
	}
	if strings.TrimSpace(statusOut) == "" {
		return false, nil
	}

	args := append([]string{"stash", "push", "-u", "-m", "conductor: pre-merge local changes"}, pathspec...)
	if out, err := c.git(args...); err != nil {
		return false, fmt.Errorf("failed to stash local changes: %w (output: %s)", err, out)
	}
	return true, nil
}

func (c *Coordinator) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = c.repoPath
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// gitRetry runs a git command, retrying with exponential backoff while
// the failure looks like transient lock contention (another git process
// holding index.lock).
func (c *Coordinator) gitRetry(args ...string) (string, error) {
	var out string

	operation := func() error {
		var err error
		out, err = c.git(args...)
		if err == nil {
			return nil
		}
		if isTransientLockError(out) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 15 * time.Second

	err := backoff.Retry(operation, policy)
	return out, err
}

// isConflictExit reports whether a merge-tree failure is the exit
// status 1 it uses to signal conflicting content.
func isConflictExit(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1
}

// isTransientLockError matches the lock-contention failures git emits
// when another process briefly holds a repo lock.
func isTransientLockError(output string) bool {
	return strings.Contains(output, "index.lock") ||
		strings.Contains(output, "Another git process seems to be running")
}

// parseConflictFiles extracts conflicting file paths from merge or
// merge-tree output ("CONFLICT (content): Merge conflict in <file>").
func parseConflictFiles(output string) []string {
	var conflicts []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "CONFLICT") && strings.Contains(line, "in ") {
			parts := strings.Split(line, "in ")
			conflicts = append(conflicts, strings.TrimSpace(parts[len(parts)-1]))
		}
	}
	return conflicts
}
