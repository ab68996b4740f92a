package orchestrator

import (
	"log"

	"github.com/aristath/conductor/internal/state"
)

// recoverOrphans cleans up after a crashed run. The execution
// metadata's activeWorkspaces set is the sole source of truth: every
// listed workspace is removed from disk and its owning task reset from
// in_progress to pending, then the set is cleared. Tasks left
// in_progress without a workspace entry (a sequential-run crash) are
// reset the same way. Stale worktree metadata and orphaned workspace
// directories are pruned afterwards.
func (r *Runner) recoverOrphans() error {
	doc, err := r.store.Read()
	if err != nil {
		return err
	}

	orphans := []string{}
	if doc.Execution != nil {
		orphans = append(orphans, doc.Execution.ActiveWorkspaces...)
	}

	needsReset := len(orphans) > 0
	for _, t := range doc.Tasks {
		if t.Status == state.StatusInProgress {
			needsReset = true
		}
	}
	if !needsReset {
		return nil
	}

	for _, id := range orphans {
		log.Printf("recovering orphaned workspace %q from interrupted run", id)
		if err := r.workspaces.Remove(id); err != nil {
			log.Printf("WARNING: failed to remove orphaned workspace %q: %v", id, err)
		}
	}

	if _, err := r.store.Write(func(doc *state.Document) error {
		for i := range doc.Tasks {
			t := &doc.Tasks[i]
			if t.Status == state.StatusInProgress {
				t.Status = state.StatusPending
				t.WorkspaceRef = ""
			}
		}
		if doc.Execution != nil {
			doc.Execution.ActiveWorkspaces = nil
		}
		return nil
	}); err != nil {
		return err
	}

	if err := r.workspaces.Prune(); err != nil {
		log.Printf("WARNING: failed to prune stale workspaces: %v", err)
	}

	return nil
}
