// Package workspace manages the per-worker git worktrees that isolate
// concurrent story execution, and the rebase-then-squash-merge integration
// of completed work back into the base branch.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/droverhq/drover/internal/git"
	"github.com/droverhq/drover/internal/logging"
)

// Manager creates and disposes worker worktrees under a shared directory.
type Manager struct {
	// Git is rooted at the main repository checkout.
	Git *git.Client
	// Dir is the directory holding the agent-N worktrees.
	Dir string
	// BaseBranch is the integration target.
	BaseBranch string
	// AuthorName and AuthorEmail identify drover's integration commits.
	AuthorName  string
	AuthorEmail string

	// integrateMu serializes integrations: the squash merge runs in the
	// main checkout, which only one worker may touch at a time.
	integrateMu sync.Mutex
}

// Workspace is one worker's isolated checkout.
type Workspace struct {
	Path    string
	Branch  string
	StoryID string
	// Git runs inside the worktree.
	Git *git.Client
}

// BranchName returns the story branch drover/<story-id>.
func BranchName(storyID string) string {
	return "drover/" + storyID
}

// WorktreePath returns the worktree directory a worker slot uses.
func (m *Manager) WorktreePath(workerID int) string {
	return filepath.Join(m.Dir, fmt.Sprintf("agent-%d", workerID))
}

// Acquire creates a fresh worktree for the worker at <dir>/agent-<id> on a
// new story branch cut from the base branch. Stale worktrees and branches
// left by previous runs are cleaned up first.
func (m *Manager) Acquire(ctx context.Context, workerID int, storyID string) (*Workspace, error) {
	log := logging.New("workspace").With("worker", workerID, "story", storyID)

	path := m.WorktreePath(workerID)
	branch := BranchName(storyID)

	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating worktrees directory: %w", err)
	}

	// Best-effort cleanup of leftovers from a previous run.
	_ = m.Git.PruneWorktrees(ctx)
	_ = m.Git.RemoveWorktree(ctx, path)
	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("removing stale worktree directory: %w", err)
		}
	}
	// A crashed run may have left the story branch checked out in another
	// slot's worktree; that worktree must go before the branch can.
	if other, err := m.Git.WorktreeForBranch(ctx, branch); err == nil && other != "" && other != path {
		if err := m.Git.RemoveWorktree(ctx, other); err != nil {
			log.Warn("removing stale worktree for story branch failed", "path", other, "err", err)
		}
	}
	if err := m.Git.DeleteBranch(ctx, branch); err != nil {
		log.Debug("deleting stale branch failed", "branch", branch, "err", err)
	}

	if err := m.Git.AddWorktree(ctx, path, branch, m.BaseBranch); err != nil {
		return nil, fmt.Errorf("creating worktree for worker %d: %w", workerID, err)
	}

	log.Info("created worktree", "path", path, "branch", branch)
	return &Workspace{
		Path:    path,
		Branch:  branch,
		StoryID: storyID,
		Git:     m.Git.InDir(path),
	}, nil
}

// Integrate brings a completed story's work into the base branch: the
// story branch is rebased onto the base inside the worktree, then
// squash-merged with a single conventional commit. A rebase conflict
// surfaces as git.ErrRebaseConflict with the worktree left clean.
func (m *Manager) Integrate(ctx context.Context, ws *Workspace, storyTitle string) error {
	m.integrateMu.Lock()
	defer m.integrateMu.Unlock()

	log := logging.New("workspace").With("story", ws.StoryID)

	if err := ws.Git.Rebase(ctx, m.BaseBranch); err != nil {
		return fmt.Errorf("rebasing %s onto %s: %w", ws.Branch, m.BaseBranch, err)
	}

	message := fmt.Sprintf("feat(%s): %s", ws.StoryID, storyTitle)
	if err := m.Git.SquashMerge(ctx, ws.Branch, message, m.AuthorName, m.AuthorEmail); err != nil {
		return fmt.Errorf("squash-merging %s: %w", ws.Branch, err)
	}

	log.Info("integrated story", "branch", ws.Branch, "base", m.BaseBranch)
	return nil
}

// Dispose removes the worktree and its story branch. Errors are logged,
// not returned: disposal is cleanup and never blocks the scheduler.
func (m *Manager) Dispose(ctx context.Context, ws *Workspace) {
	log := logging.New("workspace").With("story", ws.StoryID)
	if err := m.Git.RemoveWorktree(ctx, ws.Path); err != nil {
		log.Warn("removing worktree failed", "path", ws.Path, "err", err)
	}
	if err := m.Git.PruneWorktrees(ctx); err != nil {
		log.Debug("pruning worktrees failed", "err", err)
	}
	if err := m.Git.DeleteBranch(ctx, ws.Branch); err != nil {
		log.Debug("deleting story branch failed", "branch", ws.Branch, "err", err)
	}
}
