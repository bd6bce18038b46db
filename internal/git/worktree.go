package git

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrRebaseConflict is returned by Rebase when the rebase cannot complete
// cleanly. The rebase is aborted before returning, leaving the worktree on
// its original branch tip.
var ErrRebaseConflict = errors.New("git: rebase conflict")

// AddWorktree creates a worktree at path on a new branch derived from base.
func (c *Client) AddWorktree(ctx context.Context, path, branch, base string) error {
	if _, err := c.run(ctx, "worktree", "add", "-b", branch, path, base); err != nil {
		return fmt.Errorf("git: adding worktree %s on %s: %w", path, branch, err)
	}
	return nil
}

// RemoveWorktree detaches and removes the worktree at path, discarding any
// uncommitted changes it holds.
func (c *Client) RemoveWorktree(ctx context.Context, path string) error {
	if _, err := c.run(ctx, "worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("git: removing worktree %s: %w", path, err)
	}
	return nil
}

// PruneWorktrees drops worktree registrations whose directories are gone.
func (c *Client) PruneWorktrees(ctx context.Context) error {
	if _, err := c.run(ctx, "worktree", "prune"); err != nil {
		return fmt.Errorf("git: pruning worktrees: %w", err)
	}
	return nil
}

// WorktreeForBranch returns the path of the registered worktree that has
// branch checked out, or "" when none does.
func (c *Client) WorktreeForBranch(ctx context.Context, branch string) (string, error) {
	out, err := c.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("git: listing worktrees: %w", err)
	}
	ref := "refs/heads/" + branch
	var path string
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "worktree "); ok {
			path = rest
			continue
		}
		if rest, ok := strings.CutPrefix(line, "branch "); ok && rest == ref {
			return path, nil
		}
	}
	return "", nil
}

// DeleteBranch force-deletes a local branch. A missing branch is not an
// error.
func (c *Client) DeleteBranch(ctx context.Context, branch string) error {
	code, _, stderr, err := c.runSilent(ctx, "branch", "-D", branch)
	if err != nil && code == -1 {
		return fmt.Errorf("git: deleting branch %s: %w", branch, err)
	}
	if code != 0 && !strings.Contains(stderr, "not found") {
		return fmt.Errorf("git: deleting branch %s: %s", branch, stderr)
	}
	return nil
}

// Rebase rebases the current branch onto the given base ref. On conflict
// the rebase is aborted and ErrRebaseConflict is returned; the caller
// schedules a conflict-resolution step instead of failing the story.
func (c *Client) Rebase(ctx context.Context, onto string) error {
	code, _, stderr, err := c.runSilent(ctx, "rebase", onto)
	if code == 0 {
		return nil
	}
	if code == -1 {
		return fmt.Errorf("git: rebase onto %s: %w", onto, err)
	}
	if _, _, _, abortErr := c.runSilent(ctx, "rebase", "--abort"); abortErr != nil {
		return fmt.Errorf("git: aborting conflicted rebase onto %s: %w", onto, abortErr)
	}
	if strings.Contains(stderr, "CONFLICT") || strings.Contains(stderr, "could not apply") ||
		strings.Contains(stderr, "Resolve all conflicts") {
		return ErrRebaseConflict
	}
	return fmt.Errorf("%w: %s", ErrRebaseConflict, stderr)
}

// SquashMerge squash-merges branch into the current branch and commits the
// result with the given message and author identity.
func (c *Client) SquashMerge(ctx context.Context, branch, message, authorName, authorEmail string) error {
	if _, err := c.run(ctx, "merge", "--squash", branch); err != nil {
		return fmt.Errorf("git: squash merge of %s: %w", branch, err)
	}
	args := []string{
		"-c", "user.name=" + authorName,
		"-c", "user.email=" + authorEmail,
		"commit", "-m", message,
	}
	if _, err := c.run(ctx, args...); err != nil {
		return fmt.Errorf("git: committing squash merge of %s: %w", branch, err)
	}
	return nil
}
