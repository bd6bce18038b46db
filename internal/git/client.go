// Package git wraps the git CLI operations drover needs: revision capture,
// diagnostic diffs, workspace resets, and the worktree lifecycle used for
// worker isolation.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Client wraps git CLI operations. All methods use os/exec to call the git
// binary, following the same pattern as gh, lazygit, and k9s.
type Client struct {
	// WorkDir is the working directory for git commands.
	// If empty, commands run in the current directory.
	WorkDir string

	// GitBin is the path to the git binary. Defaults to "git".
	GitBin string
}

// NewClient creates a Client for the given working directory and verifies
// that git is installed and the directory is inside a repository.
func NewClient(workDir string) (*Client, error) {
	c := &Client{WorkDir: workDir, GitBin: "git"}
	if _, err := c.run(context.Background(), "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("git: not a git repository or git not installed: %w", err)
	}
	return c, nil
}

// InDir returns a Client running commands in dir, sharing this client's
// binary setting. Used to operate inside worktrees.
func (c *Client) InDir(dir string) *Client {
	return &Client{WorkDir: dir, GitBin: c.GitBin}
}

// CurrentRevision returns the full SHA of HEAD.
func (c *Client) CurrentRevision(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git: current revision: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// CurrentBranch returns the name of the current branch.
// Returns an error if the repo is in a detached HEAD state.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git: current branch: %w", err)
	}
	branch := strings.TrimSpace(out)
	if branch == "HEAD" {
		return "", fmt.Errorf("git: current branch: detached HEAD state")
	}
	return branch, nil
}

// ConfigValue reads a git config key, returning an empty string when unset.
func (c *Client) ConfigValue(ctx context.Context, key string) string {
	code, stdout, _, err := c.runSilent(ctx, "config", key)
	if err != nil || code != 0 {
		return ""
	}
	return strings.TrimSpace(stdout)
}

// SaveDiff writes the full diff of the working tree against the given
// revision to path, with untracked files included via intent-to-add. Used
// to preserve a failed step's work before the workspace is reset.
func (c *Client) SaveDiff(ctx context.Context, revision, path string) error {
	// Intent-to-add makes untracked files visible to diff.
	if _, err := c.run(ctx, "add", "-N", "."); err != nil {
		return fmt.Errorf("git: marking untracked files: %w", err)
	}
	out, err := c.run(ctx, "diff", revision)
	if err != nil {
		return fmt.Errorf("git: diff against %s: %w", shortRev(revision), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("git: creating diff directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("git: writing diff %s: %w", path, err)
	}
	return nil
}

// ResetHard discards all changes since the given revision, including
// untracked files.
func (c *Client) ResetHard(ctx context.Context, revision string) error {
	if _, err := c.run(ctx, "reset", "--hard", revision); err != nil {
		return fmt.Errorf("git: reset to %s: %w", shortRev(revision), err)
	}
	if _, err := c.run(ctx, "clean", "-fd"); err != nil {
		return fmt.Errorf("git: cleaning untracked files: %w", err)
	}
	return nil
}

// HasChangesSince reports whether the working tree differs from revision.
func (c *Client) HasChangesSince(ctx context.Context, revision string) (bool, error) {
	code, stdout, _, err := c.runSilent(ctx, "status", "--porcelain")
	if err != nil || code != 0 {
		return false, fmt.Errorf("git: status: %w", err)
	}
	if strings.TrimSpace(stdout) != "" {
		return true, nil
	}
	head, err := c.CurrentRevision(ctx)
	if err != nil {
		return false, err
	}
	return head != revision, nil
}

// CommitAll stages everything and commits with the given message and author
// identity. Returns without error when there is nothing to commit.
func (c *Client) CommitAll(ctx context.Context, message, authorName, authorEmail string) error {
	if _, err := c.run(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("git: staging changes: %w", err)
	}
	code, stdout, _, err := c.runSilent(ctx, "status", "--porcelain")
	if err != nil || code != 0 {
		return fmt.Errorf("git: status before commit: %w", err)
	}
	if strings.TrimSpace(stdout) == "" {
		return nil
	}
	args := []string{
		"-c", "user.name=" + authorName,
		"-c", "user.email=" + authorEmail,
		"commit", "-m", message,
	}
	if _, err := c.run(ctx, args...); err != nil {
		return fmt.Errorf("git: commit: %w", err)
	}
	return nil
}

func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// --- Internal helpers ---

// run executes a git command and returns stdout.
// stderr is included in the error message when the command fails.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	_, stdout, stderr, err := c.runSilent(ctx, args...)
	if err != nil {
		return "", err
	}
	if stdout == "" && stderr != "" {
		// Some git commands (e.g., checkout) write to stderr on success.
		return stderr, nil
	}
	return stdout, nil
}

// runSilent executes a git command and returns the exit code, stdout,
// stderr, and an error. The error is non-nil for both exec failures
// (exitCode=-1, e.g. git binary not found) and non-zero git exits
// (exitCode>0). Callers that need to distinguish the two check exitCode.
func (c *Client) runSilent(ctx context.Context, args ...string) (int, string, string, error) {
	bin := c.GitBin
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = c.WorkDir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode := exitErr.ExitCode()
			stderr := strings.TrimSpace(stderrBuf.String())
			stdout := strings.TrimSpace(stdoutBuf.String())
			return exitCode, stdout, stderr, fmt.Errorf("exit status %d: %s", exitCode, stderr)
		}
		// The process could not be started at all.
		return -1, "", "", runErr
	}

	return 0, stdoutBuf.String(), stderrBuf.String(), nil
}
