package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/internal/git"
)

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	repo := t.TempDir()

	mustRun(t, repo, "git", "init", "-b", "main")
	mustRun(t, repo, "git", "config", "user.email", "test@example.com")
	mustRun(t, repo, "git", "config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("# Test\n"), 0o644))
	mustRun(t, repo, "git", "add", ".")
	mustRun(t, repo, "git", "commit", "-m", "Initial commit")

	c, err := git.NewClient(repo)
	require.NoError(t, err)

	return &Manager{
		Git:         c,
		Dir:         filepath.Join(t.TempDir(), "worktrees"),
		BaseBranch:  "main",
		AuthorName:  "Drover Agent",
		AuthorEmail: "drover-agent@drover.dev",
	}, repo
}

func mustRun(t *testing.T, dir, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "command failed: %s %v\n%s", name, args, out)
}

func gitOutput(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	require.NoError(t, err)
	return strings.TrimSpace(string(out))
}

func TestAcquire_CreatesWorktreeOnStoryBranch(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	ws, err := m.Acquire(ctx, 1, "US-001")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Dir, "agent-1"), ws.Path)
	assert.Equal(t, "drover/US-001", ws.Branch)
	assert.DirExists(t, ws.Path)
	assert.Equal(t, "drover/US-001", gitOutput(t, ws.Path, "rev-parse", "--abbrev-ref", "HEAD"))
}

func TestAcquire_ReplacesStaleWorktree(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	first, err := m.Acquire(ctx, 1, "US-001")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(first.Path, "stale.txt"), []byte("leftover"), 0o644))

	// A second acquire for the same slot replaces the previous checkout.
	second, err := m.Acquire(ctx, 1, "US-002")
	require.NoError(t, err)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, "drover/US-002", second.Branch)
	assert.NoFileExists(t, filepath.Join(second.Path, "stale.txt"))
}

func TestAcquire_ReclaimsBranchFromAnotherSlot(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	// A crashed run left the story branch checked out under slot 3.
	stale, err := m.Acquire(ctx, 3, "US-001")
	require.NoError(t, err)

	ws, err := m.Acquire(ctx, 1, "US-001")
	require.NoError(t, err)
	assert.Equal(t, "drover/US-001", ws.Branch)
	assert.Equal(t, "drover/US-001", gitOutput(t, ws.Path, "rev-parse", "--abbrev-ref", "HEAD"))
	assert.NoDirExists(t, stale.Path)
}

func TestIntegrate_SquashMergesIntoBase(t *testing.T) {
	m, repo := newManager(t)
	ctx := context.Background()

	ws, err := m.Acquire(ctx, 1, "US-001")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "login.go"), []byte("package login\n"), 0o644))
	mustRun(t, ws.Path, "git", "add", ".")
	mustRun(t, ws.Path, "git", "commit", "-m", "wip 1")
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "login_test.go"), []byte("package login\n"), 0o644))
	mustRun(t, ws.Path, "git", "add", ".")
	mustRun(t, ws.Path, "git", "commit", "-m", "wip 2")

	require.NoError(t, m.Integrate(ctx, ws, "Add login endpoint"))

	// Both worktree commits collapse into one conventional commit on main.
	assert.Equal(t, "feat(US-001): Add login endpoint", gitOutput(t, repo, "log", "-1", "--format=%s"))
	assert.FileExists(t, filepath.Join(repo, "login.go"))
	assert.FileExists(t, filepath.Join(repo, "login_test.go"))
}

func TestIntegrate_RebaseConflict(t *testing.T) {
	m, repo := newManager(t)
	ctx := context.Background()

	ws, err := m.Acquire(ctx, 1, "US-001")
	require.NoError(t, err)

	// Diverge: both main and the story branch rewrite the same line.
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("# Main change\n"), 0o644))
	mustRun(t, repo, "git", "add", ".")
	mustRun(t, repo, "git", "commit", "-m", "main edit")

	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "README.md"), []byte("# Story change\n"), 0o644))
	mustRun(t, ws.Path, "git", "add", ".")
	mustRun(t, ws.Path, "git", "commit", "-m", "story edit")

	err = m.Integrate(ctx, ws, "Conflicting story")
	require.ErrorIs(t, err, git.ErrRebaseConflict)

	// The rebase was aborted; the worktree is back on its own commit.
	status := gitOutput(t, ws.Path, "status", "--porcelain")
	assert.Empty(t, status)
	data, readErr := os.ReadFile(filepath.Join(ws.Path, "README.md"))
	require.NoError(t, readErr)
	assert.Equal(t, "# Story change\n", string(data))
}

func TestDispose_RemovesWorktreeAndBranch(t *testing.T) {
	m, repo := newManager(t)
	ctx := context.Background()

	ws, err := m.Acquire(ctx, 1, "US-001")
	require.NoError(t, err)

	m.Dispose(ctx, ws)
	assert.NoDirExists(t, ws.Path)

	branches := gitOutput(t, repo, "branch", "--list", "drover/US-001")
	assert.Empty(t, branches)
}
