// Package scratch manages the markdown scratch files that give agents
// persistent memory across workflow steps. The global scratch.md is shared
// across all stories and protected by an advisory lock; per-story
// scratch_<id>.md files have a single writer by assignment invariant and
// need no locking.
package scratch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/droverhq/drover/internal/fslock"
)

const (
	globalName = "scratch.md"
	archiveDir = "archive"
)

// Files manages the scratch files under a shared directory.
type Files struct {
	dir         string
	lockTimeout time.Duration
}

// New creates a Files rooted at dir.
func New(dir string) *Files {
	return &Files{dir: dir, lockTimeout: fslock.DefaultTimeout}
}

// GlobalPath returns the path of the shared scratch file.
func (f *Files) GlobalPath() string {
	return filepath.Join(f.dir, globalName)
}

// StoryPath returns the path of a story's scratch file.
func (f *Files) StoryPath(storyID string) string {
	return filepath.Join(f.dir, "scratch_"+storyID+".md")
}

func (f *Files) globalLockPath() string {
	return f.GlobalPath() + ".lock"
}

// ReadGlobal returns the shared scratch content, empty when the file does
// not exist yet. Reads take no lock; the locked writers only ever append or
// rename over the file.
func (f *Files) ReadGlobal() (string, error) {
	return readOrEmpty(f.GlobalPath())
}

// AppendGlobal appends one line to the shared scratch under the lock,
// creating the file on first use.
func (f *Files) AppendGlobal(ctx context.Context, line string) error {
	return fslock.With(ctx, f.globalLockPath(), f.lockTimeout, func() error {
		return appendLine(f.GlobalPath(), line)
	})
}

// WriteGlobal replaces the shared scratch content under the lock, using a
// temp file and rename so readers never see a partial write.
func (f *Files) WriteGlobal(ctx context.Context, content string) error {
	return fslock.With(ctx, f.globalLockPath(), f.lockTimeout, func() error {
		tmp := f.GlobalPath() + ".tmp"
		if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing scratch temp file: %w", err)
		}
		if err := os.Rename(tmp, f.GlobalPath()); err != nil {
			os.Remove(tmp) //nolint:errcheck
			return fmt.Errorf("renaming scratch file: %w", err)
		}
		return nil
	})
}

// ReadStory returns a story's scratch content, empty when absent.
func (f *Files) ReadStory(storyID string) (string, error) {
	return readOrEmpty(f.StoryPath(storyID))
}

// AppendStory appends one line to a story's scratch file.
func (f *Files) AppendStory(storyID, line string) error {
	return appendLine(f.StoryPath(storyID), line)
}

// WriteStory replaces a story's scratch content.
func (f *Files) WriteStory(storyID, content string) error {
	if err := os.WriteFile(f.StoryPath(storyID), []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing story scratch: %w", err)
	}
	return nil
}

// ArchiveStory moves a completed story's scratch file into archive/ so the
// run directory keeps it for post-run analysis. A missing scratch file is
// not an error.
func (f *Files) ArchiveStory(storyID string) error {
	src := f.StoryPath(storyID)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	dst := filepath.Join(f.dir, archiveDir, filepath.Base(src))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating scratch archive dir: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("archiving story scratch %s: %w", storyID, err)
	}
	return nil
}

// List returns all scratch files under the shared directory, including
// archived ones, relative to the directory root.
func (f *Files) List() ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(f.dir), "**/scratch*.md")
	if err != nil {
		return nil, fmt.Errorf("listing scratch files: %w", err)
	}
	return matches, nil
}

func readOrEmpty(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func appendLine(path, line string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close() //nolint:errcheck

	if _, err := file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("appending to %s: %w", path, err)
	}
	return nil
}
