package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/droverhq/drover/internal/fslock"
	"github.com/droverhq/drover/internal/logging"
	"github.com/droverhq/drover/internal/workflow"
)

// Store manages the shared state document. All mutations go through Update,
// which serializes writers with an advisory lock on a sibling lock file and
// writes the new document atomically (temp file + rename). Reads through
// Load take no lock; readers always see a complete document because writers
// only ever rename over it.
type Store struct {
	path        string
	lockTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout overrides the default 60 s lock-acquisition timeout.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// NewStore creates a Store for the state document at path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:        path,
		lockTimeout: fslock.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the state document path.
func (s *Store) Path() string { return s.path }

// Load reads and decodes the current state document without taking the lock.
func (s *Store) Load() (*workflow.State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("loading state %s: %w", s.path, err)
	}
	var st workflow.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decoding state %s: %w", s.path, err)
	}
	return &st, nil
}

// Initialize writes a fresh state document. It refuses to overwrite an
// existing one; resuming a run reuses the file instead.
func (s *Store) Initialize(ctx context.Context, st *workflow.State) error {
	if _, err := os.Stat(s.path); err == nil {
		return fmt.Errorf("initializing state: %s already exists", s.path)
	}
	return fslock.With(ctx, s.lockPath(), s.lockTimeout, func() error {
		return s.writeAtomic(st)
	})
}

// Update runs fn against the current document under the state lock and
// persists the result. The protocol is fixed: acquire the lock with a
// bounded timeout, read, mutate via fn, write to a sibling temp path and
// rename. If fn returns an error nothing is written and the error is
// returned unchanged. A mutation that leaves the serialized document
// byte-identical skips the rename.
func (s *Store) Update(ctx context.Context, fn func(*workflow.State) error) (*workflow.State, error) {
	var result *workflow.State
	err := fslock.With(ctx, s.lockPath(), s.lockTimeout, func() error {
		data, err := os.ReadFile(s.path)
		if err != nil {
			return fmt.Errorf("loading state %s: %w", s.path, err)
		}
		var st workflow.State
		if err := json.Unmarshal(data, &st); err != nil {
			return fmt.Errorf("decoding state %s: %w", s.path, err)
		}

		if err := fn(&st); err != nil {
			return err
		}

		updated, err := marshalState(&st)
		if err != nil {
			return err
		}
		if xxhash.Sum64(updated) == xxhash.Sum64(data) {
			result = &st
			return nil
		}
		if err := s.renameOver(updated); err != nil {
			return err
		}
		result = &st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) lockPath() string { return s.path + ".lock" }

func marshalState(st *workflow.State) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return append(data, '\n'), nil
}

func (s *Store) writeAtomic(st *workflow.State) error {
	data, err := marshalState(st)
	if err != nil {
		return err
	}
	return s.renameOver(data)
}

func (s *Store) renameOver(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory %q: %w", dir, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp state file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("renaming temp state file to %q: %w", s.path, err)
	}
	return nil
}

// Reconcile repairs state left behind by a crashed orchestrator. Every story
// still marked in_progress at startup is orphaned by definition (drover is a
// single orchestrator process): its in_progress step becomes failed with a
// reconciliation error and its worker assignment is cleared. The story stays
// in_progress so the scheduler can re-claim it; the story runner marks it
// failed if no pending steps remain. Reconcile is idempotent; a second call
// finds nothing to repair.
func (s *Store) Reconcile(ctx context.Context) ([]string, error) {
	log := logging.New("state")
	var repaired []string
	_, err := s.Update(ctx, func(st *workflow.State) error {
		for _, id := range sortedStoryIDs(st) {
			story := st.Stories[id]
			if story.Status != workflow.StoryInProgress {
				continue
			}
			step := story.InProgressStep()
			if step == nil && story.WorkerID == nil {
				// Already reconciled.
				continue
			}
			if step != nil {
				step.Status = workflow.StepFailed
				step.Error = workflow.StrPtr("orphaned by orchestrator restart")
				step.CompletedAt = workflow.TimePtr(time.Now().UTC())
				story.AddHistory(workflow.ActionStepFailed, story.WorkerID, &step.ID, map[string]any{
					"reason": "reconciliation",
				})
			}
			story.WorkerID = nil
			repaired = append(repaired, id)
			log.Warn("reconciled orphaned story", "story", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repaired, nil
}
