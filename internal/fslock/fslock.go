// Package fslock provides an exclusive advisory file lock with a bounded
// acquisition timeout.
//
// The lock protects the shared state document and the global scratch file
// against concurrent writers across processes. It is advisory: all writers
// must go through this package for the protection to hold. On Unix it is
// implemented with flock(2); on Windows a create-exclusive lock file is used
// instead.
package fslock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout is the default bound on lock acquisition.
const DefaultTimeout = 60 * time.Second

// pollInterval is how often acquisition is retried while the lock is held
// by another process.
const pollInterval = 100 * time.Millisecond

// ErrTimeout is returned when the lock cannot be acquired within the
// configured timeout.
var ErrTimeout = errors.New("fslock: acquisition timed out")

// Lock is an exclusive advisory lock on a single path. A Lock is not safe
// for concurrent use by multiple goroutines; each locker should construct
// its own.
type Lock struct {
	path    string
	timeout time.Duration
	handle  lockHandle
}

// New creates a lock for the given path. A timeout of zero selects
// DefaultTimeout.
func New(path string, timeout time.Duration) *Lock {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Lock{path: path, timeout: timeout}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Acquire takes the lock, polling until it is obtained, the timeout
// elapses, or ctx is cancelled. It returns ErrTimeout (wrapped) on timeout.
func (l *Lock) Acquire(ctx context.Context) error {
	deadline := time.Now().Add(l.timeout)
	for {
		handle, acquired, err := tryAcquire(l.path)
		if err != nil {
			return fmt.Errorf("fslock: acquiring %s: %w", l.path, err)
		}
		if acquired {
			l.handle = handle
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("could not lock %s within %s: %w", l.path, l.timeout, ErrTimeout)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("fslock: acquiring %s: %w", l.path, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *Lock) Release() error {
	if l.handle == nil {
		return nil
	}
	err := release(l.handle, l.path)
	l.handle = nil
	if err != nil {
		return fmt.Errorf("fslock: releasing %s: %w", l.path, err)
	}
	return nil
}

// With acquires the lock on path, runs fn, and releases the lock. The
// release error is surfaced only when fn itself succeeded.
func With(ctx context.Context, path string, timeout time.Duration, fn func() error) error {
	l := New(path, timeout)
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	fnErr := fn()
	relErr := l.Release()
	if fnErr != nil {
		return fnErr
	}
	return relErr
}
