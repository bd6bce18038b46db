package fslock

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json.lock")
	l := New(path, time.Second)

	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Release())
}

func TestReleaseUnheldIsNoop(t *testing.T) {
	t.Parallel()

	l := New(filepath.Join(t.TempDir(), "x.lock"), time.Second)
	assert.NoError(t, l.Release())
}

func TestSecondAcquireTimesOut(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json.lock")
	first := New(path, time.Second)
	require.NoError(t, first.Acquire(context.Background()))
	defer first.Release() //nolint:errcheck

	second := New(path, 300*time.Millisecond)
	err := second.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestAcquireAfterRelease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json.lock")
	first := New(path, time.Second)
	require.NoError(t, first.Acquire(context.Background()))
	require.NoError(t, first.Release())

	second := New(path, time.Second)
	require.NoError(t, second.Acquire(context.Background()))
	require.NoError(t, second.Release())
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json.lock")
	holder := New(path, time.Second)
	require.NoError(t, holder.Acquire(context.Background()))
	defer holder.Release() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	waiter := New(path, 30*time.Second)
	err := waiter.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWith_MutualExclusion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scratch.md.lock")

	var mu sync.Mutex
	var inside, maxInside int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := With(context.Background(), path, 10*time.Second, func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside, "at most one holder inside the critical section")
}

func TestWith_PropagatesFnError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "x.lock")
	wantErr := assert.AnError
	err := With(context.Background(), path, time.Second, func() error { return wantErr })
	assert.ErrorIs(t, err, wantErr)

	// The lock must be free again afterwards.
	l := New(path, 200*time.Millisecond)
	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Release())
}
