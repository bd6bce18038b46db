//go:build !windows

package fslock

import (
	"os"

	"golang.org/x/sys/unix"
)

type lockHandle = *os.File

// tryAcquire opens (creating if needed) the lock file and attempts a
// non-blocking exclusive flock. It returns (nil, false, nil) when the lock
// is currently held by another process.
func tryAcquire(path string) (lockHandle, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		if err == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, err
	}
	return f, true, nil
}

// release unlocks and closes the lock file. The file itself is left in
// place; flock state is per-open-descriptor so a stale file is harmless.
func release(h lockHandle, _ string) error {
	if err := unix.Flock(int(h.Fd()), unix.LOCK_UN); err != nil {
		h.Close() //nolint:errcheck
		return err
	}
	return h.Close()
}
