//go:build windows

package fslock

import (
	"os"
)

type lockHandle = *os.File

// tryAcquire creates the lock file exclusively. Windows has no flock
// equivalent with the same semantics, so possession of the file itself is
// the lock. Returns (nil, false, nil) when the file already exists.
func tryAcquire(path string) (lockHandle, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return f, true, nil
}

// release closes and removes the lock file, making the lock available to
// the next acquirer.
func release(h lockHandle, path string) error {
	if err := h.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
