package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// leaseSpins bounds retries when the lease file is swapped underneath us.
const leaseSpins = 3

// lease is an advisory flock on a per-key file under the staging area. It
// excludes every process sharing the data root, and the kernel drops it when
// the holder exits.
type lease struct {
	f    *os.File
	path string
}

// acquireLease takes the lease at path without blocking. ok is false when
// another holder has it.
func acquireLease(path string) (l *lease, ok bool, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("create lease dir: %w", err)
	}
	for range leaseSpins {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, false, fmt.Errorf("open lease: %w", err)
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close() //nolint:errcheck // nothing was written
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("lock lease: %w", err)
		}
		// Holders unlink before unlocking, so a lock on a replaced inode
		// guards nothing.
		held, herr := f.Stat()
		cur, cerr := os.Stat(path)
		if herr == nil && cerr == nil && os.SameFile(held, cur) {
			return &lease{f: f, path: path}, true, nil
		}
		f.Close() //nolint:errcheck // stale inode
	}
	return nil, false, nil
}

// Release removes the lease file and drops the lock.
func (l *lease) Release() error {
	rerr := os.Remove(l.path)
	if errors.Is(rerr, os.ErrNotExist) {
		rerr = nil
	}
	return errors.Join(rerr, l.f.Close())
}
