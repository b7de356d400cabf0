// Package daemonlock implements the daemon's singleton enforcement
// (§4.11): an advisory exclusive flock on daemon.lock, held for the
// entire process lifetime, plus the kill-0 liveness probe that the CLI's
// stop path (internal/daemonctl.Stop) polls.
package daemonlock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrHeld is returned when daemon.lock is already held by another
// process. The caller (daemon startup) should exit with a distinct
// error code so a spawner falls back to detection rather than treating
// this as a generic failure (§4.11).
var ErrHeld = errors.New("daemonlock: lock already held by another process")

// Lock is a held advisory lock on a file, released by Close.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if absent) path and attempts a non-blocking
// exclusive flock. Returns ErrHeld if another process already holds it.
func Acquire(path string) (*Lock, error) {
	// #nosec G304 -- path is operator-controlled daemon-dir configuration
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("daemonlock: open %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("daemonlock: flock %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Close releases the lock and closes the file. The lock is also
// released implicitly if the holding process exits, which is what lets
// a crashed daemon's lock be reacquired without manual cleanup.
func (l *Lock) Close() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("daemonlock: unlock: %w", err)
	}
	return l.f.Close()
}
