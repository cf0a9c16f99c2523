//go:build !windows

package singleinstance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"webptt/internal/userutil"
)

// Lock holds an exclusive flock on a lock file. The kernel drops the lock
// when the owning process exits, so a stale file never blocks a restart.
type Lock struct {
	file *os.File
}

// TryLock acquires an exclusive lock on the file at name or returns
// ErrAlreadyRunning.
func TryLock(name string) (*Lock, error) {
	if name == "" {
		return nil, errors.New("singleinstance: lock name is required")
	}
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("singleinstance: open %s: %w", name, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("singleinstance: flock %s: %w", name, err)
	}
	return &Lock{file: f}, nil
}

// Release drops the lock. Safe on a nil receiver and idempotent.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	unlockErr := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return errors.Join(unlockErr, f.Close())
}

// DefaultLockName returns the per-user lock file path next to the pulse socket.
func DefaultLockName() string {
	dir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "webptt-"+userutil.CurrentUsername()+".lock")
}
