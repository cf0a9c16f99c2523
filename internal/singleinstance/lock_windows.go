//go:build windows

package singleinstance

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"

	"webptt/internal/userutil"
)

// Lock holds a named mutex handle. The kernel releases the mutex when the
// owning process terminates.
type Lock struct {
	handle windows.Handle
}

// TryLock acquires the named mutex or returns ErrAlreadyRunning.
func TryLock(name string) (*Lock, error) {
	if name == "" {
		return nil, errors.New("singleinstance: lock name is required")
	}
	nameUTF16, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("singleinstance: invalid mutex name %q: %w", name, err)
	}
	h, err := windows.CreateMutex(nil, true, nameUTF16)
	if err == windows.ERROR_ALREADY_EXISTS {
		if h != 0 {
			windows.CloseHandle(h)
		}
		return nil, ErrAlreadyRunning
	}
	if err != nil {
		if h != 0 {
			windows.CloseHandle(h)
		}
		return nil, fmt.Errorf("singleinstance: CreateMutex %q: %w", name, err)
	}
	return &Lock{handle: h}, nil
}

// Release closes the mutex handle. Safe on a nil receiver and idempotent.
func (l *Lock) Release() error {
	if l == nil || l.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(l.handle)
	l.handle = 0
	return err
}

// DefaultLockName returns the per-user mutex name. It mirrors the pipe name
// from ipc.DefaultPipeName.
func DefaultLockName() string {
	return `Local\webptt-` + userutil.CurrentUsername()
}
