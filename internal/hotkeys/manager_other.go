//go:build !windows

package hotkeys

import "errors"

// Manager holds at most one global hotkey registration.
type Manager struct{}

// NewManager returns an idle Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Start always fails with ErrUnsupported.
func (m *Manager) Start(binding Binding, onTrigger func()) error {
	if onTrigger == nil {
		return errors.New("hotkeys: onTrigger callback is required")
	}
	return ErrUnsupported
}

// Stop is a no-op.
func (m *Manager) Stop() error { return nil }

// Active returns the registered binding, always "" here.
func (m *Manager) Active() string { return "" }
