//go:build windows

package hotkeys

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procRegisterHotKey     = user32.NewProc("RegisterHotKey")
	procUnregisterHotKey   = user32.NewProc("UnregisterHotKey")
	procGetMessageW        = user32.NewProc("GetMessageW")
	procPeekMessageW       = user32.NewProc("PeekMessageW")
	procPostThreadMessageW = user32.NewProc("PostThreadMessageW")
)

const (
	wmHotkey   = 0x0312
	wmQuit     = 0x0012
	pmNoRemove = 0x0000

	// Application hotkey IDs must stay in 0x0000-0xBFFF.
	maxHotkeyID int32 = 0xBFFF

	stopTimeout = 2 * time.Second
)

var lastHotkeyID atomic.Int32

func init() { lastHotkeyID.Store(0x4000) }

// msg mirrors the Win32 MSG struct. The layout must not change.
type msg struct {
	hWnd     uintptr
	message  uint32
	wParam   uintptr
	lParam   uintptr
	time     uint32
	ptX      int32
	ptY      int32
	lPrivate uint32
}

type registration struct {
	id       int32
	threadID uint32
	done     chan struct{}
	binding  string
}

type loopStarted struct {
	threadID uint32
	err      error
}

// Manager holds at most one global hotkey registration. Each registration
// runs a message loop on a locked OS thread.
type Manager struct {
	mu     sync.Mutex
	active *registration
}

// NewManager returns an idle Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Start registers binding and calls onTrigger on every WM_HOTKEY, including
// auto-repeats while the keys stay down. A previous registration is replaced.
func (m *Manager) Start(binding Binding, onTrigger func()) error {
	if onTrigger == nil {
		return errors.New("hotkeys: onTrigger callback is required")
	}
	if err := user32.Load(); err != nil {
		return fmt.Errorf("hotkeys: load user32.dll: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.stopLocked(); err != nil {
		return err
	}

	id := lastHotkeyID.Add(1)
	if id > maxHotkeyID {
		return fmt.Errorf("hotkeys: hotkey ids exhausted (%d)", id)
	}

	started := make(chan loopStarted, 1)
	done := make(chan struct{})
	go messageLoop(id, binding, onTrigger, started, done)

	res := <-started
	if res.err != nil {
		return fmt.Errorf("hotkeys: register %s: %w", binding, res.err)
	}
	m.active = &registration{id: id, threadID: res.threadID, done: done, binding: binding.String()}
	slog.Info("[hotkey] registered", "binding", binding.String())
	return nil
}

// Stop removes the active registration, if any.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

// Active returns the registered binding or "".
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.binding
}

func (m *Manager) stopLocked() error {
	reg := m.active
	if reg == nil {
		return nil
	}
	m.active = nil

	var stopErr error
	if err := postThreadMessage(reg.threadID, wmQuit); err != nil {
		stopErr = fmt.Errorf("hotkeys: post WM_QUIT: %w", err)
	}

	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-reg.done:
	case <-timer.C:
		slog.Warn("[hotkey] message loop did not exit", "id", reg.id)
		stopErr = errors.Join(stopErr, fmt.Errorf("hotkeys: stop timed out (id=%d)", reg.id))
	}
	return stopErr
}

func messageLoop(id int32, binding Binding, onTrigger func(), started chan<- loopStarted, done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)

	threadID := windows.GetCurrentThreadId()

	// PeekMessageW creates the thread queue so WM_QUIT can be posted to it.
	var q msg
	procPeekMessageW.Call(uintptr(unsafe.Pointer(&q)), 0, 0, 0, pmNoRemove)

	if err := callBool(procRegisterHotKey, 0, uintptr(id), uintptr(binding.Modifiers()), uintptr(binding.Key())); err != nil {
		started <- loopStarted{err: err}
		return
	}
	defer func() {
		if err := callBool(procUnregisterHotKey, 0, uintptr(id)); err != nil {
			slog.Warn("[hotkey] unregister failed", "id", id, "error", err)
		}
	}()
	started <- loopStarted{threadID: threadID}

	for {
		var m msg
		ret, _, err := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		switch int32(ret) {
		case -1:
			slog.Warn("[hotkey] GetMessageW failed, leaving message loop", "error", err)
			return
		case 0:
			return
		}
		if m.message == wmHotkey && int32(m.wParam) == id {
			go onTrigger()
		}
	}
}

func postThreadMessage(threadID uint32, message uint32) error {
	return callBool(procPostThreadMessageW, uintptr(threadID), uintptr(message), 0, 0)
}

// callBool calls a user32 function that returns BOOL.
func callBool(proc *windows.LazyProc, args ...uintptr) error {
	ret, _, err := proc.Call(args...)
	if ret != 0 {
		return nil
	}
	if errors.Is(err, windows.ERROR_SUCCESS) {
		return fmt.Errorf("%s failed", proc.Name)
	}
	return err
}
