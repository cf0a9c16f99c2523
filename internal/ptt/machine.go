// Package ptt turns a stream of PTT pulses into synthetic key events.
//
// A pulse carries no press/release information; the native helper emits one
// each time the hardware key state is reported. The Machine opens a PTT window
// on the first pulse (key-down), keeps it open while pulses keep arriving, and
// closes it (key-up) once they stop.
package ptt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"webptt/internal/shortcut"
)

const (
	// DefaultMinLength is the minimum length of a PTT window when nothing has
	// been configured.
	DefaultMinLength = 800 * time.Millisecond

	// PulseGap is how long an active window is kept open after a follow-up
	// pulse. It only has to bridge the interval between repeated pulses from a
	// held key, so it is much shorter than the minimum window.
	PulseGap = 300 * time.Millisecond
)

// ErrInvalidMinLength is returned by SetMinLength for non-positive values.
var ErrInvalidMinLength = errors.New("ptt: minimum length must be positive")

// KeyEventType is the DOM event type of a synthetic key event.
type KeyEventType string

const (
	KeyDown KeyEventType = "keydown"
	KeyUp   KeyEventType = "keyup"
)

// KeyEvent is a synthetic keyboard event to dispatch at the page document.
type KeyEvent struct {
	Type     KeyEventType
	Shortcut shortcut.Shortcut
}

// KeyDispatcher delivers synthetic key events to the page. It is called with
// the machine lock held and must not call back into the Machine.
type KeyDispatcher interface {
	DispatchKey(ev KeyEvent)
}

// DispatcherFunc adapts a function to KeyDispatcher.
type DispatcherFunc func(KeyEvent)

func (f DispatcherFunc) DispatchKey(ev KeyEvent) { f(ev) }

// MachineOptions configures a Machine. Zero values select defaults.
type MachineOptions struct {
	Clock     Clock
	MinLength time.Duration
}

// State is a snapshot of the machine.
type State struct {
	Active    bool
	EndTime   time.Time
	MinLength time.Duration
	Shortcut  shortcut.Shortcut
}

// Machine is the PTT debounce state machine. It is Idle until the first
// pulse, then Active until its timer fires.
//
// Every pulse cancels the pending timer before scheduling a new one, and each
// schedule bumps a generation counter: a timer that fires after being
// superseded sees a stale generation and does nothing, so one window never
// produces two key-ups.
type Machine struct {
	mu         sync.Mutex
	clock      Clock
	dispatcher KeyDispatcher

	shortcut  shortcut.Shortcut
	minLength time.Duration

	active  bool
	endTime time.Time
	timer   Timer
	gen     uint64
	closed  bool
}

// NewMachine creates an idle Machine that dispatches through d.
func NewMachine(d KeyDispatcher, opts MachineOptions) *Machine {
	if d == nil {
		d = DispatcherFunc(func(KeyEvent) {})
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	return &Machine{
		clock:      opts.Clock,
		dispatcher: d,
		minLength:  opts.MinLength,
	}
}

// Pulse handles one relayed hardware signal.
func (m *Machine) Pulse() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.shortcut.IsEmpty() {
		return
	}

	m.cancelTimerLocked()

	now := m.clock.Now()
	var delay time.Duration
	if !m.active {
		delay = m.minLength
		m.active = true
		m.endTime = now.Add(m.minLength)
		slog.Debug("[ptt] starting PTT", "shortcut", m.shortcut.String(), "minLength", m.minLength)
		m.dispatcher.DispatchKey(KeyEvent{Type: KeyDown, Shortcut: m.shortcut})
	} else {
		delay = max(PulseGap, m.endTime.Sub(now))
	}

	gen := m.gen
	m.timer = m.clock.AfterFunc(delay, func() { m.pttOff(gen) })
}

func (m *Machine) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}

// pttOff ends the window scheduled under generation gen.
// The key-up uses the shortcut current at fire time, not the one the window
// was opened with.
func (m *Machine) pttOff(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.closed {
		return
	}
	m.timer = nil
	m.active = false
	m.endTime = time.Time{}

	if !m.shortcut.IsEmpty() {
		slog.Debug("[ptt] ending PTT", "shortcut", m.shortcut.String())
		m.dispatcher.DispatchKey(KeyEvent{Type: KeyUp, Shortcut: m.shortcut})
	}
}

// SetShortcut replaces the binding. It applies to the next pulse and to the
// key-up of a window already in flight.
func (m *Machine) SetShortcut(s shortcut.Shortcut) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s != m.shortcut {
		slog.Debug("[ptt] shortcut updated", "shortcut", s.String(), "active", m.active)
	}
	m.shortcut = s
}

// SetMinLength changes the minimum window length for windows opened after
// the call. An in-flight window keeps its end time.
func (m *Machine) SetMinLength(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidMinLength, d)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minLength = d
	return nil
}

// State returns a snapshot of the machine.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Active:    m.active,
		EndTime:   m.endTime,
		MinLength: m.minLength,
		Shortcut:  m.shortcut,
	}
}

// Close cancels any pending timer. An active window is ended immediately with
// a key-up so the page is never left holding the key. Pulses after Close are
// ignored.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.cancelTimerLocked()

	if m.active {
		m.active = false
		m.endTime = time.Time{}
		if !m.shortcut.IsEmpty() {
			m.dispatcher.DispatchKey(KeyEvent{Type: KeyUp, Shortcut: m.shortcut})
		}
	}
}
