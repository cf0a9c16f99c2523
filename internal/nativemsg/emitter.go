package nativemsg

import (
	"io"
	"sync"
)

// Emitter writes pulse frames for a native host. Safe for concurrent use.
type Emitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEmitter returns an Emitter writing to w, usually os.Stdout.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Pulse writes one shortcut pulse frame.
func (e *Emitter) Pulse() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return WriteMessage(e.w, Message{ID: MsgShortcutPulse})
}
