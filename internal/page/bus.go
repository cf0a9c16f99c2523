// Package page models the web page the relay runs in: a Bus carrying
// store events from the injected endpoint to the content endpoint, and the
// injected endpoint itself.
package page

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"webptt/internal/storewatch"
)

// Handler receives bus events.
type Handler func(storewatch.Event)

// Bus fans detector events out to subscribers. Publish delivers synchronously
// in subscription order; a panicking handler is logged and skipped.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
	next uint64
}

type subscription struct {
	id uint64
	h  Handler
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	if h == nil {
		return func() {}
	}
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers ev to every current subscriber. Handlers run outside the
// bus lock, so they may subscribe or unsubscribe.
func (b *Bus) Publish(ev storewatch.Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(s.h, ev)
	}
}

func deliver(h Handler, ev storewatch.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[DEBUG-PANIC] page bus handler recovered",
				"event", ev.Kind.String(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	h(ev)
}
