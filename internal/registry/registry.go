// Package registry tracks which tab currently broadcasts voice.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// persistTimeout bounds each settings write made on behalf of the registry.
const persistTimeout = 2 * time.Second

// Persister stores the holder across restarts. *settings.Store satisfies it.
type Persister interface {
	BroadcastingTab(ctx context.Context) (string, bool, error)
	SetBroadcastingTab(ctx context.Context, id string) error
}

// Registry holds at most one broadcasting tab.
// The in-memory holder is authoritative; the persister only mirrors it.
type Registry struct {
	mu     sync.Mutex
	holder string
	store  Persister
}

// New loads the persisted holder, if any. A nil store keeps the registry in
// memory only.
func New(ctx context.Context, store Persister) *Registry {
	r := &Registry{store: store}
	if store == nil {
		return r
	}
	id, ok, err := store.BroadcastingTab(ctx)
	if err != nil {
		slog.Warn("[registry] failed to load broadcasting tab", "error", err)
		return r
	}
	if ok {
		r.holder = id
		slog.Debug("[registry] restored broadcasting tab", "tab", id)
	}
	return r
}

// SetBroadcasting records tab's broadcasting state. true makes tab the holder
// (last writer wins). false clears the holder only when tab holds it.
// It reports whether the holder changed.
func (r *Registry) SetBroadcasting(tab string, broadcasting bool) bool {
	if tab == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.holder
	switch {
	case broadcasting:
		next = tab
	case r.holder == tab:
		next = ""
	default:
		slog.Debug("[registry] ignoring broadcasting=false from non-holder", "tab", tab, "holder", r.holder)
		return false
	}
	if next == r.holder {
		return false
	}
	r.holder = next
	r.persistLocked()
	return true
}

// Release is SetBroadcasting(tab, false), used when a tab disconnects.
func (r *Registry) Release(tab string) bool {
	return r.SetBroadcasting(tab, false)
}

// Holder returns the broadcasting tab, if any.
func (r *Registry) Holder() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.holder, r.holder != ""
}

func (r *Registry) persistLocked() {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.SetBroadcastingTab(ctx, r.holder); err != nil {
		slog.Warn("[registry] failed to persist broadcasting tab", "tab", r.holder, "error", err)
	}
}
