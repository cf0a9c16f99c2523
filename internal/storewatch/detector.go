// Package storewatch observes writes to the page's key-value store and turns
// them into semantic PTT events.
package storewatch

import (
	"log/slog"
	"slices"
	"sync"

	"webptt/internal/shortcut"
)

// Store keys written by the web client.
const (
	ShortcutRecord = "MediaEngineStore"
	StatusRecord   = "SelectedChannelStore"
)

// Store is the page's key-value store.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// EventKind discriminates Event.
type EventKind int

const (
	ShortcutChanged EventKind = iota + 1
	BroadcastingChanged
)

func (k EventKind) String() string {
	switch k {
	case ShortcutChanged:
		return "ShortcutChanged"
	case BroadcastingChanged:
		return "BroadcastingChanged"
	default:
		return "Unknown"
	}
}

// Event is one semantic change derived from a store write.
// KeyCodes is set for ShortcutChanged, Broadcasting for BroadcastingChanged.
type Event struct {
	Kind         EventKind
	KeyCodes     shortcut.KeyCodes
	Broadcasting bool
}

// Sink receives detector events on the writer's goroutine, with the detector
// lock held. A Sink must not call back into the Detector.
type Sink func(Event)

// Detector decorates a Store. All writes must go through Write so that the
// decoded shortcut and broadcasting status stay in step with the store.
//
// The broadcasting signal it reports is the decoded status AND a non-empty
// shortcut: a page in a voice channel without a PTT binding has nothing for
// webptt to press.
type Detector struct {
	mu    sync.Mutex
	store Store
	sink  Sink

	keyCodes     shortcut.KeyCodes
	status       bool
	broadcasting bool
}

// NewDetector wraps store. The current contents are decoded immediately so the
// first write is compared against real state; nothing is emitted until Prime
// or Write is called.
func NewDetector(store Store, sink Sink) *Detector {
	if sink == nil {
		sink = func(Event) {}
	}
	d := &Detector{store: store, sink: sink}
	d.keyCodes = shortcut.DecodeShortcut(lookup(store, ShortcutRecord))
	d.status = shortcut.DecodeBroadcasting(lookup(store, StatusRecord))
	d.broadcasting = d.composed()
	return d
}

func lookup(store Store, key string) *string {
	v, ok := store.Get(key)
	if !ok {
		return nil
	}
	return &v
}

func (d *Detector) composed() bool {
	return d.status && len(d.keyCodes) > 0
}

// Prime announces the current state unconditionally, for a listener that has
// just attached and knows nothing yet.
func (d *Detector) Prime() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sink(Event{Kind: ShortcutChanged, KeyCodes: slices.Clone(d.keyCodes)})
	d.sink(Event{Kind: BroadcastingChanged, Broadcasting: d.broadcasting})
}

// Get reads through to the wrapped store.
func (d *Detector) Get(key string) (string, bool) {
	return d.store.Get(key)
}

// Set implements Store so a Detector can stand in wherever the page store is
// expected.
func (d *Detector) Set(key, value string) {
	d.Write(key, value)
}

// Write decodes value, emits any resulting events and then applies the write
// to the wrapped store. Decoding uses only value; the store is not re-read, so
// the events describe exactly this write even with other writers around.
func (d *Detector) Write(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch key {
	case ShortcutRecord:
		codes := shortcut.DecodeShortcut(&value)
		if !codes.Equal(d.keyCodes) {
			d.keyCodes = codes
			slog.Debug("[storewatch] shortcut changed", "keyCodes", []int(codes))
			d.sink(Event{Kind: ShortcutChanged, KeyCodes: slices.Clone(codes)})
		}
		d.reevaluate()
	case StatusRecord:
		d.status = shortcut.DecodeBroadcasting(&value)
		d.reevaluate()
	}

	d.store.Set(key, value)
}

func (d *Detector) reevaluate() {
	next := d.composed()
	if next == d.broadcasting {
		return
	}
	d.broadcasting = next
	slog.Debug("[storewatch] broadcasting changed", "broadcasting", next)
	d.sink(Event{Kind: BroadcastingChanged, Broadcasting: next})
}

// Broadcasting returns the last composed broadcasting signal.
func (d *Detector) Broadcasting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.broadcasting
}

// MemoryStore is a concurrency-safe in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}
