package sessionlog

import "sync"

// DefaultRingSize is the number of entries NewRing keeps when size <= 0.
const DefaultRingSize = 50

// Ring is a bounded, concurrency-safe buffer of the most recent entries.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// NewRing returns a Ring holding at most size entries.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{entries: make([]Entry, size)}
}

// Add stores e, evicting the oldest entry when full. Add is a Sink.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
}

// Recent returns the stored entries, oldest first.
func (r *Ring) Recent() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Entry(nil), r.entries[:r.next]...)
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}

// Lines returns Recent rendered with Entry.String.
func (r *Ring) Lines() []string {
	recent := r.Recent()
	if len(recent) == 0 {
		return nil
	}
	out := make([]string, len(recent))
	for i, e := range recent {
		out[i] = e.String()
	}
	return out
}
