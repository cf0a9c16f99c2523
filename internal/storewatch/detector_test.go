package storewatch

import (
	"testing"

	"webptt/internal/shortcut"
)

const (
	pttP       = `{"default":{"mode":"PUSH_TO_TALK","modeOptions":{"shortcut":[[0,80,4]]}}}`
	pttCtrlP   = `{"default":{"mode":"PUSH_TO_TALK","modeOptions":{"shortcut":[[0,80,4],[0,17,4]]}}}`
	voiceAct   = `{"default":{"mode":"VOICE_ACTIVITY","modeOptions":{"shortcut":[]}}}`
	connected  = `{"selectedVoiceChannelId":"5","lastConnectedTime":123}`
	disconnect = `{"selectedVoiceChannelId":null,"lastConnectedTime":123}`
)

type recorder struct {
	events []Event
}

func (r *recorder) sink(ev Event) { r.events = append(r.events, ev) }

func (r *recorder) take() []Event {
	out := r.events
	r.events = nil
	return out
}

func assertEvents(t *testing.T, got []Event, want ...Event) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i].Kind != want[i].Kind ||
			got[i].Broadcasting != want[i].Broadcasting ||
			!got[i].KeyCodes.Equal(want[i].KeyCodes) {
			t.Fatalf("event[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDetectorShortcutChange(t *testing.T) {
	store := NewMemoryStore()
	rec := &recorder{}
	d := NewDetector(store, rec.sink)

	d.Write(ShortcutRecord, pttP)
	assertEvents(t, rec.take(), Event{Kind: ShortcutChanged, KeyCodes: shortcut.KeyCodes{80}})

	// Same decoded value, different raw text: no event.
	d.Write(ShortcutRecord, `{"default":{"modeOptions":{"shortcut":[[0,80,4]]},"mode":"PUSH_TO_TALK"}}`)
	assertEvents(t, rec.take())

	d.Write(ShortcutRecord, pttCtrlP)
	assertEvents(t, rec.take(), Event{Kind: ShortcutChanged, KeyCodes: shortcut.KeyCodes{17, 80}})

	if v, _ := store.Get(ShortcutRecord); v != pttCtrlP {
		t.Fatalf("write not applied to underlying store: %q", v)
	}
}

func TestDetectorBroadcastingComposition(t *testing.T) {
	store := NewMemoryStore()
	rec := &recorder{}
	d := NewDetector(store, rec.sink)

	// In a voice channel but no PTT shortcut yet: not broadcasting.
	d.Write(StatusRecord, connected)
	assertEvents(t, rec.take())

	d.Write(ShortcutRecord, pttP)
	assertEvents(t, rec.take(),
		Event{Kind: ShortcutChanged, KeyCodes: shortcut.KeyCodes{80}},
		Event{Kind: BroadcastingChanged, Broadcasting: true},
	)
	if !d.Broadcasting() {
		t.Fatal("Broadcasting() = false, want true")
	}

	// Switching to voice activity empties the shortcut and ends broadcasting.
	d.Write(ShortcutRecord, voiceAct)
	assertEvents(t, rec.take(),
		Event{Kind: ShortcutChanged, KeyCodes: shortcut.KeyCodes{}},
		Event{Kind: BroadcastingChanged, Broadcasting: false},
	)

	d.Write(ShortcutRecord, pttP)
	rec.take()

	d.Write(StatusRecord, disconnect)
	assertEvents(t, rec.take(), Event{Kind: BroadcastingChanged, Broadcasting: false})

	// Repeated status writes with the same meaning are silent.
	d.Write(StatusRecord, disconnect)
	assertEvents(t, rec.take())
}

func TestDetectorDecodesWrittenValueNotStore(t *testing.T) {
	store := NewMemoryStore()
	rec := &recorder{}
	d := NewDetector(store, rec.sink)

	// Another writer bypasses the detector.
	store.Set(ShortcutRecord, pttCtrlP)

	d.Write(ShortcutRecord, pttP)
	assertEvents(t, rec.take(), Event{Kind: ShortcutChanged, KeyCodes: shortcut.KeyCodes{80}})
}

func TestDetectorIgnoresOtherKeys(t *testing.T) {
	store := NewMemoryStore()
	rec := &recorder{}
	d := NewDetector(store, rec.sink)

	d.Set("token", "secret")
	assertEvents(t, rec.take())
	if v, ok := d.Get("token"); !ok || v != "secret" {
		t.Fatalf("Get(token) = %q, %v", v, ok)
	}
}

func TestDetectorMalformedWriteFailsClosed(t *testing.T) {
	store := NewMemoryStore()
	store.Set(ShortcutRecord, pttP)
	store.Set(StatusRecord, connected)
	rec := &recorder{}
	d := NewDetector(store, rec.sink)

	d.Write(ShortcutRecord, `{"default":{"mode":"PUSH_TO_TALK","modeOptions":{"shortcut":[[0,80,4],[1,2,3]]}}}`)
	assertEvents(t, rec.take(),
		Event{Kind: ShortcutChanged, KeyCodes: shortcut.KeyCodes{}},
		Event{Kind: BroadcastingChanged, Broadcasting: false},
	)
}

func TestDetectorPrime(t *testing.T) {
	store := NewMemoryStore()
	store.Set(ShortcutRecord, pttP)
	store.Set(StatusRecord, connected)
	rec := &recorder{}
	d := NewDetector(store, rec.sink)

	if len(rec.events) != 0 {
		t.Fatalf("NewDetector emitted %+v", rec.events)
	}

	d.Prime()
	assertEvents(t, rec.take(),
		Event{Kind: ShortcutChanged, KeyCodes: shortcut.KeyCodes{80}},
		Event{Kind: BroadcastingChanged, Broadcasting: true},
	)

	// State was loaded at construction, so re-writing the same value is silent.
	d.Write(ShortcutRecord, pttP)
	assertEvents(t, rec.take())
}

func TestDetectorNilSink(t *testing.T) {
	d := NewDetector(NewMemoryStore(), nil)
	d.Write(ShortcutRecord, pttP)
	d.Prime()
}
