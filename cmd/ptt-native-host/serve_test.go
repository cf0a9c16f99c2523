package main

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"webptt/internal/hotkeys"
	"webptt/internal/ipc"
	"webptt/internal/nativemsg"
)

func waitForCondition(t *testing.T, timeout time.Duration, fn func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fn()
}

// syncBuffer is a goroutine-safe stdout stand-in.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// frames decodes every complete native frame written so far.
func (b *syncBuffer) frames(t *testing.T) []nativemsg.Message {
	t.Helper()
	b.mu.Lock()
	raw := bytes.Clone(b.buf.Bytes())
	b.mu.Unlock()

	r := bytes.NewReader(raw)
	var out []nativemsg.Message
	for {
		msg, err := nativemsg.ReadMessage(r)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		out = append(out, msg)
	}
}

type fakeRegistrar struct {
	mu      sync.Mutex
	active  string
	trigger func()
	err     error
	starts  int
	stops   int
}

func (f *fakeRegistrar) Start(b hotkeys.Binding, onTrigger func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.err != nil {
		return f.err
	}
	f.active = b.String()
	f.trigger = onTrigger
	return nil
}

func (f *fakeRegistrar) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.active = ""
	f.trigger = nil
	return nil
}

func (f *fakeRegistrar) Active() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeRegistrar) fire() bool {
	f.mu.Lock()
	fn := f.trigger
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

func useFakeRegistrar(t *testing.T) *fakeRegistrar {
	t.Helper()
	fake := &fakeRegistrar{}
	orig := newHotkeyRegistrarFn
	newHotkeyRegistrarFn = func() hotkeyRegistrar { return fake }
	t.Cleanup(func() { newHotkeyRegistrarFn = orig })
	return fake
}

func TestHostHandle(t *testing.T) {
	out := &syncBuffer{}
	h := &host{emitter: nativemsg.NewEmitter(out), registrar: &fakeRegistrar{}}

	if resp := h.Handle(ipc.Request{Command: ipc.CommandPing}); !resp.OK || resp.Pulses != 0 {
		t.Fatalf("ping = %+v", resp)
	}
	for want := uint64(1); want <= 2; want++ {
		if resp := h.Handle(ipc.Request{Command: ipc.CommandPulse}); !resp.OK || resp.Pulses != want {
			t.Fatalf("pulse = %+v, want pulses=%d", resp, want)
		}
	}
	if resp := h.Handle(ipc.Request{Command: "bogus"}); resp.OK || !strings.Contains(resp.Error, "unknown command") {
		t.Fatalf("bogus = %+v", resp)
	}

	frames := out.frames(t)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	for _, f := range frames {
		if f.ID != nativemsg.MsgShortcutPulse {
			t.Fatalf("frame id = %q", f.ID)
		}
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestHostHandlePulseWriteError(t *testing.T) {
	h := &host{emitter: nativemsg.NewEmitter(failingWriter{}), registrar: &fakeRegistrar{}}
	resp := h.Handle(ipc.Request{Command: ipc.CommandPulse})
	if resp.OK || !strings.Contains(resp.Error, "write pulse") {
		t.Fatalf("pulse = %+v, want write error", resp)
	}
	if h.pulses.Load() != 0 {
		t.Fatalf("pulses = %d, want 0", h.pulses.Load())
	}
}

func TestApplyHotkey(t *testing.T) {
	out := &syncBuffer{}
	fake := &fakeRegistrar{}
	h := &host{emitter: nativemsg.NewEmitter(out), registrar: fake}

	h.applyHotkey("ctrl+shift+f9")
	if fake.Active() != "Ctrl+Shift+F9" {
		t.Fatalf("Active() = %q", fake.Active())
	}
	if !fake.fire() {
		t.Fatal("no trigger registered")
	}
	if n := len(out.frames(t)); n != 1 {
		t.Fatalf("frames = %d after trigger, want 1", n)
	}

	h.applyHotkey("ctrl+shift+f9")
	if fake.starts != 1 {
		t.Fatalf("starts = %d, unchanged spec must not re-register", fake.starts)
	}

	h.applyHotkey("Hyper+Q")
	if fake.starts != 1 {
		t.Fatalf("invalid spec reached the registrar")
	}

	h.applyHotkey("")
	if fake.Active() != "" || fake.stops == 0 {
		t.Fatalf("hotkey not removed: active=%q stops=%d", fake.Active(), fake.stops)
	}
}

func TestApplyHotkeyUnsupportedKeepsRunning(t *testing.T) {
	fake := &fakeRegistrar{err: hotkeys.ErrUnsupported}
	h := &host{emitter: nativemsg.NewEmitter(&syncBuffer{}), registrar: fake}
	h.applyHotkey("F13")
	if fake.starts != 1 || fake.Active() != "" {
		t.Fatalf("starts=%d active=%q", fake.starts, fake.Active())
	}
	if resp := h.Handle(ipc.Request{Command: ipc.CommandPulse}); !resp.OK {
		t.Fatalf("pipe pulses must still work: %+v", resp)
	}
}

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--help"}, strings.NewReader(""), &stdout, &stderr); code != 0 {
		t.Fatalf("run(--help) = %d", code)
	}
	if !strings.Contains(stdout.String(), "ptt-native-host pulse") {
		t.Fatalf("usage = %q", stdout.String())
	}
}

func TestDrainPortStopsOnEOF(t *testing.T) {
	var buf bytes.Buffer
	if err := nativemsg.WriteFrame(&buf, []byte(`{"id":"hello"}`)); err != nil {
		t.Fatal(err)
	}
	if err := drainPort(&buf); err != nil {
		t.Fatalf("drainPort() error = %v", err)
	}
}
