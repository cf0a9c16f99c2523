// Package content is the content endpoint: it runs in a page next to the
// injected endpoint, turns relayed pulses into synthetic key events through
// the PTT machine and reports the page's voice state to the background.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"webptt/internal/page"
	"webptt/internal/ptt"
	"webptt/internal/relay"
	"webptt/internal/shortcut"
	"webptt/internal/storewatch"
	"webptt/internal/wsserver"
)

// DefaultInitTimeout bounds the wait for the background's discord_loaded reply.
const DefaultInitTimeout = 2 * time.Second

// Options configures an Endpoint.
type Options struct {
	// Background is the hub address: a ws:// URL or host:port.
	Background string
	// TabID identifies this page to the background. Empty picks a uuid.
	TabID string
	// PageURL is the URL of the page the endpoint runs in.
	PageURL string
	// AppURLPrefixes decide whether PageURL is the chat app. Nil means
	// relay.DefaultAppURLPrefixes.
	AppURLPrefixes []string
	// InitTimeout bounds the startup handshake. Zero means DefaultInitTimeout.
	InitTimeout time.Duration
	// Bus carries events from the injected endpoint. Required.
	Bus *page.Bus
	// Dispatcher receives the synthetic key events. Required.
	Dispatcher ptt.KeyDispatcher
	// Clock drives the PTT machine. Nil means the system clock.
	Clock ptt.Clock
}

// Endpoint is a connected content endpoint.
type Endpoint struct {
	opts    Options
	isApp   bool
	client  *Client
	machine *ptt.Machine

	mu           sync.Mutex
	initialized  bool
	broadcasting bool
	unsubscribe  func()

	// minLengthPushed marks a min_ptt_length_changed seen before the init
	// reply; the reply may predate it and must not overwrite it.
	minLengthPushed bool

	closeOnce sync.Once
}

// Connect dials the background, subscribes to the page bus and performs the
// startup handshake. Pulses are ignored until the handshake has completed or
// timed out; on timeout the default minimum length stays in effect.
func Connect(ctx context.Context, opts Options) (*Endpoint, error) {
	if opts.Bus == nil {
		return nil, errors.New("content: page bus is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("content: key dispatcher is required")
	}
	if opts.TabID == "" {
		opts.TabID = uuid.NewString()
	}
	if opts.AppURLPrefixes == nil {
		opts.AppURLPrefixes = relay.DefaultAppURLPrefixes
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}

	e := &Endpoint{
		opts:  opts,
		isApp: relay.IsAppURL(opts.PageURL, opts.AppURLPrefixes),
		machine: ptt.NewMachine(opts.Dispatcher, ptt.MachineOptions{
			Clock:     opts.Clock,
			MinLength: ptt.DefaultMinLength,
		}),
	}

	client, err := Dial(ctx, opts.Background, wsserver.ConnectParams{
		TabID:   opts.TabID,
		PageURL: opts.PageURL,
	}, e.handleMessage)
	if err != nil {
		e.machine.Close()
		return nil, err
	}
	e.client = client

	unsubscribe := opts.Bus.Subscribe(e.handlePageEvent)
	e.mu.Lock()
	e.unsubscribe = unsubscribe
	e.mu.Unlock()

	e.handshake(ctx)
	return e, nil
}

func (e *Endpoint) handshake(ctx context.Context) {
	initCtx, cancel := context.WithTimeout(ctx, e.opts.InitTimeout)
	defer cancel()

	reply, err := e.client.Request(initCtx, relay.MustMessage(relay.MsgDiscordLoaded, nil))

	e.mu.Lock()
	switch {
	case err != nil:
		slog.Warn("[content] no init reply from background, using default minimum length",
			"tab", e.opts.TabID, "default", ptt.DefaultMinLength, "error", err)
	case e.minLengthPushed:
		slog.Debug("[content] minimum length changed during init, keeping pushed value", "tab", e.opts.TabID)
	default:
		if d, lenErr := reply.MinLength(); lenErr != nil {
			slog.Warn("[content] invalid init reply, using default minimum length", "error", lenErr)
		} else if setErr := e.machine.SetMinLength(d); setErr != nil {
			slog.Warn("[content] rejected minimum length from background", "error", setErr)
		}
	}
	e.initialized = true
	e.mu.Unlock()
	slog.Debug("[content] endpoint ready", "tab", e.opts.TabID, "isApp", e.isApp, "minLength", e.machine.State().MinLength)
}

// handleMessage runs on the client read goroutine.
func (e *Endpoint) handleMessage(env relay.Envelope) {
	switch env.ID {
	case relay.MsgExtShortcutPushed:
		e.mu.Lock()
		ready := e.initialized
		e.mu.Unlock()
		if !ready {
			slog.Debug("[content] pulse before init reply, dropped", "tab", e.opts.TabID)
			return
		}
		e.machine.Pulse()
	case relay.MsgMinLengthChanged:
		d, err := env.MinLength()
		if err != nil {
			slog.Warn("[content] invalid min_ptt_length_changed", "error", err)
			return
		}
		e.mu.Lock()
		if err := e.machine.SetMinLength(d); err != nil {
			slog.Warn("[content] rejected minimum length", "error", err)
		} else if !e.initialized {
			e.minLengthPushed = true
		}
		e.mu.Unlock()
	case relay.MsgError:
		var msg string
		_ = env.DecodeValue(&msg)
		slog.Warn("[content] background rejected a message", "error", msg)
	default:
		slog.Debug("[content] ignoring unknown message", "id", env.ID)
	}
}

// handlePageEvent runs on the page writer's goroutine.
func (e *Endpoint) handlePageEvent(ev storewatch.Event) {
	switch ev.Kind {
	case storewatch.ShortcutChanged:
		e.machine.SetShortcut(shortcut.FromKeyCodes(ev.KeyCodes))
	case storewatch.BroadcastingChanged:
		e.mu.Lock()
		e.broadcasting = ev.Broadcasting
		e.mu.Unlock()
		e.reportBroadcasting(ev.Broadcasting)
	}
}

func (e *Endpoint) reportBroadcasting(on bool) {
	if !e.isApp {
		return
	}
	if err := e.client.Send(relay.MustMessage(relay.MsgBroadcasting, on)); err != nil {
		slog.Warn("[content] failed to report broadcasting state", "broadcasting", on, "error", err)
	}
}

// SetMinLength asks the background to change the minimum PTT length for every
// app tab, this one included.
func (e *Endpoint) SetMinLength(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s", ptt.ErrInvalidMinLength, d)
	}
	return e.client.Send(relay.MustMessage(relay.MsgMinLengthChanged, relay.MinLengthMS(d)))
}

// TabID returns the id the background knows this endpoint by.
func (e *Endpoint) TabID() string {
	return e.opts.TabID
}

// Broadcasting reports the last voice state seen on the page bus.
func (e *Endpoint) Broadcasting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.broadcasting
}

// State returns the PTT machine snapshot.
func (e *Endpoint) State() ptt.State {
	return e.machine.State()
}

// Done is closed when the connection to the background is gone.
func (e *Endpoint) Done() <-chan struct{} {
	return e.client.Done()
}

// Close tears the endpoint down as a page unload would: the background is
// told this tab no longer broadcasts before the connection closes, and a
// held key is released.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		unsubscribe := e.unsubscribe
		e.broadcasting = false
		e.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}

		e.reportBroadcasting(false)
		e.machine.Close()
		err = e.client.Close()
	})
	return err
}
