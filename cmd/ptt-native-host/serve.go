package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"webptt/internal/config"
	"webptt/internal/hotkeys"
	"webptt/internal/ipc"
	"webptt/internal/nativemsg"
)

type hostOptions struct {
	// PipeName is the pulse pipe. Empty uses ipc.DefaultPipeName.
	PipeName string
	// ConfigPath is watched for hotkey and log level changes. Empty disables
	// the watch.
	ConfigPath string
	// Hotkey is the initial global hotkey; empty registers none.
	Hotkey   string
	LogLevel *slog.LevelVar
}

type hotkeyRegistrar interface {
	Start(binding hotkeys.Binding, onTrigger func()) error
	Stop() error
	Active() string
}

// newHotkeyRegistrarFn is a test seam.
var newHotkeyRegistrarFn = func() hotkeyRegistrar { return hotkeys.NewManager() }

// host turns pipe commands and hotkey triggers into frames on the port.
type host struct {
	emitter *nativemsg.Emitter
	pulses  atomic.Uint64

	hotkeyMu   sync.Mutex
	registrar  hotkeyRegistrar
	hotkeySpec string
}

// serve runs until ctx is cancelled or stdin reaches EOF, which is how the
// browser signals that the port was disconnected.
func serve(ctx context.Context, stdin io.Reader, stdout io.Writer, opts hostOptions) error {
	if stdin == nil || stdout == nil {
		return errors.New("native host: stdin and stdout are required")
	}
	h := &host{
		emitter:   nativemsg.NewEmitter(stdout),
		registrar: newHotkeyRegistrarFn(),
	}

	srv := ipc.NewServer(opts.PipeName, h)
	if err := srv.Start(); err != nil {
		// Another host instance usually owns the pipe; the hotkey still works.
		slog.Warn("[native] pulse pipe unavailable", "error", err)
		srv = nil
	}

	h.applyHotkey(opts.Hotkey)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	var watchWG sync.WaitGroup
	if opts.ConfigPath != "" {
		watchWG.Go(func() {
			err := config.Watch(watchCtx, opts.ConfigPath, func(cfg config.Config) {
				h.applyHotkey(cfg.Hotkey)
				if opts.LogLevel != nil {
					opts.LogLevel.Set(cfg.SlogLevel())
				}
			})
			if err != nil {
				slog.Warn("[native] config watch stopped", "error", err)
			}
		})
	}

	stdinDone := make(chan error, 1)
	go func() { stdinDone <- drainPort(stdin) }()

	select {
	case <-ctx.Done():
	case err := <-stdinDone:
		slog.Info("[native] port closed by browser", "error", err)
	}

	cancelWatch()
	watchWG.Wait()
	h.hotkeyMu.Lock()
	if err := h.registrar.Stop(); err != nil {
		slog.Warn("[hotkey] stop failed", "error", err)
	}
	h.hotkeyMu.Unlock()
	if srv != nil {
		if err := srv.Stop(); err != nil {
			return fmt.Errorf("native host: stop pulse pipe: %w", err)
		}
	}
	return nil
}

// drainPort reads frames the browser sends until the port closes. The relay
// never sends anything to the host, so frames are only logged.
func drainPort(r io.Reader) error {
	for {
		body, err := nativemsg.ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		slog.Debug("[native] ignoring frame from browser", "bytes", len(body))
	}
}

// Handle serves one pulse pipe request.
func (h *host) Handle(req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandPulse:
		n, err := h.pulse()
		if err != nil {
			return ipc.Response{Error: err.Error()}
		}
		return ipc.Response{OK: true, Pulses: n}
	case ipc.CommandPing:
		return ipc.Response{OK: true, Pulses: h.pulses.Load()}
	default:
		return ipc.Response{Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func (h *host) pulse() (uint64, error) {
	if err := h.emitter.Pulse(); err != nil {
		slog.Warn("[native] failed to write pulse", "error", err)
		return 0, fmt.Errorf("write pulse: %w", err)
	}
	return h.pulses.Add(1), nil
}

// applyHotkey replaces the registered hotkey when spec changed.
func (h *host) applyHotkey(spec string) {
	h.hotkeyMu.Lock()
	defer h.hotkeyMu.Unlock()
	if spec == h.hotkeySpec {
		return
	}
	h.hotkeySpec = spec

	if spec == "" {
		if err := h.registrar.Stop(); err != nil {
			slog.Warn("[hotkey] stop failed", "error", err)
		}
		slog.Info("[hotkey] global hotkey disabled")
		return
	}
	binding, err := hotkeys.ParseBinding(spec)
	if err != nil {
		slog.Warn("[hotkey] invalid binding", "value", spec, "error", err)
		return
	}
	err = h.registrar.Start(binding, func() {
		if _, err := h.pulse(); err != nil {
			slog.Debug("[hotkey] pulse dropped", "error", err)
		}
	})
	switch {
	case errors.Is(err, hotkeys.ErrUnsupported):
		slog.Warn("[hotkey] global hotkeys unsupported here; bind `ptt-native-host pulse` in your desktop instead",
			"binding", binding.String())
	case err != nil:
		slog.Warn("[hotkey] registration failed", "binding", binding.String(), "error", err)
	}
}
