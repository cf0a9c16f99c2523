package main

import (
	"context"
	"log/slog"
	"time"

	"webptt/internal/config"
	"webptt/internal/relay"
	"webptt/internal/wsserver"
)

// settingsTimeout bounds one settings store round trip on a hub goroutine.
const settingsTimeout = 2 * time.Second

// handleTabMessage runs on the sending tab's read goroutine.
func (a *App) handleTabMessage(tab wsserver.Tab, env relay.Envelope) {
	switch env.ID {
	case relay.MsgDiscordLoaded:
		a.answerInit(tab, env)
	case relay.MsgMinLengthChanged:
		a.changeMinLength(tab, env)
	case relay.MsgBroadcasting:
		a.updateBroadcasting(tab, env)
	case relay.MsgStatus:
		a.reply(tab, env, a.statusReport())
	default:
		slog.Debug("[relay] ignoring unknown message", "tab", tab.ID, "id", env.ID)
	}
}

// handleTabDisconnect treats a vanished tab as broadcasting=false.
func (a *App) handleTabDisconnect(tab wsserver.Tab) {
	if a.shuttingDown.Load() {
		return
	}
	if a.registry.Release(tab.ID) {
		slog.Info("[relay] broadcasting tab disconnected", "tab", tab.ID)
	}
}

func (a *App) answerInit(tab wsserver.Tab, env relay.Envelope) {
	d := a.currentMinLength()
	slog.Debug("[relay] tab loaded", "tab", tab.ID, "url", tab.URL, "minLength", d)
	a.reply(tab, env, relay.MinLengthMS(d))
}

// changeMinLength persists a new minimum length and pushes it to every app
// tab, the sender included. Requests carrying a correlation id get the stored
// value back.
func (a *App) changeMinLength(tab wsserver.Tab, env relay.Envelope) {
	d, err := env.MinLength()
	if err != nil {
		slog.Warn("[relay] rejected minimum length", "tab", tab.ID, "error", err)
		a.sendError(tab, env, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), settingsTimeout)
	defer cancel()
	if err := a.settings.SetMinLength(ctx, d); err != nil {
		slog.Warn("[relay] failed to persist minimum length", "tab", tab.ID, "error", err)
		a.sendError(tab, env, err.Error())
		return
	}

	prefixes := a.configSnapshot().AppURLPrefixes
	delivered := a.hub.Broadcast(
		relay.MustMessage(relay.MsgMinLengthChanged, relay.MinLengthMS(d)),
		func(t wsserver.Tab) bool { return relay.IsAppURL(t.URL, prefixes) },
	)
	slog.Info("[relay] minimum length changed", "tab", tab.ID, "minLength", d, "tabs", delivered)

	if env.Req != "" {
		a.reply(tab, env, relay.MinLengthMS(d))
	}
}

func (a *App) updateBroadcasting(tab wsserver.Tab, env relay.Envelope) {
	on, err := env.Bool()
	if err != nil {
		slog.Warn("[relay] invalid broadcasting message", "tab", tab.ID, "error", err)
		return
	}
	if a.registry.SetBroadcasting(tab.ID, on) {
		holder, _ := a.registry.Holder()
		slog.Info("[relay] broadcasting tab changed", "tab", tab.ID, "broadcasting", on, "holder", holder)
	}
}

// relayPulse fans one native pulse out per the configured topology. It runs
// on the native port reader goroutine.
func (a *App) relayPulse() {
	cfg := a.configSnapshot()
	msg := relay.MustMessage(relay.MsgExtShortcutPushed, nil)

	delivered := 0
	switch cfg.Fanout {
	case config.FanoutURLPrefix:
		prefixes := cfg.AppURLPrefixes
		delivered = a.hub.Broadcast(msg, func(t wsserver.Tab) bool {
			return relay.IsAppURL(t.URL, prefixes)
		})
	default:
		holder, ok := a.registry.Holder()
		if !ok {
			slog.Debug("[relay] pulse dropped, no broadcasting tab")
			return
		}
		if err := a.hub.Send(holder, msg); err != nil {
			slog.Debug("[relay] pulse not delivered to broadcasting tab", "tab", holder, "error", err)
			return
		}
		delivered = 1
	}

	if delivered == 0 {
		slog.Debug("[relay] pulse dropped, no matching tab", "fanout", cfg.Fanout)
		return
	}
	a.pulsesRelayed.Add(1)
}

// currentMinLength returns the stored minimum length, or the configured
// default when the store cannot be read.
func (a *App) currentMinLength() time.Duration {
	ctx, cancel := context.WithTimeout(context.Background(), settingsTimeout)
	defer cancel()
	d, err := a.settings.MinLength(ctx)
	if err != nil {
		fallback := a.configSnapshot().MinPttLength()
		slog.Warn("[relay] failed to read minimum length, using default", "error", err, "default", fallback)
		return fallback
	}
	return d
}

func (a *App) reply(tab wsserver.Tab, req relay.Envelope, value any) {
	env, err := relay.Reply(req, value)
	if err != nil {
		slog.Warn("[relay] failed to build reply", "tab", tab.ID, "id", req.ID, "error", err)
		return
	}
	if err := a.hub.Send(tab.ID, env); err != nil {
		slog.Debug("[relay] reply not delivered", "tab", tab.ID, "id", req.ID, "error", err)
	}
}

// sendError reports a failed message to tab. A request gets the error as its
// answer.
func (a *App) sendError(tab wsserver.Tab, req relay.Envelope, message string) {
	env := relay.MustMessage(relay.MsgError, message)
	env.Req = req.Req
	if err := a.hub.Send(tab.ID, env); err != nil {
		slog.Debug("[relay] error not delivered", "tab", tab.ID, "error", err)
	}
}
