package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"webptt/internal/nativemsg"
	"webptt/internal/registry"
	"webptt/internal/workerutil"
	"webptt/internal/wsserver"
)

const shutdownWaitTimeout = 10 * time.Second

// startup opens the settings store, starts the hub and launches the
// background workers. On error nothing is left running.
func (a *App) startup(parent context.Context) error {
	cfg := a.configSnapshot()
	ctx, cancel := context.WithCancel(parent)

	dbPath := cfg.SettingsPath(a.configPath)
	store, err := openSettingsFn(dbPath, cfg.MinPttLength())
	if err != nil {
		cancel()
		return fmt.Errorf("startup: %w", err)
	}
	a.settings = store
	a.registry = registry.New(ctx, store)

	a.hub = wsserver.NewHub(wsserver.HubOptions{
		Addr:         cfg.ListenAddr,
		OnMessage:    a.handleTabMessage,
		OnDisconnect: a.handleTabDisconnect,
	})
	if err := a.hub.Start(ctx); err != nil {
		cancel()
		if closeErr := store.Close(); closeErr != nil {
			slog.Warn("[relay] settings close failed", "error", closeErr)
		}
		return fmt.Errorf("startup: %w", err)
	}
	a.cancel = cancel

	a.native = nativemsg.NewPort(nativemsg.PortOptions{
		Command: cfg.NativeHost,
		OnPulse: a.relayPulse,
	})
	a.startWorker(ctx, "native-port", a.native.Run)

	if a.configPath != "" {
		a.startWorker(ctx, "config-watch", func(ctx context.Context) {
			if err := watchConfigFn(ctx, a.configPath, a.applyConfigReload); err != nil {
				slog.Warn("[WARN-CONFIG] config watch stopped", "error", err)
			}
		})
	}

	slog.Info("[relay] background ready",
		"url", a.hub.URL(),
		"fanout", cfg.Fanout,
		"settings", dbPath,
	)
	return nil
}

// startWorker runs fn under panic recovery, tracked by bgWG.
func (a *App) startWorker(ctx context.Context, name string, fn func(ctx context.Context)) {
	workerutil.RunWithPanicRecovery(ctx, name, &a.bgWG, fn, workerutil.RecoveryOptions{
		IsShutdown: a.shuttingDown.Load,
		OnFatal: func(worker string, maxRetries int) {
			slog.Error("[DEBUG-PANIC] worker stopped after repeated panics", "worker", worker, "maxRetries", maxRetries)
		},
	})
}

// shutdown stops the workers and the hub and closes the settings store.
// The broadcasting holder is kept so a restarted background resumes it.
func (a *App) shutdown() {
	a.shuttingDown.Store(true)
	if a.cancel != nil {
		a.cancel()
	}
	if a.hub != nil {
		if err := a.hub.Stop(); err != nil {
			slog.Warn("[relay] hub stop failed", "error", err)
		}
	}
	if !waitWithTimeout(a.bgWG.Wait, shutdownWaitTimeout) {
		slog.Warn("[relay] timed out waiting for background workers during shutdown")
	}
	if a.settings != nil {
		if err := a.settings.Close(); err != nil {
			slog.Warn("[relay] settings close failed", "error", err)
		}
	}
	slog.Info("[relay] background stopped", "pulsesRelayed", a.pulsesRelayed.Load())
}

func waitWithTimeout(waitFn func(), timeout time.Duration) bool {
	// The waiting goroutine may outlive timeout when waitFn blocks; this is
	// only used on shutdown paths where completion is expected.
	done := make(chan struct{})
	go func() {
		waitFn()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
