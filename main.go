// Command webptt is the background relay of the push-to-talk pulse relay. It
// runs the native host, accepts tab connections on a localhost websocket and
// forwards pulses to the tab that is broadcasting.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"webptt/internal/config"
	"webptt/internal/singleinstance"
)

func main() {
	os.Exit(run())
}

func run() int {
	config.LoadDotEnv()

	configPath := config.DefaultPath()
	cfg, cfgErr := config.EnsureFile(configPath)

	app := NewApp(configPath, cfg)
	app.installLogger(os.Stderr)
	if cfgErr != nil {
		// Non-fatal: Load already fell back to defaults.
		slog.Warn("[WARN-CONFIG] failed to load config, running with defaults", "path", configPath, "error", cfgErr)
	}

	lock, err := singleinstance.TryLock(singleinstance.DefaultLockName())
	if errors.Is(err, singleinstance.ErrAlreadyRunning) {
		slog.Info("[DEBUG-SINGLE] another webptt background is already running")
		return 1
	}
	if err != nil {
		slog.Warn("[DEBUG-SINGLE] lock failed, proceeding without single-instance guard", "error", err)
	}
	if lock != nil {
		defer func() {
			if releaseErr := lock.Release(); releaseErr != nil {
				slog.Warn("[DEBUG-SINGLE] lock release failed", "error", releaseErr)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.startup(ctx); err != nil {
		slog.Error("[relay] startup failed", "error", err)
		return 1
	}
	<-ctx.Done()
	app.shutdown()
	return 0
}
