package main

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"webptt/internal/config"
	"webptt/internal/nativemsg"
	"webptt/internal/registry"
	"webptt/internal/sessionlog"
	"webptt/internal/settings"
	"webptt/internal/wsserver"
)

// diagnosticsSize is the number of recent warnings kept for the status report.
const diagnosticsSize = 50

// Test seams.
var (
	openSettingsFn = settings.Open
	watchConfigFn  = config.Watch
)

// App is the background endpoint: it owns the minimum PTT length, the
// broadcasting-tab registry and the native host, and relays pulses to tabs.
type App struct {
	// configPath is empty when the config file is not watched (tests).
	configPath string

	// cfgMu protects cfg. Only AppURLPrefixes and LogLevel change after
	// startup; see applyConfigReload.
	cfgMu sync.RWMutex
	cfg   config.Config

	logLevel    *slog.LevelVar
	diagnostics *sessionlog.Ring

	// Set once in startup before any worker or hub callback runs.
	settings *settings.Store
	registry *registry.Registry
	hub      *wsserver.Hub
	native   *nativemsg.Port

	pulsesRelayed atomic.Uint64
	// shuttingDown is set at the start of shutdown; disconnects seen after it
	// are not treated as tabs leaving.
	shuttingDown atomic.Bool

	cancel context.CancelFunc
	bgWG   sync.WaitGroup
}

// NewApp creates the background service for cfg, loaded from configPath.
func NewApp(configPath string, cfg config.Config) *App {
	level := new(slog.LevelVar)
	level.Set(cfg.SlogLevel())
	return &App{
		configPath:  configPath,
		cfg:         config.Clone(cfg),
		logLevel:    level,
		diagnostics: sessionlog.NewRing(diagnosticsSize),
	}
}
