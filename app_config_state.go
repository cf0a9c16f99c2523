package main

import (
	"log/slog"
	"slices"

	"webptt/internal/config"
)

func (a *App) configSnapshot() config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return config.Clone(a.cfg)
}

// applyConfigReload applies the live-reloadable fields of next: the app URL
// prefixes and the log level. Other changes take effect on restart.
func (a *App) applyConfigReload(next config.Config) {
	a.cfgMu.Lock()
	prev := a.cfg
	a.cfg.AppURLPrefixes = slices.Clone(next.AppURLPrefixes)
	a.cfg.LogLevel = next.LogLevel
	a.cfgMu.Unlock()

	a.logLevel.Set(next.SlogLevel())

	if !slices.Equal(prev.AppURLPrefixes, next.AppURLPrefixes) {
		slog.Info("[DEBUG-CONFIG] app url prefixes updated", "prefixes", next.AppURLPrefixes)
	}
	if prev.LogLevel != next.LogLevel {
		slog.Info("[DEBUG-CONFIG] log level updated", "level", next.LogLevel)
	}
	if restart := restartOnlyChanges(prev, next); len(restart) > 0 {
		slog.Warn("[WARN-CONFIG] changes take effect after restart", "fields", restart)
	}
}

// restartOnlyChanges lists the changed fields that are read only at startup.
func restartOnlyChanges(prev, next config.Config) []string {
	var out []string
	if prev.ListenAddr != next.ListenAddr {
		out = append(out, "listen_addr")
	}
	if !slices.Equal(prev.NativeHost, next.NativeHost) {
		out = append(out, "native_host")
	}
	if prev.Fanout != next.Fanout {
		out = append(out, "fanout")
	}
	if prev.DefaultMinPttLength != next.DefaultMinPttLength {
		out = append(out, "default_min_ptt_length")
	}
	if prev.InitTimeout != next.InitTimeout {
		out = append(out, "init_timeout")
	}
	if prev.SettingsDB != next.SettingsDB {
		out = append(out, "settings_db")
	}
	return out
}
