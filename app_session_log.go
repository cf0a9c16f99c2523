package main

import (
	"io"
	"log/slog"

	"webptt/internal/sessionlog"
)

// installLogger makes the default slog logger write text to w at the
// configured level and copy warnings into the diagnostics ring.
func (a *App) installLogger(w io.Writer) {
	base := slog.NewTextHandler(w, &slog.HandlerOptions{Level: a.logLevel})
	slog.SetDefault(slog.New(sessionlog.NewTeeHandler(base, slog.LevelWarn, a.diagnostics.Add)))
}
