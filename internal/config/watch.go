package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
)

// watchDebounceInterval coalesces editor write bursts (truncate, write,
// rename) into one reload. Replaced in tests.
var watchDebounceInterval = 250 * time.Millisecond

// Watch reloads path whenever it changes and passes the result to onChange.
// The parent directory is watched so that editors replacing the file by
// rename are seen. Parse failures are logged and skipped. Watch blocks until
// ctx is done.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	if onChange == nil {
		return fmt.Errorf("config: watch: nil callback")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("config: watch: mkdir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	reload := func() {
		if ctx.Err() != nil {
			return
		}
		cfg, loadErr := Load(abs)
		if loadErr != nil {
			slog.Warn("[WARN-CONFIG] reload failed, keeping previous config", "path", abs, "error", loadErr)
			return
		}
		slog.Info("[DEBUG-CONFIG] config reloaded", "path", abs)
		onChange(cfg)
	}
	debounced := debounce.New(watchDebounceInterval)

	slog.Debug("[DEBUG-CONFIG] watching config", "path", abs)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			debounced(reload)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("[WARN-CONFIG] watcher error", "error", werr)
		}
	}
}
