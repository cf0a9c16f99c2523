// Package settings persists the background endpoint's few durable values in
// a small SQLite key-value table.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // Register driver
)

// Keys of the persisted values.
const (
	KeyMinPttLength    = "minPttLength"
	KeyBroadcastingTab = "broadcastingTab"
)

// ErrInvalidMinLength is returned when a non-positive length is stored.
var ErrInvalidMinLength = errors.New("settings: minimum PTT length must be positive")

// Store is the persisted settings table.
type Store struct {
	db               *sql.DB
	defaultMinLength time.Duration
}

// Open opens (creating if needed) the settings database at path.
// defaultMinLength is returned by MinLength while nothing is stored.
func Open(path string, defaultMinLength time.Duration) (*Store, error) {
	if path == "" {
		return nil, errors.New("settings: database path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("settings: create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("settings: open db: %w", err)
	}
	// One connection: SQLite serializes writers anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("settings: ping db: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("settings: set busy timeout: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("settings: migrate: %w", err)
	}

	if defaultMinLength <= 0 {
		defaultMinLength = 800 * time.Millisecond
	}
	return &Store{db: db, defaultMinLength: defaultMinLength}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("settings: get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("settings: delete %s: %w", key, err)
	}
	return nil
}

// MinLength returns the stored minimum PTT length, or the default if none is
// stored. A corrupt stored value is logged and replaced by the default.
func (s *Store) MinLength(ctx context.Context) (time.Duration, error) {
	raw, ok, err := s.get(ctx, KeyMinPttLength)
	if err != nil {
		return s.defaultMinLength, err
	}
	if !ok {
		return s.defaultMinLength, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		slog.Warn("[settings] stored minPttLength is invalid, using default", "value", raw, "default", s.defaultMinLength)
		return s.defaultMinLength, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// SetMinLength stores a new minimum PTT length.
func (s *Store) SetMinLength(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidMinLength, d)
	}
	return s.set(ctx, KeyMinPttLength, strconv.FormatInt(d.Milliseconds(), 10))
}

// BroadcastingTab returns the persisted broadcasting tab id, if any.
func (s *Store) BroadcastingTab(ctx context.Context) (string, bool, error) {
	return s.get(ctx, KeyBroadcastingTab)
}

// SetBroadcastingTab persists id as the broadcasting tab. An empty id clears it.
func (s *Store) SetBroadcastingTab(ctx context.Context, id string) error {
	if id == "" {
		return s.delete(ctx, KeyBroadcastingTab)
	}
	return s.set(ctx, KeyBroadcastingTab, id)
}
