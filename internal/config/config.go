package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"

	"webptt/internal/hotkeys"
	"webptt/internal/relay"
)

// PathEnv overrides DefaultPath.
const PathEnv = "WEBPTT_CONFIG"

// Fanout topologies for relayed pulses.
const (
	// FanoutRegistered sends pulses only to the tab registered as broadcasting.
	FanoutRegistered = "registered"
	// FanoutURLPrefix sends pulses to every tab whose URL matches an app prefix.
	FanoutURLPrefix = "url_prefix"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB
	maxRenameRetry           = 10
	// Windows file lock releases (antivirus/indexing) typically settle quickly.
	// Use a short linear backoff: baseDelay * (1..maxRenameRetry).
	renameRetryBaseDelay = 10 * time.Millisecond

	defaultListenAddr   = "127.0.0.1:47821"
	defaultNativeHost   = "ptt-native-host"
	defaultSettingsFile = "settings.db"

	maxMinPttLengthMS = 60_000
	maxInitTimeout    = 30 * time.Second
)

// userConfigDirFn is a test seam for DefaultPath.
var userConfigDirFn = os.UserConfigDir

var allowedLogLevels = []string{"debug", "info", "warn", "error"}

// Config is the relay host configuration.
type Config struct {
	// ListenAddr is the hub listen address. Only loopback hosts are accepted.
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	// NativeHost is the native host command line. Empty disables the native port.
	NativeHost []string `yaml:"native_host" json:"native_host"`
	// Fanout is FanoutRegistered or FanoutURLPrefix.
	Fanout string `yaml:"fanout" json:"fanout"`
	// AppURLPrefixes identify chat app pages.
	AppURLPrefixes []string `yaml:"app_url_prefixes" json:"app_url_prefixes"`
	// DefaultMinPttLength is the minimum PTT length in milliseconds used until
	// a value has been persisted.
	DefaultMinPttLength int64 `yaml:"default_min_ptt_length" json:"default_min_ptt_length"`
	// InitTimeout bounds the content endpoint startup handshake.
	InitTimeout time.Duration `yaml:"init_timeout" json:"init_timeout"`
	// SettingsDB is the sqlite settings file. Relative paths resolve against
	// the config file directory; empty means settings.db next to it.
	SettingsDB string `yaml:"settings_db,omitempty" json:"settings_db,omitempty"`
	// Hotkey is the global key combination the native host turns into pulses,
	// e.g. "Ctrl+Shift+F9". Empty leaves pulses to the pulse pipe.
	Hotkey string `yaml:"hotkey,omitempty" json:"hotkey,omitempty"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:          defaultListenAddr,
		NativeHost:          []string{defaultNativeHost},
		Fanout:              FanoutRegistered,
		AppURLPrefixes:      slices.Clone(relay.DefaultAppURLPrefixes),
		DefaultMinPttLength: relay.DefaultMinLengthMS,
		InitTimeout:         2 * time.Second,
		LogLevel:            "info",
	}
}

// DefaultPath resolves the config file path: PathEnv when set, otherwise
// <UserConfigDir>/webptt/config.yaml, falling back to the temp dir when the
// user config dir cannot be resolved.
func DefaultPath() string {
	if v := strings.TrimSpace(os.Getenv(PathEnv)); v != "" {
		return v
	}
	base, err := userConfigDirFn()
	if err != nil || strings.TrimSpace(base) == "" {
		slog.Warn("[WARN-CONFIG] using temp dir as config path fallback", "error", err)
		base = os.TempDir()
	}
	return filepath.Join(base, "webptt", "config.yaml")
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			slog.Warn("[WARN-CONFIG] failed to load env file", "path", p, "error", err)
			continue
		}
		slog.Debug("[DEBUG-CONFIG] env file loaded", "path", p)
	}
}

// Load reads the config file. A missing or empty file yields the defaults.
// Invalid field values are logged and replaced by their defaults; only an
// unreadable or unparsable file is an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, errors.New("config: load: path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: load: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaultsAndValidate(&cfg)
	return cfg, nil
}

// EnsureFile writes the default config if missing and returns the loaded config.
func EnsureFile(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if _, err := Save(path, cfg); err != nil {
			return cfg, err
		}
		slog.Info("[DEBUG-CONFIG] default config written", "path", path)
	}
	return cfg, nil
}

// Save validates cfg and writes it atomically. It returns the normalized
// config that was written.
func Save(path string, cfg Config) (Config, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return cfg, errors.New("config: save: path required")
	}
	cfg = Clone(cfg)
	applyDefaultsAndValidate(&cfg)

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: save: marshal: %w", err)
	}
	if err := atomicWrite(trimmed, raw); err != nil {
		return cfg, err
	}
	slog.Debug("[DEBUG-CONFIG] config saved", "path", trimmed)
	return cfg, nil
}

// Clone returns a deep copy of src.
func Clone(src Config) Config {
	dst := src
	dst.NativeHost = slices.Clone(src.NativeHost)
	dst.AppURLPrefixes = slices.Clone(src.AppURLPrefixes)
	return dst
}

// SettingsPath resolves SettingsDB against the directory of configPath.
func (c Config) SettingsPath(configPath string) string {
	dir := filepath.Dir(configPath)
	db := strings.TrimSpace(c.SettingsDB)
	if db == "" {
		return filepath.Join(dir, defaultSettingsFile)
	}
	if filepath.IsAbs(db) {
		return db
	}
	return filepath.Join(dir, db)
}

// MinPttLength returns DefaultMinPttLength as a duration.
func (c Config) MinPttLength() time.Duration {
	return time.Duration(c.DefaultMinPttLength) * time.Millisecond
}

// SlogLevel maps LogLevel to a slog level. Unknown values map to Info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// applyDefaultsAndValidate replaces invalid values with defaults.
// MUTATES: cfg is directly modified.
func applyDefaultsAndValidate(cfg *Config) {
	defaults := DefaultConfig()

	validateListenAddr(cfg, defaults.ListenAddr)

	cfg.NativeHost = trimNonEmpty(cfg.NativeHost)

	cfg.Fanout = strings.ToLower(strings.TrimSpace(cfg.Fanout))
	switch cfg.Fanout {
	case FanoutRegistered, FanoutURLPrefix:
	case "":
		cfg.Fanout = defaults.Fanout
	default:
		slog.Warn("[WARN-CONFIG] unknown fanout, using default", "fanout", cfg.Fanout, "default", defaults.Fanout)
		cfg.Fanout = defaults.Fanout
	}

	cfg.AppURLPrefixes = trimNonEmpty(cfg.AppURLPrefixes)
	if len(cfg.AppURLPrefixes) == 0 {
		cfg.AppURLPrefixes = defaults.AppURLPrefixes
	}

	if cfg.DefaultMinPttLength <= 0 || cfg.DefaultMinPttLength > maxMinPttLengthMS {
		if cfg.DefaultMinPttLength != 0 {
			slog.Warn("[WARN-CONFIG] default_min_ptt_length out of range, using default",
				"value", cfg.DefaultMinPttLength, "max", maxMinPttLengthMS, "default", defaults.DefaultMinPttLength)
		}
		cfg.DefaultMinPttLength = defaults.DefaultMinPttLength
	}

	if cfg.InitTimeout <= 0 || cfg.InitTimeout > maxInitTimeout {
		if cfg.InitTimeout != 0 {
			slog.Warn("[WARN-CONFIG] init_timeout out of range, using default",
				"value", cfg.InitTimeout, "max", maxInitTimeout, "default", defaults.InitTimeout)
		}
		cfg.InitTimeout = defaults.InitTimeout
	}

	cfg.SettingsDB = strings.TrimSpace(cfg.SettingsDB)

	cfg.Hotkey = strings.TrimSpace(cfg.Hotkey)
	if cfg.Hotkey != "" {
		if _, err := hotkeys.ParseBinding(cfg.Hotkey); err != nil {
			slog.Warn("[WARN-CONFIG] invalid hotkey, disabling", "value", cfg.Hotkey, "error", err)
			cfg.Hotkey = ""
		}
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if !slices.Contains(allowedLogLevels, cfg.LogLevel) {
		if cfg.LogLevel != "" {
			slog.Warn("[WARN-CONFIG] unknown log_level, using default", "value", cfg.LogLevel, "default", defaults.LogLevel)
		}
		cfg.LogLevel = defaults.LogLevel
	}
}

// validateListenAddr keeps the hub on a loopback interface. Port 0 is valid
// and means "OS auto-assign".
func validateListenAddr(cfg *Config, fallback string) {
	addr := strings.TrimSpace(cfg.ListenAddr)
	if addr == "" {
		cfg.ListenAddr = fallback
		return
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		slog.Warn("[WARN-CONFIG] invalid listen_addr, using default", "value", addr, "error", err)
		cfg.ListenAddr = fallback
		return
	}
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			slog.Warn("[WARN-CONFIG] listen_addr must be loopback, using default", "value", addr)
			cfg.ListenAddr = fallback
			return
		}
	}
	cfg.ListenAddr = addr
}

func trimNonEmpty(src []string) []string {
	out := make([]string, 0, len(src))
	for _, s := range src {
		if v := strings.TrimSpace(s); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// atomicWrite writes config data using temp-file + rename to avoid partial
// writes and retries rename on Windows to tolerate transient file locks.
func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("config: save: mkdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("config: save: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[WARN-CONFIG] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[WARN-CONFIG] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("config: save: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("config: save: write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("config: save: sync: %w", err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("config: save: close: %w", err)
	}

	if err = renameFileWithRetry(tmpPath, path); err != nil {
		return fmt.Errorf("config: save: rename: %w", err)
	}
	return nil
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

func renameFileWithRetry(sourcePath string, targetPath string) error {
	var lastErr error
	for attempt := range maxRenameRetry {
		err := os.Rename(sourcePath, targetPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if runtime.GOOS != "windows" {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryBaseDelay)
	}
	return lastErr
}
