package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"webptt/internal/testutil"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func isWindows() bool { return runtime.GOOS == "windows" }

func TestDefaultPathUsesEnvOverride(t *testing.T) {
	t.Setenv(PathEnv, "/tmp/custom/webptt.yaml")
	if got := DefaultPath(); got != "/tmp/custom/webptt.yaml" {
		t.Fatalf("DefaultPath() = %q", got)
	}
}

func TestDefaultPathUsesUserConfigDir(t *testing.T) {
	t.Setenv(PathEnv, "")
	base := t.TempDir()
	orig := userConfigDirFn
	userConfigDirFn = func() (string, error) { return base, nil }
	t.Cleanup(func() { userConfigDirFn = orig })

	want := filepath.Join(base, "webptt", "config.yaml")
	if got := DefaultPath(); got != want {
		t.Fatalf("DefaultPath() = %q, want %q", got, want)
	}
}

func TestDefaultPathFallsBackToTempDir(t *testing.T) {
	t.Setenv(PathEnv, "")
	orig := userConfigDirFn
	userConfigDirFn = func() (string, error) { return "", errors.New("no config dir") }
	t.Cleanup(func() { userConfigDirFn = orig })

	logBuf := testutil.CaptureLogBuffer(t, slog.LevelWarn)
	want := filepath.Join(os.TempDir(), "webptt", "config.yaml")
	if got := DefaultPath(); got != want {
		t.Fatalf("DefaultPath() = %q, want %q", got, want)
	}
	if !strings.Contains(logBuf.String(), "temp dir") {
		t.Fatalf("expected fallback warning, got %q", logBuf.String())
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoadEmptyFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, "  \n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(" "); err == nil {
		t.Fatal("Load(\" \") expected error")
	}
}

func TestLoadInvalidYAMLReturnsDefaultsAndError(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, "fanout: [unterminated"))
	if err == nil {
		t.Fatal("Load() expected parse error")
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("Load() = %+v, want defaults on parse error", cfg)
	}
}

func TestLoadParsesAllFields(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr: "127.0.0.1:0"
native_host: ["/opt/webptt/ptt-native-host", "--serve"]
fanout: url_prefix
app_url_prefixes:
  - https://example.com/app
default_min_ptt_length: 1200
init_timeout: 5s
settings_db: state.db
hotkey: " ctrl+shift+f9 "
log_level: DEBUG
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := Config{
		ListenAddr:          "127.0.0.1:0",
		NativeHost:          []string{"/opt/webptt/ptt-native-host", "--serve"},
		Fanout:              FanoutURLPrefix,
		AppURLPrefixes:      []string{"https://example.com/app"},
		DefaultMinPttLength: 1200,
		InitTimeout:         5 * time.Second,
		SettingsDB:          "state.db",
		Hotkey:              "ctrl+shift+f9",
		LogLevel:            "debug",
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("Load() =\n%+v\nwant\n%+v", cfg, want)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("SlogLevel() = %v, want debug", cfg.SlogLevel())
	}
	if cfg.MinPttLength() != 1200*time.Millisecond {
		t.Fatalf("MinPttLength() = %v", cfg.MinPttLength())
	}
}

func TestLoadClampsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		check func(t *testing.T, cfg Config)
	}{
		{
			name: "non loopback listen addr",
			yaml: `listen_addr: "0.0.0.0:9000"`,
			check: func(t *testing.T, cfg Config) {
				if cfg.ListenAddr != defaultListenAddr {
					t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
				}
			},
		},
		{
			name: "listen addr without port",
			yaml: `listen_addr: "127.0.0.1"`,
			check: func(t *testing.T, cfg Config) {
				if cfg.ListenAddr != defaultListenAddr {
					t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
				}
			},
		},
		{
			name: "localhost accepted",
			yaml: `listen_addr: "localhost:9000"`,
			check: func(t *testing.T, cfg Config) {
				if cfg.ListenAddr != "localhost:9000" {
					t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
				}
			},
		},
		{
			name: "unknown fanout",
			yaml: `fanout: everyone`,
			check: func(t *testing.T, cfg Config) {
				if cfg.Fanout != FanoutRegistered {
					t.Fatalf("Fanout = %q", cfg.Fanout)
				}
			},
		},
		{
			name: "negative min length",
			yaml: `default_min_ptt_length: -5`,
			check: func(t *testing.T, cfg Config) {
				if cfg.DefaultMinPttLength != 800 {
					t.Fatalf("DefaultMinPttLength = %d", cfg.DefaultMinPttLength)
				}
			},
		},
		{
			name: "huge min length",
			yaml: `default_min_ptt_length: 3600000`,
			check: func(t *testing.T, cfg Config) {
				if cfg.DefaultMinPttLength != 800 {
					t.Fatalf("DefaultMinPttLength = %d", cfg.DefaultMinPttLength)
				}
			},
		},
		{
			name: "init timeout too long",
			yaml: `init_timeout: 10m`,
			check: func(t *testing.T, cfg Config) {
				if cfg.InitTimeout != 2*time.Second {
					t.Fatalf("InitTimeout = %s", cfg.InitTimeout)
				}
			},
		},
		{
			name: "blank prefixes",
			yaml: "app_url_prefixes: [\"  \", \"\"]",
			check: func(t *testing.T, cfg Config) {
				if !reflect.DeepEqual(cfg.AppURLPrefixes, DefaultConfig().AppURLPrefixes) {
					t.Fatalf("AppURLPrefixes = %v", cfg.AppURLPrefixes)
				}
			},
		},
		{
			name: "invalid hotkey",
			yaml: `hotkey: "Hyper+Q"`,
			check: func(t *testing.T, cfg Config) {
				if cfg.Hotkey != "" {
					t.Fatalf("Hotkey = %q", cfg.Hotkey)
				}
			},
		},
		{
			name: "unknown log level",
			yaml: `log_level: chatty`,
			check: func(t *testing.T, cfg Config) {
				if cfg.LogLevel != "info" || cfg.SlogLevel() != slog.LevelInfo {
					t.Fatalf("LogLevel = %q", cfg.LogLevel)
				}
			},
		},
		{
			name: "empty native host disables port",
			yaml: `native_host: []`,
			check: func(t *testing.T, cfg Config) {
				if len(cfg.NativeHost) != 0 {
					t.Fatalf("NativeHost = %v", cfg.NativeHost)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfigFile(t, tt.yaml))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadWarnsOnClamp(t *testing.T) {
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelWarn)
	if _, err := Load(writeConfigFile(t, `fanout: everyone`)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !strings.Contains(logBuf.String(), "[WARN-CONFIG] unknown fanout") {
		t.Fatalf("expected fanout warning, got %q", logBuf.String())
	}
}

func TestReadLimitedFileRejectsTooLargeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.yaml")
	if err := os.WriteFile(path, make([]byte, 11), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := readLimitedFile(path, 10); err == nil {
		t.Fatal("readLimitedFile() expected size error")
	}
	if raw, err := readLimitedFile(path, 11); err != nil || len(raw) != 11 {
		t.Fatalf("readLimitedFile() at exact limit = %d bytes, %v", len(raw), err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Fanout = FanoutURLPrefix
	cfg.InitTimeout = 3 * time.Second
	cfg.NativeHost = []string{"host", "--flag"}

	saved, err := Save(path, cfg)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(saved, loaded) {
		t.Fatalf("Load() after Save() =\n%+v\nwant\n%+v", loaded, saved)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm()&0o077 != 0 && !isWindows() {
		t.Fatalf("config perms = %v, want owner only", info.Mode().Perm())
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".config.yaml.tmp.") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSaveNormalizesWithoutMutatingInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.AppURLPrefixes = []string{" https://example.com/app "}

	saved, err := Save(path, cfg)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.AppURLPrefixes[0] != "https://example.com/app" {
		t.Fatalf("saved prefix = %q", saved.AppURLPrefixes[0])
	}
	if cfg.AppURLPrefixes[0] != " https://example.com/app " {
		t.Fatalf("input mutated: %q", cfg.AppURLPrefixes[0])
	}
}

func TestSaveRequiresPath(t *testing.T) {
	if _, err := Save("", DefaultConfig()); err == nil {
		t.Fatal("Save(\"\") expected error")
	}
}

func TestEnsureFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webptt", "config.yaml")
	cfg, err := EnsureFile(path)
	if err != nil {
		t.Fatalf("EnsureFile() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("EnsureFile() = %+v, want defaults", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	// Existing files are left alone.
	if err := os.WriteFile(path, []byte("fanout: url_prefix\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg, err = EnsureFile(path)
	if err != nil || cfg.Fanout != FanoutURLPrefix {
		t.Fatalf("EnsureFile() on existing = %+v, %v", cfg, err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "fanout: url_prefix\n" {
		t.Fatalf("existing config rewritten: %q", raw)
	}
}

func TestSettingsPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	abs := filepath.Join(t.TempDir(), "abs.db")

	tests := []struct {
		name string
		db   string
		want string
	}{
		{name: "default", db: "", want: filepath.Join(dir, "settings.db")},
		{name: "relative", db: "state.db", want: filepath.Join(dir, "state.db")},
		{name: "absolute", db: abs, want: abs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{SettingsDB: tt.db}
			if got := cfg.SettingsPath(configPath); got != tt.want {
				t.Fatalf("SettingsPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	src := DefaultConfig()
	dst := Clone(src)
	dst.AppURLPrefixes[0] = "changed"
	dst.NativeHost[0] = "changed"
	if src.AppURLPrefixes[0] == "changed" || src.NativeHost[0] == "changed" {
		t.Fatal("Clone() shares slices with source")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("WEBPTT_TEST_DOTENV=from-file\nWEBPTT_TEST_PRESET=from-file\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("WEBPTT_TEST_DOTENV", "")
	os.Unsetenv("WEBPTT_TEST_DOTENV")
	t.Setenv("WEBPTT_TEST_PRESET", "from-env")

	LoadDotEnv(envPath, filepath.Join(dir, "missing.env"))

	if got := os.Getenv("WEBPTT_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("WEBPTT_TEST_DOTENV = %q, want from-file", got)
	}
	if got := os.Getenv("WEBPTT_TEST_PRESET"); got != "from-env" {
		t.Fatalf("WEBPTT_TEST_PRESET = %q, existing env must win", got)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	orig := watchDebounceInterval
	watchDebounceInterval = 20 * time.Millisecond
	t.Cleanup(func() { watchDebounceInterval = orig })

	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var (
		mu      sync.Mutex
		reloads []Config
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg Config) {
			mu.Lock()
			reloads = append(reloads, cfg)
			mu.Unlock()
		})
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Watch() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Watch() did not return after cancel")
		}
	})

	last := func() (Config, int) {
		mu.Lock()
		defer mu.Unlock()
		if len(reloads) == 0 {
			return Config{}, 0
		}
		return reloads[len(reloads)-1], len(reloads)
	}

	// The watcher is registered asynchronously; keep rewriting until it
	// observes a change.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := os.WriteFile(path, []byte("log_level: debug\napp_url_prefixes: [\"https://example.com/\"]\n"), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		time.Sleep(100 * time.Millisecond)
		if cfg, n := last(); n > 0 {
			if cfg.LogLevel != "debug" || cfg.AppURLPrefixes[0] != "https://example.com/" {
				t.Fatalf("reloaded config = %+v", cfg)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("Watch() never reported a reload")
		}
	}
}

func TestWatchSkipsUnparsableFile(t *testing.T) {
	orig := watchDebounceInterval
	watchDebounceInterval = 20 * time.Millisecond
	t.Cleanup(func() { watchDebounceInterval = orig })

	path := filepath.Join(t.TempDir(), "config.yaml")
	var calls int
	var mu sync.Mutex
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, path, func(Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	for range 5 {
		if err := os.WriteFile(path, []byte("fanout: [broken"), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		time.Sleep(60 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("onChange called %d times for unparsable config", calls)
	}
}

func TestWatchRejectsNilCallback(t *testing.T) {
	if err := Watch(t.Context(), filepath.Join(t.TempDir(), "c.yaml"), nil); err == nil {
		t.Fatal("Watch() with nil callback expected error")
	}
}
