package settings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "settings.db")
	s, err := Open(path, 800*time.Millisecond)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestMinLengthDefaultAndPersist(t *testing.T) {
	ctx := context.Background()
	s, path := openTestStore(t)

	got, err := s.MinLength(ctx)
	if err != nil || got != 800*time.Millisecond {
		t.Fatalf("MinLength() = %v, %v; want default 800ms", got, err)
	}

	if err := s.SetMinLength(ctx, 1500*time.Millisecond); err != nil {
		t.Fatalf("SetMinLength() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(path, 800*time.Millisecond)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, err = reopened.MinLength(ctx)
	if err != nil || got != 1500*time.Millisecond {
		t.Fatalf("MinLength() after reopen = %v, %v; want 1500ms", got, err)
	}
}

func TestSetMinLengthRejectsNonPositive(t *testing.T) {
	s, _ := openTestStore(t)
	if err := s.SetMinLength(context.Background(), 0); !errors.Is(err, ErrInvalidMinLength) {
		t.Fatalf("SetMinLength(0) error = %v, want ErrInvalidMinLength", err)
	}
}

func TestCorruptMinLengthFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	if err := s.set(ctx, KeyMinPttLength, "abc"); err != nil {
		t.Fatalf("set() error = %v", err)
	}
	got, err := s.MinLength(ctx)
	if err != nil || got != 800*time.Millisecond {
		t.Fatalf("MinLength() = %v, %v; want default", got, err)
	}
}

func TestBroadcastingTabRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	if _, ok, err := s.BroadcastingTab(ctx); err != nil || ok {
		t.Fatalf("BroadcastingTab() on empty store = ok %v, err %v", ok, err)
	}
	if err := s.SetBroadcastingTab(ctx, "tab-a"); err != nil {
		t.Fatalf("SetBroadcastingTab() error = %v", err)
	}
	if err := s.SetBroadcastingTab(ctx, "tab-b"); err != nil {
		t.Fatalf("SetBroadcastingTab() error = %v", err)
	}
	id, ok, err := s.BroadcastingTab(ctx)
	if err != nil || !ok || id != "tab-b" {
		t.Fatalf("BroadcastingTab() = %q, %v, %v; want tab-b", id, ok, err)
	}
	if err := s.SetBroadcastingTab(ctx, ""); err != nil {
		t.Fatalf("clear error = %v", err)
	}
	if _, ok, _ := s.BroadcastingTab(ctx); ok {
		t.Fatal("BroadcastingTab() still set after clear")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("", time.Second); err == nil {
		t.Fatal("Open(\"\") expected error")
	}
}
