package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	first := "default_decision: allow\nrules: []\n"
	if err := os.WriteFile(path, []byte(first), 0o644); err != nil {
		t.Fatal(err)
	}

	reloads := make(chan string, 4)
	w, err := NewWatcher(path, func(cfg *Config, hash string) {
		reloads <- hash
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	second := "default_decision: deny\nrules: []\n"
	if err := os.WriteFile(path, []byte(second), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case hash := <-reloads:
		_, want, err := LoadConfigWithHash(path)
		if err != nil {
			t.Fatal(err)
		}
		if hash != want {
			t.Errorf("reload hash = %s, want %s", hash, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after file write")
	}
}

func TestWatcherKeepsPolicyOnBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("default_decision: allow\nrules: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reloads := make(chan string, 4)
	w, err := NewWatcher(path, func(cfg *Config, hash string) {
		reloads <- hash
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// Broken YAML must not reach the callback.
	if err := os.WriteFile(path, []byte("rules: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case hash := <-reloads:
		t.Fatalf("broken file triggered reload with hash %s", hash)
	case <-time.After(1500 * time.Millisecond):
	}

	// A subsequent valid write recovers.
	if err := os.WriteFile(path, []byte("default_decision: deny\nrules: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloads:
	case <-time.After(5 * time.Second):
		t.Fatal("valid rewrite after broken file did not reload")
	}
}

func TestNewWatcherMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	w, err := NewWatcher(path, func(cfg *Config, hash string) {})
	if err != nil {
		t.Fatalf("missing file should not fail watcher creation: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Errorf("Run returned error on cancel: %v", err)
	}
}
