package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestWatcherReload tests hot reload of a valid table and rejection of an
// invalid one.
func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("version: v1\nrules:\n  - name: a\n    strategy: defer\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	e := newTestEngine(t)
	w, err := NewWatcher(path, e, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if e.Table().Version != "v1" {
		t.Fatalf("Expected v1, got %s", e.Table().Version)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("version: v2\nrules:\n  - name: b\n    strategy: compress\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !waitFor(func() bool { return e.Table().Version == "v2" }) {
		t.Fatalf("Expected table v2 after write, got %s", e.Table().Version)
	}

	if err := os.WriteFile(path, []byte("rules:\n  - name: c\n    strategy: obliterate\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !waitFor(func() bool { _, err := w.Stats(); return err != nil }) {
		t.Fatal("Expected reload error for invalid table")
	}
	if e.Table().Version != "v2" {
		t.Errorf("Expected invalid table to be rejected, active is %s", e.Table().Version)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Watch did not return after cancel")
	}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}
