package knowledge

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type countingReloader struct {
	calls atomic.Int32
}

func (r *countingReloader) Reload() error {
	r.calls.Add(1)
	return nil
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	target := &countingReloader{}

	w, err := NewWatcher(target, []string{dir}, []string{".xml"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	if err := os.WriteFile(filepath.Join(dir, "rule.xml"), []byte("<abstraction/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for target.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("reload never triggered")
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestWatcherIgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	target := &countingReloader{}

	w, err := NewWatcher(target, []string{dir}, []string{".json"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(2 * debounceDelay)
	if target.calls.Load() != 0 {
		t.Error("reload triggered for irrelevant file")
	}
}

func TestWatcherRejectsMissingDir(t *testing.T) {
	if _, err := NewWatcher(&countingReloader{}, []string{"/nonexistent/path"}, []string{".xml"}, nil); err == nil {
		t.Error("expected error for missing directory")
	}
}
