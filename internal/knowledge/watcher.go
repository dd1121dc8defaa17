// Package knowledge watches TAK and rule repositories on disk and triggers
// a reload when their documents change, so running services pick up edits
// without a restart.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the burst of events editors emit per save.
const debounceDelay = 500 * time.Millisecond

// Reloader re-parses a knowledge repository. Both the mediator and the
// rule repository satisfy it.
type Reloader interface {
	Reload() error
}

// Watcher reloads a target when documents under its directories change.
type Watcher struct {
	watcher *fsnotify.Watcher
	target  Reloader
	log     *slog.Logger
	exts    []string

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher watches dirs and reloads target on changes to files with one
// of the given extensions (e.g. ".xml", ".json").
func NewWatcher(target Reloader, dirs []string, exts []string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return &Watcher{watcher: fsw, target: target, log: log, exts: exts}, nil
}

// Run blocks consuming filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				if w.relevant(event.Name) {
					w.scheduleReload()
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range w.exts {
		if ext == want {
			return true
		}
	}
	return false
}

// scheduleReload debounces rapid change bursts into a single reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(debounceDelay, func() {
		if err := w.target.Reload(); err != nil {
			w.log.Error("knowledge reload failed", "error", err)
			return
		}
		w.log.Info("knowledge reloaded")
	})
}
