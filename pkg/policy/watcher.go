package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a changed table is reloaded.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the engine's table when its file changes. The parent
// directory is watched so editors that replace the file by rename are
// followed. A table that fails to load or validate leaves the active table
// in place.
type Watcher struct {
	path     string
	engine   *Engine
	watcher  *fsnotify.Watcher
	debounce *debouncer
	logger   *slog.Logger

	mu      sync.Mutex
	reloads int
	lastErr error
}

// NewWatcher creates a watcher for path. It does not load the file.
func NewWatcher(path string, engine *Engine, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve policy table path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		path:     abs,
		engine:   engine,
		watcher:  fw,
		debounce: newDebouncer(debounce),
		logger:   logger.With("component", "policy_watcher"),
	}, nil
}

// Watch blocks until ctx is cancelled, reloading on every settled change.
func (w *Watcher) Watch(ctx context.Context) error {
	defer w.close()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("policy watcher started", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("policy watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("policy table event", "op", event.Op.String())
			w.debounce.trigger(func() {
				if err := w.Reload(); err != nil {
					w.logger.Error("policy reload failed", "error", err)
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("policy watcher error", "error", err)
		}
	}
}

// Reload loads the file and installs it if valid.
func (w *Watcher) Reload() error {
	t, err := LoadTable(w.path)

	w.mu.Lock()
	w.lastErr = err
	if err == nil {
		w.reloads++
	}
	w.mu.Unlock()

	if err != nil {
		return err
	}
	w.engine.SetTable(t)
	return nil
}

// Stats returns the number of successful reloads and the last reload error.
func (w *Watcher) Stats() (reloads int, lastErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads, w.lastErr
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&fsnotify.Chmod == fsnotify.Chmod {
		return false
	}
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return false
	}
	return filepath.Clean(event.Name) == w.path
}

func (w *Watcher) close() {
	w.debounce.stop()
	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("failed to close watcher", "error", err)
	}
}

// debouncer runs the last triggered callback after a quiet interval.
type debouncer struct {
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{interval: interval}
}

func (d *debouncer) trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			fn()
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
