package commands

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the default delay for debouncing file system events.
// Editors typically fire several write events per save.
const DebounceDelay = 100 * time.Millisecond

// Watcher reloads a registry from an external vocabulary file whenever the
// file changes. The parent directory is watched so atomic-rename saves
// (write temp file, rename over target) are picked up too.
//
// Thread-safety: all public methods are safe for concurrent use.
type Watcher struct {
	registry *Registry
	path     string
	logger   *slog.Logger

	watcher *fsnotify.Watcher

	debounceDelay time.Duration
	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	// done signals the event loop to stop.
	done chan struct{}
	// stopped is closed when the event loop has exited.
	stopped chan struct{}
}

// NewWatcher creates a watcher that keeps registry in sync with the
// vocabulary file at path. The file is loaded once immediately; a load
// failure at construction is returned as an error, later reload failures
// keep the previous vocabulary and are logged.
func NewWatcher(registry *Registry, path string, logger *slog.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve commands file path: %w", err)
	}

	specs, err := LoadSpecs(absPath)
	if err != nil {
		return nil, err
	}
	registry.Replace(specs)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch commands directory: %w", err)
	}

	w := &Watcher{
		registry:      registry,
		path:          absPath,
		logger:        logger,
		watcher:       fsw,
		debounceDelay: DebounceDelay,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go w.eventLoop()
	return w, nil
}

// SetDebounceDelay sets the debounce delay for batching rapid changes.
// Primarily useful for tests.
func (w *Watcher) SetDebounceDelay(d time.Duration) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	w.debounceDelay = d
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
	return err
}

// eventLoop consumes fsnotify events until Close is called.
func (w *Watcher) eventLoop() {
	defer close(w.stopped)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.isRelevant(event) {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("commands watcher error", "error", err)
			}
		case <-w.done:
			return
		}
	}
}

// isRelevant reports whether a directory event concerns the vocabulary file.
func (w *Watcher) isRelevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// scheduleReload (re)arms the debounce timer.
func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.reload)
}

// reload re-reads the vocabulary file and swaps the registry contents.
// A failed read keeps the previous vocabulary.
func (w *Watcher) reload() {
	specs, err := LoadSpecs(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("failed to reload command vocabulary, keeping previous",
				"path", w.path, "error", err)
		}
		return
	}

	w.registry.Replace(specs)
	if w.logger != nil {
		w.logger.Info("command vocabulary reloaded", "path", w.path, "commands", len(specs))
	}
}
