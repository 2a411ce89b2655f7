package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher hot-reloads workflow definitions from a directory. A definition
// that fails to reload keeps its previous registered version; the failure is
// logged and the watcher keeps running.
type Watcher struct {
	registry *Registry
	dir      string
	logger   zerolog.Logger

	mu       sync.Mutex
	debounce map[string]*time.Timer
}

// NewWatcher creates a watcher that reloads dir into the registry.
func NewWatcher(registry *Registry, dir string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		registry: registry,
		dir:      dir,
		logger:   logger.With().Str("component", "workflow-watcher").Logger(),
		debounce: make(map[string]*time.Timer),
	}
}

// Run loads the directory once, then watches it until the context is
// cancelled. It blocks; callers run it in a goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.registry.LoadDir(w.dir); err != nil {
		return fmt.Errorf("initial workflow load: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.logger.Info().Str("dir", w.dir).Msg("watching workflow directory")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isWorkflowFile(filepath.Base(event.Name)) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				w.debounceReload(event.Name, 100*time.Millisecond)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.registry.Remove(event.Name)
				w.logger.Info().Str("file", event.Name).Msg("workflow removed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

// debounceReload coalesces rapid write events for the same file. Editors
// often emit several writes per save.
func (w *Watcher) debounceReload(path string, delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.debounce[path]; ok {
		timer.Stop()
	}
	w.debounce[path] = time.AfterFunc(delay, func() {
		w.reload(path)
	})
}

func (w *Watcher) reload(path string) {
	if err := w.registry.LoadPath(path); err != nil {
		w.logger.Error().Err(err).Str("file", path).Msg("workflow reload failed, previous version kept")
		return
	}
	w.logger.Info().Str("file", path).Msg("workflow reloaded")
}
