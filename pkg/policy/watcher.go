package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a store from its policy file whenever the file changes on
// disk. Write bursts are debounced so editors that truncate-then-write
// trigger a single reload. A failed reload is logged and leaves the previous
// list in place.
//
// The watcher does not perform an initial load; callers load the file
// explicitly first so startup failures stay fatal.
type Watcher struct {
	store   *Store
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

const reloadDebounce = 100 * time.Millisecond

// NewWatcher starts watching the directory containing path and reloads store
// on changes to the file itself.
func NewWatcher(store *Store, path string, logger *slog.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve policies path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files and the
	// inode-level watch would be lost on the first swap.
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("watch policies directory: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		store:   store,
		path:    absPath,
		logger:  logger,
		watcher: fsWatcher,
		cancel:  cancel,
	}
	go w.watchLoop(ctx)

	return w, nil
}

// Close stops the watch loop and releases the underlying watcher.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(reloadDebounce, w.reload)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Policy watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	if err := w.store.LoadFromFile(w.path); err != nil {
		w.logger.Error("Policy reload failed, keeping previous list", "path", w.path, "error", err)
		return
	}
	w.logger.Info("Policies reloaded", "path", w.path, "count", w.store.Count())
}
