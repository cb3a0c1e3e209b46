package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a config file on disk and atomically swaps a fresh
// Snapshot into a Store whenever the file is rewritten. A YAML document
// that fails to parse or validate is logged and discarded; the Store keeps
// serving the last-good snapshot so in-flight and future requests are
// never handed a broken configuration (spec.md §5).
type Watcher struct {
	path    string
	store   *Store
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewWatcher creates a Watcher for path, backed by store. It does not start
// watching until Start is called.
func NewWatcher(path string, store *Store, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, store: store, watcher: w, logger: logger}, nil
}

// Start begins watching the config file in a background goroutine. It
// returns once the watch is registered; reload events are processed
// asynchronously until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.path); err != nil {
		w.watcher.Close()
		return err
	}

	go func() {
		defer w.watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				w.reload()

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

func (w *Watcher) reload() {
	snap, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous snapshot",
			slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}
	w.store.Swap(snap)
	w.logger.Info("config reloaded", slog.String("path", w.path))
}

// Close stops the underlying fsnotify watcher directly, without waiting
// for ctx cancellation. Start's goroutine will exit on the resulting
// channel closure.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
