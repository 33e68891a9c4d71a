package tsconfig

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
)

// Watcher feeds file-system notifications under a project root into a Cache.
type Watcher struct {
	cache   *Cache
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	notify  func(host.FileEvent)
}

// NewWatcher watches root recursively, skipping dependency and VCS directories.
func NewWatcher(root string, cache *Cache, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{cache: cache, watcher: fsw, logger: logger, notify: func(host.FileEvent) {}}

	addErr := w.addTree(root)
	if addErr != nil {
		closeErr := fsw.Close()
		if closeErr != nil {
			logger.Debug("close watcher", "error", closeErr)
		}

		return nil, addErr
	}

	return w, nil
}

// OnEvent registers fn to observe every converted event after the cache saw it.
func (w *Watcher) OnEvent(fn func(host.FileEvent)) {
	w.notify = fn
}

func (w *Watcher) addTree(root string) error {
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil //nolint:nilerr // unreadable entries are not watched.
		}

		if _, skip := excludedDirs[d.Name()]; skip && path != root {
			return filepath.SkipDir
		}

		return w.watcher.Add(path)
	})
	if walkErr != nil {
		return fmt.Errorf("watch %s: %w", root, walkErr)
	}

	return nil
}

// Run delivers events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	converted, ok := convertEvent(ev)
	if !ok {
		return
	}

	if converted.Kind == host.EventCreated {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			addErr := w.addTree(ev.Name)
			if addErr != nil {
				w.logger.Debug("watch new directory", "path", ev.Name, "error", addErr)
			}

			return
		}
	}

	w.cache.DigestEvents([]host.FileEvent{converted})
	w.notify(converted)
}

func convertEvent(ev fsnotify.Event) (host.FileEvent, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return host.FileEvent{Path: ev.Name, Kind: host.EventCreated}, true
	case ev.Has(fsnotify.Write):
		return host.FileEvent{Path: ev.Name, Kind: host.EventModified}, true
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return host.FileEvent{Path: ev.Name, Kind: host.EventDeleted}, true
	default:
		return host.FileEvent{}, false
	}
}
