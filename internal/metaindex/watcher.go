package metaindex

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ansuz/internal/revstore"
)

// Watch starts an fsnotify watcher on the store root and schedules a
// debounced index Sync whenever the tree changes out of band (manual
// restores, rsync imports, backup tooling). Normal lifecycle writes
// also pass through here; the debounce makes the duplicate Sync cheap.
// Runs until ctx is cancelled.
func Watch(ctx context.Context, db *DB, store *revstore.FS, logger *slog.Logger, onSync func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := store.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	const debounce = 500 * time.Millisecond
	var syncTimer *time.Timer
	var syncCh <-chan time.Time

	scheduleSync := func() {
		if syncTimer == nil {
			syncTimer = time.NewTimer(debounce)
			syncCh = syncTimer.C
		} else {
			syncTimer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if syncTimer != nil {
				syncTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-syncCh:
			if err := Sync(db, store, logger); err != nil {
				logger.Warn("watcher: sync failed", slog.String("error", err.Error()))
			} else if onSync != nil {
				onSync()
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			// Ignore our own atomic-write temp files.
			if strings.Contains(filepath.Base(ev.Name), ".ansuz-tmp-") {
				continue
			}

			// New directories (fresh items) must join the watch list.
			if ev.Op&fsnotify.Create != 0 {
				if err := addDirsRecursive(w, ev.Name); err == nil {
					logger.Debug("watcher: watching new path", slog.String("path", ev.Name))
				}
			}

			scheduleSync()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher: error", slog.String("error", err.Error()))
		}
	}
}

// addDirsRecursive adds dir and every subdirectory to the watcher.
// Non-directories are ignored.
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Entries can vanish mid-walk (atomic renames); skip them.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return w.Add(p)
	})
}
