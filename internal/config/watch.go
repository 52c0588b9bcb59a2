package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-reads the config file whenever it changes on disk and calls fn
// with the freshly validated config. Invalid intermediate states (e.g. a
// half-saved file) are logged and skipped. Watch returns when ctx is done.
//
// Editors often write via rename, which drops the watch on some platforms,
// so the parent directory is watched rather than the file itself.
func Watch(ctx context.Context, path string, fn func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()

		// Debounce: editors fire several events per save.
		var pending <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(200 * time.Millisecond)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("CONFIG: watcher error: %v", err)
			case <-pending:
				pending = nil
				cfg, err := Load(path)
				if err != nil {
					log.Printf("CONFIG: reload skipped: %v", err)
					continue
				}
				log.Printf("CONFIG: reloaded %s", path)
				fn(cfg)
			}
		}
	}()

	return nil
}
