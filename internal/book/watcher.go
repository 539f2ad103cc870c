package book

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a phonebook file for changes and reloads it. A reload
// that fails to parse or compile keeps the previous book running and logs a
// warning, so editing mistakes never take down the exhibit.
type Watcher struct {
	path     string
	onChange func(*Book)

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// Watch starts watching path in a background goroutine. Each successful
// reload is delivered to onChange; the callback runs on the watcher
// goroutine and should hand the book off quickly.
func Watch(path string, onChange func(*Book)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("book: create watcher: %w", err)
	}

	// Watch the directory rather than the file itself: editors replace
	// files on save, which drops a watch on the old inode.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("book: watch %q: %w", path, err)
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		watcher:  fsw,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Stop ends the watch. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("phonebook watcher error", "path", w.path, "err", err)
		}
	}
}

func (w *Watcher) reload() {
	b, err := Load(w.path)
	if err != nil {
		slog.Warn("phonebook changed but failed to load, keeping previous", "path", w.path, "err", err)
		return
	}
	slog.Info("phonebook reloaded", "path", w.path, "states", b.Len())
	w.onChange(b)
}
