// Package watch reports file changes under a directory tree. New
// directories are picked up as they appear and bursts of events on the same
// file are collapsed into one callback.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDelay = 100 * time.Millisecond

type Options struct {
	Root string
	// Exclude holds directory names, or paths relative to Root, that are not
	// watched. Hidden directories are always skipped.
	Exclude []string
	// Extensions limits callbacks to files with these extensions. Empty
	// reports every file.
	Extensions []string
	Delay      time.Duration
	OnChange   func(path string)
}

type Watcher struct {
	opts               Options
	watcher            *fsnotify.Watcher
	watched_dirs       []string
	watched_dirs_mutex sync.Mutex
}

// New starts watching every directory under o.Root. Events are delivered
// once Run is called.
func New(o Options) (*Watcher, error) {
	if o.Delay <= 0 {
		o.Delay = DefaultDelay
	}
	root, err := filepath.Abs(o.Root)
	if err != nil {
		return nil, err
	}
	o.Root = root

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{opts: o, watcher: watcher}
	if err := w.watch_dir(root); err != nil {
		watcher.Close()
		return nil, err
	}
	return w, nil
}

// Dirs lists the directories currently watched.
func (w *Watcher) Dirs() []string {
	w.watched_dirs_mutex.Lock()
	defer w.watched_dirs_mutex.Unlock()
	return slices.Clone(w.watched_dirs)
}

func (w *Watcher) excluded(path string) bool {
	rel, err := filepath.Rel(w.opts.Root, path)
	if err != nil {
		rel = path
	}
	for _, epath := range w.opts.Exclude {
		epath = filepath.Clean(epath)
		if epath == filepath.Base(path) || epath == rel || epath == path {
			return true
		}
	}
	return false
}

func (w *Watcher) watch_dir(path string) error {
	return filepath.Walk(path, func(path string, finfo fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !finfo.IsDir() {
			return nil
		}

		// Skip hidden directories i.e .git
		if path != w.opts.Root && finfo.Name()[0] == '.' {
			return filepath.SkipDir
		}
		if path != w.opts.Root && w.excluded(path) {
			slog.Debug("skipping directory", "path", path)
			return filepath.SkipDir
		}

		slog.Debug("watching directory", "path", path)
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		w.watched_dirs_mutex.Lock()
		w.watched_dirs = append(w.watched_dirs, path)
		w.watched_dirs_mutex.Unlock()
		return nil
	})
}

// Run delivers debounced events until ctx is done, then closes the
// watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var (
		mu       sync.Mutex
		timers   = make(map[string]*time.Timer)
		runEvent = func(event fsnotify.Event, cb func(event fsnotify.Event)) {
			mu.Lock()
			delete(timers, event.Name)
			mu.Unlock()
			cb(event)
		}
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-w.watcher.Errors:
			if !ok { // Watcher is closed
				return nil
			}
			slog.Error("watch error", "error", err)

		case event, ok := <-w.watcher.Events:
			if !ok { // Watcher is closed
				return nil
			}

			var cb func(fsnotify.Event)
			switch {
			case event.Has(fsnotify.Create):
				cb = w.create_handler
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				cb = w.remove_handler
			case event.Has(fsnotify.Write):
				cb = w.write_handler
			}
			if cb == nil {
				break
			}

			mu.Lock()
			t, ok := timers[event.Name]
			if !ok {
				t = time.AfterFunc(math.MaxInt64, func() { runEvent(event, cb) })
				t.Stop()
				timers[event.Name] = t
			}
			mu.Unlock()

			t.Reset(w.opts.Delay)
		}
	}
}

func (w *Watcher) create_handler(event fsnotify.Event) {
	info, err := os.Lstat(event.Name)
	if err != nil {
		return
	}

	if info.IsDir() {
		if info.Name()[0] == '.' || w.excluded(event.Name) {
			return
		}
		if err := w.watch_dir(event.Name); err != nil {
			slog.Error("failed to watch new directory", "error", err)
		}
		return
	}
	w.changed(event.Name)
}

func (w *Watcher) remove_handler(event fsnotify.Event) {
	w.watched_dirs_mutex.Lock()
	index := slices.Index(w.watched_dirs, event.Name)
	if index >= 0 {
		w.watched_dirs = slices.Delete(w.watched_dirs, index, index+1)
	}
	w.watched_dirs_mutex.Unlock()

	if index >= 0 {
		// fsnotify drops removed paths itself; the error is expected
		_ = w.watcher.Remove(event.Name)
		return
	}
	w.changed(event.Name)
}

func (w *Watcher) write_handler(event fsnotify.Event) {
	w.changed(event.Name)
}

func (w *Watcher) changed(path string) {
	if len(w.opts.Extensions) > 0 && !slices.Contains(w.opts.Extensions, filepath.Ext(path)) {
		return
	}
	if w.opts.OnChange != nil {
		w.opts.OnChange(path)
	}
}
