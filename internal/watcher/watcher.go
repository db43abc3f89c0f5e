// Package watcher translates filesystem notifications under a root into
// created, changed and deleted calls for indexed files.
package watcher

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/phobologic/codetree/internal/discover"
)

// Handler receives root-relative paths of indexed files. DeletedDir is
// called when a path that is not itself an indexed file is removed or
// renamed away; it may have been a directory holding indexed files.
type Handler interface {
	Created(path string)
	Changed(path string)
	Deleted(path string)
	DeletedDir(path string)
}

// Updater is the part of the builder a watcher drives.
type Updater interface {
	UpdateFile(path string) error
	ScheduleRemove(path string) error
	FilesUnder(dir string) []string
}

// UpdaterHandler adapts an Updater. Every change is queued so the builder
// applies a burst of events in a single pass.
type UpdaterHandler struct {
	Updater Updater
	Logger  *slog.Logger
}

func (h UpdaterHandler) Created(path string) { h.check(path, h.Updater.UpdateFile(path)) }
func (h UpdaterHandler) Changed(path string) { h.check(path, h.Updater.UpdateFile(path)) }
func (h UpdaterHandler) Deleted(path string) { h.check(path, h.Updater.ScheduleRemove(path)) }

func (h UpdaterHandler) DeletedDir(dir string) {
	for _, p := range h.Updater.FilesUnder(dir) {
		h.check(p, h.Updater.ScheduleRemove(p))
	}
}

func (h UpdaterHandler) check(path string, err error) {
	if err != nil && h.Logger != nil {
		h.Logger.Warn("watcher update failed", "path", path, "err", err)
	}
}

// Watcher watches every non-skipped directory under the matcher's root.
type Watcher struct {
	fsnotify *fsnotify.Watcher
	matcher  *discover.Matcher
	handler  Handler
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu   sync.Mutex
	dirs int
}

// New returns a watcher; call Start to begin delivering events.
func New(m *discover.Matcher, h Handler, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		fsnotify: fsw,
		matcher:  m,
		handler:  h,
		logger:   logger,
		stop:     make(chan struct{}),
	}, nil
}

// Start registers the directory tree and starts the event loop.
func (w *Watcher) Start() error {
	if _, err := w.addTree(w.matcher.Root(), false); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.processEvents()
	w.logger.Info("watching", "root", w.matcher.Root(), "dirs", w.DirsWatched())
	return nil
}

// Stop ends the event loop and releases the OS watches.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
	return w.fsnotify.Close()
}

// DirsWatched returns the number of directories registered.
func (w *Watcher) DirsWatched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirs
}

// addTree watches dir and its descendants. With report set, indexed files
// found on the way are reported as created: they may have been written before
// the watch on their directory existed.
func (w *Watcher) addTree(dir string, report bool) ([]string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, ok := w.matcher.Rel(p)
		if d.IsDir() {
			if ok && w.matcher.SkipDir(rel) {
				return filepath.SkipDir
			}
			if err := w.fsnotify.Add(p); err == nil {
				w.mu.Lock()
				w.dirs++
				w.mu.Unlock()
			}
			return nil
		}
		if report && ok && d.Type().IsRegular() && w.matcher.Match(rel) {
			found = append(found, rel)
		}
		return nil
	})
	return found, err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "err", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, ok := w.matcher.Rel(event.Name)
	if !ok {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.matcher.SkipDir(rel) {
				return
			}
			found, err := w.addTree(event.Name, true)
			if err != nil {
				w.logger.Warn("watching new directory", "path", rel, "err", err)
			}
			for _, f := range found {
				w.handler.Created(f)
			}
			return
		}
	}

	removed := event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
	if removed && !w.matcher.Match(rel) {
		// The path is gone, so a directory can only be recognised by what
		// was indexed under it.
		w.handler.DeletedDir(rel)
		return
	}

	name := filepath.Base(event.Name)
	if strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp") || strings.HasSuffix(name, ".tmp") {
		return
	}
	if !w.matcher.Match(rel) {
		return
	}

	switch {
	case removed:
		w.handler.Deleted(rel)
	case event.Has(fsnotify.Create):
		w.handler.Created(rel)
	case event.Has(fsnotify.Write):
		w.handler.Changed(rel)
	}
}
