// Package watcher reloads datasets when files in the data directory change.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Operation is the kind of change reported for a file.
type Operation string

// Operations after debouncing.
const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Event is a debounced change of one dataset file.
type Event struct {
	Path      string
	Operation Operation
}

// Handler is called once per debounced event.
type Handler func(ctx context.Context, event Event) error

// DefaultDebounce is used when Config.Debounce is not positive.
const DefaultDebounce = 500 * time.Millisecond

const tick = 100 * time.Millisecond

// Config holds watcher configuration.
type Config struct {
	// Paths are watched recursively. Hidden directories are skipped.
	Paths    []string
	Debounce time.Duration
	// Extensions limits events to files with these extensions. Empty
	// means every file.
	Extensions []string
}

// change is a file operation waiting for the debounce interval to pass.
type change struct {
	op Operation
	at time.Time
}

// Watcher watches directory trees for changes to dataset files. Bursts of
// writes to one file collapse into a single event.
type Watcher struct {
	fs       *fsnotify.Watcher
	handler  Handler
	logger   *slog.Logger
	roots    []string
	exts     map[string]bool
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]change
}

// New creates a new file watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	exts := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		exts["."+strings.TrimPrefix(strings.ToLower(ext), ".")] = true
	}

	return &Watcher{
		fs:       fw,
		handler:  handler,
		logger:   logger,
		roots:    cfg.Paths,
		exts:     exts,
		debounce: debounce,
		pending:  make(map[string]change),
	}, nil
}

// Start watches the configured trees and delivers events until ctx is
// done or Stop is called. Roots that cannot be watched are logged and
// skipped.
func (w *Watcher) Start(ctx context.Context) error {
	for _, root := range w.roots {
		if err := w.AddPath(root); err != nil {
			w.logger.Warn("failed to watch path", "path", root, "error", err)
		}
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.fs.Close()
}

func (w *Watcher) run(ctx context.Context) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.observe(ev)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)

		case now := <-ticker.C:
			for _, e := range w.due(now) {
				go w.dispatch(ctx, e)
			}
		}
	}
}

// observe records a raw notification. New directories are watched and
// the files already inside them are reported as created.
func (w *Watcher) observe(ev fsnotify.Event) {
	op := operationOf(ev.Op)

	if op == OpCreate {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if hidden(ev.Name) {
				return
			}
			if err := w.walk(ev.Name, w.record); err != nil {
				w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
			}
			return
		}
	}

	if !w.matches(ev.Name) {
		return
	}
	w.logger.Debug("file event", "path", ev.Name, "op", ev.Op.String())
	w.record(ev.Name, op)
}

// record folds op into the pending change for path.
func (w *Watcher) record(path string, op Operation) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev, ok := w.pending[path]
	if ok {
		op = merge(prev.op, op)
	}
	w.pending[path] = change{op: op, at: time.Now()}
}

// merge combines a pending operation with a newer one. A delete wins over
// anything, and a create after a delete means the file was replaced.
func merge(prev, next Operation) Operation {
	switch {
	case next == OpDelete:
		return OpDelete
	case prev == OpDelete && next == OpCreate:
		return OpCreate
	default:
		return prev
	}
}

// due removes and returns the pending changes that have been quiet for
// the debounce interval.
func (w *Watcher) due(now time.Time) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	var events []Event
	for path, c := range w.pending {
		if now.Sub(c.at) < w.debounce {
			continue
		}
		delete(w.pending, path)
		events = append(events, Event{Path: path, Operation: c.op})
	}
	return events
}

func (w *Watcher) dispatch(ctx context.Context, e Event) {
	w.logger.Info("processing file event", "path", e.Path, "operation", e.Operation)
	if err := w.handler(ctx, e); err != nil {
		w.logger.Error("file event handler failed", "path", e.Path, "operation", e.Operation, "error", err)
	}
}

// operationOf maps an fsnotify bitmask to an Operation. A rename is
// reported as a delete of the old name; the new name arrives as a create.
func operationOf(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}

// matches reports whether path is a visible file with a watched extension.
func (w *Watcher) matches(path string) bool {
	if hidden(path) {
		return false
	}
	if len(w.exts) == 0 {
		return true
	}
	return w.exts[strings.ToLower(filepath.Ext(path))]
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// walk adds every visible directory below root to the watch list and
// calls found for each matching file.
func (w *Watcher) walk(root string, found func(string, Operation)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			if found != nil && w.matches(path) {
				found(path, OpCreate)
			}
			return nil
		}
		if path != root && hidden(path) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return err
		}
		w.logger.Debug("watching directory", "path", path)
		return nil
	})
}

// AddPath watches the directory tree at path.
func (w *Watcher) AddPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.walk(abs, nil); err != nil {
		return err
	}
	w.logger.Info("watching directory tree", "path", abs)
	return nil
}

// RemovePath stops watching path and the directories below it.
func (w *Watcher) RemovePath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	var removed int
	for _, dir := range w.fs.WatchList() {
		if dir == abs || strings.HasPrefix(dir, abs+string(filepath.Separator)) {
			if err := w.fs.Remove(dir); err != nil {
				return err
			}
			removed++
		}
	}
	if removed == 0 {
		return fsnotify.ErrNonExistentWatch
	}
	w.logger.Info("removed watch path", "path", abs, "directories", removed)
	return nil
}
