// Package watcher turns working-tree changes into debounced batches for
// the service scheduler. Event mode uses inotify-style OS notification;
// poll mode rescans with a backing-off interval for filesystems where
// notification is unreliable (network mounts, some containers).
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/ignore"
)

// Op is a change kind.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
	OpRename
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event is one repo-relative change.
type Event struct {
	Path string
	Op   Op
	At   time.Time
}

// Watcher emits debounced change batches until its context ends.
type Watcher interface {
	// Start blocks until ctx is cancelled or a fatal error occurs.
	Start(ctx context.Context) error
	// Batches delivers coalesced events after the quiet window.
	Batches() <-chan []Event
	// Errors carries non-fatal observation errors.
	Errors() <-chan error
	Close() error
}

// New selects the watcher for the configured daemon mode.
func New(root string, cfg *config.DaemonConfig, matcher *ignore.Matcher, log *slog.Logger) (Watcher, error) {
	quiet := time.Duration(cfg.DebounceSeconds) * time.Second
	if quiet <= 0 {
		quiet = 2 * time.Second
	}
	switch cfg.Mode {
	case "", "event":
		return newNotifyWatcher(root, quiet, matcher, log)
	case "poll":
		return newPollWatcher(root, matcher, log), nil
	default:
		return nil, llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
			"unknown daemon mode %q", cfg.Mode)
	}
}

// notifyWatcher wraps fsnotify with recursive directory registration and
// a debouncer.
type notifyWatcher struct {
	root    string
	fs      *fsnotify.Watcher
	deb     *debouncer
	matcher *ignore.Matcher
	errs    chan error
	log     *slog.Logger
}

func newNotifyWatcher(root string, quiet time.Duration, matcher *ignore.Matcher, log *slog.Logger) (*notifyWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, llmcerrors.New(llmcerrors.CodeFatal, "cannot create fs watcher", err)
	}
	w := &notifyWatcher{
		root:    root,
		fs:      fsw,
		deb:     newDebouncer(quiet),
		matcher: matcher,
		errs:    make(chan error, 8),
		log:     log,
	}
	if err := w.addRecursive(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *notifyWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil {
			return nil
		}
		if rel != "." && w.matcher.Match(rel, true) {
			return filepath.SkipDir
		}
		if addErr := w.fs.Add(path); addErr != nil {
			w.log.Warn("cannot watch directory",
				slog.String("dir", rel), slog.String("error", addErr.Error()))
		}
		return nil
	})
}

func (w *notifyWatcher) Start(ctx context.Context) error {
	defer w.deb.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *notifyWatcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()
	if w.matcher.Match(rel, isDir) {
		return
	}

	if isDir && ev.Op.Has(fsnotify.Create) {
		// New subtree: register it and report its files, since events
		// for children created before registration are lost.
		_ = w.addRecursive(ev.Name)
		_ = filepath.WalkDir(ev.Name, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if childRel, e := filepath.Rel(w.root, path); e == nil && !w.matcher.Match(childRel, false) {
				w.deb.add(Event{Path: childRel, Op: OpCreate, At: time.Now()})
			}
			return nil
		})
		return
	}
	if isDir {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		w.deb.add(Event{Path: rel, Op: OpCreate, At: time.Now()})
	case ev.Op.Has(fsnotify.Write):
		w.deb.add(Event{Path: rel, Op: OpModify, At: time.Now()})
	case ev.Op.Has(fsnotify.Remove):
		w.deb.add(Event{Path: rel, Op: OpDelete, At: time.Now()})
	case ev.Op.Has(fsnotify.Rename):
		// The old name disappears; the new name arrives as a Create.
		w.deb.add(Event{Path: rel, Op: OpDelete, At: time.Now()})
	}
}

func (w *notifyWatcher) Batches() <-chan []Event { return w.deb.output }
func (w *notifyWatcher) Errors() <-chan error    { return w.errs }

func (w *notifyWatcher) Close() error {
	w.deb.stop()
	return w.fs.Close()
}
