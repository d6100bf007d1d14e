package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/llmc-dev/llmc/internal/ignore"
)

const (
	pollBaseInterval = 3 * time.Minute
	pollMaxInterval  = 30 * time.Minute
)

// pollWatcher rescans the tree and diffs snapshots. Quiet repos back the
// interval off exponentially up to the cap; any detected change resets it.
type pollWatcher struct {
	root    string
	matcher *ignore.Matcher
	out     chan []Event
	errs    chan error
	log     *slog.Logger

	mu       sync.Mutex
	snapshot map[string]fileStamp
	interval time.Duration
	closed   bool
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

func newPollWatcher(root string, matcher *ignore.Matcher, log *slog.Logger) *pollWatcher {
	return &pollWatcher{
		root:     root,
		matcher:  matcher,
		out:      make(chan []Event, 16),
		errs:     make(chan error, 8),
		log:      log,
		snapshot: make(map[string]fileStamp),
		interval: pollBaseInterval,
	}
}

func (p *pollWatcher) Start(ctx context.Context) error {
	if err := p.scanInto(p.snapshot); err != nil {
		return err
	}
	for {
		p.mu.Lock()
		interval := p.interval
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		batch, err := p.diff()
		if err != nil {
			select {
			case p.errs <- err:
			default:
			}
			continue
		}

		p.mu.Lock()
		if len(batch) > 0 {
			p.interval = pollBaseInterval
		} else if p.interval < pollMaxInterval {
			p.interval *= 2
			if p.interval > pollMaxInterval {
				p.interval = pollMaxInterval
			}
		}
		closed := p.closed
		p.mu.Unlock()

		if len(batch) > 0 && !closed {
			select {
			case p.out <- batch:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (p *pollWatcher) diff() ([]Event, error) {
	current := make(map[string]fileStamp)
	if err := p.scanInto(current); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var batch []Event
	for path, stamp := range current {
		prev, ok := p.snapshot[path]
		switch {
		case !ok:
			batch = append(batch, Event{Path: path, Op: OpCreate, At: now})
		case prev.modTime != stamp.modTime || prev.size != stamp.size:
			batch = append(batch, Event{Path: path, Op: OpModify, At: now})
		}
	}
	for path := range p.snapshot {
		if _, ok := current[path]; !ok {
			batch = append(batch, Event{Path: path, Op: OpDelete, At: now})
		}
	}
	p.snapshot = current
	return batch, nil
}

func (p *pollWatcher) scanInto(dst map[string]fileStamp) error {
	return filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(p.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			if p.matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if p.matcher.Match(rel, false) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		dst[rel] = fileStamp{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
}

func (p *pollWatcher) Batches() <-chan []Event { return p.out }
func (p *pollWatcher) Errors() <-chan error    { return p.errs }

func (p *pollWatcher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.out)
	}
	return nil
}
