package watcher

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of events per path and emits one batch once
// the quiet window passes without further activity. Sequences on one path
// merge as:
//
//	create+modify = create
//	create+delete = dropped
//	modify+delete = delete
//	delete+create = modify
type debouncer struct {
	quiet  time.Duration
	output chan []Event

	mu      sync.Mutex
	pending map[string]Event
	firstOp map[string]Op
	timer   *time.Timer
	stopped bool
}

func newDebouncer(quiet time.Duration) *debouncer {
	return &debouncer{
		quiet:   quiet,
		output:  make(chan []Event, 16),
		pending: make(map[string]Event),
		firstOp: make(map[string]Op),
	}
}

func (d *debouncer) add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	first, seen := d.firstOp[ev.Path]
	if !seen {
		d.pending[ev.Path] = ev
		d.firstOp[ev.Path] = ev.Op
	} else {
		switch {
		case first == OpCreate && ev.Op == OpModify:
			// still a brand-new file
		case first == OpCreate && ev.Op == OpDelete:
			delete(d.pending, ev.Path)
			delete(d.firstOp, ev.Path)
		case first == OpDelete && ev.Op == OpCreate:
			ev.Op = OpModify
			d.pending[ev.Path] = ev
		default:
			d.pending[ev.Path] = ev
		}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]Event, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	d.pending = make(map[string]Event)
	d.firstOp = make(map[string]Op)

	select {
	case d.output <- batch:
	default:
		// Consumer is behind; the poll fallback or next change recovers.
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
