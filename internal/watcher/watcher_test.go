package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmc-dev/llmc/internal/config"
	"github.com/llmc-dev/llmc/internal/ignore"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collectBatch(t *testing.T, ch <-chan []Event, timeout time.Duration) []Event {
	t.Helper()
	select {
	case batch := <-ch:
		return batch
	case <-time.After(timeout):
		t.Fatal("no batch within timeout")
		return nil
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	d := newDebouncer(50 * time.Millisecond)
	defer d.stop()
	now := time.Now()

	// create+modify stays create; create+delete cancels out.
	d.add(Event{Path: "a.py", Op: OpCreate, At: now})
	d.add(Event{Path: "a.py", Op: OpModify, At: now})
	d.add(Event{Path: "gone.py", Op: OpCreate, At: now})
	d.add(Event{Path: "gone.py", Op: OpDelete, At: now})
	d.add(Event{Path: "replaced.py", Op: OpDelete, At: now})
	d.add(Event{Path: "replaced.py", Op: OpCreate, At: now})

	batch := collectBatch(t, d.output, time.Second)
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	require.Len(t, batch, 2)
	assert.Equal(t, "a.py", batch[0].Path)
	assert.Equal(t, OpCreate, batch[0].Op)
	assert.Equal(t, "replaced.py", batch[1].Path)
	assert.Equal(t, OpModify, batch[1].Op, "delete then create is a replacement")
}

func TestDebouncerQuietWindowRestarts(t *testing.T) {
	d := newDebouncer(80 * time.Millisecond)
	defer d.stop()

	d.add(Event{Path: "a.py", Op: OpModify, At: time.Now()})
	time.Sleep(40 * time.Millisecond)
	d.add(Event{Path: "b.py", Op: OpModify, At: time.Now()})

	select {
	case <-d.output:
		t.Fatal("batch emitted before the window went quiet")
	case <-time.After(60 * time.Millisecond):
	}

	batch := collectBatch(t, d.output, time.Second)
	assert.Len(t, batch, 2, "activity inside the window joins one batch")
}

func TestNotifyWatcherSeesWriteAndIgnoresBlocked(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))

	matcher := ignore.NewMatcher()
	w, err := newNotifyWatcher(root, 50*time.Millisecond, matcher, discard())
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep.js"), []byte("y"), 0o644))

	batch := collectBatch(t, w.Batches(), 3*time.Second)
	paths := make([]string, 0, len(batch))
	for _, ev := range batch {
		paths = append(paths, ev.Path)
	}
	assert.Contains(t, paths, "main.py")
	assert.NotContains(t, paths, filepath.Join("node_modules", "dep.js"))
}

func TestPollDiffDetectsCreateModifyDelete(t *testing.T) {
	root := t.TempDir()
	p := newPollWatcher(root, ignore.NewMatcher(), discard())
	require.NoError(t, p.scanInto(p.snapshot))

	path := filepath.Join(root, "a.py")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))
	batch, err := p.diff()
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, OpCreate, batch[0].Op)

	// Size change guarantees detection even with coarse mtimes.
	require.NoError(t, os.WriteFile(path, []byte("v2 longer"), 0o644))
	batch, err = p.diff()
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Op)

	require.NoError(t, os.Remove(path))
	batch, err = p.diff()
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, OpDelete, batch[0].Op)
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New(t.TempDir(), &config.DaemonConfig{Mode: "carrier-pigeon"},
		ignore.NewMatcher(), discard())
	require.Error(t, err)
}
