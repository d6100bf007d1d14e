package indexer

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmc-dev/llmc/internal/catalog"
	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRepo(t *testing.T) (string, *catalog.Store, *Indexer) {
	t.Helper()
	root := t.TempDir()
	store, err := catalog.Open(filepath.Join(config.IndexDir(root), "index_v2.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ix, err := New(root, config.Default(), store, testLogger())
	require.NoError(t, err)
	t.Cleanup(ix.Close)
	return root, store, ix
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestIndexAllBasic(t *testing.T) {
	root, store, ix := newTestRepo(t)
	writeFile(t, root, "app.py", "def foo():\n    return 1\n\ndef bar():\n    return 2\n")
	writeFile(t, root, "README.md", "# Title\n\nSome docs.\n")

	stats, err := ix.IndexAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Greater(t, stats.SpansAdded, 1)
	assert.Empty(t, stats.Errors)

	st, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Files)

	status, err := LoadStatus(root)
	require.NoError(t, err)
	assert.Equal(t, StateFresh, status.IndexState)
}

func TestSecondRunSkipsUnchanged(t *testing.T) {
	root, _, ix := newTestRepo(t)
	writeFile(t, root, "app.py", "def foo():\n    return 1\n")

	_, err := ix.IndexAll(context.Background())
	require.NoError(t, err)

	stats, err := ix.IndexAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Files)
	assert.Equal(t, 1, stats.FilesSkipped)
	assert.Equal(t, 0, stats.SpansAdded)
}

func TestRenameCarriesEnrichment(t *testing.T) {
	root, store, ix := newTestRepo(t)
	ctx := context.Background()
	writeFile(t, root, "util.py", "def foo():\n    return 1\n")

	_, err := ix.IndexAll(ctx)
	require.NoError(t, err)

	spans, err := store.SpansByFile(ctx, "util.py")
	require.NoError(t, err)
	require.NotEmpty(t, spans)
	fooHash := spans[0].SpanHash

	require.NoError(t, store.WriteEnrichment(ctx, &catalog.Enrichment{
		SpanHash: fooHash, Summary: "returns one", Quality: catalog.QualityReal,
		Complexity: catalog.ComplexityLow,
	}))

	// Rename on disk, then reindex the whole tree.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "utils"), 0o755))
	require.NoError(t, os.Rename(
		filepath.Join(root, "util.py"), filepath.Join(root, "utils", "helpers.py")))

	_, err = ix.IndexAll(ctx)
	require.NoError(t, err)

	got, err := store.GetSpan(ctx, fooHash)
	require.NoError(t, err)
	require.NotNil(t, got, "span hash must survive the rename")
	assert.Equal(t, "utils/helpers.py", got.FilePath)

	e, err := store.GetEnrichment(ctx, fooHash)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "returns one", e.Summary)
}

func TestIgnoreRulesHonored(t *testing.T) {
	root, store, ix := newTestRepo(t)
	writeFile(t, root, "keep.py", "def keep(): pass\n")
	writeFile(t, root, "node_modules/dep/index.js", "module.exports = 1\n")
	writeFile(t, root, ".llmc/scratch.txt", "state\n")

	_, err := ix.IndexAll(context.Background())
	require.NoError(t, err)

	files, err := store.ListFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "keep.py", files[0].Path)
}

func TestDeletedFilePruned(t *testing.T) {
	root, store, ix := newTestRepo(t)
	ctx := context.Background()
	writeFile(t, root, "gone.py", "def gone(): pass\n")

	_, err := ix.IndexAll(ctx)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "gone.py")))

	stats, err := ix.IndexAll(ctx)
	require.NoError(t, err)
	assert.Greater(t, stats.SpansRemoved, 0)

	files, err := store.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestOversizeFileIsolated(t *testing.T) {
	root := t.TempDir()
	store, err := catalog.Open(filepath.Join(config.IndexDir(root), "index_v2.db"))
	require.NoError(t, err)
	defer store.Close()

	cfg := config.Default()
	cfg.Indexer.MaxFileSize = 16
	ix, err := New(root, cfg, store, testLogger())
	require.NoError(t, err)
	defer ix.Close()

	writeFile(t, root, "big.py", "def f():\n    return 'way over sixteen bytes'\n")
	writeFile(t, root, "ok.py", "x = 1\n")

	stats, err := ix.IndexAll(context.Background())
	require.NoError(t, err, "a bad file must not halt the run")
	assert.Equal(t, 1, stats.Files)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "big.py", stats.Errors[0].Path)
}

func TestIndexPathsIncremental(t *testing.T) {
	root, store, ix := newTestRepo(t)
	ctx := context.Background()
	writeFile(t, root, "a.py", "def a(): pass\n")
	writeFile(t, root, "b.py", "def b(): pass\n")

	_, err := ix.IndexPaths(ctx, []string{filepath.Join(root, "a.py")})
	require.NoError(t, err)

	files, err := store.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.py", files[0].Path)
}

func TestIndexPathsRejectsTraversal(t *testing.T) {
	_, _, ix := newTestRepo(t)
	_, err := ix.IndexPaths(context.Background(), []string{"../outside.py"})
	require.Error(t, err)
}

func TestStatusMissingIsUnknown(t *testing.T) {
	st, err := LoadStatus(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, st.IndexState)
}

func TestStatusRoundtrip(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, SaveStatus(root, &IndexStatus{
		IndexState: StateFresh, LastIndexedCommit: "abc123",
	}))

	st, err := LoadStatus(root)
	require.NoError(t, err)
	assert.Equal(t, StateFresh, st.IndexState)
	assert.Equal(t, "abc123", st.LastIndexedCommit)
	assert.Equal(t, catalog.SchemaVersion, st.SchemaVersion)
}

func TestIndexAllReturnsWhileWriterHeld(t *testing.T) {
	root, store, ix := newTestRepo(t)
	for i := 0; i < 8; i++ {
		writeFile(t, root, fmt.Sprintf("mod%d.py", i), "def f():\n    return 1\n")
	}
	ix.cfg.Daemon.Workers = 1
	ix.retry = llmcerrors.RetryConfig{
		MaxRetries:   1,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   1,
	}
	store.SetWriterWait(50 * time.Millisecond)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.WithWriter(context.Background(), func(tx *sql.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	done := make(chan error, 1)
	go func() {
		_, err := ix.IndexAll(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, llmcerrors.KindDbBusy, llmcerrors.KindOf(err))
	case <-time.After(10 * time.Second):
		t.Fatal("IndexAll still blocked after the store rejected the write")
	}

	status, err := LoadStatus(root)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.IndexState)
}

func TestApplyResultRetriesPastTransientContention(t *testing.T) {
	root, store, ix := newTestRepo(t)
	writeFile(t, root, "app.py", "def foo():\n    return 1\n")
	ix.retry = llmcerrors.RetryConfig{
		MaxRetries:   3,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   2,
	}
	store.SetWriterWait(10 * time.Millisecond)

	// Hold the writer briefly so the first attempt sees DbBusy but a
	// backed-off retry succeeds.
	held := make(chan struct{})
	go func() {
		_ = store.WithWriter(context.Background(), func(tx *sql.Tx) error {
			close(held)
			time.Sleep(40 * time.Millisecond)
			return nil
		})
	}()
	<-held

	stats, err := ix.IndexAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
}
