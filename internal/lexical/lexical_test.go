package lexical

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmc-dev/llmc/internal/catalog"
	"github.com/llmc-dev/llmc/internal/config"
	"github.com/llmc-dev/llmc/internal/splitter"
)

func mkSpan(path, symbol, body string) *splitter.Span {
	return &splitter.Span{
		SpanHash:  splitter.HashSpan("python", symbol, splitter.KindFunction, body),
		FilePath:  path,
		Symbol:    symbol,
		Kind:      splitter.KindFunction,
		StartLine: 1, EndLine: 2,
		Text: body,
	}
}

func TestSqliteBackendDelegates(t *testing.T) {
	root := t.TempDir()
	cat, err := catalog.Open(filepath.Join(config.IndexDir(root), "index_v2.db"))
	require.NoError(t, err)
	defer cat.Close()
	ctx := context.Background()

	span := mkSpan("a.py", "parse_config", "def parse_config():\n    return load()")
	require.NoError(t, cat.UpsertFile(ctx, &catalog.FileRecord{
		Path: "a.py", ContentHash: "h", ModTime: time.Now(),
	}))
	require.NoError(t, cat.ReplaceSpans(ctx, "a.py", []*splitter.Span{span}))

	backend, err := New(config.Default(), cat, root)
	require.NoError(t, err)
	defer backend.Close()

	results, err := backend.Search(ctx, "parse_config", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, span.SpanHash, results[0].SpanHash)
}

func TestBleveBackendIndexAndSearch(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Search.LexicalBackend = "bleve"

	backend, err := New(cfg, nil, root)
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	symbolHit := mkSpan("a.py", "parse_config", "def parse_config():\n    return load()")
	bodyHit := mkSpan("b.py", "setup", "def setup():\n    cfg = parse_config()")
	require.NoError(t, backend.Index(ctx, []*splitter.Span{symbolHit, bodyHit}))

	results, err := backend.Search(ctx, "parse_config", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, symbolHit.SpanHash, results[0].SpanHash,
		"symbol field boost must outrank body matches")
	assert.Equal(t, "a.py", results[0].FilePath)
}

func TestBleveBackendDelete(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Search.LexicalBackend = "bleve"

	backend, err := New(cfg, nil, root)
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	span := mkSpan("a.py", "gone", "def gone(): pass")
	require.NoError(t, backend.Index(ctx, []*splitter.Span{span}))
	require.NoError(t, backend.Delete(ctx, []string{span.SpanHash}))

	results, err := backend.Search(ctx, "gone", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUnknownBackendRejected(t *testing.T) {
	cfg := config.Default()
	cfg.Search.LexicalBackend = "sphinx"
	_, err := New(cfg, nil, t.TempDir())
	require.Error(t, err)
}
