package vector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmc-dev/llmc/internal/catalog"
	"github.com/llmc-dev/llmc/internal/config"
	"github.com/llmc-dev/llmc/internal/embed"
	"github.com/llmc-dev/llmc/internal/splitter"
)

func TestAddAndSearch(t *testing.T) {
	ix := NewIndex("code", 3)
	require.NoError(t, ix.Add(
		[]string{"a", "b", "c"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}},
	))

	results, err := ix.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].SpanHash)
	assert.Equal(t, "c", results[1].SpanHash)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestDimMismatchRejected(t *testing.T) {
	ix := NewIndex("code", 3)
	err := ix.Add([]string{"a"}, [][]float32{{1, 0}})
	require.Error(t, err)

	require.NoError(t, ix.Add([]string{"a"}, [][]float32{{1, 0, 0}}))
	_, err = ix.Search([]float32{1, 0}, 1)
	require.Error(t, err)
}

func TestReplaceUpdatesVector(t *testing.T) {
	ix := NewIndex("code", 2)
	require.NoError(t, ix.Add([]string{"a"}, [][]float32{{1, 0}}))
	require.NoError(t, ix.Add([]string{"a"}, [][]float32{{0, 1}}))
	assert.Equal(t, 1, ix.Len())

	results, err := ix.Search([]float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].SpanHash)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
}

func TestRemoveHidesResults(t *testing.T) {
	ix := NewIndex("code", 2)
	require.NoError(t, ix.Add([]string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	ix.Remove([]string{"a"})
	assert.Equal(t, 1, ix.Len())

	results, err := ix.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.SpanHash)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	ix := NewIndex("code", 2)
	results, err := ix.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRebuildFromCatalog(t *testing.T) {
	cat, err := catalog.Open(filepath.Join(config.IndexDir(t.TempDir()), "index_v2.db"))
	require.NoError(t, err)
	defer cat.Close()
	ctx := context.Background()

	span := &splitter.Span{
		SpanHash:  splitter.HashSpan("python", "foo", splitter.KindFunction, "def foo(): pass"),
		FilePath:  "a.py",
		Symbol:    "foo",
		Kind:      splitter.KindFunction,
		StartLine: 1, EndLine: 1,
		Text: "def foo(): pass",
	}
	require.NoError(t, cat.UpsertFile(ctx, &catalog.FileRecord{
		Path: "a.py", ContentHash: "h", ModTime: time.Now(),
	}))
	require.NoError(t, cat.ReplaceSpans(ctx, "a.py", []*splitter.Span{span}))
	require.NoError(t, cat.WriteEmbedding(ctx, &catalog.Embedding{
		SpanHash: span.SpanHash, ProfileID: "code", Dim: 3,
		Vector: embed.EncodeVector([]float32{0, 0, 1}), Model: "static",
	}))

	ix, err := Rebuild(ctx, cat, "code", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.Len())

	results, err := ix.Search([]float32{0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, span.SpanHash, results[0].SpanHash)
}
