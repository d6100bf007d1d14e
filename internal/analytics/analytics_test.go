package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndDistribution(t *testing.T) {
	r, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer r.Close()
	ctx := context.Background()

	r.Record(ctx, &Event{Query: "how does caching work", Intent: "conceptual", Strategy: "knowledge_only"})
	r.Record(ctx, &Event{Query: "fix panic in indexer", Intent: "debug", Strategy: "hybrid"})
	r.Record(ctx, &Event{Query: "where is the retry loop", Intent: "locate", Strategy: "rag_search"})
	r.Record(ctx, &Event{Query: "why slow", Intent: "conceptual", Strategy: "knowledge_only"})

	dist, err := r.IntentDistribution(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, dist["conceptual"])
	assert.Equal(t, 1, dist["debug"])
	assert.Equal(t, 1, dist["locate"])
}

func TestNilRecorderSafe(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), &Event{Query: "q"})
	assert.NoError(t, r.Close())
}
