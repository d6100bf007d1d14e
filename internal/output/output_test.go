package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmc-dev/llmc/internal/planner"
)

func samplePlan() *planner.PlanResult {
	return &planner.PlanResult{
		Query:     "where is the session token checked",
		Intent:    &planner.QueryIntent{IntentType: planner.IntentImplementation, Confidence: 0.85},
		Route:     &planner.RouteDecision{Strategy: planner.StrategyHybrid},
		Freshness: planner.FreshnessFresh,
		Source:    planner.SourceRAGGraph,
		Spans: []planner.FusedResult{
			{
				SpanHash: "aaa",
				FilePath: "auth.py",
				Symbol:   "check_token",
				Score:    0.031,
				Channels: map[string]float64{"lexical": 0.016, "graph": 0.015},
			},
			{
				SpanHash: "bbb",
				FilePath: "db.py",
				Score:    0.016,
				Channels: map[string]float64{"lexical": 0.016},
			},
		},
	}
}

func TestPlanPlainText(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)
	w.Plan(samplePlan())

	out := buf.String()
	assert.Contains(t, out, "hybrid")
	assert.Contains(t, out, "auth.py")
	assert.Contains(t, out, "check_token")
	assert.Contains(t, out, "graph+lexical")
	assert.Contains(t, out, "FRESH")
	assert.NotContains(t, out, "\x1b[", "no escape codes when not a terminal")
}

func TestPlanJSON(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, WithJSON())
	require.True(t, w.JSON())
	w.Plan(samplePlan())

	var decoded planner.PlanResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "RAG_GRAPH", decoded.Source)
	require.Len(t, decoded.Spans, 2)
	assert.Equal(t, "auth.py", decoded.Spans[0].FilePath)
}

func TestStatusLines(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)
	w.Successf("indexed %d files", 12)
	w.Warnf("graph is stale")
	w.Errorf("backend unreachable")
	w.KV("phase", "IDLE")

	out := buf.String()
	assert.Contains(t, out, "ok indexed 12 files")
	assert.Contains(t, out, "warn graph is stale")
	assert.Contains(t, out, "error backend unreachable")
	assert.Contains(t, out, "IDLE")
}

func TestEmitSkipsInTextMode(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)
	assert.False(t, w.Emit(map[string]int{"n": 1}))
	assert.Empty(t, buf.String())
}
