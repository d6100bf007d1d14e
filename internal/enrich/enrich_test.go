package enrich

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmc-dev/llmc/internal/catalog"
	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/splitter"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterDeterministic(t *testing.T) {
	cfg := &config.EnrichmentConfig{
		Chains: map[string]config.ChainConfig{
			"small": {Backends: []config.BackendSpec{{Model: "qwen2.5:7b"}}},
			"large": {Backends: []config.BackendSpec{{Model: "qwen2.5:14b"}}},
		},
		Router: config.RouterConfig{Rules: []config.RouterRule{
			{Priority: 10, ContentType: "docs", Chain: ChainSkip, Reason: "docs skipped"},
			{Priority: 20, MaxTokens: 500, Chain: "small", Reason: "small spans"},
			{Priority: 30, Chain: "large", Reason: "everything else"},
		}},
	}
	r := NewRouter(cfg)

	small := &SliceView{SpanHash: "a", ContentType: "code", ApproxTokenCount: 100}
	for i := 0; i < 5; i++ {
		d, err := r.Route(small)
		require.NoError(t, err)
		assert.Equal(t, "small", d.ChainID, "same input must route identically")
	}

	d, err := r.Route(&SliceView{ContentType: "code", ApproxTokenCount: 5000})
	require.NoError(t, err)
	assert.Equal(t, "large", d.ChainID)

	d, err = r.Route(&SliceView{ContentType: "docs", ApproxTokenCount: 10})
	require.NoError(t, err)
	assert.Equal(t, ChainSkip, d.ChainID)
}

func TestRouterNoRuleNoDefaultSkips(t *testing.T) {
	r := NewRouter(&config.EnrichmentConfig{
		Chains: map[string]config.ChainConfig{},
		Router: config.RouterConfig{Rules: []config.RouterRule{
			{Priority: 1, ContentType: "docs", Chain: ChainSkip},
		}},
	})
	d, err := r.Route(&SliceView{ContentType: "code"})
	require.NoError(t, err)
	assert.Equal(t, ChainSkip, d.ChainID)
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload(json.RawMessage(
		`{"summary":"Parses the config file and returns settings.","key_topics":["config"],"complexity":"low"}`), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"config"}, p.KeyTopics)

	_, err = ParsePayload(json.RawMessage(`{"summary":"","key_topics":[],"complexity":"low"}`), 1, 10)
	require.Error(t, err, "empty summary rejected")

	_, err = ParsePayload(json.RawMessage(`{"summary":"ok text here","key_topics":[],"complexity":"extreme"}`), 1, 10)
	require.Error(t, err, "complexity outside allowed set rejected")

	_, err = ParsePayload(json.RawMessage(`{"summary":"fine","extra":1,"key_topics":[],"complexity":"low"}`), 1, 10)
	require.Error(t, err, "unknown keys rejected at the edge")
}

func TestParsePayloadLineRefs(t *testing.T) {
	_, err := ParsePayload(json.RawMessage(
		`{"summary":"The loop at line 12 retries the request.","key_topics":[],"complexity":"low"}`), 10, 20)
	require.NoError(t, err)

	_, err = ParsePayload(json.RawMessage(
		`{"summary":"The loop at line 99 retries the request.","key_topics":[],"complexity":"low"}`), 10, 20)
	require.Error(t, err, "line references outside the span rejected")
}

func TestClassifyQuality(t *testing.T) {
	real := &Payload{Summary: "Validates user input and persists the record to the catalog."}
	assert.Equal(t, catalog.QualityReal, ClassifyQuality(real))

	assert.Equal(t, catalog.QualityPlaceholder, ClassifyQuality(&Payload{Summary: "TODO"}))
	assert.Equal(t, catalog.QualityPlaceholder, ClassifyQuality(&Payload{Summary: "short"}))
	assert.Equal(t, catalog.QualityFake, ClassifyQuality(&Payload{Summary: "1232 3423 4234 #### !!!! 0000"}))
}

func TestFailureTrackerCooldownAndCap(t *testing.T) {
	tr := NewFailureTracker(time.Minute, 3)
	now := time.Now()
	tr.now = func() time.Time { return now }

	skip, _ := tr.ShouldSkip("s", "b")
	assert.False(t, skip)

	tr.RecordFailure("s", "b")
	skip, reason := tr.ShouldSkip("s", "b")
	assert.True(t, skip)
	assert.Equal(t, "cooldown", reason)

	// Past the cooldown window the backend is eligible again.
	now = now.Add(2 * time.Minute)
	skip, _ = tr.ShouldSkip("s", "b")
	assert.False(t, skip)

	tr.RecordFailure("s", "b")
	tr.RecordFailure("s", "b")
	skip, reason = tr.ShouldSkip("s", "b")
	assert.True(t, skip)
	assert.Equal(t, "max_failures", reason)

	tr.RecordSuccess("s", "b")
	skip, _ = tr.ShouldSkip("s", "b")
	assert.False(t, skip)
}

func setupPipelineRepo(t *testing.T) (*catalog.Store, *splitter.Span) {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(config.IndexDir(t.TempDir()), "index_v2.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	ctx := context.Background()

	span := &splitter.Span{
		SpanHash:  splitter.HashSpan("python", "foo", splitter.KindFunction, "def foo(): return 1"),
		FilePath:  "a.py",
		Symbol:    "foo",
		Kind:      splitter.KindFunction,
		StartLine: 1, EndLine: 1,
		Text: "def foo(): return 1",
	}
	require.NoError(t, cat.UpsertFile(ctx, &catalog.FileRecord{
		Path: "a.py", ContentHash: "h", ModTime: time.Now(),
	}))
	require.NoError(t, cat.ReplaceSpans(ctx, "a.py", []*splitter.Span{span}))
	return cat, span
}

func validGenerateResponse(summary string) ollamaGenerateResponse {
	payload, _ := json.Marshal(Payload{
		Summary: summary, KeyTopics: []string{"demo"}, Complexity: "low",
	})
	return ollamaGenerateResponse{
		Response:        string(payload),
		EvalCount:       120,
		EvalDuration:    int64(2 * time.Second),
		PromptEvalCount: 40,
		TotalDuration:   int64(3 * time.Second),
	}
}

func TestCascadeFallsThroughToSecondBackend(t *testing.T) {
	hostA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer hostA.Close()
	hostB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(validGenerateResponse(
			"Returns the constant one for downstream consumers."))
	}))
	defer hostB.Close()

	cat, span := setupPipelineRepo(t)
	cfg := &config.EnrichmentConfig{
		Chains: map[string]config.ChainConfig{
			"default": {Backends: []config.BackendSpec{
				{Provider: "ollama", Model: "qwen2.5:7b", URL: hostA.URL, TimeoutSeconds: 2},
				{Provider: "ollama", Model: "qwen2.5:14b", URL: hostB.URL, TimeoutSeconds: 2},
			}},
		},
		MaxFailures: 3,
	}
	p := NewPipeline(cat, cfg, nil, discard())

	res, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, res.Results, 1)
	require.Len(t, res.Results[0].Attempts, 2, "both backends must be logged")
	assert.Equal(t, "http_error", res.Results[0].Attempts[0].Outcome)
	assert.Equal(t, "ok", res.Results[0].Attempts[1].Outcome)

	e, err := cat.GetEnrichment(context.Background(), span.SpanHash)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "qwen2.5:14b", e.Model)
	assert.Equal(t, hostB.URL, e.BackendHost)
	assert.InDelta(t, 60.0, e.TokensPerSecond, 0.01, "120 tokens over 2s")
	assert.Equal(t, catalog.QualityReal, e.Quality)
	assert.Len(t, e.AttemptsLog, 2)
}

func TestAllBackendsFailIncrementsCounter(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer dead.Close()

	cat, span := setupPipelineRepo(t)
	cfg := &config.EnrichmentConfig{
		Chains: map[string]config.ChainConfig{
			"default": {Backends: []config.BackendSpec{
				{Provider: "ollama", Model: "m", URL: dead.URL, TimeoutSeconds: 2},
			}},
		},
		MaxFailures: 3,
	}
	p := NewPipeline(cat, cfg, nil, discard())

	res, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err, "per-span failures never abort the batch")
	assert.Equal(t, 1, res.Failed)

	pending, err := cat.PendingEnrichments(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].PriorFailures)
	_ = span
}

func TestSkipRuleProducesNoCalls(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	cat, _ := setupPipelineRepo(t)
	cfg := &config.EnrichmentConfig{
		Chains: map[string]config.ChainConfig{
			"default": {Backends: []config.BackendSpec{{Provider: "ollama", Model: "m", URL: srv.URL}}},
		},
		Router: config.RouterConfig{Rules: []config.RouterRule{
			{Priority: 1, Chain: ChainSkip, Reason: "enrichment disabled"},
		}},
	}
	p := NewPipeline(cat, cfg, nil, discard())

	res, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, calls)
}

func TestPlaceholderSummaryStaysPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(validGenerateResponse("TODO"))
	}))
	defer srv.Close()

	cat, span := setupPipelineRepo(t)
	cfg := &config.EnrichmentConfig{
		Chains: map[string]config.ChainConfig{
			"default": {Backends: []config.BackendSpec{
				{Provider: "ollama", Model: "m", URL: srv.URL, TimeoutSeconds: 2},
			}},
		},
		MaxFailures: 3,
	}
	p := NewPipeline(cat, cfg, nil, discard())

	_, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	e, err := cat.GetEnrichment(context.Background(), span.SpanHash)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, catalog.QualityPlaceholder, e.Quality)

	pending, err := cat.PendingEnrichments(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "placeholder enrichment remains pending")
}

func TestPersistRetriesPastWriterContention(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(validGenerateResponse(
			"Returns the constant one for downstream consumers."))
	}))
	defer srv.Close()

	cat, span := setupPipelineRepo(t)
	cat.SetWriterWait(10 * time.Millisecond)
	cfg := &config.EnrichmentConfig{
		Chains: map[string]config.ChainConfig{
			"default": {Backends: []config.BackendSpec{
				{Provider: "ollama", Model: "m", URL: srv.URL, TimeoutSeconds: 2},
			}},
		},
		MaxFailures: 3,
	}
	p := NewPipeline(cat, cfg, nil, discard())
	p.retry = llmcerrors.RetryConfig{
		MaxRetries:   3,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   2,
	}

	// Hold the writer briefly so the enrichment write first sees DbBusy
	// and only a backed-off retry lands it.
	held := make(chan struct{})
	go func() {
		_ = cat.WithWriter(context.Background(), func(tx *sql.Tx) error {
			close(held)
			time.Sleep(40 * time.Millisecond)
			return nil
		})
	}()
	<-held

	res, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, res.Results, 1)
	assert.Empty(t, res.Results[0].Error)

	e, err := cat.GetEnrichment(context.Background(), span.SpanHash)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, catalog.QualityReal, e.Quality)
}
