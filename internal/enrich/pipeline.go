package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/llmc-dev/llmc/internal/catalog"
	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/splitter"
)

const promptTemplate = `You are summarizing one source code span for a retrieval index.

File: %s
Symbol: %s
Kind: %s
Lines: %d-%d

Span text:
%s

Respond with a single JSON object: {"summary": "...", "key_topics": ["..."], "complexity": "low"|"medium"|"high"|"unknown"}.
The summary is one or two sentences describing what the span does.`

// BatchResult is the ProcessBatch contract.
type BatchResult struct {
	TotalPending int           `json:"total_pending"`
	Attempted    int           `json:"attempted"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Duration     time.Duration `json:"duration_ms"`
	Results      []SpanResult  `json:"results"`
}

// SpanResult records the outcome for one span.
type SpanResult struct {
	SpanHash string                  `json:"span_hash"`
	ChainID  string                  `json:"chain_id"`
	Quality  catalog.Quality         `json:"quality,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Attempts []catalog.AttemptRecord `json:"attempts,omitempty"`
}

// Pipeline orchestrates routed, cascaded enrichment.
type Pipeline struct {
	cat     *catalog.Store
	router  *Router
	tracker *FailureTracker
	cfg     *config.EnrichmentConfig
	retry   llmcerrors.RetryConfig
	log     *slog.Logger

	// newGenerator is swappable in tests.
	newGenerator func(config.BackendSpec) (Generator, error)
}

// NewPipeline wires the pipeline. tracker may be shared with the service
// daemon so failure state survives across batches.
func NewPipeline(cat *catalog.Store, cfg *config.EnrichmentConfig, tracker *FailureTracker, log *slog.Logger) *Pipeline {
	if tracker == nil {
		tracker = NewFailureTracker(
			time.Duration(cfg.CooldownSeconds)*time.Second, cfg.MaxFailures)
	}
	return &Pipeline{
		cat:          cat,
		router:       NewRouter(cfg),
		tracker:      tracker,
		cfg:          cfg,
		retry:        llmcerrors.DefaultRetryConfig(),
		log:          log,
		newGenerator: NewGenerator,
	}
}

// ProcessBatch enriches up to limit pending spans. Per-span failures are
// recovered locally; the batch always completes unless cancelled.
func (p *Pipeline) ProcessBatch(ctx context.Context, limit int) (*BatchResult, error) {
	start := time.Now()

	total, err := p.cat.CountPendingEnrichments(ctx)
	if err != nil {
		return nil, err
	}
	cooldown := time.Duration(p.cfg.SoftTTLSeconds) * time.Second
	pending, err := p.cat.PendingEnrichments(ctx, limit, cooldown)
	if err != nil {
		return nil, err
	}

	res := &BatchResult{TotalPending: total}
	for i, item := range pending {
		if ctx.Err() != nil {
			return res, llmcerrors.Cancelled("enrichment batch")
		}
		if i > 0 && p.cfg.PacingMS > 0 {
			select {
			case <-time.After(time.Duration(p.cfg.PacingMS) * time.Millisecond):
			case <-ctx.Done():
				return res, llmcerrors.Cancelled("enrichment batch")
			}
		}

		sr := p.enrichSpan(ctx, item)
		res.Results = append(res.Results, sr)
		switch {
		case sr.ChainID == ChainSkip:
			res.Skipped++
		case sr.Error == "":
			res.Attempted++
			res.Succeeded++
		default:
			res.Attempted++
			res.Failed++
		}
	}
	res.Duration = time.Since(start)

	p.log.Info("enrichment batch complete",
		slog.Int("pending", res.TotalPending),
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// enrichSpan runs the cascade for one span and persists the outcome.
func (p *Pipeline) enrichSpan(ctx context.Context, item *catalog.PendingSpan) SpanResult {
	span := item.Span
	sr := SpanResult{SpanHash: span.SpanHash}

	decision, err := p.router.Route(ViewForSpan(span, item.PriorFailures))
	if err != nil {
		sr.Error = err.Error()
		return sr
	}
	sr.ChainID = decision.ChainID
	if decision.ChainID == ChainSkip {
		return sr
	}

	prompt := buildPrompt(span)
	for _, spec := range decision.BackendSpecs {
		backendName := spec.Model + "@" + hostOf(spec)

		if skip, reason := p.tracker.ShouldSkip(span.SpanHash, backendName); skip {
			sr.Attempts = append(sr.Attempts, catalog.AttemptRecord{
				Backend: backendName, Model: spec.Model,
				Outcome: "skipped", Detail: reason, At: time.Now().UTC(),
			})
			continue
		}

		gen, err := p.newGenerator(spec)
		if err != nil {
			sr.Attempts = append(sr.Attempts, catalog.AttemptRecord{
				Backend: backendName, Model: spec.Model,
				Outcome: "http_error", Detail: err.Error(), At: time.Now().UTC(),
			})
			continue
		}

		attemptStart := time.Now()
		raw, meta, err := gen.Generate(ctx, prompt)
		if err != nil {
			if llmcerrors.KindOf(err) == llmcerrors.KindCancelled {
				sr.Error = err.Error()
				return sr
			}
			p.tracker.RecordFailure(span.SpanHash, backendName)
			sr.Attempts = append(sr.Attempts, catalog.AttemptRecord{
				Backend: backendName, Model: spec.Model,
				Outcome: outcomeOf(err), Detail: err.Error(),
				DurationMS: time.Since(attemptStart).Milliseconds(), At: time.Now().UTC(),
			})
			continue
		}

		payload, err := ParsePayload(raw, span.StartLine, span.EndLine)
		if err != nil {
			p.tracker.RecordFailure(span.SpanHash, backendName)
			sr.Attempts = append(sr.Attempts, catalog.AttemptRecord{
				Backend: backendName, Model: spec.Model,
				Outcome: "parse_error", Detail: err.Error(),
				DurationMS: time.Since(attemptStart).Milliseconds(), At: time.Now().UTC(),
			})
			continue
		}

		sr.Attempts = append(sr.Attempts, catalog.AttemptRecord{
			Backend: backendName, Model: meta.Model, Outcome: "ok",
			DurationMS: time.Since(attemptStart).Milliseconds(), At: time.Now().UTC(),
		})
		p.tracker.RecordSuccess(span.SpanHash, backendName)

		quality := ClassifyQuality(payload)
		sr.Quality = quality
		if err := p.persist(ctx, span, payload, meta, sr.Attempts, quality); err != nil {
			sr.Error = err.Error()
		}
		return sr
	}

	// All backends failed or were skipped.
	if err := llmcerrors.Retry(ctx, p.retry, func() error {
		return p.cat.MarkEnrichAttempt(ctx, span.SpanHash, true)
	}); err != nil {
		p.log.Warn("cannot record enrichment failure",
			slog.String("span", span.SpanHash), slog.String("error", err.Error()))
	}
	sr.Error = "all backends failed"
	p.log.Warn("enrichment cascade exhausted",
		slog.String("span", span.SpanHash),
		slog.String("file", span.FilePath),
		slog.Int("attempts", len(sr.Attempts)))
	return sr
}

func (p *Pipeline) persist(ctx context.Context, span *splitter.Span, payload *Payload,
	meta *GenMeta, attempts []catalog.AttemptRecord, quality catalog.Quality) error {

	// Losing a generated summary to writer contention wastes a backend
	// call, so both writes ride the retry budget.
	if err := llmcerrors.Retry(ctx, p.retry, func() error {
		return p.cat.WriteEnrichment(ctx, &catalog.Enrichment{
			SpanHash:        span.SpanHash,
			Summary:         payload.Summary,
			KeyTopics:       payload.KeyTopics,
			Complexity:      ComplexityOf(payload),
			Model:           meta.Model,
			BackendHost:     meta.Host,
			TokensPerSecond: meta.TokensPerSecond(),
			AttemptsLog:     attempts,
			Quality:         quality,
		})
	}); err != nil {
		return err
	}
	return llmcerrors.Retry(ctx, p.retry, func() error {
		return p.cat.MarkEnrichAttempt(ctx, span.SpanHash, quality != catalog.QualityReal)
	})
}

func buildPrompt(span *splitter.Span) string {
	return fmt.Sprintf(promptTemplate,
		span.FilePath, span.Symbol, span.Kind, span.StartLine, span.EndLine, span.Text)
}

func hostOf(spec config.BackendSpec) string {
	if spec.URL != "" {
		return spec.URL
	}
	return "http://localhost:11434"
}

func outcomeOf(err error) string {
	switch llmcerrors.CodeOf(err) {
	case llmcerrors.CodeBackendTimeout:
		return "timeout"
	case llmcerrors.CodeBackendParse:
		return "parse_error"
	case llmcerrors.CodeBackendRateLimited:
		return "rate_limited"
	default:
		return "http_error"
	}
}
