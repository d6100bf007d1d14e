package planner

import (
	"context"
	"log/slog"
	"time"

	"github.com/llmc-dev/llmc/internal/analytics"
	"github.com/llmc-dev/llmc/internal/catalog"
	"github.com/llmc-dev/llmc/internal/config"
	"github.com/llmc-dev/llmc/internal/embed"
	"github.com/llmc-dev/llmc/internal/graph"
	"github.com/llmc-dev/llmc/internal/indexer"
	"github.com/llmc-dev/llmc/internal/lexical"
	"github.com/llmc-dev/llmc/internal/vector"
)

// Freshness states for a plan.
const (
	FreshnessFresh   = "FRESH"
	FreshnessStale   = "STALE"
	FreshnessUnknown = "UNKNOWN"
)

// Retrieval sources.
const (
	SourceRAGGraph      = "RAG_GRAPH"
	SourceLocalFallback = "LOCAL_FALLBACK"
)

// Features are structural signals attached to a plan for downstream
// ranking and analytics.
type Features struct {
	RelationDensity  float64  `json:"relation_density"`
	GraphCoverage    float64  `json:"graph_coverage"`
	ComplexityScore  float64  `json:"complexity_score"`
	DetectedEntities []string `json:"detected_entities"`
}

// PlanResult is the full answer to one query.
type PlanResult struct {
	Query      string         `json:"query"`
	Intent     *QueryIntent   `json:"intent"`
	Route      *RouteDecision `json:"route"`
	Freshness  string         `json:"freshness_state"`
	Source     string         `json:"source"`
	Spans      []FusedResult  `json:"spans,omitempty"`
	Confidence float64        `json:"confidence"`
	Features   Features       `json:"features"`
	Cached     bool           `json:"cached"`
	Duration   time.Duration  `json:"duration_ms"`
}

// Planner answers queries with classified, routed, fused retrieval.
type Planner struct {
	root      string
	cfg       *config.Config
	cat       *catalog.Store
	lex       lexical.Backend
	graph     *graph.Store
	providers map[string]embed.Provider
	vectors   map[string]*vector.Index
	recorder  *analytics.Recorder
	cache     *planCache
	log       *slog.Logger
}

// New wires a planner over the repo's retrieval channels. vectors may be
// nil or partial; missing profiles simply contribute no candidates.
func New(root string, cfg *config.Config, cat *catalog.Store, lex lexical.Backend,
	gs *graph.Store, providers map[string]embed.Provider,
	vectors map[string]*vector.Index, rec *analytics.Recorder, log *slog.Logger) *Planner {

	var cache *planCache
	if cfg.SemanticCache.Enabled {
		cache = newPlanCache(cfg.SemanticCache.Size)
	}
	return &Planner{
		root:      root,
		cfg:       cfg,
		cat:       cat,
		lex:       lex,
		graph:     gs,
		providers: providers,
		vectors:   vectors,
		recorder:  rec,
		cache:     cache,
		log:       log,
	}
}

// Plan classifies, routes, and (when the route calls for it) retrieves.
// Strategies that never touch the catalog return before any store access
// so a conceptual query stays cheap even on a cold or corrupt index.
func (p *Planner) Plan(ctx context.Context, query string, contextRemaining int) (*PlanResult, error) {
	start := time.Now()

	intent := Classify(query, contextRemaining)
	route := RouteQuery(query, intent)

	res := &PlanResult{
		Query:      query,
		Intent:     intent,
		Route:      route,
		Confidence: intent.Confidence,
	}

	switch route.Strategy {
	case StrategyKnowledgeOnly:
		res.Freshness = FreshnessUnknown
		res.Source = SourceLocalFallback
		return p.finish(ctx, res, start)

	case StrategyDirectRead:
		// Direct reads serve from the working tree. Freshness is still
		// reported so callers know whether the index lags the tree.
		res.Freshness = p.statusFreshness()
		res.Source = SourceLocalFallback
		return p.finish(ctx, res, start)
	}

	key := ""
	linkHash, err := p.cat.SpanLinkHash(ctx)
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		key = cacheKey(query, linkHash)
		if cached, ok := p.cache.get(key); ok {
			out := *cached
			out.Cached = true
			out.Duration = time.Since(start)
			p.record(ctx, &out)
			return &out, nil
		}
	}

	res.Freshness, res.Source = p.freshness(linkHash)

	lists, features, err := p.retrieve(ctx, query, intent)
	if err != nil {
		return nil, err
	}
	fused := FuseRRF(lists, p.cfg.Search.RRFConstant)
	if max := p.cfg.Search.MaxResults; max > 0 && len(fused) > max {
		fused = fused[:max]
	}
	if intent.MaxChunks > 0 && len(fused) > intent.MaxChunks {
		fused = fused[:intent.MaxChunks]
	}
	res.Spans = fused
	res.Features = features
	res.Features.GraphCoverage = p.coverage(fused)
	if res.Freshness == FreshnessStale {
		res.Confidence *= 0.8
	}

	if p.cache != nil {
		p.cache.put(key, res)
	}
	return p.finish(ctx, res, start)
}

func (p *Planner) finish(ctx context.Context, res *PlanResult, start time.Time) (*PlanResult, error) {
	res.Duration = time.Since(start)
	p.record(ctx, res)
	return res, nil
}

func (p *Planner) record(ctx context.Context, res *PlanResult) {
	p.recorder.Record(ctx, &analytics.Event{
		Query:      res.Query,
		Intent:     res.Intent.IntentType,
		Strategy:   res.Route.Strategy,
		Freshness:  res.Freshness,
		Source:     res.Source,
		Results:    len(res.Spans),
		DurationMS: res.Duration.Milliseconds(),
	})
}

// statusFreshness reads only the status file, never the catalog.
func (p *Planner) statusFreshness() string {
	st, err := indexer.LoadStatus(p.root)
	if err != nil {
		return FreshnessUnknown
	}
	switch st.IndexState {
	case indexer.StateFresh:
		return FreshnessFresh
	case indexer.StateStale, indexer.StateFailed:
		return FreshnessStale
	default:
		return FreshnessUnknown
	}
}

// freshness gates the graph channel: the graph artifact only counts as
// current when its span link hash matches the catalog's.
func (p *Planner) freshness(linkHash string) (state, source string) {
	state = p.statusFreshness()
	if state == FreshnessUnknown {
		return FreshnessUnknown, SourceLocalFallback
	}
	if p.graph == nil {
		return state, SourceLocalFallback
	}
	if _, err := p.graph.Load(linkHash); err != nil {
		return FreshnessUnknown, SourceLocalFallback
	}
	if p.graph.Stale() {
		return FreshnessStale, SourceLocalFallback
	}
	if state != FreshnessFresh {
		return state, SourceLocalFallback
	}
	return FreshnessFresh, SourceRAGGraph
}

// retrieve runs the lexical, vector, and graph channels.
func (p *Planner) retrieve(ctx context.Context, query string, intent *QueryIntent) ([]RankedList, Features, error) {
	limit := p.cfg.Search.MaxResults
	if limit <= 0 {
		limit = 20
	}
	var lists []RankedList
	var feats Features

	// Span freshness for fusion tie-breaks comes from the file records.
	modTimes := make(map[string]time.Time)
	if files, err := p.cat.ListFiles(ctx); err == nil {
		for _, f := range files {
			modTimes[f.Path] = f.ModTime
		}
	}

	hits, err := p.lex.Search(ctx, query, limit)
	if err != nil {
		return nil, feats, err
	}
	lexList := RankedList{Channel: "lexical"}
	for _, h := range hits {
		lexList.Candidates = append(lexList.Candidates, Candidate{
			SpanHash: h.SpanHash, FilePath: h.FilePath, Symbol: h.Symbol, Score: h.Score,
		})
	}
	lists = append(lists, lexList)

	for profileID, provider := range p.providers {
		ix := p.vectors[profileID]
		if ix == nil || ix.Len() == 0 {
			continue
		}
		qvs, err := provider.EmbedQueries(ctx, []string{query})
		if err != nil {
			p.log.Warn("vector channel unavailable",
				slog.String("profile", profileID), slog.String("error", err.Error()))
			continue
		}
		results, err := ix.Search(qvs[0], limit)
		if err != nil {
			p.log.Warn("vector search failed",
				slog.String("profile", profileID), slog.String("error", err.Error()))
			continue
		}
		vecList := RankedList{Channel: "vector:" + profileID}
		for _, r := range results {
			c := Candidate{SpanHash: r.SpanHash, Score: float64(r.Score)}
			if sp, err := p.cat.GetSpan(ctx, r.SpanHash); err == nil && sp != nil {
				c.FilePath = sp.FilePath
				c.Symbol = sp.Symbol
			}
			vecList.Candidates = append(vecList.Candidates, c)
		}
		lists = append(lists, vecList)
	}

	graphList, detected := p.graphChannel(query, limit)
	if len(graphList.Candidates) > 0 {
		lists = append(lists, graphList)
	}
	for li := range lists {
		for ci := range lists[li].Candidates {
			c := &lists[li].Candidates[ci]
			if c.ModTime.IsZero() {
				c.ModTime = modTimes[c.FilePath]
			}
		}
	}
	feats.DetectedEntities = detected
	feats.RelationDensity = p.relationDensity()
	feats.ComplexityScore = complexityOf(intent)
	return lists, feats, nil
}

// graphChannel seeds on entities matching query terms and expands one hop.
func (p *Planner) graphChannel(query string, limit int) (RankedList, []string) {
	list := RankedList{Channel: "graph"}
	if p.graph == nil || p.graph.Stale() {
		return list, nil
	}

	var detected []string
	seen := make(map[string]bool)
	for _, term := range queryTerms(query) {
		for _, ent := range p.graph.FindEntitiesByPattern(term) {
			if ent.SpanHash == "" || seen[ent.SpanHash] {
				continue
			}
			seen[ent.SpanHash] = true
			detected = append(detected, ent.ID)
			list.Candidates = append(list.Candidates, Candidate{
				SpanHash: ent.SpanHash, FilePath: ent.FilePath, Symbol: ent.Name, Score: 1.0,
			})

			neighbors, err := p.graph.GetNeighbors(ent.ID, graph.NeighborQuery{MaxHops: 1})
			if err != nil {
				continue
			}
			for _, n := range neighbors {
				if n.Entity.SpanHash == "" || seen[n.Entity.SpanHash] {
					continue
				}
				seen[n.Entity.SpanHash] = true
				list.Candidates = append(list.Candidates, Candidate{
					SpanHash: n.Entity.SpanHash, FilePath: n.Entity.FilePath,
					Symbol: n.Entity.Name, Score: 0.5,
				})
			}
			if len(list.Candidates) >= limit {
				return list, detected
			}
		}
	}
	return list, detected
}

func (p *Planner) relationDensity() float64 {
	if p.graph == nil {
		return 0
	}
	st := p.graph.Stats()
	if st.Entities == 0 {
		return 0
	}
	return float64(st.Relations) / float64(st.Entities)
}

// coverage is the fraction of fused spans the graph channel also saw.
func (p *Planner) coverage(fused []FusedResult) float64 {
	if len(fused) == 0 {
		return 0
	}
	n := 0
	for _, f := range fused {
		if _, ok := f.Channels["graph"]; ok {
			n++
		}
	}
	return float64(n) / float64(len(fused))
}

func complexityOf(intent *QueryIntent) float64 {
	switch intent.IntentType {
	case IntentDebug:
		return 0.8
	case IntentImplementation:
		return 0.6
	case IntentConceptual:
		return 0.4
	default:
		return 0.3
	}
}

// CacheLen reports cached plan count, for status output.
func (p *Planner) CacheLen() int { return p.cache.len() }
