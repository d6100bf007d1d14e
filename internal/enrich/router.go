// Package enrich routes spans to LLM backend cascades and runs them.
//
// The router picks a chain per span from configured rules; the pipeline
// executes the cascade with bounded retries, validates the returned JSON,
// grades its quality, and persists the result.
package enrich

import (
	"sort"

	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/splitter"
)

// SliceView is the router input describing one span.
type SliceView struct {
	SpanHash             string
	FilePath             string
	StartLine            int
	EndLine              int
	ContentType          string // "code" or "docs"
	ClassifierConfidence float64
	ApproxTokenCount     int
	PriorFailures        int
}

// RouteDecision names the chain chosen for a span. ChainID "skip" means
// enrichment is suppressed for this span.
type RouteDecision struct {
	ChainID      string
	BackendSpecs []config.BackendSpec
	Reason       string
}

// ChainSkip suppresses enrichment.
const ChainSkip = "skip"

// Router selects backend cascades deterministically: rules sorted by
// priority, first match wins, same input always yields the same decision.
type Router struct {
	rules  []config.RouterRule
	chains map[string]config.ChainConfig
}

// NewRouter builds a router from configuration.
func NewRouter(cfg *config.EnrichmentConfig) *Router {
	rules := make([]config.RouterRule, len(cfg.Router.Rules))
	copy(rules, cfg.Router.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	return &Router{rules: rules, chains: cfg.Chains}
}

// Route picks the chain for one span. With no matching rule, the chain
// named "default" is used if configured; otherwise the span is skipped.
func (r *Router) Route(view *SliceView) (*RouteDecision, error) {
	for _, rule := range r.rules {
		if !ruleMatches(rule, view) {
			continue
		}
		if rule.Chain == ChainSkip {
			return &RouteDecision{ChainID: ChainSkip, Reason: rule.Reason}, nil
		}
		chain, ok := r.chains[rule.Chain]
		if !ok {
			return nil, llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
				"router rule references unknown chain %q", rule.Chain)
		}
		return &RouteDecision{
			ChainID:      rule.Chain,
			BackendSpecs: chain.Backends,
			Reason:       rule.Reason,
		}, nil
	}

	if chain, ok := r.chains["default"]; ok {
		return &RouteDecision{
			ChainID:      "default",
			BackendSpecs: chain.Backends,
			Reason:       "no rule matched",
		}, nil
	}
	return &RouteDecision{ChainID: ChainSkip, Reason: "no rule matched and no default chain"}, nil
}

func ruleMatches(rule config.RouterRule, view *SliceView) bool {
	if rule.ContentType != "" && rule.ContentType != view.ContentType {
		return false
	}
	if rule.MinTokens > 0 && view.ApproxTokenCount < rule.MinTokens {
		return false
	}
	if rule.MaxTokens > 0 && view.ApproxTokenCount > rule.MaxTokens {
		return false
	}
	if rule.MaxPriorFailures > 0 && view.PriorFailures > rule.MaxPriorFailures {
		return false
	}
	return true
}

// ViewForSpan derives the router input from a span.
func ViewForSpan(span *splitter.Span, priorFailures int) *SliceView {
	contentType := "code"
	if span.Kind == splitter.KindDocSection {
		contentType = "docs"
	}
	return &SliceView{
		SpanHash:         span.SpanHash,
		FilePath:         span.FilePath,
		StartLine:        span.StartLine,
		EndLine:          span.EndLine,
		ContentType:      contentType,
		ApproxTokenCount: len(span.Text) / 4,
		PriorFailures:    priorFailures,
	}
}
