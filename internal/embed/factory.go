package embed

import (
	"context"
	"log/slog"

	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// FallbackProvider tries a primary provider and degrades to the static
// one on failure, so indexing never stalls on a dead embedding host.
// The fallback dimension matches the primary so stored vectors stay
// profile-consistent.
type FallbackProvider struct {
	primary  Provider
	fallback *StaticProvider
	log      *slog.Logger
}

func (p *FallbackProvider) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.primary.EmbedPassages(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	p.log.Warn("embedding provider failed, using static fallback",
		slog.String("model", p.primary.ModelName()),
		slog.String("error", err.Error()))
	return p.fallback.EmbedPassages(ctx, texts)
}

func (p *FallbackProvider) EmbedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.primary.EmbedQueries(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	return p.fallback.EmbedQueries(ctx, texts)
}

func (p *FallbackProvider) ModelName() string { return p.primary.ModelName() }
func (p *FallbackProvider) Dim() int          { return p.primary.Dim() }
func (p *FallbackProvider) Close() error      { return p.primary.Close() }

// NewProvider instantiates a provider for one profile, wrapped in the LRU
// cache. Remote providers additionally get the static fallback.
func NewProvider(profileID string, prof config.EmbeddingProfile, log *slog.Logger) (Provider, error) {
	var inner Provider
	switch prof.Provider {
	case "static", "":
		inner = NewStaticProvider(prof.Dim)
	case "ollama":
		inner = &FallbackProvider{
			primary: NewOllamaProvider(OllamaConfig{
				Host:    prof.URL,
				Model:   prof.Model,
				Dim:     prof.Dim,
				Timeout: prof.Timeout,
			}),
			fallback: NewStaticProvider(prof.Dim),
			log:      log,
		}
	default:
		return nil, llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
			"embeddings.profiles.%s: unknown provider %q", profileID, prof.Provider)
	}
	return NewCachedProvider(inner, 0)
}

// Profiles builds all configured providers keyed by profile id.
func Profiles(cfg *config.Config, log *slog.Logger) (map[string]Provider, error) {
	out := make(map[string]Provider, len(cfg.Embeddings.Profiles))
	for id, prof := range cfg.Embeddings.Profiles {
		p, err := NewProvider(id, prof, log)
		if err != nil {
			for _, open := range out {
				_ = open.Close()
			}
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}
