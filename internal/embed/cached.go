package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 4096

// CachedProvider memoizes embeddings by text hash. Enrichment and graph
// rebuilds re-embed many unchanged spans; the cache turns those into map
// lookups.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCachedProvider wraps a provider with an LRU cache of the given size.
func NewCachedProvider(inner Provider, size int) (*CachedProvider, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedProvider{inner: inner, cache: cache}, nil
}

func (p *CachedProvider) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embed(ctx, texts, "p:", p.inner.EmbedPassages)
}

func (p *CachedProvider) EmbedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embed(ctx, texts, "q:", p.inner.EmbedQueries)
}

func (p *CachedProvider) embed(ctx context.Context, texts []string, prefix string,
	fn func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, t := range texts {
		if v, ok := p.cache.Get(cacheKey(prefix, t)); ok {
			out[i] = v
		} else {
			missing = append(missing, t)
			missingIdx = append(missingIdx, i)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := fn(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		i := missingIdx[j]
		out[i] = v
		p.cache.Add(cacheKey(prefix, texts[i]), v)
	}
	return out, nil
}

func (p *CachedProvider) ModelName() string { return p.inner.ModelName() }
func (p *CachedProvider) Dim() int          { return p.inner.Dim() }
func (p *CachedProvider) Close() error      { return p.inner.Close() }

// Len reports the current cache population.
func (p *CachedProvider) Len() int { return p.cache.Len() }

func cacheKey(prefix, text string) string {
	sum := sha256.Sum256([]byte(text))
	return prefix + hex.EncodeToString(sum[:16])
}
