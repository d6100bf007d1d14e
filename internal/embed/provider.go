// Package embed provides pluggable text-to-vector providers.
//
// Each configured profile (e.g. "code", "docs") is an independent provider
// instance with its own model and dimension. Vectors are persisted as
// packed little-endian f32 so the roundtrip is bit-exact.
package embed

import (
	"context"
	"math"
)

// Provider generates embeddings for passages and queries. Passage and
// query embedding may be identical; providers that distinguish them apply
// model-specific prefixes.
type Provider interface {
	EmbedPassages(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQueries(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
	Dim() int
	Close() error
}

// normalize scales a vector to unit length. Zero vectors pass through.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	mag := math.Sqrt(sum)
	if mag == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}
