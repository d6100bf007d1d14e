package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"unicode"
)

// StaticProvider generates deterministic hash-based embeddings with no
// network or model dependency. It is the fallback when no provider is
// configured or a remote one fails; quality is reduced but results are
// stable across processes.
type StaticProvider struct {
	dim int
}

const (
	staticTokenWeight = 0.7
	staticNgramWeight = 0.3
	staticNgramSize   = 3
)

// codeStopWords filters language keywords that carry no retrieval signal.
var codeStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

var staticTokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticProvider creates a static provider with the given dimension.
func NewStaticProvider(dim int) *StaticProvider {
	if dim <= 0 {
		dim = 256
	}
	return &StaticProvider{dim: dim}
}

func (p *StaticProvider) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out[i] = p.embedOne(t)
	}
	return out, nil
}

func (p *StaticProvider) EmbedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	return p.EmbedPassages(ctx, texts)
}

func (p *StaticProvider) ModelName() string { return "static" }
func (p *StaticProvider) Dim() int          { return p.dim }
func (p *StaticProvider) Close() error      { return nil }

func (p *StaticProvider) embedOne(text string) []float32 {
	v := make([]float32, p.dim)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return v
	}

	for _, tok := range tokenize(trimmed) {
		v[hashToIndex(tok, p.dim)] += staticTokenWeight
	}
	for _, ng := range ngrams(strings.ToLower(trimmed), staticNgramSize) {
		v[hashToIndex(ng, p.dim)] += staticNgramWeight
	}
	return normalize(v)
}

// tokenize splits on non-alphanumerics, then breaks camelCase and
// snake_case compounds into their parts plus the whole.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range staticTokenRegex.FindAllString(text, -1) {
		lower := strings.ToLower(word)
		if codeStopWords[lower] {
			continue
		}
		tokens = append(tokens, lower)
		for _, part := range splitCamel(word) {
			if part != lower {
				tokens = append(tokens, part)
			}
		}
	}
	return tokens
}

func splitCamel(word string) []string {
	var parts []string
	var cur strings.Builder
	for i, r := range word {
		if i > 0 && unicode.IsUpper(r) && cur.Len() > 0 {
			parts = append(parts, strings.ToLower(cur.String()))
			cur.Reset()
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		parts = append(parts, strings.ToLower(cur.String()))
	}
	if len(parts) <= 1 {
		return nil
	}
	return parts
}

func ngrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		return nil
	}
	out := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		out = append(out, string(runes[i:i+n]))
	}
	return out
}

func hashToIndex(s string, dim int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dim))
}
