// Package splitter parses source files into semantic spans.
//
// A span is a content-addressed, language-aware chunk of source text
// corresponding to a symbol or block. The span set for a file is an ordered
// partition: every line of the file belongs to exactly one span. Span hashes
// are computed over a normalized body so cosmetic moves (line-number shifts,
// trailing whitespace) do not change identity.
package splitter

import "context"

// SpanKind is the kind of source construct a span covers.
type SpanKind string

const (
	KindFunction   SpanKind = "function"
	KindClass      SpanKind = "class"
	KindMethod     SpanKind = "method"
	KindBlock      SpanKind = "block"
	KindDocSection SpanKind = "doc-section"
)

// Span is a retrievable unit of source text.
type Span struct {
	// SpanHash is SHA-256 over {language, symbol, kind, normalized body}.
	// Stable across line-number moves when the body is unchanged.
	SpanHash string

	// FilePath is repo-relative.
	FilePath string

	// Symbol is the declared name, or the hierarchical section path for
	// doc-sections, or "" for gap blocks.
	Symbol string

	Kind      SpanKind
	StartLine int // 1-indexed
	EndLine   int // inclusive
	Text      string

	// Imports are the module paths imported by the file (attached to every
	// span so retrieval can surface dependencies).
	Imports []string

	// ParseDegraded marks spans produced by the whole-file fallback after
	// a parse error.
	ParseDegraded bool
}

// FileInput is the splitter input.
type FileInput struct {
	Path     string
	Language string
	Content  []byte
}

// Splitter turns a file into an ordered span partition.
type Splitter interface {
	Split(ctx context.Context, file *FileInput) ([]*Span, error)
}

// MaxDocChunkChars is the per-chunk size ceiling for markdown sections.
const MaxDocChunkChars = 2500
