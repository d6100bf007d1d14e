// Package catalog is the durable span/file/enrichment/embedding store.
//
// The catalog owns index_v2.db and its migration ledger. All other
// components access the tables only through this package. Writes are
// serialized through a single writer session; readers run in parallel on
// the shared pool.
package catalog

import (
	"time"

	"github.com/llmc-dev/llmc/internal/splitter"
)

// FileRecord tracks one working-tree file.
type FileRecord struct {
	Path        string // repo-relative, unique
	Language    string
	ContentHash string // SHA-256 of bytes, recomputed on every ingest
	Size        int64
	ModTime     time.Time
}

// Quality labels an enrichment's usefulness.
type Quality string

const (
	QualityReal        Quality = "real"
	QualityPlaceholder Quality = "placeholder"
	QualityFake        Quality = "fake"
)

// Complexity is the enrichment complexity bucket.
type Complexity string

const (
	ComplexityLow     Complexity = "low"
	ComplexityMedium  Complexity = "medium"
	ComplexityHigh    Complexity = "high"
	ComplexityUnknown Complexity = "unknown"
)

// Enrichment is the current LLM summary attached to a span.
// One current enrichment exists per span_hash; quality != real means the
// span is still pending re-attempt subject to cooldown.
type Enrichment struct {
	SpanHash        string
	Summary         string
	KeyTopics       []string
	Complexity      Complexity
	Model           string
	BackendHost     string
	TokensPerSecond float64
	AttemptsLog     []AttemptRecord
	Quality         Quality
	CreatedAt       time.Time
}

// AttemptRecord captures one backend attempt for telemetry.
type AttemptRecord struct {
	Backend    string        `json:"backend"`
	Model      string        `json:"model"`
	Outcome    string        `json:"outcome"` // ok|timeout|http_error|parse_error|rate_limited|skipped
	Detail     string        `json:"detail,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	At         time.Time     `json:"at"`
}

// Embedding is a stored vector for (span_hash, profile).
type Embedding struct {
	SpanHash  string
	ProfileID string
	Dim       int
	Vector    []byte // packed little-endian f32
	Model     string
}

// PendingSpan is a span awaiting enrichment or embedding.
type PendingSpan struct {
	Span          *splitter.Span
	PriorFailures int
}

// Stats summarizes catalog contents.
type Stats struct {
	Files        int `json:"files"`
	Spans        int `json:"spans"`
	Enrichments  int `json:"enrichments"`
	EnrichedReal int `json:"enriched_real"`
	Embeddings   int `json:"embeddings"`
}

// LexicalResult is one FTS hit.
type LexicalResult struct {
	SpanHash    string
	FilePath    string
	Symbol      string
	Score       float64
	SymbolScore float64
	BodyScore   float64
}
