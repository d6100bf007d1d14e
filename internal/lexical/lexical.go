// Package lexical abstracts the keyword-search backend behind one
// interface so the FTS5 tables inside the catalog and a standalone bleve
// index are interchangeable via configuration.
package lexical

import (
	"context"

	"github.com/llmc-dev/llmc/internal/catalog"
	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/splitter"
)

// Backend is the lexical search contract. Index and Delete keep external
// backends in sync with the catalog; the sqlite backend maintains its FTS
// tables inside ReplaceSpans and treats both as no-ops.
type Backend interface {
	Index(ctx context.Context, spans []*splitter.Span) error
	Delete(ctx context.Context, spanHashes []string) error
	Search(ctx context.Context, query string, limit int) ([]*catalog.LexicalResult, error)
	Close() error
}

// New selects the backend named in config.
func New(cfg *config.Config, cat *catalog.Store, repoRoot string) (Backend, error) {
	switch cfg.Search.LexicalBackend {
	case "", "sqlite":
		return &sqliteBackend{
			cat:          cat,
			symbolWeight: cfg.Search.SymbolWeight,
			bodyWeight:   cfg.Search.BodyWeight,
		}, nil
	case "bleve":
		return newBleveBackend(repoRoot, cfg.Search.SymbolWeight, cfg.Search.BodyWeight)
	default:
		return nil, llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
			"unknown lexical backend %q", cfg.Search.LexicalBackend)
	}
}

// sqliteBackend serves search from the catalog's FTS5 tables.
type sqliteBackend struct {
	cat          *catalog.Store
	symbolWeight float64
	bodyWeight   float64
}

func (b *sqliteBackend) Index(ctx context.Context, spans []*splitter.Span) error { return nil }
func (b *sqliteBackend) Delete(ctx context.Context, spanHashes []string) error   { return nil }

func (b *sqliteBackend) Search(ctx context.Context, query string, limit int) ([]*catalog.LexicalResult, error) {
	return b.cat.SearchLexical(ctx, query, limit, b.symbolWeight, b.bodyWeight)
}

func (b *sqliteBackend) Close() error { return nil }
