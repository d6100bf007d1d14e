package lexical

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/llmc-dev/llmc/internal/catalog"
	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/splitter"
)

// bleveBackend maintains a standalone bleve index keyed by span hash.
// Symbol and body are separate fields so column weighting carries over
// from the sqlite backend via query boosts.
type bleveBackend struct {
	mu           sync.RWMutex
	index        bleve.Index
	symbolWeight float64
	bodyWeight   float64
	closed       bool
}

type bleveDoc struct {
	Symbol   string `json:"symbol"`
	Body     string `json:"body"`
	FilePath string `json:"file_path"`
}

func newBleveBackend(repoRoot string, symbolWeight, bodyWeight float64) (*bleveBackend, error) {
	path := filepath.Join(config.IndexDir(repoRoot), "bleve")

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, llmcerrors.Integrity("cannot open bleve index", err)
	}

	if symbolWeight <= 0 {
		symbolWeight = 4.0
	}
	if bodyWeight <= 0 {
		bodyWeight = 1.0
	}
	return &bleveBackend{index: idx, symbolWeight: symbolWeight, bodyWeight: bodyWeight}, nil
}

func (b *bleveBackend) Index(ctx context.Context, spans []*splitter.Span) error {
	if len(spans) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return llmcerrors.Integrity("bleve index closed", nil)
	}

	batch := b.index.NewBatch()
	for _, sp := range spans {
		doc := bleveDoc{Symbol: sp.Symbol, Body: sp.Text, FilePath: sp.FilePath}
		if err := batch.Index(sp.SpanHash, doc); err != nil {
			return err
		}
	}
	return b.index.Batch(batch)
}

func (b *bleveBackend) Delete(ctx context.Context, spanHashes []string) error {
	if len(spanHashes) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return llmcerrors.Integrity("bleve index closed", nil)
	}

	batch := b.index.NewBatch()
	for _, h := range spanHashes {
		batch.Delete(h)
	}
	return b.index.Batch(batch)
}

func (b *bleveBackend) Search(ctx context.Context, query string, limit int) ([]*catalog.LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, llmcerrors.Integrity("bleve index closed", nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	symbolQuery := bleve.NewMatchQuery(query)
	symbolQuery.SetField("symbol")
	symbolQuery.SetBoost(b.symbolWeight)

	bodyQuery := bleve.NewMatchQuery(query)
	bodyQuery.SetField("body")
	bodyQuery.SetBoost(b.bodyWeight)

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(symbolQuery, bodyQuery))
	req.Size = limit
	req.Fields = []string{"symbol", "file_path"}

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make([]*catalog.LexicalResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := &catalog.LexicalResult{SpanHash: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["symbol"].(string); ok {
			r.Symbol = v
		}
		if v, ok := hit.Fields["file_path"].(string); ok {
			r.FilePath = v
		}
		out = append(out, r)
	}
	return out, nil
}

func (b *bleveBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
