package graph

import (
	"context"
	"sort"
	"time"

	"github.com/llmc-dev/llmc/internal/catalog"
	"github.com/llmc-dev/llmc/internal/schema"
)

// Build extracts entities and relations from the catalog's current span
// set and assembles a new artifact tagged with the catalog's span link
// hash. The caller persists it via Store.Write under the merge lock.
func Build(ctx context.Context, repo string, cat *catalog.Store, pruneConfidence float64) (*Artifact, error) {
	files, err := cat.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	ex := schema.NewExtractor(pruneConfidence)
	defer ex.Close()

	batch := make([]*schema.FileSpans, 0, len(files))
	filePaths := make([]string, 0, len(files))
	for _, f := range files {
		spans, err := cat.SpansByFile(ctx, f.Path)
		if err != nil {
			return nil, err
		}
		batch = append(batch, &schema.FileSpans{
			Path:     f.Path,
			Language: f.Language,
			Spans:    spans,
		})
		filePaths = append(filePaths, f.Path)
	}
	sort.Strings(filePaths)

	extraction, err := ex.Extract(ctx, batch)
	if err != nil {
		return nil, err
	}

	linkHash, err := cat.SpanLinkHash(ctx)
	if err != nil {
		return nil, err
	}

	return &Artifact{
		GeneratedAt:  time.Now().UTC(),
		Repo:         repo,
		Files:        filePaths,
		Entities:     extraction.Entities,
		Relations:    extraction.Relations,
		SpanLinkHash: linkHash,
	}, nil
}
