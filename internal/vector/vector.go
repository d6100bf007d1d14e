// Package vector provides the per-profile approximate-nearest-neighbor
// index over span embeddings. One Index exists per embedding profile; it
// is an in-process cache rebuilt from the catalog's embeddings table, so
// losing it is never a durability problem.
package vector

import (
	"context"
	"sync"

	"github.com/coder/hnsw"

	"github.com/llmc-dev/llmc/internal/catalog"
	"github.com/llmc-dev/llmc/internal/embed"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// Result is one nearest-neighbor hit. Score is cosine similarity mapped
// to [0, 1], higher is better.
type Result struct {
	SpanHash string
	Score    float32
}

// Index is an HNSW graph keyed by span hash.
type Index struct {
	profileID string
	dim       int

	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	keyByID map[string]uint64
	idByKey map[uint64]string
	nextKey uint64
}

// NewIndex creates an empty index for one profile.
func NewIndex(profileID string, dim int) *Index {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25
	return &Index{
		profileID: profileID,
		dim:       dim,
		graph:     graph,
		keyByID:   make(map[string]uint64),
		idByKey:   make(map[uint64]string),
	}
}

// Add inserts or replaces vectors by span hash. Replacement is lazy: the
// old graph node is orphaned rather than deleted, since removing nodes
// can break the graph's entry point.
func (ix *Index) Add(spanHashes []string, vectors [][]float32) error {
	if len(spanHashes) != len(vectors) {
		return llmcerrors.Integrity("span hash and vector counts differ", nil)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for i, id := range spanHashes {
		if len(vectors[i]) != ix.dim {
			return llmcerrors.Newf(llmcerrors.CodeIntegrity,
				"vector dim %d does not match profile %s dim %d",
				len(vectors[i]), ix.profileID, ix.dim)
		}
		if oldKey, ok := ix.keyByID[id]; ok {
			delete(ix.idByKey, oldKey)
		}
		key := ix.nextKey
		ix.nextKey++
		ix.graph.Add(hnsw.MakeNode(key, vectors[i]))
		ix.keyByID[id] = key
		ix.idByKey[key] = id
	}
	return nil
}

// Remove drops span hashes from the index (lazy deletion).
func (ix *Index) Remove(spanHashes []string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, id := range spanHashes {
		if key, ok := ix.keyByID[id]; ok {
			delete(ix.idByKey, key)
			delete(ix.keyByID, id)
		}
	}
}

// Search returns up to k nearest span hashes. Orphaned nodes are skipped,
// so slightly more than k graph nodes may be visited.
func (ix *Index) Search(query []float32, k int) ([]Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(query) != ix.dim {
		return nil, llmcerrors.Newf(llmcerrors.CodeIntegrity,
			"query dim %d does not match profile %s dim %d", len(query), ix.profileID, ix.dim)
	}
	if ix.graph.Len() == 0 {
		return nil, nil
	}

	// Over-fetch to compensate for lazily deleted nodes.
	nodes := ix.graph.Search(query, k+len(ix.idByKey)/8+1)
	results := make([]Result, 0, k)
	for _, node := range nodes {
		id, ok := ix.idByKey[node.Key]
		if !ok {
			continue
		}
		dist := ix.graph.Distance(query, node.Value)
		results = append(results, Result{SpanHash: id, Score: 1 - dist/2})
		if len(results) >= k {
			break
		}
	}
	return results, nil
}

// Len reports the live vector count.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.keyByID)
}

// ProfileID returns the owning embedding profile.
func (ix *Index) ProfileID() string { return ix.profileID }

// Rebuild loads all stored vectors for the profile from the catalog.
func Rebuild(ctx context.Context, cat *catalog.Store, profileID string, dim int) (*Index, error) {
	stored, err := cat.AllEmbeddings(ctx, profileID)
	if err != nil {
		return nil, err
	}

	ix := NewIndex(profileID, dim)
	ids := make([]string, 0, len(stored))
	vecs := make([][]float32, 0, len(stored))
	for _, e := range stored {
		v, err := embed.DecodeVector(e.Vector)
		if err != nil {
			return nil, err
		}
		ids = append(ids, e.SpanHash)
		vecs = append(vecs, v)
	}
	if err := ix.Add(ids, vecs); err != nil {
		return nil, err
	}
	return ix, nil
}
