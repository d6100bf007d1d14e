// Package graph owns the per-repo graph artifact and its adjacency index.
//
// The artifact is a single content-addressed JSON file at
// .llmc/rag_graph.json. A process loads it once and caches it; reload is
// triggered only by an mtime change. span_link_hash ties the artifact to
// the catalog's span set: a mismatch marks the graph stale until rebuilt.
package graph

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio"

	"github.com/llmc-dev/llmc/internal/catalog"
	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/schema"
)

// ArtifactFileName is the graph artifact file inside the state directory.
const ArtifactFileName = "rag_graph.json"

// Artifact is the persisted graph.
type Artifact struct {
	SchemaVersion int               `json:"schema_version"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Repo          string            `json:"repo"`
	Files         []string          `json:"files"`
	Entities      []schema.Entity   `json:"entities"`
	Relations     []schema.Relation `json:"relations"`
	SpanLinkHash  string            `json:"span_link_hash"`
	// PropStamps holds the last-writer stamp per "entityID\x00key" so
	// concurrent property merges resolve the same way in any order.
	PropStamps map[string]PropStamp `json:"prop_stamps,omitempty"`
}

// PropStamp orders property writes. Ties on time break by agent id.
type PropStamp struct {
	UnixNanos int64  `json:"t"`
	AgentID   string `json:"agent"`
}

// Before reports whether s was written before o.
func (s PropStamp) Before(o PropStamp) bool {
	if s.UnixNanos != o.UnixNanos {
		return s.UnixNanos < o.UnixNanos
	}
	return s.AgentID < o.AgentID
}

// Stats summarizes the loaded graph.
type Stats struct {
	Entities  int       `json:"entities"`
	Relations int       `json:"relations"`
	Files     int       `json:"files"`
	Stale     bool      `json:"stale"`
	Generated time.Time `json:"generated_at"`
}

// Neighbor is one BFS result with the hop distance from the seed.
type Neighbor struct {
	Entity   schema.Entity
	Relation string
	Hops     int
}

// NeighborQuery bounds a traversal.
type NeighborQuery struct {
	MaxHops      int
	EdgeFilter   []string // empty = all relation types
	MaxNeighbors int
}

// Store serves the cached artifact and adjacency index.
type Store struct {
	path string

	mu       sync.RWMutex
	artifact *Artifact
	mtime    time.Time
	stale    bool
	byID     map[string]schema.Entity
	out      map[string][]edge
	in       map[string][]edge
}

type edge struct {
	other   string
	relType string
}

// NewStore creates a store for a repo root. Nothing is loaded until the
// first Load call.
func NewStore(repoRoot string) *Store {
	return &Store{path: filepath.Join(config.StateDir(repoRoot), ArtifactFileName)}
}

// ArtifactPath returns the artifact location.
func (s *Store) ArtifactPath() string { return s.path }

// Validate checks graph invariants: unique entity ids and no dangling
// edges.
func Validate(a *Artifact) error {
	seen := make(map[string]bool, len(a.Entities))
	for _, e := range a.Entities {
		if seen[e.ID] {
			return llmcerrors.Newf(llmcerrors.CodeGraphInvariant,
				"duplicate entity id %s", e.ID)
		}
		seen[e.ID] = true
	}
	for _, r := range a.Relations {
		if !seen[r.Src] || !seen[r.Dst] {
			return llmcerrors.Newf(llmcerrors.CodeGraphInvariant,
				"dangling edge %s -%s-> %s", r.Src, r.Type, r.Dst)
		}
	}
	return nil
}

// Write validates and atomically persists a new artifact, then refreshes
// the in-process cache. Callers serialize writes through the MERGE_META
// lock.
func (s *Store) Write(a *Artifact) error {
	if err := Validate(a); err != nil {
		return err
	}
	a.SchemaVersion = catalog.SchemaVersion
	if a.GeneratedAt.IsZero() {
		a.GeneratedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return llmcerrors.New(llmcerrors.CodePathInvalid, "cannot create state directory", err)
	}
	if err := renameio.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		return llmcerrors.New(llmcerrors.CodePathInvalid, "cannot write graph artifact", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if info, statErr := os.Stat(s.path); statErr == nil {
		s.mtime = info.ModTime()
	}
	s.install(a)
	return nil
}

// Load returns the current artifact, reloading from disk only when the
// file's mtime changed. currentLinkHash is the catalog's span link hash;
// a mismatch flags the graph stale (the artifact is still returned so
// callers can decide to rebuild).
func (s *Store) Load(currentLinkHash string) (*Artifact, error) {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.artifact = nil
		s.stale = true
		s.mu.Unlock()
		return nil, nil
	}
	if err != nil {
		return nil, llmcerrors.New(llmcerrors.CodePathInvalid, "cannot stat graph artifact", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.artifact == nil || !info.ModTime().Equal(s.mtime) {
		data, err := os.ReadFile(s.path)
		if err != nil {
			return nil, llmcerrors.New(llmcerrors.CodePathInvalid, "cannot read graph artifact", err)
		}
		a := &Artifact{}
		if err := json.Unmarshal(data, a); err != nil {
			return nil, llmcerrors.Integrity("corrupt graph artifact", err)
		}
		if err := Validate(a); err != nil {
			return nil, err
		}
		s.mtime = info.ModTime()
		s.install(a)
	}

	s.stale = currentLinkHash != "" && s.artifact.SpanLinkHash != currentLinkHash
	return s.artifact, nil
}

// Stale reports the last staleness verdict from Load.
func (s *Store) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale
}

// install rebuilds the adjacency index. Caller holds s.mu.
func (s *Store) install(a *Artifact) {
	s.artifact = a
	s.byID = make(map[string]schema.Entity, len(a.Entities))
	s.out = make(map[string][]edge)
	s.in = make(map[string][]edge)
	for _, e := range a.Entities {
		s.byID[e.ID] = e
	}
	for _, r := range a.Relations {
		s.out[r.Src] = append(s.out[r.Src], edge{other: r.Dst, relType: r.Type})
		s.in[r.Dst] = append(s.in[r.Dst], edge{other: r.Src, relType: r.Type})
	}
}

// GetNeighbors runs a bounded BFS over both edge directions with cycle
// detection. Results are ordered by hop count then entity id.
func (s *Store) GetNeighbors(entityID string, q NeighborQuery) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.artifact == nil {
		return nil, llmcerrors.Integrity("graph not loaded", nil)
	}
	if _, ok := s.byID[entityID]; !ok {
		return nil, llmcerrors.Newf(llmcerrors.CodePathNotFound,
			"unknown entity %s", entityID)
	}
	if q.MaxHops <= 0 {
		q.MaxHops = 1
	}
	if q.MaxNeighbors <= 0 {
		q.MaxNeighbors = 50
	}

	allowed := map[string]bool{}
	for _, t := range q.EdgeFilter {
		allowed[t] = true
	}

	type frontierItem struct {
		id   string
		hops int
	}
	visited := map[string]bool{entityID: true}
	frontier := []frontierItem{{id: entityID, hops: 0}}
	var result []Neighbor

	for len(frontier) > 0 && len(result) < q.MaxNeighbors {
		cur := frontier[0]
		frontier = frontier[1:]
		if cur.hops >= q.MaxHops {
			continue
		}
		edges := append(append([]edge{}, s.out[cur.id]...), s.in[cur.id]...)
		sort.Slice(edges, func(i, j int) bool { return edges[i].other < edges[j].other })
		for _, e := range edges {
			if visited[e.other] {
				continue
			}
			if len(allowed) > 0 && !allowed[e.relType] {
				continue
			}
			visited[e.other] = true
			result = append(result, Neighbor{
				Entity:   s.byID[e.other],
				Relation: e.relType,
				Hops:     cur.hops + 1,
			})
			if len(result) >= q.MaxNeighbors {
				break
			}
			frontier = append(frontier, frontierItem{id: e.other, hops: cur.hops + 1})
		}
	}
	return result, nil
}

// FindEntitiesByPattern matches entity names against a glob pattern, or a
// case-insensitive substring when the pattern has no glob metacharacters.
func (s *Store) FindEntitiesByPattern(pattern string) []schema.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.artifact == nil {
		return nil
	}
	hasGlob := strings.ContainsAny(pattern, "*?[")
	lower := strings.ToLower(pattern)

	var out []schema.Entity
	for _, e := range s.artifact.Entities {
		if hasGlob {
			if ok, _ := path.Match(pattern, e.Name); ok {
				out = append(out, e)
			}
		} else if strings.Contains(strings.ToLower(e.Name), lower) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns counts for the loaded artifact.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.artifact == nil {
		return Stats{Stale: true}
	}
	return Stats{
		Entities:  len(s.artifact.Entities),
		Relations: len(s.artifact.Relations),
		Files:     len(s.artifact.Files),
		Stale:     s.stale,
		Generated: s.artifact.GeneratedAt,
	}
}
