package maasl

import (
	"context"
	"time"

	"github.com/llmc-dev/llmc/internal/graph"
	"github.com/llmc-dev/llmc/internal/schema"
)

// GraphPatch is one agent's additive update to the graph artifact.
// Patches are designed so that applying the same patch twice changes
// nothing, and non-conflicting patches land identically in any order.
type GraphPatch struct {
	AgentID    string            `json:"agent_id"`
	NodesAdd   []schema.Entity   `json:"nodes_add,omitempty"`
	EdgesAdd   []schema.Relation `json:"edges_add,omitempty"`
	PropsSet   []PropWrite       `json:"props_set,omitempty"`
	PropsClear []PropWrite       `json:"props_clear,omitempty"`
}

// PropWrite sets or clears one property on an entity. At and AgentID
// order concurrent writes; clears carry an empty Value.
type PropWrite struct {
	EntityID string    `json:"entity_id"`
	Key      string    `json:"key"`
	Value    string    `json:"value,omitempty"`
	At       time.Time `json:"at"`
	AgentID  string    `json:"agent_id"`
}

// MergeResult reports one merge.
type MergeResult struct {
	Entities  int `json:"entities"`
	Relations int `json:"relations"`
	Conflicts int `json:"conflicts"`
}

// MergeGraph applies a patch to the persisted artifact under MERGE_META
// and rewrites it atomically.
func (m *Manager) MergeGraph(ctx context.Context, store *graph.Store, patch *GraphPatch) (*MergeResult, error) {
	lease, err := m.Acquire(ctx, ClassMergeMeta, "graph:"+store.ArtifactPath(), patch.AgentID)
	if err != nil {
		return nil, err
	}
	defer m.Release(lease)

	artifact, err := store.Load("")
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		artifact = &graph.Artifact{SchemaVersion: 1, GeneratedAt: time.Now().UTC()}
	}

	res := ApplyPatch(artifact, patch)
	if err := m.Check(lease); err != nil {
		return nil, err
	}
	if err := store.Write(artifact); err != nil {
		return nil, err
	}
	return res, nil
}

// ApplyPatch merges a patch into an artifact in place.
//
// Nodes: set-union on entity id. A placeholder (no file path) upgrades to
// any concrete entity without conflict; two differing concrete entities
// are a conflict resolved toward the one that orders lower, so both apply
// orders converge.
// Edges: set-union on (src, dst, type), keeping the higher confidence.
// An edge naming an unknown endpoint gets a placeholder entity so the
// artifact never carries a dangling edge.
// Props: last writer wins on (timestamp, agent id); stamps persist in the
// artifact so later merges see earlier winners.
func ApplyPatch(a *graph.Artifact, p *GraphPatch) *MergeResult {
	res := &MergeResult{}

	byID := make(map[string]int, len(a.Entities))
	for i, e := range a.Entities {
		byID[e.ID] = i
	}
	addEntity := func(e schema.Entity) {
		i, ok := byID[e.ID]
		if !ok {
			byID[e.ID] = len(a.Entities)
			a.Entities = append(a.Entities, e)
			return
		}
		cur := &a.Entities[i]
		if entityEqual(*cur, e) {
			return
		}
		if cur.FilePath == "" && e.FilePath != "" {
			e.Props = mergeProps(cur.Props, e.Props)
			a.Entities[i] = e
			return
		}
		if e.FilePath == "" {
			return
		}
		res.Conflicts++
		if entityLess(e, *cur) {
			e.Props = mergeProps(cur.Props, e.Props)
			a.Entities[i] = e
		}
	}
	for _, e := range p.NodesAdd {
		addEntity(e)
	}

	type edgeKey struct{ src, dst, typ string }
	edges := make(map[edgeKey]int, len(a.Relations))
	for i, r := range a.Relations {
		edges[edgeKey{r.Src, r.Dst, r.Type}] = i
	}
	for _, r := range p.EdgesAdd {
		for _, end := range []string{r.Src, r.Dst} {
			if _, ok := byID[end]; !ok {
				addEntity(schema.Entity{ID: end, Kind: kindOfID(end), Name: nameOfID(end)})
			}
		}
		k := edgeKey{r.Src, r.Dst, r.Type}
		if i, ok := edges[k]; ok {
			if r.Confidence > a.Relations[i].Confidence {
				a.Relations[i].Confidence = r.Confidence
			}
			continue
		}
		edges[k] = len(a.Relations)
		a.Relations = append(a.Relations, r)
	}

	if a.PropStamps == nil && (len(p.PropsSet) > 0 || len(p.PropsClear) > 0) {
		a.PropStamps = make(map[string]graph.PropStamp)
	}
	applyProp := func(w PropWrite, clear bool) {
		i, ok := byID[w.EntityID]
		if !ok {
			res.Conflicts++
			return
		}
		stampKey := w.EntityID + "\x00" + w.Key
		stamp := graph.PropStamp{UnixNanos: w.At.UnixNano(), AgentID: w.AgentID}
		if prev, ok := a.PropStamps[stampKey]; ok {
			if stamp == prev {
				return
			}
			if prev.AgentID != stamp.AgentID {
				res.Conflicts++
			}
			if stamp.Before(prev) {
				return
			}
		}
		a.PropStamps[stampKey] = stamp
		ent := &a.Entities[i]
		if clear {
			delete(ent.Props, w.Key)
			return
		}
		if ent.Props == nil {
			ent.Props = make(map[string]string)
		}
		ent.Props[w.Key] = w.Value
	}
	for _, w := range p.PropsSet {
		applyProp(w, false)
	}
	for _, w := range p.PropsClear {
		applyProp(w, true)
	}

	res.Entities = len(a.Entities)
	res.Relations = len(a.Relations)
	return res
}

func entityEqual(a, b schema.Entity) bool {
	return a.ID == b.ID && a.Kind == b.Kind && a.Name == b.Name &&
		a.FilePath == b.FilePath && a.SpanHash == b.SpanHash
}

// entityLess orders conflicting concrete entities deterministically.
func entityLess(a, b schema.Entity) bool {
	if a.FilePath != b.FilePath {
		return a.FilePath < b.FilePath
	}
	if a.SpanHash != b.SpanHash {
		return a.SpanHash < b.SpanHash
	}
	return a.Name < b.Name
}

func mergeProps(old, next map[string]string) map[string]string {
	if len(old) == 0 {
		return next
	}
	out := make(map[string]string, len(old)+len(next))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range next {
		out[k] = v
	}
	return out
}

func kindOfID(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return id[:i]
		}
	}
	return ""
}

func nameOfID(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return id[i+1:]
		}
	}
	return id
}
