package maasl

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmc-dev/llmc/internal/graph"
	"github.com/llmc-dev/llmc/internal/schema"
)

func baseArtifact() *graph.Artifact {
	return &graph.Artifact{
		SchemaVersion: 1,
		GeneratedAt:   time.Now().UTC(),
		Entities: []schema.Entity{
			{ID: "function:app.main", Kind: "function", Name: "main", FilePath: "app.py"},
		},
	}
}

func patchA() *GraphPatch {
	return &GraphPatch{
		AgentID: "agent-a",
		NodesAdd: []schema.Entity{
			{ID: "function:app.helper", Kind: "function", Name: "helper", FilePath: "app.py"},
		},
		EdgesAdd: []schema.Relation{
			{Src: "function:app.main", Dst: "function:app.helper", Type: "calls", Confidence: 1.0},
		},
	}
}

func patchB() *GraphPatch {
	return &GraphPatch{
		AgentID: "agent-b",
		NodesAdd: []schema.Entity{
			{ID: "class:app.Config", Kind: "class", Name: "Config", FilePath: "app.py"},
		},
		EdgesAdd: []schema.Relation{
			{Src: "function:app.main", Dst: "class:app.Config", Type: "uses", Confidence: 0.8},
		},
	}
}

func TestApplyPatchIdempotent(t *testing.T) {
	a := baseArtifact()
	first := ApplyPatch(a, patchA())
	second := ApplyPatch(a, patchA())

	assert.Equal(t, first.Entities, second.Entities)
	assert.Equal(t, first.Relations, second.Relations)
	assert.Zero(t, second.Conflicts, "re-applying the same patch is conflict free")
	assert.Len(t, a.Relations, 1)
}

func TestApplyPatchCommutes(t *testing.T) {
	ab := baseArtifact()
	ApplyPatch(ab, patchA())
	ApplyPatch(ab, patchB())

	ba := baseArtifact()
	ApplyPatch(ba, patchB())
	ApplyPatch(ba, patchA())

	assert.ElementsMatch(t, ab.Entities, ba.Entities)
	assert.ElementsMatch(t, ab.Relations, ba.Relations)
}

func TestApplyPatchNoDanglingEdges(t *testing.T) {
	a := baseArtifact()
	ApplyPatch(a, &GraphPatch{
		AgentID: "agent-a",
		EdgesAdd: []schema.Relation{
			{Src: "function:app.main", Dst: "function:lib.mystery", Type: "calls", Confidence: 0.4},
		},
	})
	require.NoError(t, graph.Validate(a), "placeholder endpoint keeps the artifact valid")
}

func TestPropsLastWriterWinsEitherOrder(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	early := &GraphPatch{AgentID: "agent-a", PropsSet: []PropWrite{
		{EntityID: "function:app.main", Key: "owner", Value: "team-core", At: base, AgentID: "agent-a"},
	}}
	late := &GraphPatch{AgentID: "agent-b", PropsSet: []PropWrite{
		{EntityID: "function:app.main", Key: "owner", Value: "team-infra", At: base.Add(time.Minute), AgentID: "agent-b"},
	}}

	forward := baseArtifact()
	r1 := ApplyPatch(forward, early)
	r2 := ApplyPatch(forward, late)
	assert.Zero(t, r1.Conflicts)
	assert.Equal(t, 1, r2.Conflicts)

	reverse := baseArtifact()
	ApplyPatch(reverse, late)
	r4 := ApplyPatch(reverse, early)
	assert.Equal(t, 1, r4.Conflicts, "conflict is visible in both apply orders")

	assert.Equal(t, "team-infra", forward.Entities[0].Props["owner"])
	assert.Equal(t, forward.Entities[0].Props, reverse.Entities[0].Props,
		"later (timestamp, agent) wins regardless of arrival order")
}

func TestPropsClearBeatsOlderSet(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := baseArtifact()
	ApplyPatch(a, &GraphPatch{AgentID: "agent-b", PropsClear: []PropWrite{
		{EntityID: "function:app.main", Key: "owner", At: base.Add(time.Minute), AgentID: "agent-b"},
	}})
	ApplyPatch(a, &GraphPatch{AgentID: "agent-a", PropsSet: []PropWrite{
		{EntityID: "function:app.main", Key: "owner", Value: "team-core", At: base, AgentID: "agent-a"},
	}})
	assert.NotContains(t, a.Entities[0].Props, "owner",
		"a newer clear is not resurrected by an older set")
}

func TestConcreteEntityUpgradesPlaceholder(t *testing.T) {
	a := baseArtifact()
	ApplyPatch(a, &GraphPatch{AgentID: "agent-a", EdgesAdd: []schema.Relation{
		{Src: "function:app.main", Dst: "function:lib.util", Type: "calls", Confidence: 0.4},
	}})
	res := ApplyPatch(a, &GraphPatch{AgentID: "agent-b", NodesAdd: []schema.Entity{
		{ID: "function:lib.util", Kind: "function", Name: "util", FilePath: "lib.py"},
	}})
	assert.Zero(t, res.Conflicts, "upgrading a placeholder is not a conflict")

	for _, e := range a.Entities {
		if e.ID == "function:lib.util" {
			assert.Equal(t, "lib.py", e.FilePath)
			return
		}
	}
	t.Fatal("entity not found")
}

func TestMergeGraphPersistsThroughStore(t *testing.T) {
	root := t.TempDir()
	m := NewManager()
	store := graph.NewStore(root)
	require.NoError(t, store.Write(baseArtifact()))

	agent := uuid.NewString()
	p := patchA()
	p.AgentID = agent
	res, err := m.MergeGraph(context.Background(), store, p)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entities)
	assert.Equal(t, 1, res.Relations)

	reread := graph.NewStore(root)
	a, err := reread.Load("")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Len(t, a.Relations, 1)
}
