package merge

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgraphrag/kgraphrag/internal/cache"
	"github.com/kgraphrag/kgraphrag/internal/extract"
	"github.com/kgraphrag/kgraphrag/internal/ids"
	"github.com/kgraphrag/kgraphrag/internal/llm"
	"github.com/kgraphrag/kgraphrag/internal/storage"
	"github.com/kgraphrag/kgraphrag/internal/storage/storagetest"
	"github.com/kgraphrag/kgraphrag/model"
)

type fakeLLM struct {
	mu       sync.Mutex
	requests []llm.Request
	response string
	err      error
}

func (f *fakeLLM) do(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func newTestEngine(mem *storagetest.Memory, llmFake *fakeLLM, opts Options) *Engine {
	return NewEngine(mem, mem, llmFake.do, cache.New(mem, false, nil), nil, nil, opts)
}

func singleChunkResult() *extract.Result {
	chunkID := "chunk-abc"
	entity := func(name string, entityType model.EntityType) *model.Entity {
		return &model.Entity{
			Name: name, Type: entityType,
			Description: name + " appears in the meeting in Tokyo.",
			SourceIDs:   []string{chunkID},
		}
	}
	edge := func(src, tgt string) *model.Edge {
		return &model.Edge{
			Source: src, Target: tgt, Weight: 1.0,
			Description: src + " and " + tgt + " met.",
			Keywords:    []string{"meeting"},
			SourceIDs:   []string{chunkID},
		}
	}

	res := &extract.Result{
		ChunkID: chunkID,
		Entities: map[string][]*model.Entity{
			"ALEX":   {entity("ALEX", model.EntityTypePerson)},
			"TAYLOR": {entity("TAYLOR", model.EntityTypePerson)},
			"TOKYO":  {entity("TOKYO", model.EntityTypeGeography)},
		},
		Edges: map[string][]*model.Edge{},
	}
	for _, e := range []*model.Edge{edge("ALEX", "TAYLOR"), edge("ALEX", "TOKYO"), edge("TAYLOR", "TOKYO")} {
		res.Edges[e.Key()] = append(res.Edges[e.Key()], e)
	}
	return res
}

func TestMergeDocumentSingleChunk(t *testing.T) {
	mem := storagetest.NewMemory()
	engine := newTestEngine(mem, &fakeLLM{response: "summary"}, Options{})

	err := engine.MergeDocument(context.Background(), "doc-1", []*extract.Result{singleChunkResult()})
	require.NoError(t, err)

	assert.Len(t, mem.Nodes, 3, "expected exactly ALEX, TAYLOR, TOKYO")
	assert.Len(t, mem.Edges, 3)

	entityVectors := mem.Vectors[storage.NamespaceEntities]
	require.Len(t, entityVectors, 3)
	for id := range entityVectors {
		assert.True(t, strings.HasPrefix(id, "ent-"), "entity vector ID %q should be ent-*", id)
	}
	relationVectors := mem.Vectors[storage.NamespaceRelations]
	assert.GreaterOrEqual(t, len(relationVectors), 3)
	for id, rec := range relationVectors {
		if strings.HasPrefix(id, "rel-") {
			assert.LessOrEqual(t, len(rec.Content), storage.MaxVectorContentChars)
		}
	}
}

func TestMergeIdempotence(t *testing.T) {
	mem := storagetest.NewMemory()
	engine := newTestEngine(mem, &fakeLLM{response: "summary"}, Options{})
	ctx := context.Background()

	require.NoError(t, engine.MergeDocument(ctx, "doc-1", []*extract.Result{singleChunkResult()}))
	nodeCount := len(mem.Nodes)
	firstDescription := mem.Nodes["ALEX"].Description

	require.NoError(t, engine.MergeDocument(ctx, "doc-1", []*extract.Result{singleChunkResult()}))

	assert.Len(t, mem.Nodes, nodeCount, "entity count unchanged after duplicate merge")
	assert.Equal(t, firstDescription, mem.Nodes["ALEX"].Description,
		"identical description fragment must not be duplicated")

	edge, ok, err := mem.GetEdge(ctx, "ALEX", "TAYLOR")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, edge.Weight, "edge weight sums across merges")
}

func TestFragmentOverflowTriggersSummary(t *testing.T) {
	mem := storagetest.NewMemory()
	llmFake := &fakeLLM{response: "Alex is a person tied to Tokyo through six distinct accounts."}
	engine := newTestEngine(mem, llmFake, Options{ForceLLMSummaryOnMerge: 6, SummaryToMaxTokens: 500})
	ctx := context.Background()

	seeded := []string{"one", "two", "three", "four", "five"}
	require.NoError(t, mem.UpsertNode(ctx, &storage.GraphNode{
		Name:        "ALEX",
		EntityType:  string(model.EntityTypePerson),
		Description: strings.Join(seeded, FieldSeparator),
		SourceIDs:   []string{"chunk-old"},
	}))

	res := &extract.Result{
		ChunkID: "chunk-new",
		Entities: map[string][]*model.Entity{
			"ALEX": {{Name: "ALEX", Type: model.EntityTypePerson, Description: "six", SourceIDs: []string{"chunk-new"}}},
		},
		Edges: map[string][]*model.Edge{},
	}
	require.NoError(t, engine.MergeDocument(ctx, "doc-1", []*extract.Result{res}))

	require.NotEmpty(t, llmFake.requests, "summary LLM must be invoked on fragment overflow")
	assert.Equal(t, llm.PrioritySummary, llmFake.requests[0].Priority)
	assert.Equal(t, llmFake.response, mem.Nodes["ALEX"].Description)
	assert.LessOrEqual(t, len(mem.Nodes["ALEX"].Description)/4, 500,
		"stored description stays within summary_to_max_tokens")
}

func TestMergeSkipsInvalidEntities(t *testing.T) {
	mem := storagetest.NewMemory()
	engine := newTestEngine(mem, &fakeLLM{}, Options{})

	res := &extract.Result{
		ChunkID: "chunk-abc",
		Entities: map[string][]*model.Entity{
			// Description empty after merge: skipped.
			"EMPTY": {{Name: "EMPTY", Type: model.EntityTypePerson, SourceIDs: []string{"chunk-abc"}}},
			// Neither source_id nor file_path: skipped.
			"UNLINKED": {{Name: "UNLINKED", Type: model.EntityTypePerson, Description: "floats free"}},
			"VALID":    {{Name: "VALID", Type: model.EntityTypePerson, Description: "linked", SourceIDs: []string{"chunk-abc"}}},
		},
		Edges: map[string][]*model.Edge{},
	}
	require.NoError(t, engine.MergeDocument(context.Background(), "doc-1", []*extract.Result{res}))

	assert.Len(t, mem.Nodes, 1)
	assert.Contains(t, mem.Nodes, "VALID")
}

func TestMergeEdgeCreatesEndpointStubs(t *testing.T) {
	mem := storagetest.NewMemory()
	engine := newTestEngine(mem, &fakeLLM{}, Options{})

	edge := &model.Edge{
		Source: "GHOST-A", Target: "GHOST-B", Weight: 1.0,
		Description: "mentioned together",
		SourceIDs:   []string{"chunk-abc"},
	}
	res := &extract.Result{
		ChunkID:  "chunk-abc",
		Entities: map[string][]*model.Entity{},
		Edges:    map[string][]*model.Edge{edge.Key(): {edge}},
	}
	require.NoError(t, engine.MergeDocument(context.Background(), "doc-1", []*extract.Result{res}))

	assert.Contains(t, mem.Nodes, "GHOST-A")
	assert.Contains(t, mem.Nodes, "GHOST-B")
	assert.Equal(t, string(model.EntityTypeUnknown), mem.Nodes["GHOST-A"].EntityType)
	assert.Len(t, mem.Edges, 1)
}

func TestAssociationMerge(t *testing.T) {
	mem := storagetest.NewMemory()
	engine := newTestEngine(mem, &fakeLLM{}, Options{EnableAssociation: true})

	members := []string{"ALEX", "TAYLOR", "TOKYO"}
	assoc := &model.Association{
		ID:          ids.Association(members),
		Entities:    members,
		Strength:    0.8,
		Description: "met at the summit || conference attendees",
		SourceIDs:   []string{"chunk-abc"},
	}
	res := &extract.Result{
		ChunkID:      "chunk-abc",
		Entities:     map[string][]*model.Entity{},
		Edges:        map[string][]*model.Edge{},
		Associations: []*model.Association{assoc},
	}
	require.NoError(t, engine.MergeDocument(context.Background(), "doc-1", []*extract.Result{res}))

	require.Contains(t, mem.Nodes, assoc.ID)
	assert.Equal(t, string(model.EntityTypeAssociation), mem.Nodes[assoc.ID].EntityType)

	// 3 member edges from the association node + 3 pairwise member edges.
	assert.Len(t, mem.Edges, 6)
	edge, ok, err := mem.GetEdge(context.Background(), assoc.ID, "ALEX")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.8, edge.Weight, "member edge weight equals association strength")
}

func TestMultiHopMerge(t *testing.T) {
	mem := storagetest.NewMemory()
	engine := newTestEngine(mem, &fakeLLM{}, Options{EnableMultiHop: true})

	entities := []string{"ALEX", "SAM", "DATAWORKS"}
	path := &model.MultiHopPath{
		ID:           ids.MultiHop(entities),
		Entities:     entities,
		PathStrength: 0.6,
		Description:  "Alex reaches DataWorks through Sam",
		SourceIDs:    []string{"chunk-abc"},
	}
	res := &extract.Result{
		ChunkID:   "chunk-abc",
		Entities:  map[string][]*model.Entity{},
		Edges:     map[string][]*model.Edge{},
		MultiHops: []*model.MultiHopPath{path},
	}
	require.NoError(t, engine.MergeDocument(context.Background(), "doc-1", []*extract.Result{res}))

	require.Contains(t, mem.Nodes, path.ID)
	assert.Equal(t, string(model.EntityTypeMultiHop), mem.Nodes[path.ID].EntityType)

	for _, member := range entities {
		edge, ok, err := mem.GetEdge(context.Background(), path.ID, member)
		require.NoError(t, err)
		require.True(t, ok, "latent edge from path node to %s", member)
		assert.True(t, edge.Latent)
	}
}

func TestModeEntityTypeSelection(t *testing.T) {
	mem := storagetest.NewMemory()
	engine := newTestEngine(mem, &fakeLLM{}, Options{})

	res := &extract.Result{
		ChunkID: "chunk-abc",
		Entities: map[string][]*model.Entity{
			"BERLIN": {
				{Name: "BERLIN", Type: model.EntityTypeGeography, Description: "a city", SourceIDs: []string{"chunk-abc"}},
				{Name: "BERLIN", Type: model.EntityTypeGeography, Description: "the capital", SourceIDs: []string{"chunk-abc"}},
				{Name: "BERLIN", Type: model.EntityTypeOrganisation, Description: "a band", SourceIDs: []string{"chunk-abc"}},
			},
		},
		Edges: map[string][]*model.Edge{},
	}
	require.NoError(t, engine.MergeDocument(context.Background(), "doc-1", []*extract.Result{res}))

	assert.Equal(t, string(model.EntityTypeGeography), mem.Nodes["BERLIN"].EntityType,
		"most frequent type across candidates wins")
	assert.Equal(t, 3, len(splitFragments(mem.Nodes["BERLIN"].Description)))
}

func TestCommunityRebalance(t *testing.T) {
	mem := storagetest.NewMemory()
	engine := newTestEngine(mem, &fakeLLM{}, Options{EnableCommunityDetection: true})
	ctx := context.Background()

	require.NoError(t, engine.MergeDocument(ctx, "doc-1", []*extract.Result{singleChunkResult()}))
	assert.True(t, engine.CommunityDirty(), "merge with detection enabled marks communities dirty")

	require.NoError(t, engine.RebalanceCommunities(ctx))
	assert.False(t, engine.CommunityDirty())
	assert.Equal(t, "community-A", mem.Nodes["ALEX"].Community)

	// Second rebalance with nothing dirty is a no-op.
	require.NoError(t, engine.RebalanceCommunities(ctx))
}
