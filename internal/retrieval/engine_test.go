package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgraphrag/kgraphrag/internal/cache"
	"github.com/kgraphrag/kgraphrag/internal/keyword"
	"github.com/kgraphrag/kgraphrag/internal/llm"
	"github.com/kgraphrag/kgraphrag/internal/storage"
	"github.com/kgraphrag/kgraphrag/internal/storage/storagetest"
	"github.com/kgraphrag/kgraphrag/model"
)

func testEngine(mem *storagetest.Memory, opts Options) *Engine {
	llmFn := func(_ context.Context, req llm.Request) (string, error) {
		return "summary of: " + req.Prompt[:min(40, len(req.Prompt))], nil
	}
	return NewEngine(mem, mem, mem, llmFn, cache.New(nil, false, nil), nil, opts)
}

func seedTriangle(t *testing.T, mem *storagetest.Memory) {
	t.Helper()
	ctx := context.Background()
	for _, n := range []struct {
		name, entityType, description string
	}{
		{"ALEX", "person", "Alex is a person who met Taylor in Tokyo."},
		{"TAYLOR", "person", "Taylor is a person who met Alex in Tokyo."},
		{"TOKYO", "geography", "Tokyo is the city where Alex and Taylor met."},
	} {
		require.NoError(t, mem.UpsertNode(ctx, &storage.GraphNode{
			Name: n.name, EntityType: n.entityType, Description: n.description,
			SourceIDs: []string{"chunk-1"},
		}))
	}
	for _, e := range [][2]string{{"ALEX", "TAYLOR"}, {"ALEX", "TOKYO"}, {"TAYLOR", "TOKYO"}} {
		require.NoError(t, mem.UpsertEdge(ctx, &storage.GraphEdge{
			Source: e[0], Target: e[1], Weight: 1.0,
			Description: e[0] + " relates to " + e[1],
			Keywords:    []string{"meeting"},
			SourceIDs:   []string{"chunk-1"},
		}))
	}
	require.NoError(t, mem.InsertChunk(ctx, &storage.ChunkRecord{
		ID: "chunk-1", Content: "Alex met Taylor in Tokyo.", Tokens: 7, FilePath: "book.txt",
	}))
}

func entityHit(name string, distance float64) storage.VectorMatch {
	return storage.VectorMatch{ID: "ent-" + name, Content: name + "\ndescription", Distance: distance}
}

func TestDemotion(t *testing.T) {
	both := keyword.Result{HighLevel: []string{"h"}, LowLevel: []string{"l"}}
	onlyHigh := keyword.Result{HighLevel: []string{"h"}}
	onlyLow := keyword.Result{LowLevel: []string{"l"}}
	neither := keyword.Result{}

	tests := []struct {
		mode model.Mode
		kw   keyword.Result
		want model.Mode
	}{
		{model.ModeLocal, both, model.ModeLocal},
		{model.ModeLocal, onlyHigh, model.ModeGlobal},
		{model.ModeLocal, neither, ""},
		{model.ModeGlobal, both, model.ModeGlobal},
		{model.ModeGlobal, onlyLow, model.ModeLocal},
		{model.ModeGlobal, neither, ""},
		{model.ModeHybrid, both, model.ModeHybrid},
		{model.ModeHybrid, onlyHigh, model.ModeGlobal},
		{model.ModeHybrid, onlyLow, model.ModeLocal},
		{model.ModeHybrid, neither, ""},
		{model.ModeNaive, neither, model.ModeNaive},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s_h%d_l%d", tc.mode, len(tc.kw.HighLevel), len(tc.kw.LowLevel)), func(t *testing.T) {
			assert.Equal(t, tc.want, demote(tc.mode, tc.kw))
		})
	}
}

func TestTopKZeroYieldsEmptyContext(t *testing.T) {
	mem := storagetest.NewMemory()
	seedTriangle(t, mem)
	engine := testEngine(mem, Options{})

	param := model.DefaultQueryParam()
	param.Mode = model.ModeHybrid
	param.TopK = 0

	result, err := engine.BuildContext(context.Background(), "Alex", keyword.Result{LowLevel: []string{"alex"}, HighLevel: []string{"people"}}, param)
	require.NoError(t, err)
	assert.True(t, result.Empty())
}

func TestLocalContext(t *testing.T) {
	mem := storagetest.NewMemory()
	seedTriangle(t, mem)
	mem.QueryHits[storage.NamespaceEntities] = []storage.VectorMatch{
		entityHit("ALEX", 0.1),
		entityHit("TAYLOR", 0.2),
	}
	engine := testEngine(mem, Options{})

	param := model.DefaultQueryParam()
	param.Mode = model.ModeLocal
	param.TopK = 10
	param.SimilarityThreshold = 0.5

	result, err := engine.BuildContext(context.Background(), "Alex", keyword.Result{LowLevel: []string{"alex"}}, param)
	require.NoError(t, err)

	require.Len(t, result.Entities, 2)
	assert.Equal(t, "ALEX", result.Entities[0].Name)
	assert.NotEmpty(t, result.Relationships)
	require.Len(t, result.DocumentChunks, 1)
	assert.Equal(t, "chunk-1", result.DocumentChunks[0].ID)
}

func TestLocalFallbackDirectLookup(t *testing.T) {
	mem := storagetest.NewMemory()
	seedTriangle(t, mem)
	// Empty vector index: no QueryHits seeded.
	engine := testEngine(mem, Options{})

	param := model.DefaultQueryParam()
	param.Mode = model.ModeLocal
	param.TopK = 10
	param.SimilarityThreshold = 0

	result, err := engine.BuildContext(context.Background(), "alex", keyword.Result{LowLevel: []string{"alex"}}, param)
	require.NoError(t, err)

	require.Len(t, result.Entities, 1, "standardized direct node lookup finds ALEX")
	assert.Equal(t, "ALEX", result.Entities[0].Name)
	assert.NotEmpty(t, result.Relationships, "ALEX's edges included")
	require.Len(t, result.DocumentChunks, 1, "ALEX's one-hop chunks included")
}

func TestLocalDegreeThresholdFilters(t *testing.T) {
	mem := storagetest.NewMemory()
	seedTriangle(t, mem)
	require.NoError(t, mem.UpsertNode(context.Background(), &storage.GraphNode{
		Name: "LONER", EntityType: "person", Description: "unconnected", SourceIDs: []string{"chunk-1"},
	}))
	mem.QueryHits[storage.NamespaceEntities] = []storage.VectorMatch{
		entityHit("ALEX", 0.1),
		entityHit("LONER", 0.05),
	}
	engine := testEngine(mem, Options{})

	param := model.DefaultQueryParam()
	param.Mode = model.ModeLocal
	param.TopK = 10
	param.SimilarityThreshold = 0
	param.DegreeThreshold = 1

	result, err := engine.BuildContext(context.Background(), "Alex", keyword.Result{LowLevel: []string{"alex"}}, param)
	require.NoError(t, err)

	require.Len(t, result.Entities, 1)
	assert.Equal(t, "ALEX", result.Entities[0].Name, "zero-degree candidate filtered out")
}

func TestGlobalContext(t *testing.T) {
	mem := storagetest.NewMemory()
	seedTriangle(t, mem)
	mem.QueryHits[storage.NamespaceRelations] = []storage.VectorMatch{
		{ID: "rel-1", Content: "ALEX\tTAYLOR\nmeeting\nthey met", Distance: 0.1},
		{ID: "rel-2", Content: "ALEX\tTOKYO\npresence\nAlex was there", Distance: 0.2},
	}
	engine := testEngine(mem, Options{})

	param := model.DefaultQueryParam()
	param.Mode = model.ModeGlobal
	param.TopK = 10
	param.SimilarityThreshold = 0.5

	result, err := engine.BuildContext(context.Background(), "who met whom", keyword.Result{HighLevel: []string{"meeting"}}, param)
	require.NoError(t, err)

	require.Len(t, result.Relationships, 2)
	assert.Len(t, result.Entities, 3, "endpoint entities gathered from edges")
	require.Len(t, result.DocumentChunks, 1, "edge source chunks gathered")
}

func TestNaivePagination(t *testing.T) {
	mem := storagetest.NewMemory()
	for i := 0; i < 6; i++ {
		mem.QueryHits[storage.NamespaceChunks] = append(mem.QueryHits[storage.NamespaceChunks], storage.VectorMatch{
			ID:       fmt.Sprintf("chunk-%d", i),
			Content:  fmt.Sprintf("content %d", i),
			Distance: float64(i) / 10,
		})
	}
	engine := testEngine(mem, Options{SummaryToMaxTokens: 500})

	param := model.DefaultQueryParam()
	param.Mode = model.ModeNaive
	param.TopK = 2
	param.Page = 2

	result, err := engine.BuildContext(context.Background(), "anything", keyword.Result{}, param)
	require.NoError(t, err)

	require.Len(t, result.DocumentChunks, 2, "second window of size top_k")
	assert.Equal(t, "chunk-2", result.DocumentChunks[0].ID)
	assert.Equal(t, "chunk-3", result.DocumentChunks[1].ID)
}

func TestMultiHopEnrichment(t *testing.T) {
	mem := storagetest.NewMemory()
	seedTriangle(t, mem)
	require.NoError(t, mem.UpsertNode(context.Background(), &storage.GraphNode{
		Name: "SAM", EntityType: "person", Description: "Sam knows Tokyo", SourceIDs: []string{"chunk-1"},
	}))
	require.NoError(t, mem.UpsertEdge(context.Background(), &storage.GraphEdge{
		Source: "TOKYO", Target: "SAM", Weight: 1.0, Description: "Sam lives in Tokyo", SourceIDs: []string{"chunk-1"},
	}))
	mem.QueryHits[storage.NamespaceEntities] = []storage.VectorMatch{entityHit("ALEX", 0.1)}
	engine := testEngine(mem, Options{MultiHopMinStrength: 0.5})

	param := model.DefaultQueryParam()
	param.Mode = model.ModeLocal
	param.TopK = 10
	param.SimilarityThreshold = 0

	result, err := engine.BuildContext(context.Background(), "Alex", keyword.Result{LowLevel: []string{"alex"}}, param)
	require.NoError(t, err)

	require.NotEmpty(t, result.MultiHopPaths, "paths of length >= 3 from ALEX enriched into the context")
	for _, p := range result.MultiHopPaths {
		assert.GreaterOrEqual(t, len(p.Entities), 3)
		assert.GreaterOrEqual(t, p.PathStrength, 0.5)
	}
}

func TestRankMixChunksWeights(t *testing.T) {
	sim := 0.9
	result := &model.RetrievedContext{
		Entities: []*model.Entity{
			{Name: "ALEX", SourceIDs: []string{"chunk-graph"}},
		},
		DocumentChunks: []*model.Chunk{{ID: "chunk-graph"}},
	}
	vectorChunks := []*model.Chunk{
		{ID: "chunk-vec", Similarity: &sim},
		{ID: "chunk-graph"}, // duplicate across sources, kept once
	}

	param := model.DefaultQueryParam()
	ranked := rankMixChunks(result, vectorChunks, param)

	require.Len(t, ranked, 2)
	// chunk-graph: graph_weight 0.3 + entity_weight 0.5 = 0.8 beats
	// chunk-vec: vector_weight 0.6 × 0.9 = 0.54.
	assert.Equal(t, "chunk-graph", ranked[0].ID)
	assert.Equal(t, "chunk-vec", ranked[1].ID)
}

func TestCombinePreservesFirstOccurrenceOrder(t *testing.T) {
	a := []*model.Chunk{{ID: "1"}, {ID: "2"}}
	b := []*model.Chunk{{ID: "2"}, {ID: "3"}}
	combined := combineChunks(a, b)
	require.Len(t, combined, 3)
	assert.Equal(t, "1", combined[0].ID)
	assert.Equal(t, "2", combined[1].ID)
	assert.Equal(t, "3", combined[2].ID)
}

func TestFormatContextSectionsAndHyperlinks(t *testing.T) {
	engine := testEngine(storagetest.NewMemory(), Options{EntityLinkBaseURL: "https://kb.example.com/entity"})

	rank := 2
	result := &model.RetrievedContext{
		Entities: []*model.Entity{
			{Name: "ALEX SMITH", Type: model.EntityTypePerson, Description: "a person", Rank: &rank},
			{Name: "TOKYO", Type: model.EntityTypeGeography, Description: "a city", Rank: &rank},
		},
		Relationships: []*model.Edge{
			{Source: "ALEX SMITH", Target: "TOKYO", Description: "visited", Weight: 1},
		},
		MultiHopPaths: []*model.MultiHopPath{
			{Entities: []string{"ALEX SMITH", "TOKYO", "SAM"}, PathStrength: 0.7, Description: "chain"},
		},
		DocumentChunks: []*model.Chunk{{ID: "chunk-1", Content: "text"}},
	}

	formatted := engine.FormatContext(result)
	assert.Contains(t, formatted, "-----Entities(KG)-----")
	assert.Contains(t, formatted, "-----Relationships(KG)-----")
	assert.Contains(t, formatted, "-----Multi-hop Paths-----")
	assert.Contains(t, formatted, "-----Document Chunks(DC)-----")

	assert.Contains(t, formatted, "[ALEX SMITH](https://kb.example.com/entity/ALEX%20SMITH)",
		"person names hyperlinked in the entity list")
	assert.NotContains(t, formatted, "[TOKYO](", "geography entities not hyperlinked")
}
