package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	node := &GraphNode{
		Name:                 "ALEX",
		EntityType:           "person",
		Description:          "Alex is a person.",
		AdditionalProperties: "engineer",
		Community:            "tech",
		SourceIDs:            []string{"chunk-1", "chunk-2"},
		FilePaths:            []string{"book.txt"},
		Metadata:             map[string]any{"strength": 0.5},
	}
	require.NoError(t, store.UpsertNode(ctx, node))

	got, ok, err := store.GetNode(ctx, "ALEX")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "person", got.EntityType)
	assert.Equal(t, "Alex is a person.", got.Description)
	assert.Equal(t, []string{"chunk-1", "chunk-2"}, got.SourceIDs)
	assert.Equal(t, 0.5, got.Metadata["strength"])

	_, ok, err = store.GetNode(ctx, "NOBODY")
	require.NoError(t, err)
	assert.False(t, ok, "missing node is a miss, not an error")
}

func TestEdgeRoundTripAndCanonicalPair(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertNode(ctx, &GraphNode{Name: "B-NODE", EntityType: "person", Description: "b", SourceIDs: []string{"c"}}))
	require.NoError(t, store.UpsertNode(ctx, &GraphNode{Name: "A-NODE", EntityType: "person", Description: "a", SourceIDs: []string{"c"}}))

	// Insert with endpoints reversed: the store canonicalizes the pair.
	require.NoError(t, store.UpsertEdge(ctx, &GraphEdge{
		Source: "B-NODE", Target: "A-NODE", Weight: 1.5,
		Description: "linked", Keywords: []string{"link"}, SourceIDs: []string{"c"},
	}))

	got, ok, err := store.GetEdge(ctx, "A-NODE", "B-NODE")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A-NODE", got.Source, "source is the lexicographically smaller endpoint")
	assert.Equal(t, 1.5, got.Weight)

	reversed, ok, err := store.GetEdge(ctx, "B-NODE", "A-NODE")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, got.Source, reversed.Source, "lookup is insertion-order independent")

	err = store.UpsertEdge(ctx, &GraphEdge{Source: "A-NODE", Target: "A-NODE"})
	assert.Error(t, err, "self-loops rejected")
}

func TestShortestPathAndMultiHop(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"P1", "P2", "P3", "LONELY"} {
		require.NoError(t, store.UpsertNode(ctx, &GraphNode{Name: name, EntityType: "person", Description: name, SourceIDs: []string{"c"}}))
	}
	require.NoError(t, store.UpsertEdge(ctx, &GraphEdge{Source: "P1", Target: "P2", Weight: 1, Description: "d", SourceIDs: []string{"c"}}))
	require.NoError(t, store.UpsertEdge(ctx, &GraphEdge{Source: "P2", Target: "P3", Weight: 1, Description: "d", SourceIDs: []string{"c"}}))

	dist, err := store.ShortestPathLength(ctx, "P1", "P3")
	require.NoError(t, err)
	assert.Equal(t, 2, dist)

	dist, err = store.ShortestPathLength(ctx, "P1", "LONELY")
	require.NoError(t, err)
	assert.Equal(t, UnreachableDistance, dist)

	paths, err := store.MultiHopPaths(ctx, "P1", 3, 10)
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	assert.GreaterOrEqual(t, len(paths[0].Entities), 3)
	assert.Equal(t, "P1", paths[0].Entities[0])
}

func TestKVRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	records := map[string]map[string]any{
		"key-1": {"content": "value one"},
		"key-2": {"content": "value two"},
	}
	require.NoError(t, store.Upsert(ctx, "test_ns", records))

	got, ok, err := store.Get(ctx, "test_ns", "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value one", got["content"])

	batch, err := store.GetBatch(ctx, "test_ns", []string{"key-1", "key-2", "missing"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	// Namespaces isolate keys.
	_, ok, err = store.Get(ctx, "other_ns", "key-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Delete(ctx, "test_ns", []string{"key-1"}))
	_, ok, err = store.Get(ctx, "test_ns", "key-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChunkInsertAndBatchFetch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, c := range []*ChunkRecord{
		{ID: "chunk-int-1", Content: "first chunk content", Tokens: 4, ChunkOrderIndex: 0, FilePath: "f.txt"},
		{ID: "chunk-int-2", Content: "second chunk content", Tokens: 4, ChunkOrderIndex: 1, FilePath: "f.txt"},
	} {
		require.NoError(t, store.InsertChunk(ctx, c))
	}

	got, ok, err := store.GetChunk(ctx, "chunk-int-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first chunk content", got.Content)

	batch, err := store.GetChunksBatch(ctx, []string{"chunk-int-1", "chunk-int-2", "chunk-missing"}, 20)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestVectorUpsertAndQuery(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	payload := map[string]VectorRecord{
		"ent-one": {Content: "ALEX\nAlex is a person."},
		"ent-two": {Content: "TOKYO\nTokyo is a city."},
	}
	require.NoError(t, store.UpsertVectors(ctx, NamespaceEntities, payload))

	matches, err := store.Query(ctx, NamespaceEntities, "ALEX\nAlex is a person.", 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "ent-one", matches[0].ID, "identical text embeds identically and ranks first")

	filtered, err := store.Query(ctx, NamespaceEntities, "ALEX\nAlex is a person.", 2, []string{"ent-two"})
	require.NoError(t, err)
	for _, m := range filtered {
		assert.Equal(t, "ent-two", m.ID)
	}
}

func TestVectorContentCapEnforced(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	huge := make([]byte, MaxVectorContentChars+1)
	for i := range huge {
		huge[i] = 'a'
	}
	err := store.UpsertVectors(ctx, NamespaceEntities, map[string]VectorRecord{"ent-huge": {Content: string(huge)}})
	assert.Error(t, err)
}
