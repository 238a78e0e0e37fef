// Package storage declares the capability contracts the core depends on: a
// key-value store, a vector store, and a graph store, plus the chunk store
// declared in chunks.go.
// The core never assumes a particular backend; concurrent safety is obtained
// via the caller-held locks in internal/merge, not inside these contracts.
package storage

import (
	"context"
	"time"
)

// MaxVectorContentChars is the hard cap on a vector payload's content before
// upsert.
const MaxVectorContentChars = 65000

// KVStore is the narrow get/upsert/delete contract used for cache entries
// and any other small record the core needs addressed by a stable key,
// namespaced so cache, extraction-status, and other concerns don't collide.
type KVStore interface {
	Get(ctx context.Context, namespace, id string) (map[string]any, bool, error)
	GetBatch(ctx context.Context, namespace string, ids []string) (map[string]map[string]any, error)
	Upsert(ctx context.Context, namespace string, records map[string]map[string]any) error
	Delete(ctx context.Context, namespace string, ids []string) error
}

// VectorRecord is a payload handed to VectorStore.UpsertVectors. Content is
// truncated to MaxVectorContentChars by the caller before it ever reaches
// the store.
type VectorRecord struct {
	Content   string
	FilePath  string
	CreatedAt time.Time
	Extra     map[string]any
}

// VectorMatch is one hit returned by VectorStore.Query.
type VectorMatch struct {
	ID        string
	Distance  float64
	Content   string
	CreatedAt time.Time
	FilePath  string
	Extra     map[string]any
}

// VectorStore embeds text internally (the collaborator is configured once,
// at construction) and exposes a plain text → top-k match query.
type VectorStore interface {
	Query(ctx context.Context, namespace, text string, topK int, ids []string) ([]VectorMatch, error)
	UpsertVectors(ctx context.Context, namespace string, payload map[string]VectorRecord) error
	CosineBetterThanThreshold() float64
}

// GraphNode is the storage-layer projection of model.Entity; kept distinct
// from model.Entity so the storage package has no import-cycle dependency
// on retrieval-only annotation fields.
type GraphNode struct {
	Name                 string
	EntityType           string
	Description          string
	AdditionalProperties string
	Community            string
	SourceIDs            []string
	FilePaths            []string
	Metadata             map[string]any
	CreatedAt            time.Time
}

// GraphEdge is the storage-layer projection of model.Edge.
type GraphEdge struct {
	Source      string
	Target      string
	Weight      float64
	Description string
	Keywords    []string
	Latent      bool
	SourceIDs   []string
	FilePaths   []string
	CreatedAt   time.Time
}

// GraphPath is one result of GraphStore.MultiHopPaths: an ordered chain of
// node names plus the path's accumulated strength.
type GraphPath struct {
	Entities []string
	Strength float64
}

// UnreachableDistance is returned by ShortestPathLength when no path
// exists.
const UnreachableDistance = -1

// GraphStore is the capability contract the merge and retrieval engines use
// to read/write nodes and edges and to run the graph-native queries
// (shortest path, multi-hop paths, community detection).
type GraphStore interface {
	GetNode(ctx context.Context, name string) (*GraphNode, bool, error)
	HasNode(ctx context.Context, name string) (bool, error)
	UpsertNode(ctx context.Context, node *GraphNode) error
	GetEdge(ctx context.Context, src, tgt string) (*GraphEdge, bool, error)
	HasEdge(ctx context.Context, src, tgt string) (bool, error)
	UpsertEdge(ctx context.Context, edge *GraphEdge) error

	GetNodesBatch(ctx context.Context, names []string) (map[string]*GraphNode, error)
	NodeDegreesBatch(ctx context.Context, names []string) (map[string]int, error)
	GetNodesEdgesBatch(ctx context.Context, names []string) (map[string][]*GraphEdge, error)
	GetEdgesBatch(ctx context.Context, pairs [][2]string) (map[string]*GraphEdge, error)
	EdgeDegreesBatch(ctx context.Context, pairs [][2]string) (map[string]int, error)

	ShortestPathLength(ctx context.Context, a, b string) (int, error)
	MultiHopPaths(ctx context.Context, src string, maxDepth, topK int) ([]GraphPath, error)
	DetectCommunities(ctx context.Context) (map[string]string, error)
	UpdateNodeCommunity(ctx context.Context, name, community string) error
}

// PairKey canonicalizes an edge-batch lookup key, mirroring model.Edge.Key's
// sort-then-join discipline so callers and the store agree on the same key
// shape without importing the model package here.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x1f" + b
}
