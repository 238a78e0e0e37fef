// Package storagetest provides in-memory implementations of the storage
// capability contracts for unit tests that shouldn't pay for a database
// container.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kgraphrag/kgraphrag/internal/storage"
)

// Memory implements storage.KVStore, storage.VectorStore,
// storage.GraphStore, and storage.ChunkStore over plain maps.
type Memory struct {
	mu sync.Mutex

	Nodes   map[string]*storage.GraphNode
	Edges   map[string]*storage.GraphEdge
	KV      map[string]map[string]map[string]any
	Vectors map[string]map[string]storage.VectorRecord
	Chunks  map[string]*storage.ChunkRecord

	// QueryHits holds canned vector search results per namespace; tests
	// seed it instead of computing embeddings.
	QueryHits map[string][]storage.VectorMatch
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		Nodes:     map[string]*storage.GraphNode{},
		Edges:     map[string]*storage.GraphEdge{},
		KV:        map[string]map[string]map[string]any{},
		Vectors:   map[string]map[string]storage.VectorRecord{},
		Chunks:    map[string]*storage.ChunkRecord{},
		QueryHits: map[string][]storage.VectorMatch{},
	}
}

// --- storage.KVStore ---

func (m *Memory) Get(_ context.Context, namespace, id string) (map[string]any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.KV[namespace][id]
	return data, ok, nil
}

func (m *Memory) GetBatch(_ context.Context, namespace string, ids []string) (map[string]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]map[string]any{}
	for _, id := range ids {
		if data, ok := m.KV[namespace][id]; ok {
			out[id] = data
		}
	}
	return out, nil
}

func (m *Memory) Upsert(_ context.Context, namespace string, records map[string]map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.KV[namespace] == nil {
		m.KV[namespace] = map[string]map[string]any{}
	}
	for id, data := range records {
		m.KV[namespace][id] = data
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, namespace string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.KV[namespace], id)
	}
	return nil
}

// --- storage.VectorStore ---

func (m *Memory) Query(_ context.Context, namespace, _ string, topK int, ids []string) ([]storage.VectorMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hits := m.QueryHits[namespace]
	if len(ids) > 0 {
		allowed := map[string]bool{}
		for _, id := range ids {
			allowed[id] = true
		}
		var filtered []storage.VectorMatch
		for _, h := range hits {
			if allowed[h.ID] {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *Memory) UpsertVectors(_ context.Context, namespace string, payload map[string]storage.VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Vectors[namespace] == nil {
		m.Vectors[namespace] = map[string]storage.VectorRecord{}
	}
	for id, rec := range payload {
		if len(rec.Content) > storage.MaxVectorContentChars {
			return fmt.Errorf("storagetest: vector content for %q exceeds %d chars", id, storage.MaxVectorContentChars)
		}
		m.Vectors[namespace][id] = rec
	}
	return nil
}

func (m *Memory) CosineBetterThanThreshold() float64 { return 0.2 }

// --- storage.GraphStore ---

func (m *Memory) GetNode(_ context.Context, name string) (*storage.GraphNode, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.Nodes[name]
	if !ok {
		return nil, false, nil
	}
	clone := *node
	return &clone, true, nil
}

func (m *Memory) HasNode(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Nodes[name]
	return ok, nil
}

func (m *Memory) UpsertNode(_ context.Context, node *storage.GraphNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *node
	m.Nodes[node.Name] = &clone
	return nil
}

func (m *Memory) GetEdge(_ context.Context, src, tgt string) (*storage.GraphEdge, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	edge, ok := m.Edges[storage.PairKey(src, tgt)]
	if !ok {
		return nil, false, nil
	}
	clone := *edge
	return &clone, true, nil
}

func (m *Memory) HasEdge(_ context.Context, src, tgt string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Edges[storage.PairKey(src, tgt)]
	return ok, nil
}

func (m *Memory) UpsertEdge(_ context.Context, edge *storage.GraphEdge) error {
	if edge.Source == edge.Target {
		return fmt.Errorf("storagetest: self-loop on %q", edge.Source)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *edge
	m.Edges[storage.PairKey(edge.Source, edge.Target)] = &clone
	return nil
}

func (m *Memory) GetNodesBatch(ctx context.Context, names []string) (map[string]*storage.GraphNode, error) {
	out := map[string]*storage.GraphNode{}
	for _, name := range names {
		if node, ok, _ := m.GetNode(ctx, name); ok {
			out[name] = node
		}
	}
	return out, nil
}

func (m *Memory) NodeDegreesBatch(_ context.Context, names []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for _, name := range names {
		for _, edge := range m.Edges {
			if edge.Source == name || edge.Target == name {
				out[name]++
			}
		}
	}
	return out, nil
}

func (m *Memory) GetNodesEdgesBatch(_ context.Context, names []string) (map[string][]*storage.GraphEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]*storage.GraphEdge{}
	for _, name := range names {
		for _, key := range m.sortedEdgeKeys() {
			edge := m.Edges[key]
			if edge.Source == name || edge.Target == name {
				clone := *edge
				out[name] = append(out[name], &clone)
			}
		}
	}
	return out, nil
}

func (m *Memory) GetEdgesBatch(ctx context.Context, pairs [][2]string) (map[string]*storage.GraphEdge, error) {
	out := map[string]*storage.GraphEdge{}
	for _, pair := range pairs {
		if edge, ok, _ := m.GetEdge(ctx, pair[0], pair[1]); ok {
			out[storage.PairKey(pair[0], pair[1])] = edge
		}
	}
	return out, nil
}

func (m *Memory) EdgeDegreesBatch(ctx context.Context, pairs [][2]string) (map[string]int, error) {
	out := map[string]int{}
	for _, pair := range pairs {
		degrees, err := m.NodeDegreesBatch(ctx, []string{pair[0], pair[1]})
		if err != nil {
			return nil, err
		}
		out[storage.PairKey(pair[0], pair[1])] = degrees[pair[0]] + degrees[pair[1]]
	}
	return out, nil
}

func (m *Memory) ShortestPathLength(_ context.Context, a, b string) (int, error) {
	if a == b {
		return 0, nil
	}
	adjacency := m.adjacency()
	visited := map[string]bool{a: true}
	type entry struct {
		name string
		dist int
	}
	queue := []entry{{a, 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[cur.name] {
			if next == b {
				return cur.dist + 1, nil
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, entry{next, cur.dist + 1})
			}
		}
	}
	return storage.UnreachableDistance, nil
}

func (m *Memory) MultiHopPaths(_ context.Context, src string, maxDepth, topK int) ([]storage.GraphPath, error) {
	adjacency := m.adjacency()
	type entry struct {
		path []string
	}
	queue := []entry{{path: []string{src}}}
	visited := map[string]bool{src: true}
	var found []storage.GraphPath
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path) >= 3 {
			found = append(found, storage.GraphPath{Entities: append([]string{}, cur.path...), Strength: float64(len(cur.path))})
		}
		if len(cur.path)-1 >= maxDepth {
			continue
		}
		last := cur.path[len(cur.path)-1]
		for _, next := range adjacency[last] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, entry{path: append(append([]string{}, cur.path...), next)})
			}
		}
	}
	if topK > 0 && len(found) > topK {
		found = found[:topK]
	}
	return found, nil
}

func (m *Memory) DetectCommunities(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for name := range m.Nodes {
		out[name] = "community-A"
	}
	return out, nil
}

func (m *Memory) UpdateNodeCommunity(_ context.Context, name, community string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node, ok := m.Nodes[name]; ok {
		node.Community = community
	}
	return nil
}

// --- storage.ChunkStore ---

func (m *Memory) InsertChunk(_ context.Context, c *storage.ChunkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *c
	m.Chunks[c.ID] = &clone
	return nil
}

func (m *Memory) GetChunk(_ context.Context, id string) (*storage.ChunkRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Chunks[id]
	if !ok {
		return nil, false, nil
	}
	clone := *c
	return &clone, true, nil
}

func (m *Memory) GetChunksBatch(ctx context.Context, ids []string, _ int) (map[string]*storage.ChunkRecord, error) {
	out := map[string]*storage.ChunkRecord{}
	for _, id := range ids {
		if c, ok, _ := m.GetChunk(ctx, id); ok {
			out[id] = c
		}
	}
	return out, nil
}

func (m *Memory) adjacency() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]string{}
	for _, key := range m.sortedEdgeKeys() {
		edge := m.Edges[key]
		out[edge.Source] = append(out[edge.Source], edge.Target)
		out[edge.Target] = append(out[edge.Target], edge.Source)
	}
	return out
}

// sortedEdgeKeys keeps iteration deterministic. Callers must hold m.mu.
func (m *Memory) sortedEdgeKeys() []string {
	keys := make([]string, 0, len(m.Edges))
	for k := range m.Edges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
