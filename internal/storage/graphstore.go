package storage

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/lib/pq"

	"github.com/kgraphrag/kgraphrag/internal/obs"
)

// GetNode implements GraphStore.
func (p *Postgres) GetNode(ctx context.Context, name string) (*GraphNode, bool, error) {
	row := p.Instance.QueryRowContext(ctx, `SELECT * FROM select_entity($1)`, name)
	node, err := scanNode(row)
	if err != nil {
		return nil, false, nil //nolint:nilerr // row-not-found is a (nil, false, nil) miss, not an error
	}
	return node, true, nil
}

// HasNode implements GraphStore.
func (p *Postgres) HasNode(ctx context.Context, name string) (bool, error) {
	_, ok, err := p.GetNode(ctx, name)
	return ok, err
}

// UpsertNode implements GraphStore.
func (p *Postgres) UpsertNode(ctx context.Context, node *GraphNode) error {
	var metadata any
	if len(node.Metadata) > 0 {
		raw, err := json.Marshal(node.Metadata)
		if err != nil {
			return obs.WrapErr("marshal node metadata", err)
		}
		metadata = raw
	}
	row := p.Instance.QueryRowContext(ctx,
		`SELECT * FROM upsert_entity($1, $2, $3, $4, $5, $6, $7, $8)`,
		node.Name, node.EntityType, node.Description, node.AdditionalProperties,
		node.Community, pq.Array(node.SourceIDs), pq.Array(node.FilePaths), metadata,
	)
	_, err := scanNode(row)
	if err != nil {
		return obs.WrapErr("upsert node", err)
	}
	return nil
}

// GetEdge implements GraphStore.
func (p *Postgres) GetEdge(ctx context.Context, src, tgt string) (*GraphEdge, bool, error) {
	a, b := canonicalPair(src, tgt)
	row := p.Instance.QueryRowContext(ctx, `SELECT * FROM select_edge($1, $2)`, a, b)
	edge, err := scanEdge(row)
	if err != nil {
		return nil, false, nil //nolint:nilerr
	}
	return edge, true, nil
}

// HasEdge implements GraphStore.
func (p *Postgres) HasEdge(ctx context.Context, src, tgt string) (bool, error) {
	_, ok, err := p.GetEdge(ctx, src, tgt)
	return ok, err
}

// UpsertEdge implements GraphStore. Rejects self-loops.
func (p *Postgres) UpsertEdge(ctx context.Context, edge *GraphEdge) error {
	a, b := canonicalPair(edge.Source, edge.Target)
	if a == b {
		return obs.WrapErr("upsert edge", errSelfLoop(a))
	}
	row := p.Instance.QueryRowContext(ctx,
		`SELECT * FROM upsert_edge($1, $2, $3, $4, $5, $6, $7, $8)`,
		a, b, edge.Weight, edge.Description, pq.Array(edge.Keywords), edge.Latent,
		pq.Array(edge.SourceIDs), pq.Array(edge.FilePaths),
	)
	_, err := scanEdge(row)
	if err != nil {
		return obs.WrapErr("upsert edge", err)
	}
	return nil
}

// GetNodesBatch implements GraphStore.
func (p *Postgres) GetNodesBatch(ctx context.Context, names []string) (map[string]*GraphNode, error) {
	if len(names) == 0 {
		return map[string]*GraphNode{}, nil
	}
	rows, err := p.Instance.QueryContext(ctx, `SELECT * FROM select_entities_batch($1)`, pq.Array(names))
	if err != nil {
		return nil, obs.WrapErr("query nodes batch", err)
	}
	defer rows.Close()

	out := make(map[string]*GraphNode, len(names))
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, obs.WrapErr("scan node", err)
		}
		out[node.Name] = node
	}
	return out, rows.Err()
}

// NodeDegreesBatch implements GraphStore, counting incident edges per node.
func (p *Postgres) NodeDegreesBatch(ctx context.Context, names []string) (map[string]int, error) {
	edgesByNode, err := p.GetNodesEdgesBatch(ctx, names)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(names))
	for _, n := range names {
		out[n] = len(edgesByNode[n])
	}
	return out, nil
}

// GetNodesEdgesBatch implements GraphStore.
func (p *Postgres) GetNodesEdgesBatch(ctx context.Context, names []string) (map[string][]*GraphEdge, error) {
	out := make(map[string][]*GraphEdge, len(names))
	for _, n := range names {
		out[n] = nil
	}
	for _, n := range names {
		rows, err := p.Instance.QueryContext(ctx, `SELECT * FROM select_edges_for_node($1)`, n)
		if err != nil {
			return nil, obs.WrapErr("query node edges", err)
		}
		for rows.Next() {
			edge, err := scanEdge(rows)
			if err != nil {
				rows.Close()
				return nil, obs.WrapErr("scan edge", err)
			}
			out[n] = append(out[n], edge)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetEdgesBatch implements GraphStore.
func (p *Postgres) GetEdgesBatch(ctx context.Context, pairs [][2]string) (map[string]*GraphEdge, error) {
	out := make(map[string]*GraphEdge, len(pairs))
	for _, pair := range pairs {
		edge, ok, err := p.GetEdge(ctx, pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		if ok {
			out[PairKey(pair[0], pair[1])] = edge
		}
	}
	return out, nil
}

// EdgeDegreesBatch implements GraphStore: sum of both endpoints' degrees.
func (p *Postgres) EdgeDegreesBatch(ctx context.Context, pairs [][2]string) (map[string]int, error) {
	names := make(map[string]struct{})
	for _, pair := range pairs {
		names[pair[0]] = struct{}{}
		names[pair[1]] = struct{}{}
	}
	nameList := make([]string, 0, len(names))
	for n := range names {
		nameList = append(nameList, n)
	}
	degrees, err := p.NodeDegreesBatch(ctx, nameList)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(pairs))
	for _, pair := range pairs {
		out[PairKey(pair[0], pair[1])] = degrees[pair[0]] + degrees[pair[1]]
	}
	return out, nil
}

// ShortestPathLength implements GraphStore via an in-memory BFS over the
// full edge set. Returns storage.UnreachableDistance if no path exists.
func (p *Postgres) ShortestPathLength(ctx context.Context, a, b string) (int, error) {
	if a == b {
		return 0, nil
	}
	adjacency, err := p.loadAdjacency(ctx)
	if err != nil {
		return 0, err
	}
	return bfsDistance(adjacency, a, b), nil
}

// MultiHopPaths implements GraphStore: depth-bounded BFS from src,
// returning up to topK distinct paths ranked by accumulated edge weight.
func (p *Postgres) MultiHopPaths(ctx context.Context, src string, maxDepth, topK int) ([]GraphPath, error) {
	adjacency, err := p.loadAdjacency(ctx)
	if err != nil {
		return nil, err
	}

	type frontierEntry struct {
		path     []string
		strength float64
	}
	queue := []frontierEntry{{path: []string{src}, strength: 0}}
	var found []GraphPath
	visited := map[string]bool{src: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path) >= 3 {
			found = append(found, GraphPath{Entities: append([]string{}, cur.path...), Strength: cur.strength})
		}
		if len(cur.path)-1 >= maxDepth {
			continue
		}
		last := cur.path[len(cur.path)-1]
		for _, next := range adjacency[last] {
			if visited[next.name] {
				continue
			}
			visited[next.name] = true
			queue = append(queue, frontierEntry{
				path:     append(append([]string{}, cur.path...), next.name),
				strength: cur.strength + next.weight,
			})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Strength > found[j].Strength })
	if topK > 0 && len(found) > topK {
		found = found[:topK]
	}
	return found, nil
}

// DetectCommunities implements GraphStore with a connected-components pass
// over the in-memory adjacency: every entity reachable from another via any
// path shares a community tag. Not a modularity-maximizing algorithm, but a
// correct O(V+E) grouping the dirty-flag in internal/merge/community.go can
// afford to recompute occasionally.
func (p *Postgres) DetectCommunities(ctx context.Context) (map[string]string, error) {
	adjacency, err := p.loadAdjacency(ctx)
	if err != nil {
		return nil, err
	}

	assignment := make(map[string]string)
	visited := make(map[string]bool)
	communityIdx := 0
	for node := range adjacency {
		if visited[node] {
			continue
		}
		tag := communityTag(communityIdx)
		communityIdx++
		queue := []string{node}
		visited[node] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			assignment[cur] = tag
			for _, next := range adjacency[cur] {
				if !visited[next.name] {
					visited[next.name] = true
					queue = append(queue, next.name)
				}
			}
		}
	}
	return assignment, nil
}

type neighbor struct {
	name   string
	weight float64
}

func (p *Postgres) loadAdjacency(ctx context.Context) (map[string][]neighbor, error) {
	rows, err := p.Instance.QueryContext(ctx, `SELECT src, tgt, weight FROM edges`)
	if err != nil {
		return nil, obs.WrapErr("load adjacency", err)
	}
	defer rows.Close()

	adjacency := make(map[string][]neighbor)
	for rows.Next() {
		var src, tgt string
		var weight float64
		if err := rows.Scan(&src, &tgt, &weight); err != nil {
			return nil, obs.WrapErr("scan adjacency row", err)
		}
		adjacency[src] = append(adjacency[src], neighbor{name: tgt, weight: weight})
		adjacency[tgt] = append(adjacency[tgt], neighbor{name: src, weight: weight})
	}
	return adjacency, rows.Err()
}

func bfsDistance(adjacency map[string][]neighbor, a, b string) int {
	visited := map[string]bool{a: true}
	type frontierEntry struct {
		name string
		dist int
	}
	queue := []frontierEntry{{name: a, dist: 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[cur.name] {
			if next.name == b {
				return cur.dist + 1
			}
			if !visited[next.name] {
				visited[next.name] = true
				queue = append(queue, frontierEntry{name: next.name, dist: cur.dist + 1})
			}
		}
	}
	return UnreachableDistance
}

func communityTag(idx int) string {
	const base = 26
	name := ""
	for {
		name = string(rune('A'+idx%base)) + name
		idx = idx/base - 1
		if idx < 0 {
			break
		}
	}
	return "community-" + name
}

func canonicalPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*GraphNode, error) {
	n := &GraphNode{}
	var sourceIDs, filePaths pq.StringArray
	var metadata []byte
	if err := row.Scan(&n.Name, &n.EntityType, &n.Description, &n.AdditionalProperties, &n.Community, &sourceIDs, &filePaths, &metadata, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.SourceIDs = []string(sourceIDs)
	n.FilePaths = []string(filePaths)
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &n.Metadata)
	}
	return n, nil
}

func scanEdge(row scanner) (*GraphEdge, error) {
	e := &GraphEdge{}
	var keywords, sourceIDs, filePaths pq.StringArray
	var metadata []byte
	if err := row.Scan(&e.Source, &e.Target, &e.Weight, &e.Description, &keywords, &e.Latent, &sourceIDs, &filePaths, &metadata, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Keywords = []string(keywords)
	e.SourceIDs = []string(sourceIDs)
	e.FilePaths = []string(filePaths)
	return e, nil
}

func errSelfLoop(name string) error {
	return &selfLoopError{name: name}
}

type selfLoopError struct{ name string }

func (e *selfLoopError) Error() string { return "edge endpoints must differ, got self-loop on " + e.name }
