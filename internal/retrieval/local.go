package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/kgraphrag/kgraphrag/internal/keyword"
	"github.com/kgraphrag/kgraphrag/internal/obs"
	"github.com/kgraphrag/kgraphrag/internal/storage"
	"github.com/kgraphrag/kgraphrag/internal/tokenize"
	"github.com/kgraphrag/kgraphrag/model"
)

// candidate is one entity under consideration during local retrieval.
type candidate struct {
	name         string
	node         *storage.GraphNode
	degree       int
	similarity   float64
	connectivity float64
}

// localContext is the local mode: seed entities via vector
// search over low-level keywords + community, fall back to direct node
// lookup, then filter, connectivity-score, sort, paginate, truncate, and
// gather related text units and edges.
func (e *Engine) localContext(ctx context.Context, query string, kw keyword.Result, param model.QueryParam) (*model.RetrievedContext, error) {
	seedQuery := strings.Join(append(append([]string{}, kw.LowLevel...), kw.Community), ", ")
	matches, err := e.vectors.Query(ctx, storage.NamespaceEntities, seedQuery, param.TopK*param.Page, nil)
	if err != nil {
		return nil, obs.WrapErr("local entity search", err)
	}

	similarities := map[string]float64{}
	var names []string
	for _, m := range matches {
		name := entityNameFromContent(m.Content)
		if name == "" {
			continue
		}
		if _, seen := similarities[name]; !seen {
			names = append(names, name)
		}
		similarities[name] = 1 - m.Distance
	}

	// Empty vector index: fall back to a direct node lookup by the
	// standardized query text.
	if len(names) == 0 {
		direct := tokenize.StandardizeEntityName(query)
		if ok, err := e.graph.HasNode(ctx, direct); err == nil && ok {
			names = append(names, direct)
			similarities[direct] = 1
		}
	}
	if len(names) == 0 {
		return &model.RetrievedContext{}, nil
	}

	candidates, err := e.loadCandidates(ctx, names, similarities, param)
	if err != nil {
		return nil, err
	}
	e.scoreConnectivity(ctx, candidates)

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].degree != candidates[j].degree {
			return candidates[i].degree > candidates[j].degree
		}
		return candidates[i].connectivity > candidates[j].connectivity
	})
	candidates = paginate(candidates, param.Page, param.TopK)
	candidates = truncateCandidates(candidates, param.MaxTokenForLocalContext)

	entities := make([]*model.Entity, 0, len(candidates))
	kept := make([]string, 0, len(candidates))
	for _, c := range candidates {
		entities = append(entities, entityFromNode(c))
		kept = append(kept, c.name)
	}

	edges, err := e.relatedEdges(ctx, kept, param.MaxTokenForGlobalContext)
	if err != nil {
		return nil, err
	}
	chunks, err := e.relatedTextUnits(ctx, candidates, param.MaxTokenForTextUnit)
	if err != nil {
		return nil, err
	}

	return &model.RetrievedContext{Entities: entities, Relationships: edges, DocumentChunks: chunks}, nil
}

// loadCandidates batch-loads nodes and degrees and applies the degree,
// similarity, and category filters.
func (e *Engine) loadCandidates(ctx context.Context, names []string, similarities map[string]float64, param model.QueryParam) ([]*candidate, error) {
	nodes, err := e.graph.GetNodesBatch(ctx, names)
	if err != nil {
		return nil, obs.WrapErr("load candidate nodes", err)
	}
	degrees, err := e.graph.NodeDegreesBatch(ctx, names)
	if err != nil {
		return nil, obs.WrapErr("load candidate degrees", err)
	}

	var out []*candidate
	for _, name := range names {
		node, ok := nodes[name]
		if !ok {
			continue
		}
		degree := degrees[name]
		similarity := similarities[name]
		if degree < param.DegreeThreshold {
			continue
		}
		if param.SimilarityThreshold > 0 && similarity < param.SimilarityThreshold {
			continue
		}
		if param.Category != "" && node.EntityType != param.Category {
			continue
		}
		out = append(out, &candidate{name: name, node: node, degree: degree, similarity: similarity})
	}
	return out, nil
}

// scoreConnectivity computes each candidate's connectivity score:
// Σ 1/(shortest_path_length+1) across the candidate set, skipping
// unreachable pairs. Path-length failures degrade to an
// unscored pair rather than failing retrieval.
func (e *Engine) scoreConnectivity(ctx context.Context, candidates []*candidate) {
	for i, a := range candidates {
		for j, b := range candidates {
			if i == j {
				continue
			}
			length, err := e.graph.ShortestPathLength(ctx, a.name, b.name)
			if err != nil {
				e.logger.Debug("retrieval: shortest path failed", "a", a.name, "b", b.name, "error", err)
				continue
			}
			if length == storage.UnreachableDistance {
				continue
			}
			a.connectivity += 1 / float64(length+1)
		}
	}
}

// relatedEdges gathers each kept entity's incident edges via the batched
// node-edges lookup, deduplicated and truncated by the global-context token
// budget.
func (e *Engine) relatedEdges(ctx context.Context, names []string, budget int) ([]*model.Edge, error) {
	edgesByNode, err := e.graph.GetNodesEdgesBatch(ctx, names)
	if err != nil {
		return nil, obs.WrapErr("load related edges", err)
	}

	seen := map[string]bool{}
	limited := budget > 0
	var out []*model.Edge
	for _, name := range names {
		for _, edge := range edgesByNode[name] {
			key := storage.PairKey(edge.Source, edge.Target)
			if seen[key] {
				continue
			}
			seen[key] = true

			tokens := tokenize.CountApprox(edge.Description)
			if limited {
				if tokens > budget {
					return out, nil
				}
				budget -= tokens
			}
			out = append(out, edgeFromGraph(edge))
		}
	}
	return out, nil
}

// relatedTextUnits fetches the chunks behind each candidate's source_id
// list, bonus-ranked by one-hop neighbor overlap and candidate connectivity,
// truncated by the text-unit token budget.
func (e *Engine) relatedTextUnits(ctx context.Context, candidates []*candidate, budget int) ([]*model.Chunk, error) {
	type rankedChunk struct {
		id    string
		bonus float64
	}

	neighborSets, err := e.oneHopNeighbors(ctx, candidates)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var ranked []rankedChunk
	for _, c := range candidates {
		overlap := 0
		for other, set := range neighborSets {
			if other != c.name && set[c.name] {
				overlap++
			}
		}
		for _, chunkID := range c.node.SourceIDs {
			if seen[chunkID] {
				continue
			}
			seen[chunkID] = true
			ranked = append(ranked, rankedChunk{id: chunkID, bonus: float64(overlap) + c.connectivity})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].bonus > ranked[j].bonus })

	idList := make([]string, len(ranked))
	for i, r := range ranked {
		idList[i] = r.id
	}
	records, err := e.chunks.GetChunksBatch(ctx, idList, e.opts.ChunkFetchMaxConcurrency)
	if err != nil {
		return nil, obs.WrapErr("fetch text units", err)
	}

	limited := budget > 0
	var out []*model.Chunk
	for _, r := range ranked {
		rec, ok := records[r.id]
		if !ok {
			continue
		}
		tokens := tokenize.CountApprox(rec.Content)
		if limited {
			if tokens > budget {
				break
			}
			budget -= tokens
		}
		out = append(out, chunkFromRecord(rec))
	}
	return out, nil
}

// oneHopNeighbors maps each candidate to the set of its direct neighbors.
func (e *Engine) oneHopNeighbors(ctx context.Context, candidates []*candidate) (map[string]map[string]bool, error) {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	edgesByNode, err := e.graph.GetNodesEdgesBatch(ctx, names)
	if err != nil {
		return nil, obs.WrapErr("load one-hop neighbors", err)
	}

	out := make(map[string]map[string]bool, len(names))
	for _, name := range names {
		set := map[string]bool{}
		for _, edge := range edgesByNode[name] {
			if edge.Source != name {
				set[edge.Source] = true
			}
			if edge.Target != name {
				set[edge.Target] = true
			}
		}
		out[name] = set
	}
	return out, nil
}

// truncateCandidates trims the sorted candidate list to the local-context
// token budget, counting each node's description.
func truncateCandidates(candidates []*candidate, budget int) []*candidate {
	if budget <= 0 {
		return candidates
	}
	var out []*candidate
	for _, c := range candidates {
		tokens := tokenize.CountApprox(c.node.Description)
		if tokens > budget {
			break
		}
		budget -= tokens
		out = append(out, c)
	}
	return out
}

// entityNameFromContent recovers the entity name from a vector payload,
// whose first line is the name (see internal/merge's entityVectorRecord).
func entityNameFromContent(content string) string {
	line, _, _ := strings.Cut(content, "\n")
	return strings.TrimSpace(line)
}
