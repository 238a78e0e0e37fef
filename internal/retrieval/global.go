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

// edgeCandidate is one relation under consideration during global retrieval.
type edgeCandidate struct {
	src, tgt     string
	edge         *storage.GraphEdge
	rank         int
	similarity   float64
	connectivity float64
}

// globalContext is the global mode: seed relations via vector
// search over high-level keywords + community, then filter, sort by
// (rank, weight, connectivity), paginate, truncate, and gather related
// entities and text units from the retained edges.
func (e *Engine) globalContext(ctx context.Context, kw keyword.Result, param model.QueryParam) (*model.RetrievedContext, error) {
	seedQuery := strings.Join(append(append([]string{}, kw.HighLevel...), kw.Community), ", ")
	matches, err := e.vectors.Query(ctx, storage.NamespaceRelations, seedQuery, param.TopK*param.Page, nil)
	if err != nil {
		return nil, obs.WrapErr("global relation search", err)
	}

	var pairs [][2]string
	similarities := map[string]float64{}
	for _, m := range matches {
		src, tgt, ok := endpointsFromContent(m.Content)
		if !ok {
			continue
		}
		key := storage.PairKey(src, tgt)
		if _, seen := similarities[key]; !seen {
			pairs = append(pairs, [2]string{src, tgt})
		}
		similarities[key] = 1 - m.Distance
	}
	if len(pairs) == 0 {
		return &model.RetrievedContext{}, nil
	}

	edges, err := e.graph.GetEdgesBatch(ctx, pairs)
	if err != nil {
		return nil, obs.WrapErr("load candidate edges", err)
	}
	degrees, err := e.graph.EdgeDegreesBatch(ctx, pairs)
	if err != nil {
		return nil, obs.WrapErr("load edge degrees", err)
	}

	var candidates []*edgeCandidate
	entitySet := map[string]bool{}
	for _, pair := range pairs {
		key := storage.PairKey(pair[0], pair[1])
		edge, ok := edges[key]
		if !ok {
			continue
		}
		similarity := similarities[key]
		if param.SimilarityThreshold > 0 && similarity < param.SimilarityThreshold {
			continue
		}
		if degrees[key] < param.DegreeThreshold {
			continue
		}
		candidates = append(candidates, &edgeCandidate{
			src: edge.Source, tgt: edge.Target,
			edge: edge, rank: degrees[key], similarity: similarity,
		})
		entitySet[edge.Source] = true
		entitySet[edge.Target] = true
	}

	// Connectivity measures how each edge's endpoints reach the co-retrieved
	// entity set.
	e.scoreEdgeConnectivity(ctx, candidates, entitySet)

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].rank != candidates[j].rank {
			return candidates[i].rank > candidates[j].rank
		}
		if candidates[i].edge.Weight != candidates[j].edge.Weight {
			return candidates[i].edge.Weight > candidates[j].edge.Weight
		}
		return candidates[i].connectivity > candidates[j].connectivity
	})
	candidates = paginate(candidates, param.Page, param.TopK)

	budget := param.MaxTokenForGlobalContext
	limited := budget > 0
	var relationships []*model.Edge
	var kept []*edgeCandidate
	for _, c := range candidates {
		tokens := tokenize.CountApprox(c.edge.Description)
		if limited {
			if tokens > budget {
				break
			}
			budget -= tokens
		}
		relationships = append(relationships, edgeFromGraph(c.edge))
		kept = append(kept, c)
	}

	entities, err := e.entitiesFromEdges(ctx, kept, param)
	if err != nil {
		return nil, err
	}
	chunks, err := e.textUnitsFromEdges(ctx, kept, param.MaxTokenForTextUnit)
	if err != nil {
		return nil, err
	}

	return &model.RetrievedContext{Entities: entities, Relationships: relationships, DocumentChunks: chunks}, nil
}

func (e *Engine) scoreEdgeConnectivity(ctx context.Context, candidates []*edgeCandidate, entitySet map[string]bool) {
	for _, c := range candidates {
		for entity := range entitySet {
			if entity == c.src || entity == c.tgt {
				continue
			}
			for _, endpoint := range []string{c.src, c.tgt} {
				length, err := e.graph.ShortestPathLength(ctx, endpoint, entity)
				if err != nil || length == storage.UnreachableDistance {
					continue
				}
				c.connectivity += 1 / float64(length+1)
			}
		}
	}
}

// entitiesFromEdges loads the endpoint entities of the retained edges,
// truncated by the local-context budget.
func (e *Engine) entitiesFromEdges(ctx context.Context, kept []*edgeCandidate, param model.QueryParam) ([]*model.Entity, error) {
	seen := map[string]bool{}
	var names []string
	for _, c := range kept {
		for _, name := range []string{c.src, c.tgt} {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	nodes, err := e.graph.GetNodesBatch(ctx, names)
	if err != nil {
		return nil, obs.WrapErr("load edge endpoints", err)
	}
	degrees, err := e.graph.NodeDegreesBatch(ctx, names)
	if err != nil {
		return nil, obs.WrapErr("load endpoint degrees", err)
	}

	budget := param.MaxTokenForLocalContext
	limited := budget > 0
	var out []*model.Entity
	for _, name := range names {
		node, ok := nodes[name]
		if !ok {
			continue
		}
		tokens := tokenize.CountApprox(node.Description)
		if limited {
			if tokens > budget {
				break
			}
			budget -= tokens
		}
		out = append(out, entityFromNode(&candidate{name: name, node: node, degree: degrees[name]}))
	}
	return out, nil
}

// textUnitsFromEdges fetches the chunks behind the retained edges'
// source_id lists.
func (e *Engine) textUnitsFromEdges(ctx context.Context, kept []*edgeCandidate, budget int) ([]*model.Chunk, error) {
	seen := map[string]bool{}
	var idList []string
	for _, c := range kept {
		for _, chunkID := range c.edge.SourceIDs {
			if !seen[chunkID] {
				seen[chunkID] = true
				idList = append(idList, chunkID)
			}
		}
	}

	records, err := e.chunks.GetChunksBatch(ctx, idList, e.opts.ChunkFetchMaxConcurrency)
	if err != nil {
		return nil, obs.WrapErr("fetch edge text units", err)
	}

	limited := budget > 0
	var out []*model.Chunk
	for _, id := range idList {
		rec, ok := records[id]
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

// endpointsFromContent recovers the edge endpoints from a relation vector
// payload, whose first line is "src\ttgt" (see internal/merge's
// relationVectorRecord). Multi-hop path payloads ("a -> b -> c") are not
// edge-shaped and are skipped here.
func endpointsFromContent(content string) (string, string, bool) {
	line, _, _ := strings.Cut(content, "\n")
	src, tgt, ok := strings.Cut(line, "\t")
	src, tgt = strings.TrimSpace(src), strings.TrimSpace(tgt)
	if !ok || src == "" || tgt == "" {
		return "", "", false
	}
	return src, tgt, true
}
