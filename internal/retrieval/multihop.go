package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kgraphrag/kgraphrag/internal/ids"
	"github.com/kgraphrag/kgraphrag/internal/keyword"
	"github.com/kgraphrag/kgraphrag/internal/storage"
	"github.com/kgraphrag/kgraphrag/model"
)

// enrichMultiHop computes multi-hop paths from the context's top entities,
// filters them by min_strength, ranks by path_strength + 0.1 × keyword
// overlap, and keeps the top top_k. Per-entity failures are
// logged and skipped, never fatal.
func (e *Engine) enrichMultiHop(ctx context.Context, result *model.RetrievedContext, kw keyword.Result, param model.QueryParam) {
	if len(result.Entities) == 0 {
		return
	}

	keywords := append(append([]string{}, kw.HighLevel...), kw.LowLevel...)
	sort.Strings(keywords)

	seeds := result.Entities
	if len(seeds) > param.TopK {
		seeds = seeds[:param.TopK]
	}

	type scoredPath struct {
		path  *model.MultiHopPath
		score float64
	}
	seen := map[string]bool{}
	var scored []scoredPath
	for _, entity := range seeds {
		paths, err := e.multiHopPathsCached(ctx, entity.Name, param.TopK, keywords)
		if err != nil {
			e.logger.Warn("retrieval: multi-hop enrichment failed, skipping entity", "entity", entity.Name, "error", err)
			continue
		}
		for _, p := range paths {
			if p.Strength < e.opts.MultiHopMinStrength {
				continue
			}
			id := ids.MultiHop(p.Entities)
			if seen[id] {
				continue
			}
			seen[id] = true
			scored = append(scored, scoredPath{
				path: &model.MultiHopPath{
					ID:           id,
					Entities:     p.Entities,
					PathStrength: p.Strength,
					Description:  strings.Join(p.Entities, " -> "),
				},
				score: p.Strength + 0.1*float64(keywordOverlap(keywords, p.Entities)),
			})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > param.TopK {
		scored = scored[:param.TopK]
	}
	for _, s := range scored {
		result.MultiHopPaths = append(result.MultiHopPaths, s.path)
	}
}

// multiHopPathsCached wraps GraphStore.MultiHopPaths with the response
// cache, keyed by entity + top_k + min_strength + sorted keywords.
func (e *Engine) multiHopPathsCached(ctx context.Context, entity string, topK int, sortedKeywords []string) ([]storage.GraphPath, error) {
	cacheInput := fmt.Sprintf("%s\x1f%d\x1f%.3f\x1f%s", entity, topK, e.opts.MultiHopMinStrength, strings.Join(sortedKeywords, ","))
	raw, err := e.cache.GetOrCompute(ctx, "retrieval", cacheInput, model.CacheTypeMultiHop, func(ctx context.Context) (string, error) {
		paths, err := e.graph.MultiHopPaths(ctx, entity, e.opts.MultiHopMaxDepth, topK)
		if err != nil {
			return "", err
		}
		encoded, err := json.Marshal(paths)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	})
	if err != nil {
		return nil, err
	}

	var paths []storage.GraphPath
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

// keywordOverlap counts keywords that appear within any path entity name.
func keywordOverlap(keywords, entities []string) int {
	overlap := 0
	for _, k := range keywords {
		lower := strings.ToLower(k)
		for _, entity := range entities {
			if strings.Contains(strings.ToLower(entity), lower) {
				overlap++
				break
			}
		}
	}
	return overlap
}
