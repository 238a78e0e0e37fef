// Package retrieval builds query contexts from the knowledge graph and the
// vector stores: mode dispatch (naive/local/global/hybrid/
// mix), connectivity-scored ranking, token-budgeted truncation, multi-hop
// enrichment, and the four-section structured output.
package retrieval

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/kgraphrag/kgraphrag/internal/cache"
	"github.com/kgraphrag/kgraphrag/internal/keyword"
	"github.com/kgraphrag/kgraphrag/internal/llm"
	"github.com/kgraphrag/kgraphrag/internal/storage"
	"github.com/kgraphrag/kgraphrag/model"
)

// FailResponse is the fixed string returned when retrieval produces nothing
// answerable.
const FailResponse = "Sorry, I'm not able to provide an answer to that question."

// Options holds the retrieval tunables.
type Options struct {
	EntityLinkBaseURL        string
	MultiHopMinStrength      float64
	MultiHopMaxDepth         int
	SummaryToMaxTokens       int
	ChunkFetchMaxConcurrency int
}

// Engine is the retrieval component.
type Engine struct {
	graph   storage.GraphStore
	vectors storage.VectorStore
	chunks  storage.ChunkStore
	llm     llm.Func
	cache   *cache.Store
	logger  *slog.Logger
	opts    Options
}

// NewEngine wires a retrieval engine.
func NewEngine(graph storage.GraphStore, vectors storage.VectorStore, chunks storage.ChunkStore, llmFn llm.Func, c *cache.Store, logger *slog.Logger, opts Options) *Engine {
	if opts.MultiHopMaxDepth <= 0 {
		opts.MultiHopMaxDepth = 3
	}
	if opts.SummaryToMaxTokens <= 0 {
		opts.SummaryToMaxTokens = 500
	}
	if opts.ChunkFetchMaxConcurrency <= 0 {
		opts.ChunkFetchMaxConcurrency = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{graph: graph, vectors: vectors, chunks: chunks, llm: llmFn, cache: c, logger: logger, opts: opts}
}

// BuildContext dispatches on the (possibly demoted) retrieval mode and
// returns the assembled context. An empty context is a valid result — the
// caller maps it to FailResponse.
func (e *Engine) BuildContext(ctx context.Context, query string, kw keyword.Result, param model.QueryParam) (*model.RetrievedContext, error) {
	if param.TopK <= 0 {
		return &model.RetrievedContext{}, nil
	}
	if param.Page <= 0 {
		param.Page = 1
	}

	mode := demote(param.Mode, kw)
	if mode == "" {
		return &model.RetrievedContext{}, nil
	}

	switch mode {
	case model.ModeNaive:
		chunks, err := e.naiveChunks(ctx, query, param)
		if err != nil {
			return nil, err
		}
		return &model.RetrievedContext{DocumentChunks: chunks}, nil

	case model.ModeLocal:
		result, err := e.localContext(ctx, query, kw, param)
		if err != nil {
			return nil, err
		}
		e.enrichMultiHop(ctx, result, kw, param)
		return result, nil

	case model.ModeGlobal:
		result, err := e.globalContext(ctx, kw, param)
		if err != nil {
			return nil, err
		}
		e.enrichMultiHop(ctx, result, kw, param)
		return result, nil

	case model.ModeHybrid:
		result, err := e.hybridContext(ctx, query, kw, param)
		if err != nil {
			return nil, err
		}
		e.enrichMultiHop(ctx, result, kw, param)
		return result, nil

	case model.ModeMix:
		result, err := e.hybridContext(ctx, query, kw, param)
		if err != nil {
			return nil, err
		}
		chunks, err := e.naiveChunks(ctx, query, param)
		if err != nil {
			return nil, err
		}
		result.DocumentChunks = rankMixChunks(result, chunks, param)
		e.enrichMultiHop(ctx, result, kw, param)
		return result, nil
	}

	return &model.RetrievedContext{}, nil
}

// demote applies the keyword boundary rules: local/hybrid without
// low-level keywords demotes to global; global/hybrid without high-level
// keywords demotes to local; both empty yields no mode at all. The naive and
// mix modes are keyword-independent and pass through.
func demote(mode model.Mode, kw keyword.Result) model.Mode {
	switch mode {
	case model.ModeLocal:
		if len(kw.LowLevel) == 0 {
			if len(kw.HighLevel) == 0 {
				return ""
			}
			return model.ModeGlobal
		}
	case model.ModeGlobal:
		if len(kw.HighLevel) == 0 {
			if len(kw.LowLevel) == 0 {
				return ""
			}
			return model.ModeLocal
		}
	case model.ModeHybrid:
		if len(kw.LowLevel) == 0 && len(kw.HighLevel) == 0 {
			return ""
		}
		if len(kw.LowLevel) == 0 {
			return model.ModeGlobal
		}
		if len(kw.HighLevel) == 0 {
			return model.ModeLocal
		}
	}
	return mode
}

// hybridContext unions the local and global context sets.
func (e *Engine) hybridContext(ctx context.Context, query string, kw keyword.Result, param model.QueryParam) (*model.RetrievedContext, error) {
	local, err := e.localContext(ctx, query, kw, param)
	if err != nil {
		return nil, err
	}
	global, err := e.globalContext(ctx, kw, param)
	if err != nil {
		return nil, err
	}
	return &model.RetrievedContext{
		Entities:       combineEntities(local.Entities, global.Entities),
		Relationships:  combineEdges(local.Relationships, global.Relationships),
		DocumentChunks: combineChunks(local.DocumentChunks, global.DocumentChunks),
	}, nil
}

// rankMixChunks merges graph-derived and vector-retrieved chunks into one
// deduplicated, weight-ranked list for the mix mode. Vector hits score
// vector_weight × similarity and graph-derived chunks score graph_weight;
// chunks listed in a retained entity's source_id set add entity_weight, and
// chunks sharing a document with another retained chunk add
// hierarchy_weight when include_siblings is set. Ties keep the order of
// first occurrence across the sources.
func rankMixChunks(result *model.RetrievedContext, vectorChunks []*model.Chunk, param model.QueryParam) []*model.Chunk {
	type scored struct {
		chunk *model.Chunk
		score float64
	}
	index := map[string]*scored{}
	var order []*scored
	add := func(c *model.Chunk, score float64) {
		if s, ok := index[c.ID]; ok {
			if score > s.score {
				s.score = score
			}
			return
		}
		s := &scored{chunk: c, score: score}
		index[c.ID] = s
		order = append(order, s)
	}
	for _, c := range result.DocumentChunks {
		add(c, param.GraphWeight)
	}
	for _, c := range vectorChunks {
		similarity := 0.0
		if c.Similarity != nil {
			similarity = *c.Similarity
		}
		add(c, param.VectorWeight*similarity)
	}

	mentioned := map[string]bool{}
	for _, entity := range result.Entities {
		for _, id := range entity.SourceIDs {
			mentioned[id] = true
		}
	}
	perDoc := map[uuid.UUID]int{}
	for _, s := range order {
		if s.chunk.FullDocID != uuid.Nil {
			perDoc[s.chunk.FullDocID]++
		}
	}
	for _, s := range order {
		if mentioned[s.chunk.ID] {
			s.score += param.EntityWeight
		}
		if param.IncludeSiblings && s.chunk.FullDocID != uuid.Nil && perDoc[s.chunk.FullDocID] > 1 {
			s.score += param.HierarchyWeight
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return order[i].score > order[j].score })
	out := make([]*model.Chunk, len(order))
	for i, s := range order {
		out[i] = s.chunk
	}
	return out
}

// paginate returns the page-th window of size topK after global sorting, so
// page 2 with top_k k is the second window of size k.
func paginate[T any](items []T, page, topK int) []T {
	start := (page - 1) * topK
	if start >= len(items) {
		return nil
	}
	end := start + topK
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
