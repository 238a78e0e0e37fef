package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kgraphrag/kgraphrag/internal/llm"
	"github.com/kgraphrag/kgraphrag/internal/obs"
	"github.com/kgraphrag/kgraphrag/internal/storage"
	"github.com/kgraphrag/kgraphrag/internal/tokenize"
	"github.com/kgraphrag/kgraphrag/model"
)

// naiveChunks is the naive mode: vector search over chunks only, paginated,
// then truncated by max_token_for_text_unit. Oversized chunks are summarized
// before emitting.
func (e *Engine) naiveChunks(ctx context.Context, query string, param model.QueryParam) ([]*model.Chunk, error) {
	matches, err := e.vectors.Query(ctx, storage.NamespaceChunks, query, param.TopK*param.Page, nil)
	if err != nil {
		return nil, obs.WrapErr("naive chunk search", err)
	}
	matches = filterByDocument(matches, param.DocumentRIDs)
	matches = paginate(matches, param.Page, param.TopK)

	budget := param.MaxTokenForTextUnit
	limited := budget > 0
	var out []*model.Chunk
	for _, m := range matches {
		content := m.Content
		tokens := tokenize.CountApprox(content)
		if tokens > e.opts.SummaryToMaxTokens {
			content = e.summarizeChunk(ctx, m.ID, content)
			tokens = tokenize.CountApprox(content)
		}
		if limited {
			if tokens > budget {
				break
			}
			budget -= tokens
		}

		similarity := 1 - m.Distance
		out = append(out, &model.Chunk{
			ID:         m.ID,
			Content:    content,
			Tokens:     tokens,
			FilePath:   m.FilePath,
			CreatedAt:  m.CreatedAt,
			Similarity: &similarity,
		})
	}
	return out, nil
}

// filterByDocument restricts matches to the given document RIDs, the
// document-scoped search filter. It is applied to the chunk vector search
// only; entity and relation searches are not filtered by document.
func filterByDocument(matches []storage.VectorMatch, rids []uuid.UUID) []storage.VectorMatch {
	if len(rids) == 0 {
		return matches
	}
	allowed := make(map[string]bool, len(rids))
	for _, rid := range rids {
		allowed[rid.String()] = true
	}
	var out []storage.VectorMatch
	for _, m := range matches {
		docID, _ := m.Extra["full_doc_id"].(string)
		if allowed[docID] {
			out = append(out, m)
		}
	}
	return out
}

// summarizeChunk compresses an oversized chunk. A summarization failure is
// tolerated: the truncated original is emitted instead.
func (e *Engine) summarizeChunk(ctx context.Context, id, content string) string {
	summary, err := e.cache.GetOrCompute(ctx, "retrieval", content, model.CacheTypeEnrichDesc, func(ctx context.Context) (string, error) {
		prompt := fmt.Sprintf("Summarize the following passage, keeping every concrete fact:\n\n%s\n\nSummary:",
			tokenize.TruncateByTokens(content, e.opts.SummaryToMaxTokens*4))
		return e.llm(ctx, llm.Request{Prompt: prompt, Priority: llm.PriorityQuery, MaxTokens: e.opts.SummaryToMaxTokens})
	})
	if err != nil {
		e.logger.Warn("retrieval: chunk summarization failed, truncating instead", "chunk", id, "error", err)
		return tokenize.TruncateByTokens(content, e.opts.SummaryToMaxTokens)
	}
	return summary
}
