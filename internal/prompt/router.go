// Package prompt assembles final system prompts and routes queries by
// mode: bypass straight to the LLM, naive through chunk retrieval,
// the graph modes through hybrid retrieval, analyste through the
// committee-of-experts template, and deepsearch to its controller.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kgraphrag/kgraphrag/internal/cache"
	"github.com/kgraphrag/kgraphrag/internal/keyword"
	"github.com/kgraphrag/kgraphrag/internal/llm"
	"github.com/kgraphrag/kgraphrag/internal/retrieval"
	"github.com/kgraphrag/kgraphrag/model"
)

// DeepSearchFunc runs the deep-search controller for a query and returns the
// produced report artifact path. Injected at wiring time so this package
// stays independent of internal/deepsearch.
type DeepSearchFunc func(ctx context.Context, query string, param model.QueryParam) (string, error)

// Router is the query entry point downstream of the public facade.
type Router struct {
	retrieval  *retrieval.Engine
	keywords   *keyword.Extractor
	llm        llm.Func
	llmStream  llm.StreamFunc
	cache      *cache.Store
	deepSearch DeepSearchFunc
	logger     *slog.Logger
}

// NewRouter wires a Router. llmStream and deepSearch may be nil; the
// corresponding modes then degrade (no streaming, deepsearch errors).
func NewRouter(r *retrieval.Engine, kw *keyword.Extractor, llmFn llm.Func, llmStream llm.StreamFunc, c *cache.Store, deepSearch DeepSearchFunc, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		retrieval:  r,
		keywords:   kw,
		llm:        llmFn,
		llmStream:  llmStream,
		cache:      c,
		deepSearch: deepSearch,
		logger:     logger,
	}
}

// Query answers a query in the given mode and returns the final response
// string (or the retrieved context / formatted prompt when the matching
// only_need_* flag is set).
func (r *Router) Query(ctx context.Context, query string, param model.QueryParam) (string, error) {
	switch param.Mode {
	case model.ModeBypass:
		return r.llm(ctx, llm.Request{
			Prompt:   query,
			History:  param.ConversationHistory,
			Priority: llm.PriorityQuery,
		})

	case model.ModeDeepsearch:
		if r.deepSearch == nil {
			return "", fmt.Errorf("prompt: deepsearch mode not wired")
		}
		return r.deepSearch(ctx, query, param)
	}

	cacheKey := cache.Key(string(param.Mode), query, model.CacheTypeQuery)
	if entry, ok := r.cache.Get(ctx, cacheKey); ok {
		return entry.Content, nil
	}

	systemPrompt, contextData, err := r.assemble(ctx, query, param)
	if err != nil {
		return "", err
	}
	if contextData == "" {
		return retrieval.FailResponse, nil
	}
	if param.OnlyNeedContext {
		return contextData, nil
	}
	if param.OnlyNeedPrompt {
		return systemPrompt, nil
	}

	response, err := r.llm(ctx, llm.Request{
		Prompt:       query,
		SystemPrompt: systemPrompt,
		History:      param.ConversationHistory,
		Priority:     llm.PriorityQuery,
	})
	if err != nil {
		return "", err
	}
	response = cleanResponse(response, systemPrompt, query)

	if err := r.cache.Save(ctx, cacheKey, &model.CacheEntry{
		Content:   response,
		Prompt:    systemPrompt,
		Mode:      string(param.Mode),
		CacheType: model.CacheTypeQuery,
	}); err != nil {
		r.logger.Debug("prompt: response cache write failed", "error", err)
	}
	return response, nil
}

// QueryStream answers a query as an incremental stream. The full joined
// response is cached on terminal.
func (r *Router) QueryStream(ctx context.Context, query string, param model.QueryParam) (<-chan string, error) {
	if r.llmStream == nil {
		return nil, fmt.Errorf("prompt: streaming not wired")
	}

	if param.Mode == model.ModeBypass {
		return r.llmStream(ctx, llm.Request{
			Prompt:   query,
			History:  param.ConversationHistory,
			Stream:   true,
			Priority: llm.PriorityQuery,
		})
	}

	systemPrompt, contextData, err := r.assemble(ctx, query, param)
	if err != nil {
		return nil, err
	}
	if contextData == "" {
		out := make(chan string, 1)
		out <- retrieval.FailResponse
		close(out)
		return out, nil
	}

	upstream, err := r.llmStream(ctx, llm.Request{
		Prompt:       query,
		SystemPrompt: systemPrompt,
		History:      param.ConversationHistory,
		Stream:       true,
		Priority:     llm.PriorityQuery,
	})
	if err != nil {
		return nil, err
	}

	out := make(chan string, 32)
	go func() {
		defer close(out)
		var joined strings.Builder
		for chunk := range upstream {
			joined.WriteString(chunk)
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		cacheKey := cache.Key(string(param.Mode), query, model.CacheTypeQuery)
		if err := r.cache.Save(ctx, cacheKey, &model.CacheEntry{
			Content:   cleanResponse(joined.String(), systemPrompt, query),
			Prompt:    systemPrompt,
			Mode:      string(param.Mode),
			CacheType: model.CacheTypeQuery,
		}); err != nil {
			r.logger.Debug("prompt: stream cache write failed", "error", err)
		}
	}()
	return out, nil
}

// assemble runs keyword extraction and retrieval, then formats the system
// prompt for the mode. Returns ("", "", nil) context when retrieval is empty.
func (r *Router) assemble(ctx context.Context, query string, param model.QueryParam) (systemPrompt, contextData string, err error) {
	kw, err := r.keywords.Extract(ctx, query, param.ConversationHistory, param)
	if err != nil {
		return "", "", err
	}

	retrievalParam := param
	if param.Mode == model.ModeAnalyste {
		retrievalParam.Mode = model.ModeHybrid
	}
	retrieved, err := r.retrieval.BuildContext(ctx, query, kw, retrievalParam)
	if err != nil {
		return "", "", err
	}
	if retrieved.Empty() {
		return "", "", nil
	}
	contextData = r.retrieval.FormatContext(retrieved)

	template := ragResponseTemplate
	switch param.Mode {
	case model.ModeNaive:
		template = naiveRAGTemplate
	case model.ModeAnalyste:
		template = analysteTemplate
	}

	userPrompt := ""
	if param.UserProfile != "" {
		userPrompt = param.UserProfile
	}
	systemPrompt = fmt.Sprintf(template,
		formatHistory(param.ConversationHistory),
		contextData,
		userPrompt,
		responseType(param),
		"",
	)
	return systemPrompt, contextData, nil
}

func responseType(param model.QueryParam) string {
	if param.ResponseType != "" {
		return param.ResponseType
	}
	return "Multiple Paragraphs"
}

func formatHistory(history []model.Message) string {
	if len(history) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, m := range history {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// cleanResponse strips an echoed system prompt, the reserved role tags, and
// an echoed copy of the original query from the LLM output. The bare role
// words are only removed as whole lines so ordinary prose stays intact.
func cleanResponse(response, systemPrompt, query string) string {
	response = strings.ReplaceAll(response, systemPrompt, "")
	for _, tag := range []string{"<system>", "</system>"} {
		response = strings.ReplaceAll(response, tag, "")
	}
	var kept []string
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "user" || trimmed == "model" || trimmed == query {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
