// Package keyword derives high-level and low-level keywords plus a
// community tag from a query, caching results by content hash.
package keyword

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kgraphrag/kgraphrag/internal/cache"
	"github.com/kgraphrag/kgraphrag/internal/llm"
	"github.com/kgraphrag/kgraphrag/model"
)

// Result is the keyword-extraction 3-tuple.
type Result struct {
	HighLevel []string
	LowLevel  []string
	Community string
}

// Empty reports whether no keyword of either level was found.
func (r Result) Empty() bool {
	return len(r.HighLevel) == 0 && len(r.LowLevel) == 0
}

const promptTemplate = `-Role-
You are a helpful assistant identifying both high-level and low-level keywords in the user's query, plus the thematic community the query belongs to.

-Goal-
Given the query%s, list:
- high_level_keywords: overarching concepts or themes
- low_level_keywords: specific entities or details
- Community: one short domain tag for the query

-Output-
Return a single JSON object with keys "high_level_keywords", "low_level_keywords" and "Community".

Query: %s

Output:`

// firstJSONObject grabs the first {...} block out of a possibly chatty
// completion.
var firstJSONObject = regexp.MustCompile(`(?s)\{.*?\}`)

// Extractor is the keyword-extraction component.
type Extractor struct {
	llm    llm.Func
	cache  *cache.Store
	logger *slog.Logger
}

// New wires an Extractor.
func New(llmFn llm.Func, c *cache.Store, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{llm: llmFn, cache: c, logger: logger}
}

// Extract returns the query's keywords, honoring explicit overrides on the
// query parameters, then the cache, then the LLM. A completion carrying no
// JSON object yields empty lists, never an error.
func (e *Extractor) Extract(ctx context.Context, query string, history []model.Message, param model.QueryParam) (Result, error) {
	if len(param.HighLevelKeywords) > 0 || len(param.LowLevelKeywords) > 0 {
		return Result{HighLevel: param.HighLevelKeywords, LowLevel: param.LowLevelKeywords}, nil
	}

	raw, err := e.cache.GetOrCompute(ctx, string(param.Mode), query, model.CacheTypeKeywords, func(ctx context.Context) (string, error) {
		historyNote := ""
		if len(history) > 0 {
			historyNote = fmt.Sprintf(" and the conversation history (%d prior turns)", len(history))
		}
		return e.llm(ctx, llm.Request{
			Prompt:            fmt.Sprintf(promptTemplate, historyNote, query),
			History:           history,
			ResponseFormat:    llm.ResponseFormatJSON,
			KeywordExtraction: true,
			Priority:          llm.PriorityQuery,
		})
	})
	if err != nil {
		return Result{}, err
	}
	return parse(e.logger, raw), nil
}

// parse extracts the first JSON object and decodes the 3-tuple. Missing or
// malformed JSON is a soft failure returning empty keyword lists.
func parse(logger *slog.Logger, completion string) Result {
	match := firstJSONObject.FindString(completion)
	if match == "" {
		logger.Debug("keyword: no JSON object in completion")
		return Result{}
	}

	var decoded struct {
		HighLevelKeywords []string `json:"high_level_keywords"`
		LowLevelKeywords  []string `json:"low_level_keywords"`
		Community         string   `json:"Community"`
	}
	if err := json.Unmarshal([]byte(match), &decoded); err != nil {
		logger.Debug("keyword: undecodable JSON in completion", "error", err)
		return Result{}
	}
	return Result{
		HighLevel: cleanList(decoded.HighLevelKeywords),
		LowLevel:  cleanList(decoded.LowLevelKeywords),
		Community: strings.TrimSpace(decoded.Community),
	}
}

func cleanList(in []string) []string {
	var out []string
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
