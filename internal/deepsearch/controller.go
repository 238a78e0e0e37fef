// Package deepsearch is the tree-of-thought controller:
// bounded breadth-first exploration of LLM-generated sub-queries, thought
// scoring, answer synthesis through the regular query flow, and report
// assembly into a durable DOCX artifact.
package deepsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kgraphrag/kgraphrag/internal/llm"
	"github.com/kgraphrag/kgraphrag/internal/report"
	"github.com/kgraphrag/kgraphrag/model"
)

// AnswerFunc answers one sub-question through the hybrid retrieval flow.
// Injected so this package stays independent of the prompt router that
// delegates to it.
type AnswerFunc func(ctx context.Context, question string, param model.QueryParam) (string, error)

// Controller orchestrates one deep-search run.
type Controller struct {
	llm        llm.Func
	answer     AnswerFunc
	logger     *slog.Logger
	workingDir string
}

// New wires a Controller. Reports land under workingDir/reports.
func New(llmFn llm.Func, answer AnswerFunc, workingDir string, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{llm: llmFn, answer: answer, logger: logger, workingDir: workingDir}
}

// answeredQuestion is one node of the explored thought tree, in BFS order.
type answeredQuestion struct {
	Question string
	Answer   string
	Depth    int
}

// Run explores the query tree and writes the report, returning the artifact
// path.
func (c *Controller) Run(ctx context.Context, query string, param model.QueryParam) (string, error) {
	maxDepth := c.selectDepth(ctx, query)
	c.logger.Info("deepsearch: starting", "query", query, "max_depth", maxDepth)

	roots, err := c.expandRoot(ctx, query)
	if err != nil {
		return "", err
	}
	roots, err = c.selectTop(ctx, query, roots, min(maxDepth, len(roots)))
	if err != nil {
		return "", err
	}

	type queued struct {
		question string
		depth    int
	}
	queue := make([]queued, 0, len(roots))
	for _, q := range roots {
		queue = append(queue, queued{question: q, depth: 1})
	}

	answerParam := param
	answerParam.Mode = model.ModeHybrid

	var answered []answeredQuestion
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		answer, err := c.answer(ctx, cur.question, answerParam)
		if err != nil {
			return "", fmt.Errorf("deepsearch: answering %q: %w", cur.question, err)
		}
		answered = append(answered, answeredQuestion{Question: cur.question, Answer: answer, Depth: cur.depth})

		if cur.depth >= maxDepth {
			continue
		}
		followUps, err := c.followUpQuestions(ctx, cur.question, answer)
		if err != nil {
			c.logger.Warn("deepsearch: follow-up generation failed, pruning branch", "question", cur.question, "error", err)
			continue
		}
		followUps, err = c.selectTop(ctx, query, followUps, min(maxDepth-1, len(followUps)))
		if err != nil {
			c.logger.Warn("deepsearch: follow-up scoring failed, pruning branch", "question", cur.question, "error", err)
			continue
		}
		for _, q := range followUps {
			queue = append(queue, queued{question: q, depth: cur.depth + 1})
		}
	}

	return c.writeReport(ctx, query, answered)
}

var intRe = regexp.MustCompile(`[1-4]`)

// selectDepth asks the LLM for a complexity-based depth in [1,4], falling
// back to a whitespace-token heuristic.
func (c *Controller) selectDepth(ctx context.Context, query string) int {
	fallback := 1
	if len(strings.Fields(query)) > 10 {
		fallback = 2
	}

	prompt := fmt.Sprintf(
		"Rate the research depth this question requires as a single integer from 1 (simple lookup) to 4 (multi-step investigation). Answer with only the integer.\n\nQuestion: %s",
		query,
	)
	answer, err := c.llm(ctx, llm.Request{Prompt: prompt, Priority: llm.PriorityQuery, MaxTokens: 8})
	if err != nil {
		c.logger.Debug("deepsearch: depth selection failed, using fallback", "error", err)
		return fallback
	}
	m := intRe.FindString(answer)
	if m == "" {
		return fallback
	}
	depth, _ := strconv.Atoi(m)
	return depth
}

// expandRoot asks the LLM for 2-4 sub-queries in JSON.
func (c *Controller) expandRoot(ctx context.Context, query string) ([]string, error) {
	prompt := fmt.Sprintf(
		"Decompose the following research question into 2 to 4 focused sub-questions that together cover it. Return a JSON object {\"sub_queries\": [\"...\"]} and nothing else.\n\nQuestion: %s",
		query,
	)
	answer, err := c.llm(ctx, llm.Request{Prompt: prompt, ResponseFormat: llm.ResponseFormatJSON, Priority: llm.PriorityQuery})
	if err != nil {
		return nil, fmt.Errorf("deepsearch: root expansion: %w", err)
	}
	subQueries := parseQuestionList(answer, "sub_queries")
	if len(subQueries) == 0 {
		// A root that cannot be decomposed is explored as-is.
		subQueries = []string{query}
	}
	return subQueries, nil
}

// followUpQuestions generates two follow-ups from a (question, answer) pair.
func (c *Controller) followUpQuestions(ctx context.Context, question, answer string) ([]string, error) {
	prompt := fmt.Sprintf(
		"Given this answered research question, propose exactly 2 follow-up questions that would deepen the investigation. Return a JSON object {\"follow_ups\": [\"...\"]} and nothing else.\n\nQuestion: %s\n\nAnswer: %s",
		question, answer,
	)
	completion, err := c.llm(ctx, llm.Request{Prompt: prompt, ResponseFormat: llm.ResponseFormatJSON, Priority: llm.PriorityQuery})
	if err != nil {
		return nil, err
	}
	return parseQuestionList(completion, "follow_ups"), nil
}

// selectTop scores every candidate's relevance to the root query in [0,1]
// concurrently and keeps the best keep candidates, preserving score order.
// When keep covers every candidate, the candidates are returned unscored in
// their original order.
func (c *Controller) selectTop(ctx context.Context, rootQuery string, candidates []string, keep int) ([]string, error) {
	if keep <= 0 || len(candidates) == 0 {
		return nil, nil
	}
	if keep >= len(candidates) {
		return candidates, nil
	}

	scores := make([]float64, len(candidates))
	g, ctx := errgroup.WithContext(ctx)
	for i, candidate := range candidates {
		g.Go(func() error {
			score, err := c.scoreThought(ctx, rootQuery, candidate)
			if err != nil {
				return err
			}
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	indexes := make([]int, len(candidates))
	for i := range indexes {
		indexes[i] = i
	}
	sort.SliceStable(indexes, func(a, b int) bool { return scores[indexes[a]] > scores[indexes[b]] })

	out := make([]string, 0, keep)
	for _, idx := range indexes[:keep] {
		out = append(out, candidates[idx])
	}
	return out, nil
}

var floatRe = regexp.MustCompile(`[01](\.\d+)?`)

func (c *Controller) scoreThought(ctx context.Context, rootQuery, candidate string) (float64, error) {
	prompt := fmt.Sprintf(
		"Rate how relevant the candidate sub-question is to answering the main question, as a number between 0 and 1. Answer with only the number.\n\nMain question: %s\nCandidate: %s",
		rootQuery, candidate,
	)
	answer, err := c.llm(ctx, llm.Request{Prompt: prompt, Priority: llm.PriorityQuery, MaxTokens: 8})
	if err != nil {
		return 0, err
	}
	m := floatRe.FindString(answer)
	if m == "" {
		return 0, nil
	}
	score, _ := strconv.ParseFloat(m, 64)
	return score, nil
}

// writeReport assembles the DOCX artifact and returns its path.
func (c *Controller) writeReport(ctx context.Context, query string, answered []answeredQuestion) (string, error) {
	conclusion, err := c.conclude(ctx, query, answered)
	if err != nil {
		c.logger.Warn("deepsearch: conclusion synthesis failed, emitting report without one", "error", err)
		conclusion = ""
	}

	doc := &report.Document{
		Title:      "Deep Search Report: " + query,
		Conclusion: conclusion,
	}
	for _, a := range answered {
		doc.Sections = append(doc.Sections, report.Section{Heading: a.Question, Body: a.Answer})
	}

	path := filepath.Join(c.workingDir, "reports", fmt.Sprintf("deepsearch_%d.docx", time.Now().Unix()))
	if err := report.Write(path, doc); err != nil {
		return "", err
	}
	c.logger.Info("deepsearch: report written", "path", path, "questions", len(answered))
	return path, nil
}

// conclude synthesizes the collective conclusion across every answered
// sub-question.
func (c *Controller) conclude(ctx context.Context, query string, answered []answeredQuestion) (string, error) {
	var b strings.Builder
	for _, a := range answered {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", a.Question, a.Answer)
	}
	prompt := fmt.Sprintf(
		"Write a collective conclusion for a research report on %q, synthesizing the answered sub-questions below.\n\n%s\nConclusion:",
		query, b.String(),
	)
	return c.llm(ctx, llm.Request{Prompt: prompt, Priority: llm.PriorityQuery})
}

var firstJSONObject = regexp.MustCompile(`(?s)\{.*\}`)

// parseQuestionList decodes {"key": ["..."]} out of a possibly chatty
// completion, tolerating a bare JSON array as well.
func parseQuestionList(completion, key string) []string {
	match := firstJSONObject.FindString(completion)
	if match != "" {
		var decoded map[string][]string
		if err := json.Unmarshal([]byte(match), &decoded); err == nil {
			if qs, ok := decoded[key]; ok {
				return cleanQuestions(qs)
			}
			for _, qs := range decoded {
				return cleanQuestions(qs)
			}
		}
	}
	var bare []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(completion)), &bare); err == nil {
		return cleanQuestions(bare)
	}
	return nil
}

func cleanQuestions(in []string) []string {
	var out []string
	for _, q := range in {
		q = strings.TrimSpace(q)
		if q != "" {
			out = append(out, q)
		}
	}
	return out
}
