// Package llm is the multi-provider LLM collaborator every extraction,
// merge, retrieval, and deep-search call routes through, built on
// github.com/mozilla-ai/any-llm-go.
package llm

import (
	"context"
	"fmt"
	"strings"

	anyllm "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmopenai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/kgraphrag/kgraphrag/model"
)

// ResponseFormat requests a structured response shape from the provider;
// keyword extraction relies on the JSON variant.
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = ""
	ResponseFormatJSON ResponseFormat = "json"
)

// Priority tags are advisory routing hints: 5 for normal query
// answering, 7 unused by the core directly but reserved for collaborators,
// 8 for summarization, which the merge engine treats as higher priority
// than ordinary extraction traffic.
const (
	PriorityQuery   = 5
	PrioritySummary = 8
)

// Request is the full argument set llm_func accepts.
type Request struct {
	Prompt            string
	SystemPrompt      string
	History           []model.Message
	Stream            bool
	ResponseFormat    ResponseFormat
	KeywordExtraction bool
	Priority          int
	MaxTokens         int
	Temperature       float64
}

// Func is the collaborator signature the rest of the core depends on.
// Streaming callers use StreamFunc instead; Func always returns the joined
// final text.
type Func func(ctx context.Context, req Request) (string, error)

// StreamFunc mirrors Func but yields incremental text chunks.
type StreamFunc func(ctx context.Context, req Request) (<-chan string, error)

// Provider wraps any-llm-go: one backend, one model name, routed through a
// priority queue whose concurrency cap (2 workers per backend binding by
// default) is shared by all priorities; higher priorities are admitted first.
type Provider struct {
	backend anyllm.Provider
	model   string
	queue   *PriorityQueue
}

// New creates a Provider for providerName ("openai", "anthropic", "gemini",
// "ollama", "deepseek", "groq", ...), routed through a priority queue that
// runs at most maxConcurrency calls at once across all priorities.
func New(providerName, model string, maxConcurrency int, opts ...anyllm.Option) (*Provider, error) {
	if providerName == "" || model == "" {
		return nil, fmt.Errorf("llm: providerName and model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create %q backend: %w", providerName, err)
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 2
	}
	return &Provider{
		backend: backend,
		model:   model,
		queue:   NewPriorityQueue(maxConcurrency),
	}, nil
}

func createBackend(providerName string, opts ...anyllm.Option) (anyllm.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmopenai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, groq", providerName)
	}
}

// Complete implements Func, queued under req.Priority.
func (p *Provider) Complete(ctx context.Context, req Request) (string, error) {
	var result string
	err := p.queue.Run(ctx, req.Priority, func() error {
		params := p.buildParams(req)
		resp, err := p.backend.Completion(ctx, params)
		if err != nil {
			return fmt.Errorf("llm: completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("llm: empty choices in response")
		}
		result = resp.Choices[0].Message.ContentString()
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// StreamComplete implements StreamFunc, queued under req.Priority. The queue
// slot is held until the backend stream ends or ctx is cancelled; if the
// caller stops reading, the producer blocks once the 32-entry buffer is full
// and keeps the slot until ctx is cancelled.
func (p *Provider) StreamComplete(ctx context.Context, req Request) (<-chan string, error) {
	out := make(chan string, 32)
	go func() {
		defer close(out)
		_ = p.queue.Run(ctx, req.Priority, func() error {
			params := p.buildParams(req)
			chunks, errs := p.backend.CompletionStream(ctx, params)
			for c := range chunks {
				if len(c.Choices) == 0 {
					continue
				}
				text := c.Choices[0].Delta.Content
				if text == "" {
					continue
				}
				select {
				case out <- text:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return <-errs
		})
	}()
	return out, nil
}

func (p *Provider) buildParams(req Request) anyllm.CompletionParams {
	systemPrompt := req.SystemPrompt
	if req.ResponseFormat == ResponseFormatJSON {
		// any-llm-go's CompletionParams carries no structured-output knob that
		// is uniform across every backend it fronts, so JSON-only responses
		// are requested the portable
		// way: an explicit instruction appended to the system prompt.
		systemPrompt = strings.TrimSpace(systemPrompt + "\n\nRespond with a single JSON object and nothing else.")
	}

	var messages []anyllm.Message
	if systemPrompt != "" {
		messages = append(messages, anyllm.Message{Role: anyllm.RoleSystem, Content: systemPrompt})
	}
	for _, m := range req.History {
		messages = append(messages, anyllm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, anyllm.Message{Role: anyllm.RoleUser, Content: req.Prompt})

	params := anyllm.CompletionParams{Model: p.model, Messages: messages}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	return params
}
