// Package chunk splits source text into token-bounded, possibly overlapping
// chunks, the unit the extraction pipeline operates on.
package chunk

import (
	"fmt"
	"strings"

	"github.com/kgraphrag/kgraphrag/internal/tokenize"
)

// Record is the chunker's output before it becomes a model.Chunk:
// tokens, trimmed content, and the chunk's order index within its document.
type Record struct {
	Content         string
	Tokens          int
	ChunkOrderIndex int
}

// Options configures the token sliding window.
type Options struct {
	// MaxTokens bounds each chunk (default 1024).
	MaxTokens int
	// OverlapTokens is the sliding-window overlap (default 128).
	OverlapTokens int
	// SplitByCharacter, if non-empty, switches to character-pre-split mode:
	// split on this separator first, then token-window any fragment longer
	// than MaxTokens; shorter fragments are kept as-is.
	SplitByCharacter string
}

// DefaultOptions returns the default window parameters.
func DefaultOptions() Options {
	return Options{MaxTokens: 1024, OverlapTokens: 128}
}

// Chunk splits text per Options, approximating token counts the same way
// internal/tokenize does elsewhere in the pipeline.
func Chunk(text string, opts Options) ([]Record, error) {
	if opts.MaxTokens <= 0 {
		return nil, fmt.Errorf("chunk: max tokens must be positive")
	}
	if opts.OverlapTokens < 0 || opts.OverlapTokens >= opts.MaxTokens {
		return nil, fmt.Errorf("chunk: overlap tokens must be in [0, maxTokens)")
	}

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	if opts.SplitByCharacter != "" {
		return chunkByCharacterThenWindow(text, opts)
	}
	return slidingWindow(text, opts, 0)
}

// chunkByCharacterThenWindow splits on the configured separator first; any
// fragment longer than MaxTokens is further token-windowed.
func chunkByCharacterThenWindow(text string, opts Options) ([]Record, error) {
	fragments := strings.Split(text, opts.SplitByCharacter)

	var out []Record
	idx := 0
	for _, frag := range fragments {
		trimmed := strings.TrimSpace(frag)
		if trimmed == "" {
			continue
		}
		if tokenize.CountApprox(trimmed) <= opts.MaxTokens {
			out = append(out, Record{
				Content:         trimmed,
				Tokens:          tokenize.CountApprox(trimmed),
				ChunkOrderIndex: idx,
			})
			idx++
			continue
		}

		sub, err := slidingWindow(trimmed, opts, idx)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
		idx += len(sub)
	}
	return out, nil
}

// slidingWindow implements the pure token-sliding-window mode: each window
// starts OverlapTokens words before the previous one ended, approximating
// token boundaries on word boundaries since no real tokenizer is vendored
// (see internal/tokenize's package doc).
func slidingWindow(text string, opts Options, startIdx int) ([]Record, error) {
	words := tokenize.Words(text)
	if len(words) == 0 {
		return nil, nil
	}

	// A window starts at MaxTokens words and is shortened word by word until
	// its approximate token count (tokenize.CountApprox) fits MaxTokens. A
	// single word is never split, so one word longer than about 4*MaxTokens
	// bytes still forms a chunk of its own.
	wordsPerChunk := opts.MaxTokens
	wordsOverlap := opts.OverlapTokens
	if wordsPerChunk > len(words) {
		wordsPerChunk = len(words)
	}

	var out []Record
	idx := startIdx
	for start := 0; start < len(words); {
		end := start + wordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		content := strings.TrimSpace(strings.Join(words[start:end], " "))
		for end-start > 1 && tokenize.CountApprox(content) > opts.MaxTokens {
			end--
			content = strings.Join(words[start:end], " ")
		}
		if content == "" {
			continue
		}
		out = append(out, Record{
			Content:         content,
			Tokens:          tokenize.CountApprox(content),
			ChunkOrderIndex: idx,
		})
		idx++
		if end == len(words) {
			break
		}
		start = max(end-wordsOverlap, start+1)
	}
	return out, nil
}
