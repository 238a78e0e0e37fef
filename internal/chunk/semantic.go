package chunk

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// EmbedFunc is the embedding signature SemanticChunker calls: the
// internal/embed signature plus a context argument. It is declared here
// rather than imported to keep this package free of a hard dependency on
// the ONNX-backed embedder.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// SemanticOptions configures SemanticChunker.
type SemanticOptions struct {
	MaxChunkChars       int
	SimilarityThreshold float32
}

// DefaultSemanticOptions returns the defaults SemanticChunker was tuned
// with.
func DefaultSemanticOptions() SemanticOptions {
	return SemanticOptions{MaxChunkChars: 2000, SimilarityThreshold: 0.5}
}

// SemanticChunker groups sentences by embedding similarity instead of a
// fixed token window, breaking a chunk when the next sentence drops below
// SimilarityThreshold or the running size exceeds MaxChunkChars. Kept as an
// alternate to the default sliding-window Chunk for callers that already
// have an embedder handy and want topically coherent chunks.
func SemanticChunker(ctx context.Context, text string, embed EmbedFunc, opts SemanticOptions) ([]Record, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("chunk: no sentences found in text")
	}

	embeddings, err := embed(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("chunk: embedding sentences: %w", err)
	}
	if len(embeddings) != len(sentences) {
		return nil, fmt.Errorf("chunk: embedding count mismatch: got %d for %d sentences", len(embeddings), len(sentences))
	}

	var out []Record
	var current []string
	var currentEmbeddings [][]float32
	var currentLen int
	idx := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		content := strings.Join(current, " ")
		out = append(out, Record{
			Content:         content,
			Tokens:          len(content)/4 + 1,
			ChunkOrderIndex: idx,
		})
		idx++
		current = nil
		currentEmbeddings = nil
		currentLen = 0
	}

	for i, sentence := range sentences {
		shouldBreak := false
		if len(current) > 0 {
			avg := averageEmbedding(currentEmbeddings)
			similarity := cosineSimilarity(avg, embeddings[i])
			if similarity < opts.SimilarityThreshold || currentLen+len(sentence) > opts.MaxChunkChars {
				shouldBreak = true
			}
		}
		if shouldBreak {
			flush()
		}
		current = append(current, sentence)
		currentEmbeddings = append(currentEmbeddings, embeddings[i])
		currentLen += len(sentence)
	}
	flush()

	return out, nil
}

func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "! ", "!|")
	text = strings.ReplaceAll(text, "? ", "?|")
	text = strings.ReplaceAll(text, ". ", ".|")

	var out []string
	for _, s := range strings.Split(text, "|") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func averageEmbedding(embeddings [][]float32) []float32 {
	if len(embeddings) == 0 {
		return nil
	}
	avg := make([]float32, len(embeddings[0]))
	for _, emb := range embeddings {
		for j := range emb {
			avg[j] += emb[j]
		}
	}
	for j := range avg {
		avg[j] /= float32(len(embeddings))
	}
	return avg
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
