package chunk

import (
	"context"
	"strings"
	"testing"
)

func TestChunkEmptyText(t *testing.T) {
	out, err := Chunk("   ", DefaultOptions())
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if out != nil {
		t.Errorf("Chunk() on blank text = %v, want nil", out)
	}
}

func TestChunkRejectsBadOptions(t *testing.T) {
	if _, err := Chunk("hello", Options{MaxTokens: 0}); err == nil {
		t.Error("Chunk() should reject non-positive MaxTokens")
	}
	if _, err := Chunk("hello", Options{MaxTokens: 10, OverlapTokens: 10}); err == nil {
		t.Error("Chunk() should reject OverlapTokens >= MaxTokens")
	}
}

func TestChunkSlidingWindowOverlap(t *testing.T) {
	words := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		words = append(words, "word")
	}
	text := strings.Join(words, " ")

	out, err := Chunk(text, Options{MaxTokens: 10, OverlapTokens: 3})
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(out) < 2 {
		t.Fatalf("expected multiple chunks for long text, got %d", len(out))
	}
	for i, r := range out {
		if r.ChunkOrderIndex != i {
			t.Errorf("chunk %d has ChunkOrderIndex %d, want %d", i, r.ChunkOrderIndex, i)
		}
		if r.Tokens == 0 {
			t.Errorf("chunk %d has zero tokens", i)
		}
	}
}

func TestChunkByCharacterSplitsOversizedFragments(t *testing.T) {
	words := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		words = append(words, "word")
	}
	long := strings.Join(words, " ")
	text := "short fragment\n\n" + long

	out, err := Chunk(text, Options{MaxTokens: 10, OverlapTokens: 2, SplitByCharacter: "\n\n"})
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(out) < 3 {
		t.Fatalf("expected the oversized fragment to be windowed into multiple chunks, got %d total", len(out))
	}
	if out[0].Content != "short fragment" {
		t.Errorf("first fragment = %q, want %q", out[0].Content, "short fragment")
	}
}

func TestSemanticChunkerGroupsBySimilarity(t *testing.T) {
	text := "Cats are small pets. Cats like to sleep. Rockets launch into orbit."
	embed := func(_ context.Context, texts []string) ([][]float32, error) {
		vecs := make([][]float32, len(texts))
		for i, s := range texts {
			if strings.Contains(s, "Cat") {
				vecs[i] = []float32{1, 0}
			} else {
				vecs[i] = []float32{0, 1}
			}
		}
		return vecs, nil
	}

	out, err := SemanticChunker(context.Background(), text, embed, SemanticOptions{MaxChunkChars: 2000, SimilarityThreshold: 0.5})
	if err != nil {
		t.Fatalf("SemanticChunker() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 chunks split on topic shift, got %d: %+v", len(out), out)
	}
}

func TestSemanticChunkerRejectsEmbeddingMismatch(t *testing.T) {
	embed := func(_ context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 0}}, nil
	}
	if _, err := SemanticChunker(context.Background(), "One. Two. Three.", embed, DefaultSemanticOptions()); err == nil {
		t.Error("expected an error on embedding/sentence count mismatch")
	}
}
