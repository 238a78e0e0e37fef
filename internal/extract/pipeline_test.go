package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgraphrag/kgraphrag/internal/cache"
	"github.com/kgraphrag/kgraphrag/internal/llm"
	"github.com/kgraphrag/kgraphrag/model"
)

const extractionCompletion = `("entity"<|>Alex<|>person<|>Alex met Taylor in Tokyo.<|><|>)##` +
	`("entity"<|>Taylor<|>person<|>Taylor met Alex in Tokyo.<|><|>)##` +
	`("entity"<|>Tokyo<|>geography<|>Tokyo is where Alex and Taylor met.<|><|>)##` +
	`("relationship"<|>Alex<|>Taylor<|>They met in Tokyo.<|>meeting<|>1.0)##` +
	`("relationship"<|>Alex<|>Tokyo<|>Alex was in Tokyo.<|>presence<|>1.0)##` +
	`("relationship"<|>Taylor<|>Tokyo<|>Taylor was in Tokyo.<|>presence<|>1.0)<|COMPLETE|>`

func defaultOptions() Options {
	return Options{
		MaxAsync:             4,
		EntityTypes:          []string{"person", "geography"},
		EnableAssociation:    true,
		EnableMultiHop:       true,
		EnableLatentRelation: true,
		LatentRelMinStrength: 0.5,
	}
}

func testChunk(id, content string) *model.Chunk {
	return &model.Chunk{ID: id, Content: content, FilePath: "book.txt"}
}

func TestRunSingleChunk(t *testing.T) {
	llmFn := func(_ context.Context, req llm.Request) (string, error) {
		return extractionCompletion, nil
	}
	p := NewPipeline(llmFn, cache.New(nil, false, nil), nil, nil, nil, defaultOptions())

	results, err := p.Run(context.Background(), []*model.Chunk{testChunk("chunk-1", "Alex met Taylor in Tokyo.")})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Len(t, res.Entities, 3)
	assert.Contains(t, res.Entities, "ALEX")
	assert.Contains(t, res.Entities, "TAYLOR")
	assert.Contains(t, res.Entities, "TOKYO")
	assert.Len(t, res.Edges, 3)

	alex := res.Entities["ALEX"][0]
	assert.Equal(t, model.EntityTypePerson, alex.Type)
	assert.Equal(t, []string{"chunk-1"}, alex.SourceIDs)
	assert.Equal(t, []string{"book.txt"}, alex.FilePaths)
}

func TestGleaningAddsOnlyNewRecords(t *testing.T) {
	var calls atomic.Int32
	llmFn := func(_ context.Context, req llm.Request) (string, error) {
		switch calls.Add(1) {
		case 1:
			return extractionCompletion, nil
		default:
			// Gleaning re-offers ALEX (duplicate) plus one genuinely new
			// entity and a duplicate edge.
			return `("entity"<|>Alex<|>person<|>Alex again, differently phrased.<|><|>)##` +
				`("entity"<|>Sam<|>person<|>Sam was mentioned in passing.<|><|>)##` +
				`("relationship"<|>Alex<|>Taylor<|>Duplicate edge.<|>meeting<|>1.0)<|COMPLETE|>`, nil
		}
	}
	opts := defaultOptions()
	opts.MaxGleaning = 1
	p := NewPipeline(llmFn, cache.New(nil, false, nil), nil, nil, nil, opts)

	results, err := p.Run(context.Background(), []*model.Chunk{testChunk("chunk-1", "text")})
	require.NoError(t, err)

	res := results[0]
	assert.Len(t, res.Entities, 4, "SAM added, ALEX not duplicated")
	assert.Len(t, res.Entities["ALEX"], 1, "gleaned duplicate of ALEX dropped")
	assert.Len(t, res.Edges, 3, "duplicate edge from gleaning dropped")
}

func TestGleaningLoopCheckStops(t *testing.T) {
	var prompts []string
	var mu sync.Mutex
	llmFn := func(_ context.Context, req llm.Request) (string, error) {
		mu.Lock()
		prompts = append(prompts, req.Prompt)
		mu.Unlock()
		if strings.Contains(req.Prompt, "YES or NO") {
			return "NO", nil
		}
		return extractionCompletion, nil
	}
	opts := defaultOptions()
	opts.MaxGleaning = 3
	p := NewPipeline(llmFn, cache.New(nil, false, nil), nil, nil, nil, opts)

	_, err := p.Run(context.Background(), []*model.Chunk{testChunk("chunk-1", "text")})
	require.NoError(t, err)

	// extraction + first gleaning + one loop check answered NO: no further
	// gleaning rounds.
	assert.Len(t, prompts, 3)
}

func TestRunCancelsPendingOnFirstError(t *testing.T) {
	boom := errors.New("llm unavailable")
	var started atomic.Int32
	llmFn := func(ctx context.Context, req llm.Request) (string, error) {
		n := started.Add(1)
		if n == 3 {
			return "", boom
		}
		<-ctx.Done()
		return "", ctx.Err()
	}
	opts := defaultOptions()
	opts.MaxAsync = 5
	p := NewPipeline(llmFn, cache.New(nil, false, nil), nil, nil, nil, opts)

	chunks := []*model.Chunk{
		testChunk("chunk-1", "a"), testChunk("chunk-2", "b"), testChunk("chunk-3", "c"),
		testChunk("chunk-4", "d"), testChunk("chunk-5", "e"),
	}
	results, err := p.Run(context.Background(), chunks)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom, "the first real failure propagates, not a cancellation error")
	assert.Nil(t, results, "no partial results escape a failed run")
}

func TestLatentRelationGating(t *testing.T) {
	completion := `("latent_relation"<|>Alex<|>DataWorks<|>implied link<|>mentorship<|>0.4)##` +
		`("latent_relation"<|>Alex<|>Nordbank<|>implied link<|>finance<|>0.9)<|COMPLETE|>`
	llmFn := func(_ context.Context, req llm.Request) (string, error) {
		return completion, nil
	}
	p := NewPipeline(llmFn, cache.New(nil, false, nil), nil, nil, nil, defaultOptions())

	results, err := p.Run(context.Background(), []*model.Chunk{testChunk("chunk-1", "text")})
	require.NoError(t, err)

	res := results[0]
	require.Len(t, res.Edges, 1, "latent relation below min strength dropped")
	for _, edges := range res.Edges {
		assert.True(t, edges[0].Latent)
		assert.Equal(t, 0.9, edges[0].Weight)
	}
}

func TestStatusTracksProgress(t *testing.T) {
	llmFn := func(_ context.Context, req llm.Request) (string, error) {
		return extractionCompletion, nil
	}
	status := &Status{}
	p := NewPipeline(llmFn, cache.New(nil, false, nil), nil, status, nil, defaultOptions())

	_, err := p.Run(context.Background(), []*model.Chunk{testChunk("chunk-1", "a"), testChunk("chunk-2", "b")})
	require.NoError(t, err)

	total, done, failed := status.Counts()
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, done)
	assert.Equal(t, 0, failed)
	assert.NotEmpty(t, status.Latest())
	assert.GreaterOrEqual(t, len(status.History()), 2)
}
