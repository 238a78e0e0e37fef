// Package kgraphrag is a retrieval-augmented analytical engine: a knowledge
// graph + vector store hybrid retriever. Documents are chunked, run through
// LLM extraction, and merged into a Postgres/pgvector-backed graph; queries
// compose graph neighborhoods with vector-similar chunks, optionally driving
// a tree-of-thought deep-search loop.
package kgraphrag

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kgraphrag/kgraphrag/internal/cache"
	"github.com/kgraphrag/kgraphrag/internal/chunk"
	"github.com/kgraphrag/kgraphrag/internal/config"
	"github.com/kgraphrag/kgraphrag/internal/deepsearch"
	"github.com/kgraphrag/kgraphrag/internal/embed"
	"github.com/kgraphrag/kgraphrag/internal/extract"
	"github.com/kgraphrag/kgraphrag/internal/geocoder"
	"github.com/kgraphrag/kgraphrag/internal/ids"
	"github.com/kgraphrag/kgraphrag/internal/keyword"
	"github.com/kgraphrag/kgraphrag/internal/llm"
	"github.com/kgraphrag/kgraphrag/internal/merge"
	"github.com/kgraphrag/kgraphrag/internal/obs"
	"github.com/kgraphrag/kgraphrag/internal/prompt"
	"github.com/kgraphrag/kgraphrag/internal/retrieval"
	"github.com/kgraphrag/kgraphrag/internal/storage"
	"github.com/kgraphrag/kgraphrag/model"
)

// Engine wires every core component to one storage backend and one set of
// collaborators.
type Engine struct {
	Config    *config.Config
	Store     *storage.Postgres
	Pipeline  *extract.Pipeline
	Merger    *merge.Engine
	Retrieval *retrieval.Engine
	Router    *prompt.Router
	Deep      *deepsearch.Controller

	log       *slog.Logger
	llmFn     llm.Func
	chunkOpts chunk.Options
}

// Options carries the collaborator overrides New accepts; zero values fall
// back to the config-driven defaults (any-llm-go provider, hugot embedder).
type Options struct {
	LLM       llm.Func
	LLMStream llm.StreamFunc
	Embed     storage.EmbedFunc
	NER       embed.NERFunc
	Geocode   geocoder.Func
	Logger    *slog.Logger
}

// New builds a fully wired Engine from cfg, bootstrapping the database
// schema on first connect.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = obs.NewLogger(os.Stdout, obs.FormatPretty, slog.LevelInfo)
	}

	llmFn := opts.LLM
	llmStream := opts.LLMStream
	if llmFn == nil {
		provider, err := llm.New(cfg.LLMProvider, cfg.LLMModel, 2)
		if err != nil {
			return nil, obs.WrapErr("create llm provider", err)
		}
		llmFn = provider.Complete
		if llmStream == nil {
			llmStream = provider.StreamComplete
		}
	}

	embedFn := opts.Embed
	if embedFn == nil {
		fn, err := embed.NewEmbedder("")
		if err != nil {
			return nil, obs.WrapErr("create embedder", err)
		}
		embedFn = fn
	}

	store, err := storage.Open(storage.Options{
		DSN:          cfg.DSN(),
		EmbeddingDim: cfg.EmbeddingDim,
		Embed:        embedFn,
		Logger:       logger,
	})
	if err != nil {
		return nil, obs.WrapErr("open storage", err)
	}

	cacheStore := cache.New(store, cfg.EnableLLMCache, logger)

	pipeline := extract.NewPipeline(llmFn, cacheStore, opts.NER, &extract.Status{}, logger, extract.Options{
		MaxAsync:             cfg.LLMModelMaxAsync,
		MaxGleaning:          cfg.EntityExtractMaxGleaning,
		Language:             cfg.AddonParams.Language,
		EntityTypes:          cfg.AddonParams.EntityTypes,
		ExampleNumber:        cfg.AddonParams.ExampleNumber,
		EnableAssociation:    cfg.EnableAssociation,
		EnableMultiHop:       cfg.EnableMultiHop,
		EnableLatentRelation: cfg.EnableLatentRelation,
		LatentRelMinStrength: cfg.LatentRelMinStrength,
	})

	geocode := opts.Geocode
	if geocode == nil && cfg.EnableGeoEnrichment {
		geocode = geocoder.New("", "kgraphrag").Geocode
	}

	merger := merge.NewEngine(store, store, llmFn, cacheStore, geocode, logger, merge.Options{
		ForceLLMSummaryOnMerge:      cfg.ForceLLMSummaryOnMerge,
		SummaryToMaxTokens:          cfg.SummaryToMaxTokens,
		LLMMaxTokens:                cfg.LLMModelMaxTokenSize,
		EnableDescriptionEnrichment: cfg.EnableDescriptionEnrichment,
		EnableGeoEnrichment:         cfg.EnableGeoEnrichment,
		EnableAssociation:           cfg.EnableAssociation,
		EnableMultiHop:              cfg.EnableMultiHop,
		EnableCommunityDetection:    cfg.EnableCommunityDetection,
	})

	retrievalEngine := retrieval.NewEngine(store, store, store, llmFn, cacheStore, logger, retrieval.Options{
		EntityLinkBaseURL:        cfg.EntityLinkBaseURL,
		MultiHopMinStrength:      cfg.MultiHopMinStrength,
		SummaryToMaxTokens:       cfg.SummaryToMaxTokens,
		ChunkFetchMaxConcurrency: cfg.ChunkFetchMaxConcurrency,
	})

	keywordExtractor := keyword.New(llmFn, cacheStore, logger)

	var router *prompt.Router
	deep := deepsearch.New(llmFn, func(ctx context.Context, question string, param model.QueryParam) (string, error) {
		return router.Query(ctx, question, param)
	}, cfg.WorkingDir, logger)
	router = prompt.NewRouter(retrievalEngine, keywordExtractor, llmFn, llmStream, cacheStore, deep.Run, logger)

	return &Engine{
		Config:    cfg,
		Store:     store,
		Pipeline:  pipeline,
		Merger:    merger,
		Retrieval: retrievalEngine,
		Router:    router,
		Deep:      deep,
		log:       logger,
		llmFn:     llmFn,
		chunkOpts: chunk.Options{MaxTokens: cfg.MaxTokenSize, OverlapTokens: cfg.ChunkOverlapTokenSize},
	}, nil
}

// Close releases the storage connection.
func (e *Engine) Close() error {
	return e.Store.Close()
}

// SetChunkOptions overrides the default chunking parameters, e.g. to enable
// character-pre-split mode.
func (e *Engine) SetChunkOptions(opts chunk.Options) {
	e.chunkOpts = opts
}

// InsertDocument runs the full ingest flow for one document: chunk, store
// chunks, extract in parallel, then merge under the document's lock.
// Returns the number of chunks processed.
func (e *Engine) InsertDocument(ctx context.Context, doc *model.Document) (int, error) {
	if doc.RID == uuid.Nil {
		doc.RID = uuid.New()
	}

	records, err := chunk.Chunk(doc.Content, e.chunkOpts)
	if err != nil {
		return 0, obs.WrapErr("chunk document", err)
	}

	chunks := make([]*model.Chunk, 0, len(records))
	for _, r := range records {
		c := &model.Chunk{
			ID:              ids.Chunk(r.Content),
			RowID:           uuid.New(),
			Content:         r.Content,
			Tokens:          r.Tokens,
			FullDocID:       doc.RID,
			ChunkOrderIndex: r.ChunkOrderIndex,
			FilePath:        doc.Source,
			CreatedAt:       time.Now(),
		}
		if err := e.Store.InsertChunk(ctx, &storage.ChunkRecord{
			ID:              c.ID,
			RowID:           c.RowID,
			Content:         c.Content,
			Tokens:          c.Tokens,
			FullDocID:       c.FullDocID,
			ChunkOrderIndex: c.ChunkOrderIndex,
			FilePath:        c.FilePath,
		}); err != nil {
			return 0, obs.WrapErr("insert chunk", err)
		}
		chunks = append(chunks, c)
	}

	results, err := e.Pipeline.Run(ctx, chunks)
	if err != nil {
		return 0, obs.WrapErr("extract document", err)
	}
	if err := e.Merger.MergeDocument(ctx, doc.RID.String(), results); err != nil {
		return 0, obs.WrapErr("merge document", err)
	}

	if e.Config.EnableCommunityDetection {
		if err := e.Merger.RebalanceCommunities(ctx); err != nil {
			e.log.Warn("community rebalance failed, will retry on next merge", "error", err)
		}
	}

	e.log.Info("document ingested", "document", doc.Title, "chunks", len(chunks))
	return len(chunks), nil
}

// Query answers a query in param.Mode and returns the final response (or
// the deep-search artifact path in deepsearch mode).
func (e *Engine) Query(ctx context.Context, query string, param model.QueryParam) (string, error) {
	return e.Router.Query(ctx, query, param)
}

// QueryStream is Query's streaming variant.
func (e *Engine) QueryStream(ctx context.Context, query string, param model.QueryParam) (<-chan string, error) {
	return e.Router.QueryStream(ctx, query, param)
}

// ChangeIndexType rebuilds the named table's vector index ("chunks",
// "entity_vectors" or "relation_vectors") as HNSW or IVFFlat.
func (e *Engine) ChangeIndexType(ctx context.Context, table, indexType string, params map[string]any) error {
	return e.Store.ChangeIndexType(ctx, table, indexType, params)
}
