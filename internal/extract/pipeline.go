// Package extract runs the per-chunk LLM extraction pipeline:
// prompt formatting, cached LLM calls, delimited-record parsing, and the
// gleaning loop, under bounded concurrency with first-error cancellation.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kgraphrag/kgraphrag/internal/cache"
	"github.com/kgraphrag/kgraphrag/internal/embed"
	"github.com/kgraphrag/kgraphrag/internal/ids"
	"github.com/kgraphrag/kgraphrag/internal/llm"
	"github.com/kgraphrag/kgraphrag/internal/record"
	"github.com/kgraphrag/kgraphrag/model"
)

// Options holds the extraction tunables.
type Options struct {
	MaxAsync             int
	MaxGleaning          int
	Language             string
	EntityTypes          []string
	ExampleNumber        int
	EnableAssociation    bool
	EnableMultiHop       bool
	EnableLatentRelation bool
	LatentRelMinStrength float64
}

// Result accumulates one chunk's extraction output: candidate nodes and
// edges keyed for later merging, plus the derived structures.
type Result struct {
	ChunkID         string
	Entities        map[string][]*model.Entity
	Edges           map[string][]*model.Edge
	Associations    []*model.Association
	MultiHops       []*model.MultiHopPath
	ContentKeywords []string
}

func newResult(chunkID string) *Result {
	return &Result{
		ChunkID:  chunkID,
		Entities: map[string][]*model.Entity{},
		Edges:    map[string][]*model.Edge{},
	}
}

// Pipeline is the extraction component. NER hints are advisory and optional;
// a nil NERFunc simply produces no hints.
type Pipeline struct {
	llm    llm.Func
	cache  *cache.Store
	ner    embed.NERFunc
	status *Status
	logger *slog.Logger
	opts   Options
}

// NewPipeline wires an extraction pipeline.
func NewPipeline(llmFn llm.Func, c *cache.Store, ner embed.NERFunc, status *Status, logger *slog.Logger, opts Options) *Pipeline {
	if opts.MaxAsync <= 0 {
		opts.MaxAsync = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	if status == nil {
		status = &Status{}
	}
	return &Pipeline{llm: llmFn, cache: c, ner: ner, status: status, logger: logger, opts: opts}
}

// Status exposes the pipeline's observability component.
func (p *Pipeline) Status() *Status { return p.status }

// Run extracts all chunks in parallel up to Options.MaxAsync. On any chunk
// failure, pending chunks are cancelled via the shared errgroup context and
// the first error propagates.
func (p *Pipeline) Run(ctx context.Context, chunks []*model.Chunk) ([]*Result, error) {
	p.status.SetTotal(len(chunks))
	p.status.Update(fmt.Sprintf("extracting %d chunks", len(chunks)))

	sem := semaphore.NewWeighted(int64(p.opts.MaxAsync))
	g, ctx := errgroup.WithContext(ctx)

	results := make([]*Result, len(chunks))
	for i, c := range chunks {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			res, err := p.extractChunk(ctx, c)
			if err != nil {
				p.status.AddCounts(0, 1, 0, 0)
				p.status.Update(fmt.Sprintf("chunk %s failed: %v", c.ID, err))
				return err
			}
			results[i] = res
			p.status.AddCounts(1, 0, len(res.Entities), len(res.Edges))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.status.Update(fmt.Sprintf("extraction complete: %d chunks", len(chunks)))
	return results, nil
}

// extractChunk runs the prompt + gleaning loop for one chunk.
func (p *Pipeline) extractChunk(ctx context.Context, c *model.Chunk) (*Result, error) {
	hints := p.nerHints(c.Content)
	prompt := buildExtractionPrompt(c.Content, p.opts.Language, p.opts.EntityTypes, p.opts.ExampleNumber, hints)

	first, err := p.cache.GetOrCompute(ctx, "extract", c.Content, model.CacheTypeExtract, func(ctx context.Context) (string, error) {
		return p.llm(ctx, llm.Request{Prompt: prompt, Priority: llm.PriorityQuery})
	})
	if err != nil {
		return nil, err
	}

	res := newResult(c.ID)
	p.accumulate(res, c, record.Parse(p.logger, first))

	history := []model.Message{
		{Role: "user", Content: prompt},
		{Role: "assistant", Content: first},
	}

	for glean := 0; glean < p.opts.MaxGleaning; glean++ {
		gleanInput := fmt.Sprintf("%s\x1fglean\x1f%d", c.Content, glean)
		more, err := p.cache.GetOrCompute(ctx, "extract", gleanInput, model.CacheTypeExtract, func(ctx context.Context) (string, error) {
			return p.llm(ctx, llm.Request{Prompt: continueExtractionPrompt, History: history, Priority: llm.PriorityQuery})
		})
		if err != nil {
			return nil, err
		}

		// Gleaning only adds records whose entity name / edge key is new;
		// existing ones are never duplicated.
		p.accumulateNew(res, c, record.Parse(p.logger, more))
		history = append(history,
			model.Message{Role: "user", Content: continueExtractionPrompt},
			model.Message{Role: "assistant", Content: more},
		)

		if glean == p.opts.MaxGleaning-1 {
			break
		}
		answer, err := p.llm(ctx, llm.Request{Prompt: loopCheckPrompt, History: history, Priority: llm.PriorityQuery})
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "yes") {
			break
		}
	}

	return res, nil
}

// nerHints runs the optional local NER pre-tagger; failures only cost the
// hint, never the chunk.
func (p *Pipeline) nerHints(text string) string {
	if p.ner == nil {
		return ""
	}
	entityHints, err := p.ner(text)
	if err != nil {
		p.logger.Debug("extract: NER hints unavailable", "error", err)
		return ""
	}
	parts := make([]string, 0, len(entityHints))
	for _, h := range entityHints {
		parts = append(parts, fmt.Sprintf("%s (%s)", h.Name, strings.ToLower(h.Type)))
	}
	return strings.Join(parts, ", ")
}

// accumulate converts parsed records into model values on res.
func (p *Pipeline) accumulate(res *Result, c *model.Chunk, records []record.Record) {
	for _, r := range records {
		p.addRecord(res, c, r, false)
	}
}

// accumulateNew is accumulate restricted to unseen entity names / edge keys.
func (p *Pipeline) accumulateNew(res *Result, c *model.Chunk, records []record.Record) {
	for _, r := range records {
		p.addRecord(res, c, r, true)
	}
}

func (p *Pipeline) addRecord(res *Result, c *model.Chunk, r record.Record, onlyNew bool) {
	now := time.Now()
	switch r.Kind {
	case record.KindEntity:
		if onlyNew {
			if _, seen := res.Entities[r.EntityName]; seen {
				return
			}
		}
		res.Entities[r.EntityName] = append(res.Entities[r.EntityName], &model.Entity{
			Name:                 r.EntityName,
			Type:                 normalizeEntityType(r.EntityType, p.opts.EntityTypes),
			Description:          r.Description,
			AdditionalProperties: r.AdditionalProperties,
			Community:            r.Community,
			SourceIDs:            []string{c.ID},
			FilePaths:            filePaths(c),
			CreatedAt:            now,
		})

	case record.KindRelationship, record.KindLatentRelation:
		latent := r.Kind == record.KindLatentRelation
		if latent && (!p.opts.EnableLatentRelation || r.Strength < p.opts.LatentRelMinStrength) {
			return
		}
		edge := &model.Edge{
			Source:      r.SourceEntity,
			Target:      r.TargetEntity,
			EdgeType:    edgeType(latent),
			Weight:      r.Strength,
			Description: r.Description,
			Keywords:    splitKeywords(r.Keywords),
			Latent:      latent,
			SourceIDs:   []string{c.ID},
			FilePaths:   filePaths(c),
			CreatedAt:   now,
		}
		key := edge.Key()
		if onlyNew {
			if _, seen := res.Edges[key]; seen {
				return
			}
		}
		res.Edges[key] = append(res.Edges[key], edge)

	case record.KindMultiHop:
		if !p.opts.EnableMultiHop {
			return
		}
		res.MultiHops = append(res.MultiHops, &model.MultiHopPath{
			ID:           ids.MultiHop(r.PathEntities),
			Entities:     r.PathEntities,
			PathStrength: r.PathStrength,
			Description:  r.Description,
			SourceIDs:    []string{c.ID},
			FilePaths:    filePaths(c),
			CreatedAt:    now,
		})

	case record.KindAssociation:
		if !p.opts.EnableAssociation {
			return
		}
		description := r.AssocDescription
		if r.AssocGeneralization != "" {
			description += " || " + r.AssocGeneralization
		}
		res.Associations = append(res.Associations, &model.Association{
			ID:          ids.Association(r.AssocEntities),
			Entities:    r.AssocEntities,
			Strength:    r.AssocStrength,
			Description: description,
			SourceIDs:   []string{c.ID},
			FilePaths:   filePaths(c),
			CreatedAt:   now,
		})

	case record.KindContentKeywords:
		res.ContentKeywords = append(res.ContentKeywords, splitKeywords(r.ContentKeywords)...)
	}
}

func edgeType(latent bool) model.EdgeType {
	if latent {
		return model.EdgeTypeLatent
	}
	return model.EdgeTypeSemantic
}

func filePaths(c *model.Chunk) []string {
	if c.FilePath == "" {
		return nil
	}
	return []string{c.FilePath}
}

func splitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// normalizeEntityType maps the LLM's type guess onto the configured closed
// set, falling back to unknown for anything unrecognized.
func normalizeEntityType(raw string, allowed []string) model.EntityType {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for _, t := range allowed {
		if raw == strings.ToLower(t) {
			return model.EntityType(strings.ToLower(t))
		}
	}
	switch raw {
	case "organization", "company":
		return model.EntityTypeOrganisation
	case "location", "place":
		return model.EntityTypeGeography
	}
	return model.EntityTypeUnknown
}
