// Package merge resolves per-chunk extraction results into the knowledge
// graph: idempotent entity/edge merging with fragment unions,
// LLM summarization on fragment overflow, association and multi-hop derived
// nodes, and the post-merge fan-out, all serialized per document.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kgraphrag/kgraphrag/internal/cache"
	"github.com/kgraphrag/kgraphrag/internal/extract"
	"github.com/kgraphrag/kgraphrag/internal/geocoder"
	"github.com/kgraphrag/kgraphrag/internal/ids"
	"github.com/kgraphrag/kgraphrag/internal/llm"
	"github.com/kgraphrag/kgraphrag/internal/obs"
	"github.com/kgraphrag/kgraphrag/internal/storage"
	"github.com/kgraphrag/kgraphrag/internal/tokenize"
	"github.com/kgraphrag/kgraphrag/model"
)

// FieldSeparator is the reserved token joining description fragments inside
// stored strings. It must never appear in inputs.
const FieldSeparator = "<SEP>"

// Options holds the merge tunables.
type Options struct {
	ForceLLMSummaryOnMerge      int
	SummaryToMaxTokens          int
	LLMMaxTokens                int
	EnableDescriptionEnrichment bool
	EnableGeoEnrichment         bool
	EnableAssociation           bool
	EnableMultiHop              bool
	EnableCommunityDetection    bool
	MultiHopTopK                int
	MultiHopMaxDepth            int
}

// Engine merges extraction results into the graph and vector stores.
type Engine struct {
	graph   storage.GraphStore
	vectors storage.VectorStore
	llm     llm.Func
	cache   *cache.Store
	geocode geocoder.Func
	logger  *slog.Logger
	opts    Options
	locks   *lockRegistry

	community communityState
}

// NewEngine wires a merge engine. geocode may be nil when geo enrichment is
// disabled.
func NewEngine(graph storage.GraphStore, vectors storage.VectorStore, llmFn llm.Func, c *cache.Store, geocode geocoder.Func, logger *slog.Logger, opts Options) *Engine {
	if opts.ForceLLMSummaryOnMerge <= 0 {
		opts.ForceLLMSummaryOnMerge = 6
	}
	if opts.SummaryToMaxTokens <= 0 {
		opts.SummaryToMaxTokens = 500
	}
	if opts.LLMMaxTokens <= 0 {
		opts.LLMMaxTokens = 32768
	}
	if opts.MultiHopTopK <= 0 {
		opts.MultiHopTopK = 10
	}
	if opts.MultiHopMaxDepth <= 0 {
		opts.MultiHopMaxDepth = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		graph:   graph,
		vectors: vectors,
		llm:     llmFn,
		cache:   c,
		geocode: geocode,
		logger:  logger,
		opts:    opts,
		locks:   newLockRegistry(),
	}
}

// MergeDocument merges all of one document's chunk results under the
// document's merge lock. Graph writes happen before vector writes so a
// consistent graph-linked state is always visible once the vector store
// returns a hit.
func (e *Engine) MergeDocument(ctx context.Context, docKey string, results []*extract.Result) error {
	unlock := e.locks.Lock(docKey)
	defer unlock()

	nodes := map[string][]*model.Entity{}
	edges := map[string][]*model.Edge{}
	var assocs []*model.Association
	var multiHops []*model.MultiHopPath
	for _, r := range results {
		if r == nil {
			continue
		}
		for name, cands := range r.Entities {
			nodes[name] = append(nodes[name], cands...)
		}
		for key, cands := range r.Edges {
			edges[key] = append(edges[key], cands...)
		}
		assocs = append(assocs, r.Associations...)
		multiHops = append(multiHops, r.MultiHops...)
	}

	entityPayloads := map[string]storage.VectorRecord{}
	relationPayloads := map[string]storage.VectorRecord{}
	var fresh []string

	for _, name := range sortedKeys(nodes) {
		merged, err := e.mergeEntity(ctx, name, nodes[name])
		if err != nil {
			return err
		}
		if merged == nil {
			continue
		}
		fresh = append(fresh, name)
		entityPayloads[ids.Entity(name)] = entityVectorRecord(merged)
	}

	for _, key := range sortedKeys(edges) {
		merged, err := e.mergeEdge(ctx, edges[key])
		if err != nil {
			return err
		}
		if merged == nil {
			continue
		}
		relationPayloads[ids.Relation(merged.Source, merged.Target)] = relationVectorRecord(merged)
	}

	if e.opts.EnableAssociation {
		for _, a := range assocs {
			if err := e.mergeAssociation(ctx, a); err != nil {
				return err
			}
		}
	}
	if e.opts.EnableMultiHop {
		for _, p := range multiHops {
			if err := e.mergeMultiHop(ctx, p); err != nil {
				return err
			}
		}
	}

	if len(entityPayloads) > 0 {
		if err := e.vectors.UpsertVectors(ctx, storage.NamespaceEntities, entityPayloads); err != nil {
			return obs.WrapErr("upsert entity vectors", err)
		}
	}
	if len(relationPayloads) > 0 {
		if err := e.vectors.UpsertVectors(ctx, storage.NamespaceRelations, relationPayloads); err != nil {
			return obs.WrapErr("upsert relation vectors", err)
		}
	}

	if e.opts.EnableMultiHop {
		e.fanOutMultiHop(ctx, fresh)
	}
	if e.opts.EnableCommunityDetection {
		e.markCommunityDirty()
	}
	return nil
}

// mergeEntity folds all candidates for one name into the existing node and
// upserts the result. Returns nil (no error) when the node is skipped for
// violating an invariant.
func (e *Engine) mergeEntity(ctx context.Context, name string, candidates []*model.Entity) (*storage.GraphNode, error) {
	if name == "" {
		e.logger.Warn("merge: skipping entity with empty name")
		return nil, nil
	}

	existing, _, err := e.graph.GetNode(ctx, name)
	if err != nil {
		return nil, obs.WrapErr("load node", err)
	}

	var fragments, propFragments, communities, sourceIDs, filePaths []string
	typeCounts := map[string]int{}
	if existing != nil {
		fragments = splitFragments(existing.Description)
		propFragments = splitFragments(existing.AdditionalProperties)
		communities = splitFragments(existing.Community)
		sourceIDs = existing.SourceIDs
		filePaths = existing.FilePaths
		typeCounts[existing.EntityType]++
	}
	for _, c := range candidates {
		fragments = unionAppend(fragments, c.Description)
		propFragments = unionAppend(propFragments, c.AdditionalProperties)
		communities = unionAppend(communities, c.Community)
		sourceIDs = unionAll(sourceIDs, c.SourceIDs)
		filePaths = unionAll(filePaths, c.FilePaths)
		typeCounts[string(c.Type)]++
	}

	description := strings.Join(fragments, FieldSeparator)
	if description == "" {
		e.logger.Warn("merge: skipping entity with empty merged description", "entity", name)
		return nil, nil
	}
	if len(sourceIDs) == 0 && len(filePaths) == 0 {
		e.logger.Warn("merge: skipping entity with no source linkage", "entity", name)
		return nil, nil
	}

	state := model.EntityStateDraft
	if existing != nil {
		state = model.EntityStateEnriched
	}
	if len(fragments) >= e.opts.ForceLLMSummaryOnMerge {
		summary, err := e.summarize(ctx, name, description)
		if err != nil {
			return nil, err
		}
		description = summary
		state = model.EntityStateSummarized
	}

	entityType := modeKey(typeCounts)
	node := &storage.GraphNode{
		Name:                 name,
		EntityType:           entityType,
		Description:          description,
		AdditionalProperties: strings.Join(propFragments, FieldSeparator),
		Community:            strings.Join(communities, FieldSeparator),
		SourceIDs:            sourceIDs,
		FilePaths:            filePaths,
		Metadata:             map[string]any{"lifecycle": string(state)},
		CreatedAt:            time.Now(),
	}

	if e.opts.EnableDescriptionEnrichment {
		e.enrichDescription(ctx, node)
	}
	if e.opts.EnableGeoEnrichment && entityType == string(model.EntityTypeGeography) {
		e.enrichGeo(ctx, node)
	}

	if err := e.graph.UpsertNode(ctx, node); err != nil {
		return nil, obs.WrapErr("upsert merged node", err)
	}
	return node, nil
}

// mergeEdge folds candidates sharing one canonical pair into the existing
// edge: weights sum, descriptions union, keywords set-union.
func (e *Engine) mergeEdge(ctx context.Context, candidates []*model.Edge) (*storage.GraphEdge, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	src, tgt := model.SortedPair(candidates[0].Source, candidates[0].Target)
	if src == tgt {
		e.logger.Warn("merge: skipping self-loop edge", "entity", src)
		return nil, nil
	}

	existing, _, err := e.graph.GetEdge(ctx, src, tgt)
	if err != nil {
		return nil, obs.WrapErr("load edge", err)
	}

	weight := 0.0
	var fragments, keywords, sourceIDs, filePaths []string
	latent := true
	if existing != nil {
		weight = existing.Weight
		fragments = splitFragments(existing.Description)
		keywords = existing.Keywords
		sourceIDs = existing.SourceIDs
		filePaths = existing.FilePaths
		latent = existing.Latent
	}
	for _, c := range candidates {
		weight += c.Weight
		fragments = unionAppend(fragments, c.Description)
		keywords = unionAll(keywords, c.Keywords)
		sourceIDs = unionAll(sourceIDs, c.SourceIDs)
		filePaths = unionAll(filePaths, c.FilePaths)
		latent = latent && c.Latent
	}

	description := strings.Join(fragments, FieldSeparator)
	if len(fragments) >= e.opts.ForceLLMSummaryOnMerge {
		summary, err := e.summarize(ctx, src+" -> "+tgt, description)
		if err != nil {
			return nil, err
		}
		description = summary
	}

	if err := e.ensureEndpoints(ctx, src, tgt, sourceIDs, filePaths); err != nil {
		return nil, err
	}

	edge := &storage.GraphEdge{
		Source:      src,
		Target:      tgt,
		Weight:      weight,
		Description: description,
		Keywords:    keywords,
		Latent:      latent,
		SourceIDs:   sourceIDs,
		FilePaths:   filePaths,
		CreatedAt:   time.Now(),
	}
	if err := e.graph.UpsertEdge(ctx, edge); err != nil {
		return nil, obs.WrapErr("upsert merged edge", err)
	}
	return edge, nil
}

// ensureEndpoints creates minimal stub nodes for missing edge endpoints when
// chunk linkage is available. Without linkage no stub is created, since it
// would violate the source-linkage invariant; the caller's edge is still
// upserted, as the stores reject only self-loops, not missing endpoints.
func (e *Engine) ensureEndpoints(ctx context.Context, src, tgt string, sourceIDs, filePaths []string) error {
	if len(sourceIDs) == 0 && len(filePaths) == 0 {
		return nil
	}
	for _, name := range []string{src, tgt} {
		ok, err := e.graph.HasNode(ctx, name)
		if err != nil {
			return obs.WrapErr("check endpoint", err)
		}
		if ok {
			continue
		}
		stub := &storage.GraphNode{
			Name:        name,
			EntityType:  string(model.EntityTypeUnknown),
			Description: name,
			SourceIDs:   sourceIDs,
			FilePaths:   filePaths,
			CreatedAt:   time.Now(),
		}
		if err := e.graph.UpsertNode(ctx, stub); err != nil {
			return obs.WrapErr("create endpoint stub", err)
		}
	}
	return nil
}

// mergeAssociation upserts the derived association node plus member edges
// (weight = strength) and pairwise member edges via the regular edge merge.
func (e *Engine) mergeAssociation(ctx context.Context, a *model.Association) error {
	node := &storage.GraphNode{
		Name:        a.ID,
		EntityType:  string(model.EntityTypeAssociation),
		Description: a.Description,
		SourceIDs:   a.SourceIDs,
		FilePaths:   a.FilePaths,
		Metadata:    map[string]any{"entities": a.Entities, "strength": a.Strength},
		CreatedAt:   time.Now(),
	}
	if err := e.graph.UpsertNode(ctx, node); err != nil {
		return obs.WrapErr("upsert association node", err)
	}

	for _, member := range a.Entities {
		if _, err := e.mergeEdge(ctx, []*model.Edge{{
			Source:      a.ID,
			Target:      member,
			EdgeType:    model.EdgeTypeReference,
			Weight:      a.Strength,
			Description: a.Description,
			SourceIDs:   a.SourceIDs,
			FilePaths:   a.FilePaths,
		}}); err != nil {
			return err
		}
	}
	for i := 0; i < len(a.Entities); i++ {
		for j := i + 1; j < len(a.Entities); j++ {
			if _, err := e.mergeEdge(ctx, []*model.Edge{{
				Source:      a.Entities[i],
				Target:      a.Entities[j],
				EdgeType:    model.EdgeTypeSemantic,
				Weight:      a.Strength,
				Description: a.Description,
				SourceIDs:   a.SourceIDs,
				FilePaths:   a.FilePaths,
			}}); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeMultiHop upserts the derived path node plus latent edges from the
// path node to each listed entity.
func (e *Engine) mergeMultiHop(ctx context.Context, p *model.MultiHopPath) error {
	node := &storage.GraphNode{
		Name:        p.ID,
		EntityType:  string(model.EntityTypeMultiHop),
		Description: p.Description,
		SourceIDs:   p.SourceIDs,
		FilePaths:   p.FilePaths,
		Metadata:    map[string]any{"entities": p.Entities, "path_strength": p.PathStrength},
		CreatedAt:   time.Now(),
	}
	if err := e.graph.UpsertNode(ctx, node); err != nil {
		return obs.WrapErr("upsert multi-hop node", err)
	}

	for _, member := range p.Entities {
		if _, err := e.mergeEdge(ctx, []*model.Edge{{
			Source:      p.ID,
			Target:      member,
			EdgeType:    model.EdgeTypeLatent,
			Weight:      p.PathStrength,
			Description: p.Description,
			Latent:      true,
			SourceIDs:   p.SourceIDs,
			FilePaths:   p.FilePaths,
		}}); err != nil {
			return err
		}
	}
	return nil
}

// fanOutMultiHop computes graph-native multi-hop paths from each freshly
// inserted entity and indexes the derived paths in the relation vector store.
// Failures here are logged and skipped, never fatal.
func (e *Engine) fanOutMultiHop(ctx context.Context, fresh []string) {
	payloads := map[string]storage.VectorRecord{}
	for _, name := range fresh {
		paths, err := e.graph.MultiHopPaths(ctx, name, e.opts.MultiHopMaxDepth, e.opts.MultiHopTopK)
		if err != nil {
			e.logger.Warn("merge: multi-hop fan-out failed, skipping entity", "entity", name, "error", err)
			continue
		}
		for _, path := range paths {
			if len(path.Entities) < 3 {
				continue
			}
			pathID := ids.MultiHop(path.Entities)
			content := tokenize.Truncate(
				strings.Join(path.Entities, " -> ")+"\n"+fmt.Sprintf("path strength %.2f", path.Strength),
				storage.MaxVectorContentChars,
			)
			payloads[pathID] = storage.VectorRecord{Content: content, CreatedAt: time.Now()}
		}
	}
	if len(payloads) == 0 {
		return
	}
	if err := e.vectors.UpsertVectors(ctx, storage.NamespaceRelations, payloads); err != nil {
		e.logger.Warn("merge: indexing multi-hop paths failed", "error", err)
	}
}

// summarize asks the summary LLM (priority 8) to compress an overflowing
// fragment list, capping the decoded input at LLMMaxTokens and the output at
// SummaryToMaxTokens.
func (e *Engine) summarize(ctx context.Context, subject, description string) (string, error) {
	input := tokenize.TruncateByTokens(description, e.opts.LLMMaxTokens)
	prompt := fmt.Sprintf(
		"You are summarizing the accumulated notes about %q into one comprehensive description.\n"+
			"Resolve contradictions, write in third person, and include the entity name for full context.\n\nNotes:\n%s\n\nSummary:",
		subject, strings.ReplaceAll(input, FieldSeparator, "\n"),
	)
	summary, err := e.llm(ctx, llm.Request{
		Prompt:    prompt,
		Priority:  llm.PrioritySummary,
		MaxTokens: e.opts.SummaryToMaxTokens,
	})
	if err != nil {
		return "", obs.WrapErr("summarize description", err)
	}
	return tokenize.TruncateByTokens(strings.TrimSpace(summary), e.opts.SummaryToMaxTokens), nil
}

// enrichDescription asks the LLM for a richer description, cached under
// cache_type enrich_desc. Failure leaves the description as merged.
func (e *Engine) enrichDescription(ctx context.Context, node *storage.GraphNode) {
	enriched, err := e.cache.GetOrCompute(ctx, "merge", node.Name+"\x1f"+node.Description, model.CacheTypeEnrichDesc, func(ctx context.Context) (string, error) {
		prompt := fmt.Sprintf(
			"Expand the following description of %q with any directly implied context, staying factual:\n\n%s",
			node.Name, strings.ReplaceAll(node.Description, FieldSeparator, "\n"),
		)
		return e.llm(ctx, llm.Request{Prompt: prompt, Priority: llm.PrioritySummary, MaxTokens: e.opts.SummaryToMaxTokens})
	})
	if err != nil {
		e.logger.Warn("merge: description enrichment failed", "entity", node.Name, "error", err)
		return
	}
	if enriched != "" {
		node.Description = enriched
	}
}

// enrichGeo resolves a geography node's coordinates and injects them into
// the description and additional_properties. Non-fatal on failure.
func (e *Engine) enrichGeo(ctx context.Context, node *storage.GraphNode) {
	if e.geocode == nil {
		return
	}
	res, err := e.geocode(ctx, node.Name)
	if err != nil {
		e.logger.Warn("merge: geo enrichment failed", "entity", node.Name, "error", err)
		return
	}
	coords := fmt.Sprintf("latitude %.5f, longitude %.5f", res.Latitude, res.Longitude)
	node.Description += FieldSeparator + fmt.Sprintf("%s is located at %s.", node.Name, coords)
	if node.AdditionalProperties != "" {
		node.AdditionalProperties += FieldSeparator
	}
	node.AdditionalProperties += coords
}

func entityVectorRecord(node *storage.GraphNode) storage.VectorRecord {
	content := node.Name + "\n" + node.Description + "\n" + node.AdditionalProperties + "\n" + node.Community
	return storage.VectorRecord{
		Content:   tokenize.Truncate(content, storage.MaxVectorContentChars),
		FilePath:  first(node.FilePaths),
		CreatedAt: node.CreatedAt,
	}
}

func relationVectorRecord(edge *storage.GraphEdge) storage.VectorRecord {
	content := edge.Source + "\t" + edge.Target + "\n" + strings.Join(edge.Keywords, ", ") + "\n" + edge.Description
	return storage.VectorRecord{
		Content:   tokenize.Truncate(content, storage.MaxVectorContentChars),
		FilePath:  first(edge.FilePaths),
		CreatedAt: edge.CreatedAt,
	}
}

func splitFragments(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, FieldSeparator)
}

// unionAppend appends value to fragments unless empty or already present.
func unionAppend(fragments []string, value string) []string {
	if value == "" {
		return fragments
	}
	for _, f := range fragments {
		if f == value {
			return fragments
		}
	}
	return append(fragments, value)
}

func unionAll(existing []string, added []string) []string {
	for _, v := range added {
		existing = unionAppend(existing, v)
	}
	return existing
}

// modeKey returns the most frequent key, ties broken alphabetically for
// determinism.
func modeKey(counts map[string]int) string {
	best, bestCount := string(model.EntityTypeUnknown), 0
	for _, k := range sortedKeys(counts) {
		if counts[k] > bestCount && k != "" {
			best, bestCount = k, counts[k]
		}
	}
	return best
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
