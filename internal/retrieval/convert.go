package retrieval

import (
	"github.com/kgraphrag/kgraphrag/internal/storage"
	"github.com/kgraphrag/kgraphrag/model"
)

func entityFromNode(c *candidate) *model.Entity {
	degree := c.degree
	similarity := c.similarity
	entity := &model.Entity{
		Name:                 c.node.Name,
		Type:                 model.EntityType(c.node.EntityType),
		Description:          c.node.Description,
		AdditionalProperties: c.node.AdditionalProperties,
		Community:            c.node.Community,
		SourceIDs:            c.node.SourceIDs,
		FilePaths:            c.node.FilePaths,
		CreatedAt:            c.node.CreatedAt,
		Degree:               &degree,
		Rank:                 &degree,
	}
	if similarity > 0 {
		entity.Similarity = &similarity
	}
	return entity
}

func edgeFromGraph(e *storage.GraphEdge) *model.Edge {
	edgeType := model.EdgeTypeSemantic
	if e.Latent {
		edgeType = model.EdgeTypeLatent
	}
	return &model.Edge{
		Source:      e.Source,
		Target:      e.Target,
		EdgeType:    edgeType,
		Weight:      e.Weight,
		Description: e.Description,
		Keywords:    e.Keywords,
		Latent:      e.Latent,
		SourceIDs:   e.SourceIDs,
		FilePaths:   e.FilePaths,
		CreatedAt:   e.CreatedAt,
	}
}

func chunkFromRecord(r *storage.ChunkRecord) *model.Chunk {
	return &model.Chunk{
		ID:              r.ID,
		RowID:           r.RowID,
		Content:         r.Content,
		Tokens:          r.Tokens,
		FullDocID:       r.FullDocID,
		ChunkOrderIndex: r.ChunkOrderIndex,
		FilePath:        r.FilePath,
		CreatedAt:       r.CreatedAt,
	}
}

// combineEntities unions entity lists, deduplicating by name while
// preserving the order of first occurrence across sources.
func combineEntities(lists ...[]*model.Entity) []*model.Entity {
	seen := map[string]bool{}
	var out []*model.Entity
	for _, list := range lists {
		for _, e := range list {
			if seen[e.Name] {
				continue
			}
			seen[e.Name] = true
			out = append(out, e)
		}
	}
	return out
}

// combineEdges unions edge lists by canonical pair key.
func combineEdges(lists ...[]*model.Edge) []*model.Edge {
	seen := map[string]bool{}
	var out []*model.Edge
	for _, list := range lists {
		for _, e := range list {
			key := e.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, e)
		}
	}
	return out
}

// combineChunks unions chunk lists by chunk ID.
func combineChunks(lists ...[]*model.Chunk) []*model.Chunk {
	seen := map[string]bool{}
	var out []*model.Chunk
	for _, list := range lists {
		for _, c := range list {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
		}
	}
	return out
}
