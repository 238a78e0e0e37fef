package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kgraphrag/kgraphrag/internal/obs"
)

// Vector-store namespaces: chunk content lives on the chunks table itself
// (content IS the payload); entities/relations get their own tables since
// their "content" is a derived projection of graph fields.
const (
	NamespaceChunks    = "chunks"
	NamespaceEntities  = "entities"
	NamespaceRelations = "relations"
)

// CosineBetterThanThreshold implements VectorStore.
func (p *Postgres) CosineBetterThanThreshold() float64 { return p.cosineThreshold }

// UpsertVectors implements VectorStore. Content longer than
// MaxVectorContentChars is rejected here as a defensive re-check; callers
// (internal/merge) are expected to have already truncated it.
func (p *Postgres) UpsertVectors(ctx context.Context, namespace string, payload map[string]VectorRecord) error {
	for id, rec := range payload {
		if len(rec.Content) > MaxVectorContentChars {
			return fmt.Errorf("storage: vector content for %q exceeds %d chars", id, MaxVectorContentChars)
		}
		embedding, err := p.embedOne(rec.Content)
		if err != nil {
			return obs.WrapErr(fmt.Sprintf("embed %s", id), err)
		}
		vec := pgvector.NewVector(embedding)

		var execErr error
		switch namespace {
		case NamespaceEntities:
			_, execErr = p.Instance.ExecContext(ctx, `SELECT upsert_entity_vector($1, $2, $3, $4)`, id, rec.Content, rec.FilePath, vec)
		case NamespaceRelations:
			_, execErr = p.Instance.ExecContext(ctx, `SELECT upsert_relation_vector($1, $2, $3, $4)`, id, rec.Content, rec.FilePath, vec)
		case NamespaceChunks:
			_, execErr = p.Instance.ExecContext(ctx, `UPDATE chunks SET embedding = $2 WHERE id = $1`, id, vec)
		default:
			return fmt.Errorf("storage: unknown vector namespace %q", namespace)
		}
		if execErr != nil {
			return obs.WrapErr(fmt.Sprintf("upsert vector %s/%s", namespace, id), execErr)
		}
	}
	return nil
}

// Query implements VectorStore: embed text, then top-k by cosine distance.
// If ids is non-empty, results are filtered to that set.
func (p *Postgres) Query(ctx context.Context, namespace, text string, topK int, ids []string) ([]VectorMatch, error) {
	embedding, err := p.embedOne(text)
	if err != nil {
		return nil, obs.WrapErr("embed query", err)
	}
	vec := pgvector.NewVector(embedding)

	var rows *sql.Rows
	switch namespace {
	case NamespaceEntities:
		rows, err = p.Instance.QueryContext(ctx, `SELECT * FROM select_entity_vectors_by_similarity($1, $2)`, vec, topK)
	case NamespaceRelations:
		rows, err = p.Instance.QueryContext(ctx, `SELECT * FROM select_relation_vectors_by_similarity($1, $2)`, vec, topK)
	case NamespaceChunks:
		return p.queryChunkVectors(ctx, vec, topK, ids)
	default:
		return nil, fmt.Errorf("storage: unknown vector namespace %q", namespace)
	}
	if err != nil {
		return nil, obs.WrapErr("query vectors", err)
	}
	defer rows.Close()

	idSet := toSet(ids)
	var out []VectorMatch
	for rows.Next() {
		var m VectorMatch
		var filePath sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&m.ID, &m.Content, &filePath, &createdAt, &m.Distance); err != nil {
			return nil, obs.WrapErr("scan vector match", err)
		}
		m.FilePath = filePath.String
		m.CreatedAt = createdAt
		if len(idSet) > 0 && !idSet[m.ID] {
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) queryChunkVectors(ctx context.Context, vec pgvector.Vector, topK int, ids []string) ([]VectorMatch, error) {
	rows, err := p.Instance.QueryContext(ctx, `SELECT * FROM select_chunks_by_similarity($1, $2)`, vec, topK)
	if err != nil {
		return nil, obs.WrapErr("query chunk vectors", err)
	}
	defer rows.Close()

	idSet := toSet(ids)
	var out []VectorMatch
	for rows.Next() {
		var id, content string
		var filePath, fullDocID sql.NullString
		var rowID any
		var tokens, chunkOrderIndex int
		var embedding *pgvector.Vector
		var metadata []byte
		var createdAt time.Time
		var distance float64
		if err := rows.Scan(&id, &rowID, &content, &tokens, &fullDocID, &chunkOrderIndex, &filePath, &embedding, &metadata, &createdAt, &distance); err != nil {
			return nil, obs.WrapErr("scan chunk vector", err)
		}
		if len(idSet) > 0 && !idSet[id] {
			continue
		}
		out = append(out, VectorMatch{
			ID: id, Content: content, FilePath: filePath.String, CreatedAt: createdAt, Distance: distance,
			Extra: map[string]any{"full_doc_id": fullDocID.String},
		})
	}
	return out, rows.Err()
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
