package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kgraphrag/kgraphrag/internal/obs"
)

// ChunkRecord is the storage-layer projection of model.Chunk, kept separate
// for the same reason GraphNode is (see store.go).
type ChunkRecord struct {
	ID              string
	RowID           uuid.UUID
	Content         string
	Tokens          int
	FullDocID       uuid.UUID
	ChunkOrderIndex int
	FilePath        string
	CreatedAt       time.Time
}

// ChunkStore is the write-once chunk contract the ingest pipeline and the
// retrieval engine's text-unit assembly depend on.
type ChunkStore interface {
	InsertChunk(ctx context.Context, c *ChunkRecord) error
	GetChunk(ctx context.Context, id string) (*ChunkRecord, bool, error)
	GetChunksBatch(ctx context.Context, ids []string, maxConcurrency int) (map[string]*ChunkRecord, error)
}

// InsertChunk implements ChunkStore. The content is embedded here so a chunk
// row is always retrievable by similarity the moment the insert returns.
func (p *Postgres) InsertChunk(ctx context.Context, c *ChunkRecord) error {
	embedding, err := p.embedOne(c.Content)
	if err != nil {
		return obs.WrapErr("embed chunk", err)
	}
	vec := pgvector.NewVector(embedding)

	rowID := c.RowID
	if rowID == uuid.Nil {
		rowID = uuid.New()
	}
	var fullDocID any
	if c.FullDocID != uuid.Nil {
		fullDocID = c.FullDocID
	}
	_, err = p.Instance.ExecContext(ctx,
		`SELECT insert_chunk($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, rowID, c.Content, c.Tokens, fullDocID, c.ChunkOrderIndex, c.FilePath, vec, nil,
	)
	if err != nil {
		return obs.WrapErr("insert chunk", err)
	}
	return nil
}

// GetChunk implements ChunkStore.
func (p *Postgres) GetChunk(ctx context.Context, id string) (*ChunkRecord, bool, error) {
	row := p.Instance.QueryRowContext(ctx, `SELECT * FROM select_chunk($1)`, id)
	c, err := scanChunk(row)
	if err != nil {
		return nil, false, nil //nolint:nilerr // row-not-found is a miss
	}
	return c, true, nil
}

// GetChunksBatch implements ChunkStore, fetching ids concurrently under a
// weighted semaphore.
func (p *Postgres) GetChunksBatch(ctx context.Context, ids []string, maxConcurrency int) (map[string]*ChunkRecord, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 20
	}
	sem := semaphore.NewWeighted(int64(maxConcurrency))
	g, ctx := errgroup.WithContext(ctx)

	results := make([]*ChunkRecord, len(ids))
	for i, id := range ids {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			c, ok, err := p.GetChunk(ctx, id)
			if err != nil {
				return err
			}
			if ok {
				results[i] = c
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, obs.WrapErr("get chunks batch", err)
	}

	out := make(map[string]*ChunkRecord, len(ids))
	for _, c := range results {
		if c != nil {
			out[c.ID] = c
		}
	}
	return out, nil
}

// UpdateNodeCommunity rewrites one entity's community tag, used by the
// eventual community-recompute pass (see internal/merge/community.go).
func (p *Postgres) UpdateNodeCommunity(ctx context.Context, name, community string) error {
	if _, err := p.Instance.ExecContext(ctx, `SELECT update_entity_community($1, $2)`, name, community); err != nil {
		return obs.WrapErr("update entity community", err)
	}
	return nil
}

func scanChunk(row scanner) (*ChunkRecord, error) {
	c := &ChunkRecord{}
	var filePath sql.NullString
	var embedding *pgvector.Vector
	var metadata []byte
	if err := row.Scan(&c.ID, &c.RowID, &c.Content, &c.Tokens, &c.FullDocID, &c.ChunkOrderIndex, &filePath, &embedding, &metadata, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.FilePath = filePath.String
	return c, nil
}
