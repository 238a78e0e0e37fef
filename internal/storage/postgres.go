// Package storage's Postgres/pgvector adapter implements KVStore,
// VectorStore, GraphStore, and ChunkStore over a single database
// connection, with the PL/pgSQL function surface bootstrapped from embedded
// SQL on first connect.
package storage

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	internalsql "github.com/kgraphrag/kgraphrag/internal/storage/sql"
	"github.com/kgraphrag/kgraphrag/internal/obs"
)

// EmbedFunc mirrors the embedding collaborator contract:
// texts in, one vector per text out.
type EmbedFunc func(texts []string) ([][]float32, error)

// Postgres is the single database connection backing all of the storage
// contracts.
type Postgres struct {
	Instance        *sql.DB
	Logger          *slog.Logger
	embeddingDim    int
	embed           EmbedFunc
	cosineThreshold float64
}

// Options configures Open.
type Options struct {
	DSN                     string
	EmbeddingDim            int
	Embed                   EmbedFunc
	CosineBetterThanThresh  float64
	Force                   bool
	Logger                  *slog.Logger
}

// Open connects to Postgres and bootstraps the schema (pgvector/pgcrypto
// extensions, tables, and PL/pgSQL functions).
func Open(opts Options) (*Postgres, error) {
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, obs.WrapErr("open postgres", err)
	}
	if err := db.Ping(); err != nil {
		return nil, obs.WrapErr("ping postgres", err)
	}

	if err := internalsql.LoadAll(db, opts.EmbeddingDim, opts.Force); err != nil {
		return nil, obs.WrapErr("load sql", err)
	}

	threshold := opts.CosineBetterThanThresh
	if threshold == 0 {
		threshold = 0.2
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pg := &Postgres{
		Instance:        db,
		Logger:          logger,
		embeddingDim:    opts.EmbeddingDim,
		embed:           opts.Embed,
		cosineThreshold: threshold,
	}
	logger.Info("storage: schema ready", slog.Int("embedding_dim", opts.EmbeddingDim))
	return pg, nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	if p == nil || p.Instance == nil {
		return nil
	}
	return p.Instance.Close()
}

func (p *Postgres) embedOne(text string) ([]float32, error) {
	if p.embed == nil {
		return nil, fmt.Errorf("storage: no embedding collaborator configured")
	}
	vecs, err := p.embed([]string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("storage: embedding collaborator returned no vectors")
	}
	return vecs[0], nil
}
