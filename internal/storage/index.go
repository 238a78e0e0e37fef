package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/kgraphrag/kgraphrag/internal/obs"
)

// ChangeIndexType rebuilds a vector table's embedding index as HNSW or
// IVFFlat; the chunk/entity/relation vector tables all share the same
// index-tuning knobs.
//
// indexType is "hnsw" or "ivfflat". params: for hnsw, "m" (default 16) and
// "ef_construction" (default 64); for ivfflat, "lists" (default 100).
func (p *Postgres) ChangeIndexType(ctx context.Context, table, indexType string, params map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	indexName := fmt.Sprintf("idx_%s_embedding", table)
	if _, err := p.Instance.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s;`, indexName)); err != nil {
		return obs.WrapErr("drop index", err)
	}

	var createIndexSQL string
	switch indexType {
	case "hnsw":
		m, efConstruction := 16, 64
		if v, ok := params["m"].(int); ok {
			m = v
		}
		if v, ok := params["ef_construction"].(int); ok {
			efConstruction = v
		}
		createIndexSQL = fmt.Sprintf(
			`CREATE INDEX %s ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d);`,
			indexName, table, m, efConstruction,
		)
	case "ivfflat":
		lists := 100
		if v, ok := params["lists"].(int); ok {
			lists = v
		}
		createIndexSQL = fmt.Sprintf(
			`CREATE INDEX %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d);`,
			indexName, table, lists,
		)
	default:
		return fmt.Errorf("storage: unsupported index type %q (use \"hnsw\" or \"ivfflat\")", indexType)
	}

	if _, err := p.Instance.ExecContext(ctx, createIndexSQL); err != nil {
		return obs.WrapErr("create index", err)
	}

	p.Logger.Info("storage: rebuilt vector index", "table", table, "index_type", indexType)
	return nil
}
