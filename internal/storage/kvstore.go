package storage

import (
	"context"
	"encoding/json"

	"github.com/lib/pq"

	"github.com/kgraphrag/kgraphrag/internal/obs"
)

// Get implements KVStore.
func (p *Postgres) Get(ctx context.Context, namespace, id string) (map[string]any, bool, error) {
	row := p.Instance.QueryRowContext(ctx, `SELECT data FROM select_kv($1, $2)`, namespace, id)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, false, nil //nolint:nilerr // cache miss, not an error
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, obs.WrapErr("unmarshal kv", err)
	}
	return data, true, nil
}

// GetBatch implements KVStore.
func (p *Postgres) GetBatch(ctx context.Context, namespace string, ids []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := p.Instance.QueryContext(ctx, `SELECT id, data FROM select_kv_batch($1, $2)`, namespace, pq.Array(ids))
	if err != nil {
		return nil, obs.WrapErr("query kv batch", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, obs.WrapErr("scan kv row", err)
		}
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, obs.WrapErr("unmarshal kv row", err)
		}
		out[id] = data
	}
	return out, rows.Err()
}

// Upsert implements KVStore. Concurrent upserts for the same key are
// last-writer-wins, matching Postgres's own statement
// ordering under READ COMMITTED.
func (p *Postgres) Upsert(ctx context.Context, namespace string, records map[string]map[string]any) error {
	for id, data := range records {
		raw, err := json.Marshal(data)
		if err != nil {
			return obs.WrapErr("marshal kv", err)
		}
		if _, err := p.Instance.ExecContext(ctx, `SELECT upsert_kv($1, $2, $3)`, namespace, id, raw); err != nil {
			return obs.WrapErr("upsert kv", err)
		}
	}
	return nil
}

// Delete implements KVStore.
func (p *Postgres) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.Instance.ExecContext(ctx, `SELECT delete_kv($1, $2)`, namespace, pq.Array(ids)); err != nil {
		return obs.WrapErr("delete kv", err)
	}
	return nil
}
