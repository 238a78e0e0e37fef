// Package sql embeds and loads the PL/pgSQL schema the Postgres-backed
// storage adapters call into: go:embed the .sql text, execute it, then
// verify the expected function names exist in pg_proc before declaring the
// load successful.
package sql

import (
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

//go:embed chunks.sql
var chunksSQLTemplate string

//go:embed entities.sql
var entitiesSQL string

//go:embed edges.sql
var edgesSQL string

//go:embed vectors.sql
var vectorsSQLTemplate string

//go:embed cache.sql
var cacheSQL string

// ChunksFunctions lists the functions chunks.sql must define.
var ChunksFunctions = []string{"init_chunks", "insert_chunk", "select_chunk", "select_chunks_by_similarity", "delete_chunk"}

// EntitiesFunctions lists the functions entities.sql must define.
var EntitiesFunctions = []string{"init_entities", "upsert_entity", "select_entity", "select_entities_batch", "update_entity_community"}

// EdgesFunctions lists the functions edges.sql must define.
var EdgesFunctions = []string{"init_edges", "upsert_edge", "select_edge", "select_edges_for_node"}

// VectorsFunctions lists the functions vectors.sql must define.
var VectorsFunctions = []string{
	"init_vectors", "upsert_entity_vector", "upsert_relation_vector",
	"select_entity_vectors_by_similarity", "select_relation_vectors_by_similarity",
}

// CacheFunctions lists the functions cache.sql must define.
var CacheFunctions = []string{"init_kv_cache", "upsert_kv", "select_kv", "select_kv_batch", "delete_kv"}

// Init bootstraps the pgvector/pgcrypto extensions every other function set
// depends on.
func Init(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema sql: %w", err)
	}
	return nil
}

// LoadChunks loads the chunk table/functions, parameterizing the embedding
// dimension into the vector(%d) column declarations.
func LoadChunks(db *sql.DB, embeddingDim int, force bool) error {
	if !force {
		exist, err := checkFunctions(db, ChunksFunctions)
		if err != nil {
			return fmt.Errorf("check existing chunks functions: %w", err)
		}
		if exist {
			return nil
		}
	}
	stmt := fmt.Sprintf(chunksSQLTemplate, embeddingDim)
	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("execute chunks sql: %w", err)
	}
	return verify(db, ChunksFunctions)
}

// LoadEntities loads the entities table/functions.
func LoadEntities(db *sql.DB, force bool) error {
	if !force {
		exist, err := checkFunctions(db, EntitiesFunctions)
		if err != nil {
			return fmt.Errorf("check existing entities functions: %w", err)
		}
		if exist {
			return nil
		}
	}
	if _, err := db.Exec(entitiesSQL); err != nil {
		return fmt.Errorf("execute entities sql: %w", err)
	}
	return verify(db, EntitiesFunctions)
}

// LoadEdges loads the edges table/functions.
func LoadEdges(db *sql.DB, force bool) error {
	if !force {
		exist, err := checkFunctions(db, EdgesFunctions)
		if err != nil {
			return fmt.Errorf("check existing edges functions: %w", err)
		}
		if exist {
			return nil
		}
	}
	if _, err := db.Exec(edgesSQL); err != nil {
		return fmt.Errorf("execute edges sql: %w", err)
	}
	return verify(db, EdgesFunctions)
}

// LoadVectors loads the entity/relation vector tables and functions.
func LoadVectors(db *sql.DB, embeddingDim int, force bool) error {
	if !force {
		exist, err := checkFunctions(db, VectorsFunctions)
		if err != nil {
			return fmt.Errorf("check existing vector functions: %w", err)
		}
		if exist {
			return nil
		}
	}
	stmt := fmt.Sprintf(vectorsSQLTemplate, embeddingDim)
	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("execute vectors sql: %w", err)
	}
	return verify(db, VectorsFunctions)
}

// LoadCache loads the kv_cache table/functions.
func LoadCache(db *sql.DB, force bool) error {
	if !force {
		exist, err := checkFunctions(db, CacheFunctions)
		if err != nil {
			return fmt.Errorf("check existing cache functions: %w", err)
		}
		if exist {
			return nil
		}
	}
	if _, err := db.Exec(cacheSQL); err != nil {
		return fmt.Errorf("execute cache sql: %w", err)
	}
	return verify(db, CacheFunctions)
}

// LoadAll bootstraps every function set in dependency order.
func LoadAll(db *sql.DB, embeddingDim int, force bool) error {
	if err := Init(db); err != nil {
		return err
	}
	if err := LoadChunks(db, embeddingDim, force); err != nil {
		return err
	}
	if err := LoadEntities(db, force); err != nil {
		return err
	}
	if err := LoadEdges(db, force); err != nil {
		return err
	}
	if err := LoadVectors(db, embeddingDim, force); err != nil {
		return err
	}
	return LoadCache(db, force)
}

func verify(db *sql.DB, functions []string) error {
	exist, err := checkFunctions(db, functions)
	if err != nil {
		return fmt.Errorf("check functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required SQL functions were created")
	}
	return nil
}

// checkFunctions verifies that all required functions exist in the database.
func checkFunctions(db *sql.DB, functions []string) (bool, error) {
	var allExist bool
	for _, f := range functions {
		if err := db.QueryRow(`SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);`, f).Scan(&allExist); err != nil {
			return false, fmt.Errorf("check existence of function %s: %w", f, err)
		}
		if !allExist {
			return false, nil
		}
	}
	return allExist, nil
}
