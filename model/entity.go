package model

import (
	"time"

	"github.com/google/uuid"
)

// EntityType distinguishes the closed set of node kinds the graph stores,
// including the two derived-node kinds (association, multi-hop path) which
// are regular nodes rather than a separate class hierarchy.
type EntityType string

const (
	EntityTypeOrganisation EntityType = "organisation"
	EntityTypePerson       EntityType = "person"
	EntityTypeGeography    EntityType = "geography"
	EntityTypeEvent        EntityType = "event"
	EntityTypeCategory     EntityType = "category"
	EntityTypeUnknown      EntityType = "unknown"
	EntityTypeAssociation  EntityType = "ASSOCIATION"
	EntityTypeMultiHop     EntityType = "MULTI_HOP"
)

// Entity is the canonical knowledge-graph node: entity_name is the key after
// normalization; description accumulates as fragment-joined text across
// merges; source_id/file_path track provenance.
type Entity struct {
	ID                   uuid.UUID  `json:"id"`
	Name                 string     `json:"name"`
	Type                 EntityType `json:"entity_type"`
	Description          string     `json:"description"`
	AdditionalProperties string     `json:"additional_properties,omitempty"`
	Community            string     `json:"entity_community,omitempty"`
	SourceIDs            []string   `json:"source_id,omitempty"`
	FilePaths            []string   `json:"file_path,omitempty"`
	Metadata             Metadata   `json:"metadata,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`

	// Result annotations, populated by retrieval only.
	Similarity *float64 `json:"similarity,omitempty"`
	Rank       *int     `json:"rank,omitempty"`
	Degree     *int     `json:"degree,omitempty"`
}

// Valid reports whether the entity satisfies the node invariants:
// a non-empty normalized name, a non-empty description, and at least one of
// source_id/file_path.
func (e *Entity) Valid() bool {
	if e == nil {
		return false
	}
	if e.Name == "" || e.Description == "" {
		return false
	}
	return len(e.SourceIDs) > 0 || len(e.FilePaths) > 0
}
