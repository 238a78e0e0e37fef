package model

import "time"

// Association is a derived node clustering three or more entities that
// co-occur with enough strength to warrant a higher-order grouping. It is
// persisted as a regular graph node with EntityType EntityTypeAssociation
// (see AsEntity), plus member and pairwise member edges.
type Association struct {
	ID          string    `json:"id"`
	Entities    []string  `json:"entities"`
	Strength    float64   `json:"strength"`
	Description string    `json:"description"`
	SourceIDs   []string  `json:"source_id,omitempty"`
	FilePaths   []string  `json:"file_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AsEntity projects the association onto the generic Entity node shape so it
// can be stored and retrieved through the same GraphStore as any other node.
func (a *Association) AsEntity() *Entity {
	return &Entity{
		Name:        a.ID,
		Type:        EntityTypeAssociation,
		Description: a.Description,
		SourceIDs:   a.SourceIDs,
		FilePaths:   a.FilePaths,
		Metadata:    Metadata{"entities": a.Entities, "strength": a.Strength},
		CreatedAt:   a.CreatedAt,
	}
}
