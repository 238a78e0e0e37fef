package model

import (
	"time"

	"github.com/google/uuid"
)

// Chunk is a token-bounded, write-once slice of a source document: the unit
// of extraction. ID is "chunk-<md5(content)>" (see internal/ids).
type Chunk struct {
	ID              string    `json:"id"`
	RowID           uuid.UUID `json:"row_id"`
	Content         string    `json:"content"`
	Tokens          int       `json:"tokens"`
	FullDocID       uuid.UUID `json:"full_doc_id"`
	ChunkOrderIndex int       `json:"chunk_order_index"`
	FilePath        string    `json:"file_path"`
	Path            string    `json:"path,omitempty"` // ltree hierarchy path, if hierarchical chunking is used
	Embedding       []float32 `json:"embedding,omitempty"`
	Metadata        Metadata  `json:"metadata,omitempty"`
	CreatedAt       time.Time `json:"created_at"`

	// Result annotations, populated by retrieval only.
	Similarity *float64 `json:"similarity,omitempty"`
	IsMatch    *bool    `json:"is_match,omitempty"`
}
