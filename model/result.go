package model

// RetrievedContext is the structured output of the retrieval engine:
// four labelled sections, each serialisable as JSON.
type RetrievedContext struct {
	Entities      []*Entity       `json:"entities_kg"`
	Relationships []*Edge         `json:"relationships_kg"`
	MultiHopPaths []*MultiHopPath `json:"multi_hop_paths"`
	DocumentChunks []*Chunk       `json:"document_chunks_dc"`
}

// Empty reports whether the context carries nothing retrievable, the
// trigger for the fixed fail_response.
func (c *RetrievedContext) Empty() bool {
	return c == nil ||
		(len(c.Entities) == 0 && len(c.Relationships) == 0 &&
			len(c.MultiHopPaths) == 0 && len(c.DocumentChunks) == 0)
}
