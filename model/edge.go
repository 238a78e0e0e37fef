package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// EdgeType represents the type of relationship between nodes.
type EdgeType string

const (
	EdgeTypeSemantic      EdgeType = "semantic"
	EdgeTypeHierarchical  EdgeType = "hierarchical"
	EdgeTypeReference     EdgeType = "reference"
	EdgeTypeEntityMention EdgeType = "entity_mention"
	EdgeTypeTemporal      EdgeType = "temporal"
	EdgeTypeCausal        EdgeType = "causal"
	EdgeTypeLatent        EdgeType = "latent"
	EdgeTypeCustom        EdgeType = "custom"
)

// Edge is a logically undirected relation between two entities. The key is
// the sorted pair {Source, Target}; self-loops are rejected at merge time.
type Edge struct {
	ID          uuid.UUID `json:"id"`
	Source      string    `json:"source"`
	Target      string    `json:"target"`
	EdgeType    EdgeType  `json:"edge_type"`
	Weight      float64   `json:"weight"`
	Description string    `json:"description"`
	Keywords    []string  `json:"keywords,omitempty"`
	Latent      bool      `json:"latent"`
	SourceIDs   []string  `json:"source_id,omitempty"`
	FilePaths   []string  `json:"file_path,omitempty"`
	Metadata    Metadata  `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SortedPair returns the canonical (src, tgt) ordering used as the merge key,
// guaranteeing insertion-order independence.
func SortedPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// Key returns the canonical merge key for this edge.
func (e *Edge) Key() string {
	src, tgt := SortedPair(e.Source, e.Target)
	return src + "\x1f" + tgt
}

// Valid reports whether the edge satisfies the invariant that an edge
// never connects a node to itself.
func (e *Edge) Valid() bool {
	return e != nil && e.Source != "" && e.Target != "" && e.Source != e.Target
}

// SortedKeywords returns a deduplicated, sorted copy of Keywords, used when
// comparing/merging keyword sets deterministically.
func (e *Edge) SortedKeywords() []string {
	seen := make(map[string]struct{}, len(e.Keywords))
	out := make([]string, 0, len(e.Keywords))
	for _, k := range e.Keywords {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
