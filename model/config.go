package model

import "github.com/google/uuid"

// Mode is the retrieval/query mode.
type Mode string

const (
	ModeNaive      Mode = "naive"
	ModeLocal      Mode = "local"
	ModeGlobal     Mode = "global"
	ModeHybrid     Mode = "hybrid"
	ModeMix        Mode = "mix"
	ModeBypass     Mode = "bypass"
	ModeAnalyste   Mode = "analyste"
	ModeDeepsearch Mode = "deepsearch"
)

// QueryParam is the full parameter set a query flows through: keyword
// extraction, context building, prompt assembly.
type QueryParam struct {
	Mode Mode `json:"mode"`

	// Pagination.
	Page int `json:"page"`
	TopK int `json:"top_k"`

	// Thresholds.
	SimilarityThreshold float64     `json:"similarity_threshold,omitempty"`
	DegreeThreshold     int         `json:"degree_threshold,omitempty"`
	Category            string      `json:"category,omitempty"`
	DocumentRIDs        []uuid.UUID `json:"document_rids,omitempty"`

	// Token budgets.
	MaxTokenForTextUnit      int `json:"max_token_for_text_unit"`
	MaxTokenForLocalContext  int `json:"max_token_for_local_context"`
	MaxTokenForGlobalContext int `json:"max_token_for_global_context"`

	// Optional overrides.
	HighLevelKeywords   []string  `json:"high_level_keywords,omitempty"`
	LowLevelKeywords    []string  `json:"low_level_keywords,omitempty"`
	ConversationHistory []Message `json:"conversation_history,omitempty"`
	UserProfile         string    `json:"user_profile,omitempty"`

	// Response shaping.
	ResponseType    string `json:"response_type,omitempty"`
	OnlyNeedContext bool   `json:"only_need_context,omitempty"`
	OnlyNeedPrompt  bool   `json:"only_need_prompt,omitempty"`
	Stream          bool   `json:"stream,omitempty"`

	// Ranking weights used by the mix mode's combined chunk ranking.
	VectorWeight    float64 `json:"vector_weight"`
	GraphWeight     float64 `json:"graph_weight"`
	HierarchyWeight float64 `json:"hierarchy_weight"`
	EntityWeight    float64 `json:"entity_weight"`

	// IncludeSiblings enables the same-document sibling bonus in the mix
	// ranking.
	IncludeSiblings bool `json:"include_siblings"`
}

// Message is a single turn of conversation history passed through to the
// LLM collaborator.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DefaultQueryParam returns the default query parameters.
func DefaultQueryParam() QueryParam {
	return QueryParam{
		Mode:                     ModeMix,
		Page:                     1,
		TopK:                     60,
		SimilarityThreshold:      0.7,
		DegreeThreshold:          0,
		MaxTokenForTextUnit:      4000,
		MaxTokenForLocalContext:  4000,
		MaxTokenForGlobalContext: 4000,
		VectorWeight:             0.6,
		GraphWeight:              0.3,
		HierarchyWeight:          0.1,
		EntityWeight:             0.5,
		IncludeSiblings:          true,
	}
}
