package config

import "testing"

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LLMModelMaxAsync != 4 {
		t.Errorf("LLMModelMaxAsync = %d, want 4", cfg.LLMModelMaxAsync)
	}
	if cfg.ForceLLMSummaryOnMerge != 6 {
		t.Errorf("ForceLLMSummaryOnMerge = %d, want 6", cfg.ForceLLMSummaryOnMerge)
	}
	if cfg.SummaryToMaxTokens != 500 {
		t.Errorf("SummaryToMaxTokens = %d, want 500", cfg.SummaryToMaxTokens)
	}
	if !cfg.EnableAssociation || !cfg.EnableMultiHop || !cfg.EnableLatentRelation {
		t.Error("expected association/multi-hop/latent-relation enabled by default")
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("KGRAPHRAG_LLM_MAX_ASYNC", "8")
	t.Setenv("KGRAPHRAG_ENABLE_GEO_ENRICHMENT", "true")
	t.Setenv("KGRAPHRAG_ENTITY_TYPES", "person,organisation")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLMModelMaxAsync != 8 {
		t.Errorf("LLMModelMaxAsync = %d, want 8", cfg.LLMModelMaxAsync)
	}
	if !cfg.EnableGeoEnrichment {
		t.Error("expected EnableGeoEnrichment = true")
	}
	if len(cfg.AddonParams.EntityTypes) != 2 {
		t.Errorf("EntityTypes = %v, want 2 entries", cfg.AddonParams.EntityTypes)
	}
}

func TestDSN(t *testing.T) {
	cfg := Default()
	dsn := cfg.DSN()
	if dsn == "" {
		t.Fatal("DSN() returned empty string")
	}
}
