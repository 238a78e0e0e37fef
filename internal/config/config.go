// Package config is the single source of truth for every engine tunable,
// loaded from the environment, optionally overlaid from a local .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AddonParams carries the extraction-prompt addon parameters.
type AddonParams struct {
	Language      string
	EntityTypes   []string
	ExampleNumber int
}

// Config is the single plain struct enumerating every engine tunable,
// plus the database connection fields the storage layer needs.
type Config struct {
	WorkingDir string

	// Database connection.
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// LLM / embedding collaborators.
	LLMProvider          string
	LLMModel             string
	LLMModelMaxAsync     int
	LLMModelMaxTokenSize int
	LLMTimeoutSeconds    int

	EmbeddingDim      int
	EmbeddingProvider string

	// Pipeline tunables.
	MaxTokenSize             int
	ChunkOverlapTokenSize    int
	EntityExtractMaxGleaning int
	ForceLLMSummaryOnMerge   int
	SummaryToMaxTokens       int

	EnableLLMCache              bool
	EnableDescriptionEnrichment bool
	EnableGeoEnrichment         bool
	EnableAssociation           bool
	EnableMultiHop              bool
	EnableLatentRelation        bool
	EnableCommunityDetection    bool

	MultiHopMinStrength  float64
	LatentRelMinStrength float64

	EntityLinkBaseURL string
	AddonParams       AddonParams

	ChunkFetchMaxConcurrency int
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		WorkingDir: "./kgraphrag-data",

		DBHost:     "localhost",
		DBPort:     "5432",
		DBUser:     "postgres",
		DBPassword: "postgres",
		DBName:     "kgraphrag",
		DBSSLMode:  "disable",

		LLMProvider:          "openai",
		LLMModel:             "gpt-4o-mini",
		LLMModelMaxAsync:     4,
		LLMModelMaxTokenSize: 32768,
		LLMTimeoutSeconds:    150,

		EmbeddingDim:      384,
		EmbeddingProvider: "hugot",

		MaxTokenSize:             1024,
		ChunkOverlapTokenSize:    128,
		EntityExtractMaxGleaning: 1,
		ForceLLMSummaryOnMerge:   6,
		SummaryToMaxTokens:       500,

		EnableLLMCache:              true,
		EnableDescriptionEnrichment: false,
		EnableGeoEnrichment:         false,
		EnableAssociation:           true,
		EnableMultiHop:              true,
		EnableLatentRelation:        true,
		EnableCommunityDetection:    false,

		MultiHopMinStrength:  0.5,
		LatentRelMinStrength: 0.5,

		EntityLinkBaseURL: "",
		AddonParams: AddonParams{
			Language:      "English",
			EntityTypes:   []string{"organisation", "person", "geography", "event", "category"},
			ExampleNumber: 2,
		},

		ChunkFetchMaxConcurrency: 20,
	}
}

// Load builds a Config from Default(), overlaid with a .env file (if
// envFile is non-empty and exists) and then real process environment
// variables.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load env file %q: %w", envFile, err)
			}
		}
	}

	cfg := Default()

	str(&cfg.WorkingDir, "KGRAPHRAG_WORKING_DIR")
	str(&cfg.DBHost, "KGRAPHRAG_DB_HOST")
	str(&cfg.DBPort, "KGRAPHRAG_DB_PORT")
	str(&cfg.DBUser, "KGRAPHRAG_DB_USER")
	str(&cfg.DBPassword, "KGRAPHRAG_DB_PASSWORD")
	str(&cfg.DBName, "KGRAPHRAG_DB_NAME")
	str(&cfg.DBSSLMode, "KGRAPHRAG_DB_SSLMODE")

	str(&cfg.LLMProvider, "KGRAPHRAG_LLM_PROVIDER")
	str(&cfg.LLMModel, "KGRAPHRAG_LLM_MODEL")
	intVar(&cfg.LLMModelMaxAsync, "KGRAPHRAG_LLM_MAX_ASYNC")
	intVar(&cfg.LLMModelMaxTokenSize, "KGRAPHRAG_LLM_MAX_TOKEN_SIZE")
	intVar(&cfg.LLMTimeoutSeconds, "KGRAPHRAG_LLM_TIMEOUT_SECONDS")

	intVar(&cfg.EmbeddingDim, "KGRAPHRAG_EMBEDDING_DIM")
	str(&cfg.EmbeddingProvider, "KGRAPHRAG_EMBEDDING_PROVIDER")

	intVar(&cfg.MaxTokenSize, "KGRAPHRAG_MAX_TOKEN_SIZE")
	intVar(&cfg.ChunkOverlapTokenSize, "KGRAPHRAG_CHUNK_OVERLAP_TOKEN_SIZE")
	intVar(&cfg.EntityExtractMaxGleaning, "KGRAPHRAG_ENTITY_EXTRACT_MAX_GLEANING")
	intVar(&cfg.ForceLLMSummaryOnMerge, "KGRAPHRAG_FORCE_LLM_SUMMARY_ON_MERGE")
	intVar(&cfg.SummaryToMaxTokens, "KGRAPHRAG_SUMMARY_TO_MAX_TOKENS")

	boolVar(&cfg.EnableLLMCache, "KGRAPHRAG_ENABLE_LLM_CACHE")
	boolVar(&cfg.EnableDescriptionEnrichment, "KGRAPHRAG_ENABLE_DESCRIPTION_ENRICHMENT")
	boolVar(&cfg.EnableGeoEnrichment, "KGRAPHRAG_ENABLE_GEO_ENRICHMENT")
	boolVar(&cfg.EnableAssociation, "KGRAPHRAG_ENABLE_ASSOCIATION")
	boolVar(&cfg.EnableMultiHop, "KGRAPHRAG_ENABLE_MULTI_HOP")
	boolVar(&cfg.EnableLatentRelation, "KGRAPHRAG_ENABLE_LATENT_RELATION")
	boolVar(&cfg.EnableCommunityDetection, "KGRAPHRAG_ENABLE_COMMUNITY_DETECTION")

	floatVar(&cfg.MultiHopMinStrength, "KGRAPHRAG_MULTI_HOP_MIN_STRENGTH")
	floatVar(&cfg.LatentRelMinStrength, "KGRAPHRAG_LATENT_REL_MIN_STRENGTH")

	str(&cfg.EntityLinkBaseURL, "KGRAPHRAG_ENTITY_LINK_BASE_URL")

	if v := os.Getenv("KGRAPHRAG_ENTITY_TYPES"); v != "" {
		cfg.AddonParams.EntityTypes = strings.Split(v, ",")
	}
	str(&cfg.AddonParams.Language, "KGRAPHRAG_LANGUAGE")

	return cfg, nil
}

// DSN returns a lib/pq-compatible connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

func str(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intVar(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func boolVar(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func floatVar(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
