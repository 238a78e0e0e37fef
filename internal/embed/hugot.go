// Package embed provides local ONNX inference collaborators (embedding and
// entity-type hinting), both built on github.com/knights-analytics/hugot.
package embed

import (
	"fmt"

	"github.com/knights-analytics/hugot"

	"github.com/kgraphrag/kgraphrag/helper"
	"github.com/kgraphrag/kgraphrag/internal/storage"
)

// Dimension is the embedding width produced by all-MiniLM-L6-v2, the
// default sentence-transformer model.
const Dimension = 384

const defaultModel = "sentence-transformers/all-MiniLM-L6-v2"

// NewEmbedder downloads (if needed) and loads modelName, defaulting to
// all-MiniLM-L6-v2 when empty, and returns a storage.EmbedFunc batching
// every call through hugot's RunPipeline.
func NewEmbedder(modelName string) (storage.EmbedFunc, error) {
	if modelName == "" {
		modelName = defaultModel
	}
	modelPath, err := helper.PrepareModel(modelName, "")
	if err != nil {
		return nil, fmt.Errorf("embed: prepare model %q: %w", modelName, err)
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("embed: create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "kgraphrag-embedder",
	}
	sentencePipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("embed: create pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("embed: create pipeline: %w", err)
	}

	return func(texts []string) ([][]float32, error) {
		if len(texts) == 0 {
			return nil, nil
		}
		result, err := sentencePipeline.RunPipeline(texts)
		if err != nil {
			return nil, fmt.Errorf("embed: run pipeline: %w", err)
		}
		if len(result.Embeddings) != len(texts) {
			return nil, fmt.Errorf("embed: expected %d embeddings, got %d", len(texts), len(result.Embeddings))
		}
		return result.Embeddings, nil
	}, nil
}
