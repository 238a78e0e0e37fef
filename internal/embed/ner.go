package embed

import (
	"fmt"
	"strings"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/kgraphrag/kgraphrag/helper"
)

// EntityHint is a candidate entity surfaced by local NER, used to bias the
// LLM extraction prompt's type guesses rather than to feed
// entities into the graph directly — local NER has no relationship sense,
// so it is advisory only.
type EntityHint struct {
	Name       string
	Type       string
	Confidence float64
}

// NERFunc extracts entity hints from a chunk of text.
type NERFunc func(text string) ([]EntityHint, error)

const defaultNERModel = "KnightsAnalytics/distilbert-NER"

// NewNER loads modelName (defaulting to distilbert-NER) and returns a
// NERFunc.
func NewNER(modelName string) (NERFunc, error) {
	if modelName == "" {
		modelName = defaultNERModel
	}
	modelPath, err := helper.PrepareModel(modelName, "model.onnx")
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("embed: create hugot session: %w", err)
	}

	config := hugot.TokenClassificationConfig{
		ModelPath: modelPath,
		Name:      "kgraphrag-ner",
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}),
		},
	}
	nerPipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("embed: create NER pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("embed: create NER pipeline: %w", err)
	}

	return func(text string) ([]EntityHint, error) {
		result, err := nerPipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, fmt.Errorf("embed: run NER: %w", err)
		}
		if len(result.Entities) == 0 {
			return nil, nil
		}

		seen := make(map[string]int) // key -> index in hints, for keep-best dedup
		var hints []EntityHint
		for _, e := range result.Entities[0] {
			name := strings.TrimSpace(e.Word)
			if !isValidEntity(name) {
				continue
			}
			entityType := normalizeEntityType(e.Entity)
			key := strings.ToLower(name) + "|" + entityType

			if i, found := seen[key]; found {
				if float64(e.Score) > hints[i].Confidence {
					hints[i].Confidence = float64(e.Score)
				}
				continue
			}
			seen[key] = len(hints)
			hints = append(hints, EntityHint{Name: name, Type: entityType, Confidence: float64(e.Score)})
		}
		return hints, nil
	}, nil
}

// isValidEntity filters tokenizer artifacts and noise.
func isValidEntity(name string) bool {
	if len(name) < 2 {
		return false
	}
	cleaned := strings.TrimFunc(name, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
	})
	if len(cleaned) < 2 {
		return false
	}
	if strings.HasPrefix(name, "#") {
		return false
	}
	return true
}

// normalizeEntityType strips BIO tagging prefixes (B-/I-).
func normalizeEntityType(label string) string {
	if strings.HasPrefix(label, "B-") || strings.HasPrefix(label, "I-") {
		return label[2:]
	}
	return label
}
