package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultQueryParam(t *testing.T) {
	t.Run("Returns correct default values", func(t *testing.T) {
		p := DefaultQueryParam()

		assert.Equal(t, ModeMix, p.Mode)
		assert.Equal(t, 1, p.Page)
		assert.Equal(t, 60, p.TopK)
		assert.Equal(t, 0.7, p.SimilarityThreshold)
		assert.True(t, p.IncludeSiblings)
		assert.Equal(t, 0.6, p.VectorWeight)
		assert.Equal(t, 0.3, p.GraphWeight)
		assert.Equal(t, 0.1, p.HierarchyWeight)
	})

	t.Run("Default weights sum to 1.0", func(t *testing.T) {
		p := DefaultQueryParam()

		sum := p.VectorWeight + p.GraphWeight + p.HierarchyWeight
		assert.InDelta(t, 1.0, sum, 0.001)
	})

	t.Run("Can be modified after creation", func(t *testing.T) {
		p := DefaultQueryParam()

		p.TopK = 10
		p.SimilarityThreshold = 0.8
		p.VectorWeight = 0.5

		assert.Equal(t, 10, p.TopK)
		assert.Equal(t, 0.8, p.SimilarityThreshold)
		assert.Equal(t, 0.5, p.VectorWeight)
	})

	t.Run("Can set DocumentRIDs", func(t *testing.T) {
		p := DefaultQueryParam()

		doc1 := uuid.New()
		doc2 := uuid.New()
		p.DocumentRIDs = []uuid.UUID{doc1, doc2}

		require.Len(t, p.DocumentRIDs, 2)
		assert.Equal(t, doc1, p.DocumentRIDs[0])
		assert.Equal(t, doc2, p.DocumentRIDs[1])
	})

	t.Run("Can set keyword overrides", func(t *testing.T) {
		p := DefaultQueryParam()

		p.HighLevelKeywords = []string{"economics"}
		p.LowLevelKeywords = []string{"inflation", "interest rate"}

		require.Len(t, p.LowLevelKeywords, 2)
		assert.Equal(t, "economics", p.HighLevelKeywords[0])
	})
}
