package quality

import (
	"strings"
	"testing"

	"catflow/internal/models"
	"catflow/internal/scope"

	"github.com/stretchr/testify/require"
)

func testScorer() *Scorer {
	return NewScorer(0.6, 100, 600)
}

func prose(n int) string {
	s := "The rectified porcelain surface carries a matte finish suited to interiors. "
	var b strings.Builder
	for b.Len() < n {
		b.WriteString(s)
	}
	return strings.TrimSpace(b.String()[:n-1]) + "."
}

func TestScoreChunkWellFormed(t *testing.T) {
	s := testScorer()
	c := models.Chunk{
		Text:            prose(300),
		Kind:            scope.KindProductDescription,
		ScopeConfidence: 0.9,
	}
	score := s.ScoreChunk(c)
	require.Greater(t, score, 0.6)
	require.False(t, s.NeedsReview(score))
}

func TestScoreChunkTinyFragmentNeedsReview(t *testing.T) {
	s := testScorer()
	c := models.Chunk{Text: "15×38", Kind: scope.KindUnclassified, ScopeConfidence: 0.5}
	score := s.ScoreChunk(c)
	require.Less(t, score, 0.6)
	require.True(t, s.NeedsReview(score))
}

func TestScoreChunkIndexContentDiscounted(t *testing.T) {
	s := testScorer()
	text := prose(300)
	base := s.ScoreChunk(models.Chunk{Text: text, Kind: scope.KindProductDescription, ScopeConfidence: 0.9})
	idx := s.ScoreChunk(models.Chunk{Text: text, Kind: scope.KindIndexContent, ScopeConfidence: 0.9})
	require.Less(t, idx, base)
	require.InDelta(t, base*0.5, idx, 1e-9)
}

func TestScoreProductCompleteVersusEmpty(t *testing.T) {
	s := testScorer()
	full := models.Product{
		Confidence: 0.9,
		Metadata: map[string]string{
			"manufacturer":     "ATLAS WORKS",
			"material":         "porcelain stoneware",
			"dimensions":       "60×60",
			"colors":           "White, Grey",
			"surface_finish":   "matte",
			"slip_resistance":  "R10",
			"water_absorption": "<0.5%",
			"application_area": "indoor floors",
		},
	}
	empty := models.Product{Confidence: 0.3}

	fullScore := s.ScoreProduct(full, 2)
	emptyScore := s.ScoreProduct(empty, 0)
	require.Greater(t, fullScore, 0.9)
	require.False(t, s.NeedsReview(fullScore))
	require.Less(t, emptyScore, 0.6)
	require.True(t, s.NeedsReview(emptyScore))
}

func TestScoreImageUnlinkedPenalized(t *testing.T) {
	s := testScorer()
	score := s.ScoreImage(models.Image{}, nil)
	require.Equal(t, 0.2, score)
	require.True(t, s.NeedsReview(score))
}

func TestScoreImageLinkedWithDerivedMetadata(t *testing.T) {
	s := testScorer()
	img := models.Image{MaterialProperties: map[string]string{"material": "oak"}}
	rels := []models.ChunkImageRelationship{
		{ChunkID: "c1", Similarity: 0.9, Relation: models.RelationPrimary},
		{ChunkID: "c2", Similarity: 0.8, Relation: models.RelationRelated},
	}
	score := s.ScoreImage(img, rels)
	require.Greater(t, score, 0.6)
	require.False(t, s.NeedsReview(score))
}
