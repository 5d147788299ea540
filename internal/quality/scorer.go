package quality

import (
	"strings"

	"catflow/internal/metadata"
	"catflow/internal/models"
	"catflow/internal/scope"
)

// ReviewThreshold is the score below which an entity is flagged for manual
// review.
const ReviewThreshold = 0.6

type Scorer struct {
	threshold float64
	minChars  int
	maxChars  int
}

func NewScorer(threshold float64, minChars, maxChars int) *Scorer {
	if threshold <= 0 {
		threshold = ReviewThreshold
	}
	if minChars <= 0 {
		minChars = 1000
	}
	if maxChars <= minChars {
		maxChars = 6000
	}
	return &Scorer{threshold: threshold, minChars: minChars, maxChars: maxChars}
}

func (s *Scorer) NeedsReview(score float64) bool {
	return score < s.threshold
}

// ScoreChunk combines length adequacy, sentence cleanliness, and scope
// confidence. Navigational content scores low regardless of its text shape.
func (s *Scorer) ScoreChunk(c models.Chunk) float64 {
	score := 0.4*s.lengthScore(len(c.Text)) +
		0.3*sentenceScore(c.Text) +
		0.3*clamp01(c.ScopeConfidence)
	if c.Kind == scope.KindIndexContent {
		score *= 0.5
	}
	if c.Kind == scope.KindUnclassified {
		score *= 0.8
	}
	return clamp01(score)
}

func (s *Scorer) lengthScore(n int) float64 {
	switch {
	case n <= 0:
		return 0
	case n < s.minChars:
		return float64(n) / float64(s.minChars)
	case n <= s.maxChars:
		return 1
	default:
		over := float64(n-s.maxChars) / float64(s.maxChars)
		return clamp01(1 - over)
	}
}

// sentenceScore rewards text that reads as prose: it ends cleanly and its
// content is not dominated by fragments.
func sentenceScore(text string) float64 {
	t := strings.TrimSpace(text)
	if t == "" {
		return 0
	}
	score := 0.5
	last := t[len(t)-1]
	if last == '.' || last == '!' || last == '?' {
		score += 0.3
	}
	words := len(strings.Fields(t))
	if words >= 10 {
		score += 0.2
	}
	return clamp01(score)
}

// ScoreProduct combines critical-field completeness, boundary confidence,
// and whether any images ended up linked to the product's chunks.
func (s *Scorer) ScoreProduct(p models.Product, linkedImages int) float64 {
	score := 0.5*metadata.Completeness(p.Metadata) + 0.3*clamp01(p.Confidence)
	if linkedImages > 0 {
		score += 0.2
	}
	return clamp01(score)
}

// ScoreImage penalizes unlinked images hard; a linked image scores on its
// average link similarity and on whether any metadata could be derived.
func (s *Scorer) ScoreImage(img models.Image, rels []models.ChunkImageRelationship) float64 {
	if len(rels) == 0 {
		return 0.2
	}
	var sum float64
	for _, r := range rels {
		sum += r.Similarity
	}
	score := 0.6 * clamp01(sum/float64(len(rels)))
	score += 0.2
	if len(img.Metadata) > 0 || len(img.MaterialProperties) > 0 {
		score += 0.2
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
