package linking

import (
	"fmt"
	"testing"

	"catflow/internal/models"

	"github.com/stretchr/testify/require"
)

func TestLinkBandsAndThreshold(t *testing.T) {
	l := NewLinker(Config{Threshold: 0.65, RelatedBand: 0.75, MaxLinks: 50})
	rels := l.Link("img-1", []Candidate{
		{ChunkID: "c-low", Similarity: 0.5},
		{ChunkID: "c-context", Similarity: 0.7},
		{ChunkID: "c-related", Similarity: 0.8},
		{ChunkID: "c-primary", Similarity: 0.92},
	})

	require.Len(t, rels, 3)
	require.Equal(t, "c-primary", rels[0].ChunkID)
	require.Equal(t, models.RelationPrimary, rels[0].Relation)
	require.Equal(t, 0, rels[0].Rank)
	require.Equal(t, "c-related", rels[1].ChunkID)
	require.Equal(t, models.RelationRelated, rels[1].Relation)
	require.Equal(t, "c-context", rels[2].ChunkID)
	require.Equal(t, models.RelationContext, rels[2].Relation)
	require.Equal(t, 2, rels[2].Rank)
}

func TestLinkRespectsMaxLinks(t *testing.T) {
	l := NewLinker(Config{Threshold: 0.65, RelatedBand: 0.75, MaxLinks: 3})
	candidates := make([]Candidate, 0, 10)
	for i := 0; i < 10; i++ {
		candidates = append(candidates, Candidate{
			ChunkID:    fmt.Sprintf("c-%02d", i),
			Similarity: 0.70 + float64(i)*0.02,
		})
	}
	rels := l.Link("img-1", candidates)
	require.Len(t, rels, 3)
	require.Equal(t, "c-09", rels[0].ChunkID)
	require.Equal(t, "c-08", rels[1].ChunkID)
	require.Equal(t, "c-07", rels[2].ChunkID)
}

func TestLinkNoCandidatesAboveThreshold(t *testing.T) {
	l := NewLinker(Config{})
	rels := l.Link("img-1", []Candidate{
		{ChunkID: "c1", Similarity: 0.4},
		{ChunkID: "c2", Similarity: 0.64},
	})
	require.Empty(t, rels)
}

func TestLinkDeterministicOnTies(t *testing.T) {
	l := NewLinker(Config{})
	a := l.Link("img-1", []Candidate{
		{ChunkID: "c-b", Similarity: 0.8},
		{ChunkID: "c-a", Similarity: 0.8},
	})
	b := l.Link("img-1", []Candidate{
		{ChunkID: "c-a", Similarity: 0.8},
		{ChunkID: "c-b", Similarity: 0.8},
	})
	require.Equal(t, a, b)
	require.Equal(t, "c-a", a[0].ChunkID)
}

func meta(pairs ...string) map[string]models.MetadataValue {
	m := map[string]models.MetadataValue{}
	for i := 0; i+1 < len(pairs); i += 2 {
		m[pairs[i]] = models.MetadataValue{Value: pairs[i+1]}
	}
	return m
}

func TestDeriveMetadataWeightedMostCommon(t *testing.T) {
	d := DeriveMetadata([]Candidate{
		{ChunkID: "c1", Similarity: 0.9, Metadata: meta("collection", "HARMONY")},
		{ChunkID: "c2", Similarity: 0.7, Metadata: meta("collection", "ATLAS")},
		{ChunkID: "c3", Similarity: 0.68, Metadata: meta("collection", "ATLAS")},
	})
	// ATLAS wins on summed similarity 1.38 over HARMONY's 0.9.
	require.Equal(t, "ATLAS", d.Metadata["collection"])
}

func TestDeriveMetadataTieBreaksOnBestChunk(t *testing.T) {
	d := DeriveMetadata([]Candidate{
		{ChunkID: "c1", Similarity: 0.9, Metadata: meta("material", "oak")},
		{ChunkID: "c2", Similarity: 0.45, Metadata: meta("material", "walnut")},
		{ChunkID: "c3", Similarity: 0.45, Metadata: meta("material", "walnut")},
	})
	// Equal weight 0.9 each; oak's single strongest supporter wins.
	require.Equal(t, "oak", d.MaterialProperties["material"])
}

func TestDeriveMetadataSplitsMaterialProperties(t *testing.T) {
	d := DeriveMetadata([]Candidate{
		{ChunkID: "c1", Similarity: 0.8, Metadata: meta(
			"surface_finish", "matte",
			"slip_resistance", "R10",
			"collection", "HARMONY",
		)},
	})
	require.Equal(t, "matte", d.MaterialProperties["surface_finish"])
	require.Equal(t, "R10", d.MaterialProperties["slip_resistance"])
	require.Equal(t, "HARMONY", d.Metadata["collection"])
	require.NotContains(t, d.Metadata, "surface_finish")
}

func TestDeriveMetadataEmptyInput(t *testing.T) {
	d := DeriveMetadata(nil)
	require.Nil(t, d.Metadata)
	require.Nil(t, d.MaterialProperties)
}
