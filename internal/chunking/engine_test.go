package chunking

import (
	"strings"
	"testing"

	"catflow/internal/models"

	"github.com/stretchr/testify/require"
)

func testEngine() *Engine {
	return NewEngine(Config{MinChars: 40, MaxChars: 120, Tolerance: 60, BoundaryConfidence: 0.6})
}

func page(n int, text string) models.Page {
	return models.Page{DocumentID: "doc", PageNumber: n, Text: text}
}

func TestChunkSmallTextSinglePiece(t *testing.T) {
	e := testEngine()
	pieces := e.Chunk([]models.Page{page(1, "A short page of catalog text.")}, nil)
	require.Len(t, pieces, 1)
	require.Equal(t, 0, pieces[0].Position)
	require.Equal(t, 1, pieces[0].PageStart)
	require.Equal(t, 1, pieces[0].PageEnd)
	require.Nil(t, pieces[0].ProductID)
}

func TestChunkEndsOnSentenceBoundary(t *testing.T) {
	e := testEngine()
	sentence := "The surface is rectified porcelain stoneware with a matte finish. "
	text := strings.Repeat(sentence, 12)
	pieces := e.Chunk([]models.Page{page(1, text)}, nil)
	require.Greater(t, len(pieces), 1)
	for i, p := range pieces {
		if i == len(pieces)-1 {
			continue
		}
		require.True(t, strings.HasSuffix(p.Text, "."), "piece %d should end on a sentence boundary: %q", i, p.Text)
	}
}

func TestChunkRespectsProductBoundaries(t *testing.T) {
	e := testEngine()
	pages := []models.Page{
		page(1, "NOVA modular shelving. Premium oak construction throughout."),
		page(2, "VEGA lighting series. Adjustable brightness and warm tones."),
	}
	boundaries := []ProductBoundary{
		{ProductID: "p-nova", Name: "NOVA", PageStart: 1, PageEnd: 1, Confidence: 0.9},
		{ProductID: "p-vega", Name: "VEGA", PageStart: 2, PageEnd: 2, Confidence: 0.8},
	}
	pieces := e.Chunk(pages, boundaries)
	require.NotEmpty(t, pieces)
	for _, p := range pieces {
		require.NotNil(t, p.ProductID)
		if strings.Contains(p.Text, "NOVA") {
			require.Equal(t, "p-nova", *p.ProductID)
			require.False(t, strings.Contains(p.Text, "VEGA"), "chunk spans two products: %q", p.Text)
		}
		if strings.Contains(p.Text, "VEGA") {
			require.Equal(t, "p-vega", *p.ProductID)
		}
	}
}

func TestChunkLowConfidenceBoundariesIgnored(t *testing.T) {
	e := testEngine()
	pages := []models.Page{
		page(1, "NOVA modular shelving."),
		page(2, "VEGA lighting series."),
	}
	boundaries := []ProductBoundary{
		{ProductID: "p-nova", Name: "NOVA", PageStart: 1, PageEnd: 1, Confidence: 0.4},
		{ProductID: "p-vega", Name: "VEGA", PageStart: 2, PageEnd: 2, Confidence: 0.3},
	}
	pieces := e.Chunk(pages, boundaries)
	require.NotEmpty(t, pieces)
	for _, p := range pieces {
		require.Nil(t, p.ProductID)
	}
}

func TestChunkExcludesMetadataPages(t *testing.T) {
	e := testEngine()
	pages := []models.Page{
		page(1, "NOVA modular shelving in natural oak."),
		page(2, "Dimensions: 15x38 cm. Slip resistance: R10. Water absorption: <0.5%."),
	}
	boundaries := []ProductBoundary{
		{ProductID: "p-nova", Name: "NOVA", PageStart: 1, PageEnd: 2, Confidence: 0.9, MetadataPages: []int{2}},
	}
	pieces := e.Chunk(pages, boundaries)
	require.NotEmpty(t, pieces)
	for _, p := range pieces {
		require.False(t, strings.Contains(p.Text, "Slip resistance"), "metadata page text leaked into chunk: %q", p.Text)
	}
}

func TestChunkFallsBackOnInvalidBoundaries(t *testing.T) {
	e := testEngine()
	pages := []models.Page{
		page(1, "NOVA modular shelving."),
		page(2, "VEGA lighting series."),
	}
	boundaries := []ProductBoundary{
		{ProductID: "p-nova", Name: "NOVA", PageStart: 1, PageEnd: 2, Confidence: 0.9},
		{ProductID: "p-vega", Name: "VEGA", PageStart: 2, PageEnd: 2, Confidence: 0.9},
	}
	pieces := e.Chunk(pages, boundaries)
	require.NotEmpty(t, pieces)
	var all strings.Builder
	for _, p := range pieces {
		require.Nil(t, p.ProductID, "fallback splitting must leave product IDs unset")
		all.WriteString(p.Text)
	}
	require.Contains(t, all.String(), "NOVA")
	require.Contains(t, all.String(), "VEGA")
}

func TestChunkPositionsAreSequential(t *testing.T) {
	e := testEngine()
	sentence := "Each product in the collection carries its own finish options. "
	pages := []models.Page{
		page(1, strings.Repeat(sentence, 6)),
		page(2, strings.Repeat(sentence, 6)),
	}
	pieces := e.Chunk(pages, nil)
	for i, p := range pieces {
		require.Equal(t, i, p.Position)
	}
}
