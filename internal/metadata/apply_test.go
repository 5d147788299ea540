package metadata

import (
	"testing"

	"catflow/internal/models"

	"github.com/stretchr/testify/require"
)

func mv(value string, scope string, conf float64) models.MetadataValue {
	return models.MetadataValue{Value: value, Scope: scope, Confidence: conf}
}

func generalChunk(id string, pos int, meta map[string]models.MetadataValue) models.Chunk {
	return models.Chunk{
		ChunkID:  id,
		Position: pos,
		Scope:    models.ScopeCatalogGeneralExplicit,
		Metadata: meta,
	}
}

func productChunk(id string, pos int, productID string, meta map[string]models.MetadataValue) models.Chunk {
	return models.Chunk{
		ChunkID:   id,
		Position:  pos,
		ProductID: &productID,
		Scope:     models.ScopeProductSpecific,
		Metadata:  meta,
	}
}

func TestApplyGeneralSeedsThenProductOverrides(t *testing.T) {
	nova := &models.Product{ProductID: "p-nova", Name: "NOVA"}
	vega := &models.Product{ProductID: "p-vega", Name: "VEGA"}
	orion := &models.Product{ProductID: "p-orion", Name: "ORION"}
	products := []*models.Product{nova, vega, orion}

	chunks := []models.Chunk{
		productChunk("c2", 1, "p-nova", map[string]models.MetadataValue{
			"dimensions": mv("20×40", models.ScopeProductSpecific, 0.9),
		}),
		generalChunk("c1", 0, map[string]models.MetadataValue{
			"dimensions": mv("15×38", models.ScopeCatalogGeneralExplicit, 0.85),
		}),
	}

	res := NewApplier(LaterChunkWins, 2).Apply(chunks, products)

	require.Equal(t, "20×40", nova.Metadata["dimensions"])
	require.Equal(t, []string{"dimensions"}, nova.Overrides)
	require.Equal(t, "15×38", vega.Metadata["dimensions"])
	require.Empty(t, vega.Overrides)
	require.Equal(t, "15×38", orion.Metadata["dimensions"])
	require.Empty(t, orion.Overrides)
	require.Equal(t, 1, res.OverridesApplied)
	require.Equal(t, 3, res.ProductsUpdated)
}

func TestApplyIsIdempotent(t *testing.T) {
	nova := &models.Product{ProductID: "p-nova", Name: "NOVA"}
	vega := &models.Product{ProductID: "p-vega", Name: "VEGA"}
	products := []*models.Product{nova, vega}

	chunks := []models.Chunk{
		generalChunk("c1", 0, map[string]models.MetadataValue{
			"manufacturer": mv("HARMONY CERAMICS", models.ScopeCatalogGeneralExplicit, 0.85),
			"dimensions":   mv("15×38", models.ScopeCatalogGeneralExplicit, 0.85),
		}),
		productChunk("c2", 1, "p-nova", map[string]models.MetadataValue{
			"dimensions": mv("20×40", models.ScopeProductSpecific, 0.9),
		}),
	}

	a := NewApplier(LaterChunkWins, 2)
	a.Apply(chunks, products)

	novaBefore := map[string]string{}
	for k, v := range nova.Metadata {
		novaBefore[k] = v
	}
	overridesBefore := append([]string(nil), nova.Overrides...)

	res := a.Apply(chunks, products)

	require.Equal(t, novaBefore, nova.Metadata)
	require.Equal(t, overridesBefore, nova.Overrides)
	require.Equal(t, 0, res.OverridesApplied)
	require.Equal(t, 0, res.FieldsApplied)
	require.Equal(t, "15×38", vega.Metadata["dimensions"])
}

func TestApplyMultiProductDocument(t *testing.T) {
	alpha := &models.Product{ProductID: "p-alpha", Name: "ALPHA"}
	beta := &models.Product{ProductID: "p-beta", Name: "BETA"}
	products := []*models.Product{alpha, beta}

	chunks := []models.Chunk{
		generalChunk("c-gen", 0, map[string]models.MetadataValue{
			"manufacturer":   mv("ATLAS WORKS", models.ScopeCatalogGeneralExplicit, 0.85),
			"material":       mv("porcelain stoneware", models.ScopeCatalogGeneralExplicit, 0.85),
			"surface_finish": mv("matte", models.ScopeCatalogGeneralExplicit, 0.85),
		}),
		productChunk("c-alpha", 1, "p-alpha", map[string]models.MetadataValue{
			"dimensions":     mv("60×60", models.ScopeProductSpecific, 0.9),
			"surface_finish": mv("polished", models.ScopeProductSpecific, 0.9),
		}),
		productChunk("c-beta", 2, "p-beta", map[string]models.MetadataValue{
			"dimensions": mv("30×60", models.ScopeProductSpecific, 0.9),
		}),
	}

	res := NewApplier(LaterChunkWins, 2).Apply(chunks, products)

	require.Equal(t, "ATLAS WORKS", alpha.Metadata["manufacturer"])
	require.Equal(t, "ATLAS WORKS", beta.Metadata["manufacturer"])
	require.Equal(t, "60×60", alpha.Metadata["dimensions"])
	require.Equal(t, "30×60", beta.Metadata["dimensions"])
	require.Equal(t, "polished", alpha.Metadata["surface_finish"])
	require.Equal(t, "matte", beta.Metadata["surface_finish"])

	require.Equal(t, []string{"surface_finish"}, alpha.Overrides)
	require.Empty(t, beta.Overrides)
	require.Equal(t, 2, res.ProductsUpdated)
}

func TestApplyLaterChunkWinsWithinPass(t *testing.T) {
	nova := &models.Product{ProductID: "p-nova", Name: "NOVA"}
	products := []*models.Product{nova}

	chunks := []models.Chunk{
		productChunk("c1", 0, "p-nova", map[string]models.MetadataValue{
			"colors": mv("White", models.ScopeProductSpecific, 0.9),
		}),
		productChunk("c2", 1, "p-nova", map[string]models.MetadataValue{
			"colors": mv("White, Beige", models.ScopeProductSpecific, 0.9),
		}),
	}

	NewApplier(LaterChunkWins, 2).Apply(chunks, products)
	require.Equal(t, "White, Beige", nova.Metadata["colors"])

	nova2 := &models.Product{ProductID: "p-nova", Name: "NOVA"}
	NewApplier(FirstChunkWins, 2).Apply(chunks, []*models.Product{nova2})
	require.Equal(t, "White", nova2.Metadata["colors"])
}

func TestApplyMatchesProductByNameWhenChunkUnassigned(t *testing.T) {
	nova := &models.Product{ProductID: "p-nova", Name: "NOVA"}
	products := []*models.Product{nova}

	chunk := models.Chunk{
		ChunkID:  "c1",
		Position: 0,
		Scope:    models.ScopeProductSpecific,
		Text:     "NOVA shelving ships flat-packed.",
		Metadata: map[string]models.MetadataValue{
			"material": mv("oak", models.ScopeProductSpecific, 0.9),
		},
	}

	NewApplier(LaterChunkWins, 2).Apply([]models.Chunk{chunk}, products)
	require.Equal(t, "oak", nova.Metadata["material"])
}

func TestApplyCategoryChunkTargetsCategoryProducts(t *testing.T) {
	wall := &models.Product{ProductID: "p-wall", Name: "MURO", Metadata: map[string]string{"category": "wall tiles"}}
	floor := &models.Product{ProductID: "p-floor", Name: "SUELO", Metadata: map[string]string{"category": "floor tiles"}}
	products := []*models.Product{wall, floor}

	chunk := models.Chunk{
		ChunkID:  "c1",
		Position: 0,
		Scope:    models.ScopeCategorySpecific,
		Metadata: map[string]models.MetadataValue{
			"category":         mv("wall tiles", models.ScopeCategorySpecific, 0.7),
			"water_absorption": mv("<10%", models.ScopeCategorySpecific, 0.7),
		},
	}

	NewApplier(LaterChunkWins, 2).Apply([]models.Chunk{chunk}, products)
	require.Equal(t, "<10%", wall.Metadata["water_absorption"])
	require.Empty(t, floor.Metadata["water_absorption"])
}

func TestApplySkipsInvalidValuesWithIssue(t *testing.T) {
	nova := &models.Product{ProductID: "p-nova", Name: "NOVA"}
	chunks := []models.Chunk{
		generalChunk("c1", 0, map[string]models.MetadataValue{
			"dimensions": mv("   ", models.ScopeCatalogGeneralExplicit, 0.85),
			"material":   mv("oak", models.ScopeCatalogGeneralExplicit, 0.85),
		}),
	}

	res := NewApplier(LaterChunkWins, 2).Apply(chunks, []*models.Product{nova})
	require.Len(t, res.Issues, 1)
	require.Contains(t, res.Issues[0], "dimensions")
	require.Equal(t, "oak", nova.Metadata["material"])
	require.NotContains(t, nova.Metadata, "dimensions")
}

func TestCompleteness(t *testing.T) {
	require.Equal(t, 0.0, Completeness(nil))
	meta := map[string]string{
		"manufacturer": "ATLAS WORKS",
		"material":     "oak",
		"dimensions":   "60×60",
		"colors":       "White",
	}
	require.InDelta(t, 0.5, Completeness(meta), 1e-9)
}
