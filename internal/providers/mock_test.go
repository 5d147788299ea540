package providers

import (
	"context"
	"testing"
)

func TestMockEmbedDeterministic(t *testing.T) {
	m := NewMockProvider(64)
	a, _, err := m.Embed(context.Background(), EmbedRequest{Inputs: []string{"matte porcelain"}, Dimension: 64})
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := m.Embed(context.Background(), EmbedRequest{Inputs: []string{"matte porcelain"}, Dimension: 64})
	if err != nil {
		t.Fatal(err)
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("vector not deterministic at index %d", i)
		}
	}
}

func TestMockEmbedUnitLength(t *testing.T) {
	m := NewMockProvider(64)
	vecs, _, err := m.Embed(context.Background(), EmbedRequest{Inputs: []string{"glazed stoneware"}, Dimension: 64})
	if err != nil {
		t.Fatal(err)
	}
	var sum float64
	for _, x := range vecs[0] {
		sum += float64(x) * float64(x)
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("vector not unit length, squared magnitude %f", sum)
	}
}

func TestMockClassifyScopes(t *testing.T) {
	m := NewMockProvider(64)
	known := []string{"NOVA", "VEGA"}

	res, _, err := m.Classify(context.Background(), ClassifyRequest{Text: "NOVA ships flat-packed.", KnownProducts: known})
	if err != nil {
		t.Fatal(err)
	}
	if res.Scope != "product_specific" {
		t.Fatalf("expected product_specific, got %s", res.Scope)
	}

	res, _, err = m.Classify(context.Background(), ClassifyRequest{Text: "Thickness 8.5 mm.", KnownProducts: known})
	if err != nil {
		t.Fatal(err)
	}
	if res.Scope != "catalog_general_implicit" {
		t.Fatalf("expected catalog_general_implicit, got %s", res.Scope)
	}
}
