package vector

import "testing"

func TestCosine(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	if got := Cosine(a, b); got < 0.999 {
		t.Fatalf("identical vectors should score ~1, got %f", got)
	}
	c := []float32{0, 1, 0}
	if got := Cosine(a, c); got != 0 {
		t.Fatalf("orthogonal vectors should score 0, got %f", got)
	}
}

func TestSimilarityClampsNegative(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{-1, 0}
	if got := Similarity(a, b); got != 0 {
		t.Fatalf("opposed vectors should clamp to 0, got %f", got)
	}
}

func TestToLiteral(t *testing.T) {
	got := ToLiteral([]float32{0.5, -1})
	if got != "[0.500000,-1.000000]" {
		t.Fatalf("unexpected literal: %s", got)
	}
}
