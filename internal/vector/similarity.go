package vector

import (
	"fmt"
	"math"
	"strings"
)

// Cosine returns the cosine similarity of two vectors, or 0 when either
// vector is empty or zero-length in magnitude.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Similarity maps cosine similarity onto [0,1].
func Similarity(a, b []float32) float64 {
	c := Cosine(a, b)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func ToLiteral(v []float32) string {
	parts := make([]string, 0, len(v))
	for _, x := range v {
		parts = append(parts, fmt.Sprintf("%f", x))
	}
	return "[" + strings.Join(parts, ",") + "]"
}
