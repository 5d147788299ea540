package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// MockProvider produces deterministic vectors and classifications so the
// pipeline is fully runnable without external model access.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 1536
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	_ = ctx
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, deterministicVector(input, dim))
	}
	return vectors, ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", dim), Key: "mock"}, nil
}

func (m *MockProvider) Classify(ctx context.Context, req ClassifyRequest) (ScopeClassification, ProviderInfo, error) {
	_ = ctx
	info := ProviderInfo{Name: "mock", Model: "mock-classifier-v1", Key: "mock"}
	text := strings.ToUpper(req.Text)
	named := 0
	for _, p := range req.KnownProducts {
		if p != "" && strings.Contains(text, strings.ToUpper(p)) {
			named++
		}
	}
	switch {
	case named == 1:
		return ScopeClassification{Scope: "product_specific", Confidence: 0.8, Reasoning: "mock: single product name present"}, info, nil
	case named > 1:
		return ScopeClassification{Scope: "category_specific", Confidence: 0.6, Reasoning: "mock: multiple product names present"}, info, nil
	default:
		return ScopeClassification{Scope: "catalog_general_implicit", Confidence: 0.55, Reasoning: "mock: no product names present"}, info, nil
	}
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251)))
		u := binary.BigEndian.Uint32(h[:4])
		v := float32(u%2000)/1000.0 - 1.0
		vec[i] = v
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / (math.Sqrt(float64(sum)) + 1e-9))
	for i := range v {
		v[i] *= inv
	}
	return v
}
