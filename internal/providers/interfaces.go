package providers

import "context"

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

// ClassifyRequest asks an external model to scope a metadata mention relative
// to the known product names of the document.
type ClassifyRequest struct {
	Operation     string   `json:"operation"`
	Text          string   `json:"text"`
	KnownProducts []string `json:"known_products"`
}

type ScopeClassification struct {
	Scope      string  `json:"scope"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

type EmbedRequest struct {
	Operation string   `json:"operation"`
	Inputs    []string `json:"inputs"`
	Dimension int      `json:"dimension"`
}

// ScopeClassifier must be safely retryable: identical input yields an
// equivalent classification.
type ScopeClassifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (ScopeClassification, ProviderInfo, error)
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error)
}
