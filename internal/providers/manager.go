package providers

import (
	"fmt"
	"strings"

	"catflow/internal/config"
)

type NamedClassifier struct {
	Ref      ProviderRef
	Provider ScopeClassifier
}

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

type Manager struct {
	classifiers    []NamedClassifier
	embedProviders []NamedEmbedProvider
}

func NewManager(cfg config.Config) (*Manager, error) {
	classifierRefs := ParseProviderList(cfg.ClassifierProviders)
	embedRefs := ParseProviderList(cfg.EmbedProviders)

	m := &Manager{}
	for _, ref := range classifierRefs {
		p, err := buildProvider(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		c, ok := p.(ScopeClassifier)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support scope classification", ref.Raw)
		}
		m.classifiers = append(m.classifiers, NamedClassifier{Ref: ref, Provider: c})
	}
	for _, ref := range embedRefs {
		p, err := buildProvider(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		embed, ok := p.(EmbeddingProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support embeddings", ref.Raw)
		}
		m.embedProviders = append(m.embedProviders, NamedEmbedProvider{Ref: ref, Provider: embed})
	}
	if len(m.classifiers) == 0 {
		m.classifiers = []NamedClassifier{{Ref: ProviderRef{Raw: "mock", Name: "mock"}, Provider: NewMockProvider(cfg.EmbedDim)}}
	}
	if len(m.embedProviders) == 0 {
		m.embedProviders = []NamedEmbedProvider{{Ref: ProviderRef{Raw: "mock", Name: "mock"}, Provider: NewMockProvider(cfg.EmbedDim)}}
	}
	return m, nil
}

// Classifiers returns the configured classifiers in failover order.
func (m *Manager) Classifiers() []ScopeClassifier {
	if len(m.classifiers) == 0 {
		return []ScopeClassifier{NewMockProvider(1536)}
	}
	out := make([]ScopeClassifier, 0, len(m.classifiers))
	for _, c := range m.classifiers {
		out = append(out, c.Provider)
	}
	return out
}

func (m *Manager) EmbedProviderByIndex(i int) (EmbeddingProvider, ProviderRef) {
	if len(m.embedProviders) == 0 {
		p := NewMockProvider(1536)
		return p, ProviderRef{Raw: "mock", Name: "mock"}
	}
	if i < 0 || i >= len(m.embedProviders) {
		i = 0
	}
	return m.embedProviders[i].Provider, m.embedProviders[i].Ref
}

func buildProvider(ref ProviderRef, dim int) (any, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockProvider(dim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
