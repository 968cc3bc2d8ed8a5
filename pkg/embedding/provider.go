// Package embedding provides text-to-vector embedding with a tiered
// fallback chain: a remote API, a local model server, and a deterministic
// pseudo-random generator that keeps retrieval functioning (at reduced
// quality) when both upstream tiers are unavailable.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// maxInputChars matches the original preprocessing contract: embeddings
// are generated against at most this many characters of input text.
const maxInputChars = 8000

// Provider generates embedding vectors for documents and queries.
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelName() string
	Close() error
}

// Tier identifies which provider actually served a request, for
// observability (provider_info in the original manager).
type Tier string

const (
	TierRemote      Tier = "remote"
	TierLocal       Tier = "local"
	TierFallback    Tier = "fallback"
)

// preprocess trims and truncates text the way every tier expects its
// input prepared.
func preprocess(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > maxInputChars {
		return text[:maxInputChars]
	}
	return text
}

// Manager wraps an ordered chain of tiers and always returns from the
// first one that is healthy, falling through on error. Apart from
// rejecting an empty query, it does not fail on its own: the final tier
// is a deterministic generator that cannot fail.
type Manager struct {
	remote Provider
	local  Provider
	// fallback is never nil: a Manager without remote/local configured
	// still functions, with degraded retrieval quality.
	fallback Provider

	mu     sync.Mutex
	active Tier
}

// NewManager builds a Manager. remote and local may be nil if that tier
// isn't configured; fallback must not be nil.
func NewManager(remote, local, fallback Provider) (*Manager, error) {
	if fallback == nil {
		return nil, fmt.Errorf("embedding: fallback provider is required")
	}
	return &Manager{remote: remote, local: local, fallback: fallback, active: TierFallback}, nil
}

// EmbedQuery embeds a single query string, trying remote then local then
// fallback, and records which tier actually served the request.
func (m *Manager) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = preprocess(text)
	if text == "" {
		return nil, fmt.Errorf("embedding: query cannot be empty")
	}

	for _, link := range m.orderedChain() {
		vec, err := link.p.EmbedQuery(ctx, text)
		if err == nil {
			m.mu.Lock()
			m.active = link.tier
			m.mu.Unlock()
			return vec, nil
		}
	}
	// orderedChain always ends with fallback, which cannot fail; reaching
	// here means fallback itself returned an error, which is a bug in
	// the fallback implementation, not a recoverable condition.
	return nil, fmt.Errorf("embedding: all tiers failed, including fallback")
}

// EmbedDocuments embeds a batch of documents through the same tiered
// chain as EmbedQuery, as one atomic choice of tier for the whole batch.
func (m *Manager) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	processed := make([]string, len(texts))
	for i, t := range texts {
		processed[i] = preprocess(t)
	}

	for _, link := range m.orderedChain() {
		vecs, err := link.p.EmbedDocuments(ctx, processed)
		if err == nil {
			m.mu.Lock()
			m.active = link.tier
			m.mu.Unlock()
			return vecs, nil
		}
	}
	return nil, fmt.Errorf("embedding: all tiers failed, including fallback")
}

// orderedChain returns the tier chain in priority order, skipping unset
// tiers.
func (m *Manager) orderedChain() []struct {
	tier Tier
	p    Provider
} {
	chain := make([]struct {
		tier Tier
		p    Provider
	}, 0, 3)
	if m.remote != nil {
		chain = append(chain, struct {
			tier Tier
			p    Provider
		}{TierRemote, m.remote})
	}
	if m.local != nil {
		chain = append(chain, struct {
			tier Tier
			p    Provider
		}{TierLocal, m.local})
	}
	chain = append(chain, struct {
		tier Tier
		p    Provider
	}{TierFallback, m.fallback})
	return chain
}

// Dimension reports the dimension of the currently active tier.
func (m *Manager) Dimension() int {
	return m.currentProvider().Dimension()
}

func (m *Manager) currentProvider() Provider {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	switch active {
	case TierRemote:
		if m.remote != nil {
			return m.remote
		}
	case TierLocal:
		if m.local != nil {
			return m.local
		}
	}
	return m.fallback
}

// ProviderInfo mirrors the original get_provider_info() diagnostic.
type ProviderInfo struct {
	Tier      Tier
	Dimension int
	Model     string
}

// Info reports which tier last served a request.
func (m *Manager) Info() ProviderInfo {
	p := m.currentProvider()
	m.mu.Lock()
	tier := m.active
	m.mu.Unlock()
	return ProviderInfo{Tier: tier, Dimension: p.Dimension(), Model: p.ModelName()}
}

// Close releases resources on every configured tier.
func (m *Manager) Close() error {
	var firstErr error
	for _, p := range []Provider{m.remote, m.local, m.fallback} {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
