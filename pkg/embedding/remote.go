package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Kadsuke/assistant-axelis/pkg/config"
)

// RemoteProvider calls a hosted embeddings API (OpenAI-compatible).
type RemoteProvider struct {
	client    openai.Client
	model     string
	dimension int
}

// NewRemoteProvider builds the remote tier from an embedder config entry
// of type "openai".
func NewRemoteProvider(cfg *config.EmbedderConfig) (*RemoteProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding: api_key is required for remote provider")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Host != "" {
		opts = append(opts, option.WithBaseURL(cfg.Host))
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &RemoteProvider{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: cfg.Dimension,
	}, nil
}

func (p *RemoteProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *RemoteProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: remote provider request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: remote provider returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		out[item.Index] = vec
	}
	return out, nil
}

func (p *RemoteProvider) Dimension() int    { return p.dimension }
func (p *RemoteProvider) ModelName() string { return p.model }
func (p *RemoteProvider) Close() error      { return nil }
