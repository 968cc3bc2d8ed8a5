package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Kadsuke/assistant-axelis/pkg/config"
)

// LocalProvider calls a locally-hosted Ollama embedding model over HTTP.
// Ollama's embedding runner serializes poorly under concurrent load, so
// requests are serialized through a mutex the same way upstream clients do.
type LocalProvider struct {
	httpClient *http.Client
	host       string
	model      string
	dimension  int
	maxRetries int

	mu sync.Mutex
}

// NewLocalProvider builds the local tier from an embedder config entry of
// type "ollama".
func NewLocalProvider(cfg *config.EmbedderConfig) (*LocalProvider, error) {
	host := cfg.Host
	if host == "" {
		host = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	return &LocalProvider{
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		host:       host,
		model:      model,
		dimension:  cfg.Dimension,
		maxRetries: cfg.MaxRetries,
	}, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *LocalProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < max(p.maxRetries, 1); attempt++ {
		vec, err := p.embedOnce(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if attempt < p.maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}
	return nil, fmt.Errorf("embedding: local provider failed after retries: %w", lastErr)
}

func (p *LocalProvider) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to ollama failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(raw))
	}

	var decoded ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if len(decoded.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}
	return decoded.Embedding, nil
}

func (p *LocalProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.EmbedQuery(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embedding document %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (p *LocalProvider) Dimension() int    { return p.dimension }
func (p *LocalProvider) ModelName() string { return p.model }
func (p *LocalProvider) Close() error      { return nil }
