package config

import "fmt"

// EmbedderConfig configures one tier of the embedding provider fallback
// chain (spec.md §4.2).
type EmbedderConfig struct {
	Type       string `yaml:"type"` // "openai", "ollama", "fallback"
	Model      string `yaml:"model,omitempty"`
	Host       string `yaml:"host,omitempty"`
	APIKey     string `yaml:"api_key,omitempty"`
	Dimension  int    `yaml:"dimension,omitempty"`
	TimeoutSec int    `yaml:"timeout_seconds,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
}

// SetDefaults applies the module's default embedding configuration.
func (c *EmbedderConfig) SetDefaults() {
	if c.TimeoutSec == 0 {
		c.TimeoutSec = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Dimension == 0 {
		switch c.Type {
		case "openai":
			c.Dimension = 1536
		case "ollama":
			c.Dimension = 768
		default:
			c.Dimension = 384
		}
	}
}

// Validate checks the embedder configuration.
func (c *EmbedderConfig) Validate() error {
	switch c.Type {
	case "openai", "ollama", "fallback":
	default:
		return fmt.Errorf("unsupported embedder type: %s", c.Type)
	}
	if c.Type == "openai" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for openai embedder")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	return nil
}

// VectorStoreConfig configures the retrieval layer's vector backend.
type VectorStoreConfig struct {
	Type      string `yaml:"type"` // "qdrant"
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIKey    string `yaml:"api_key,omitempty"`
	EnableTLS bool   `yaml:"enable_tls,omitempty"`
}

// SetDefaults applies the module's default Qdrant connection settings.
func (c *VectorStoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "qdrant"
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
}

// Validate checks the vector store configuration.
func (c *VectorStoreConfig) Validate() error {
	if c.Type != "qdrant" {
		return fmt.Errorf("unsupported vector store type: %s", c.Type)
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// LLMConfig configures the language-model client the orchestrator's full
// crew tier calls into.
type LLMConfig struct {
	Provider   string  `yaml:"provider"` // "anthropic"
	Model      string  `yaml:"model"`
	APIKey     string  `yaml:"api_key"`
	TimeoutSec int     `yaml:"timeout_seconds,omitempty"`
	MaxTokens  int     `yaml:"max_tokens,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
}

// SetDefaults applies the module's default LLM client settings.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "anthropic"
	}
	if c.Model == "" {
		c.Model = "claude-3-5-haiku-20241022"
	}
	if c.TimeoutSec == 0 {
		c.TimeoutSec = 45
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	if c.Provider != "anthropic" {
		return fmt.Errorf("unsupported llm provider: %s", c.Provider)
	}
	if c.TimeoutSec <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	return nil
}
