package embedding

import (
	"fmt"

	"github.com/Kadsuke/assistant-axelis/pkg/config"
)

// BuildManager assembles the tiered Manager from the embedders configured
// under config.Config.Embedders. Entries are picked by type, not by name:
// an "openai" entry becomes the remote tier and an "ollama" entry the local
// tier; a fallback tier is always synthesized so the manager is never
// without a working provider.
func BuildManager(embedders map[string]*config.EmbedderConfig) (*Manager, error) {
	var remote, local Provider
	fallbackDimension := 384

	for _, cfg := range embedders {
		switch cfg.Type {
		case "openai":
			p, err := NewRemoteProvider(cfg)
			if err != nil {
				return nil, fmt.Errorf("embedding: failed to build remote provider: %w", err)
			}
			remote = p
			fallbackDimension = cfg.Dimension
		case "ollama":
			p, err := NewLocalProvider(cfg)
			if err != nil {
				return nil, fmt.Errorf("embedding: failed to build local provider: %w", err)
			}
			local = p
			if remote == nil {
				fallbackDimension = cfg.Dimension
			}
		case "fallback":
			fallbackDimension = cfg.Dimension
		}
	}

	fallback := NewFallbackProvider(fallbackDimension)
	return NewManager(remote, local, fallback)
}
