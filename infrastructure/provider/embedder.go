package provider

import (
	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/domain/search"
	"github.com/followcat/HermesIndex/internal/config"
)

// NewEmbedder builds the configured embedding backend.
func NewEmbedder(cfg config.EmbeddingConfig) (search.Embedder, error) {
	switch cfg.Backend {
	case "remote":
		return NewRemoteEmbedder(cfg), nil
	case "openai":
		return NewOpenAIEmbedder(cfg), nil
	case "static":
		return NewStaticEmbedder(cfg), nil
	default:
		return nil, fault.Newf(fault.KindConfigInvalid, "unknown embedding backend %q", cfg.Backend)
	}
}
