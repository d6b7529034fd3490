package embed

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jsbattig/code-indexer-sub032/internal/config"
)

// Provider names accepted in configuration.
const (
	ProviderOllama = "ollama"
	ProviderVoyage = "voyage"
	ProviderStatic = "static"
)

// EnvProviderOverride forces a provider regardless of configuration.
// Useful for CI runs that must stay offline.
const EnvProviderOverride = "CODE_INDEXER_EMBEDDER"

// NewEmbedder creates an embedder from the embeddings configuration.
func NewEmbedder(cfg config.EmbeddingsConfig) (Embedder, error) {
	provider := strings.ToLower(cfg.Provider)
	if env := os.Getenv(EnvProviderOverride); env != "" {
		provider = strings.ToLower(env)
	}

	switch provider {
	case ProviderOllama, "":
		return NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    time.Duration(cfg.RequestTimeout),
		}), nil

	case ProviderVoyage:
		key := cfg.VoyageKey
		if key == "" {
			key = os.Getenv("VOYAGE_API_KEY")
		}
		return NewVoyageEmbedder(VoyageConfig{
			APIKey:     key,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    time.Duration(cfg.RequestTimeout),
		}), nil

	case ProviderStatic:
		return NewStaticEmbedder(), nil

	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
