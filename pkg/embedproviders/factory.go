package embedproviders

import (
	"fmt"
	"time"

	"github.com/openprx/prx-memory/pkg/embed"
)

// EmbedProviderConfig is the env-var-derived configuration for
// BuildEmbeddingProvider (spec §6: PRX_EMBED_*).
type EmbedProviderConfig struct {
	Provider string // "openai-compatible" | "jina" | "gemini"
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// BuildEmbeddingProvider is the single constructor reading configuration
// and returning the selected provider variant (Design Note §9:
// "Provider fan-out... modeled as variants in a tagged union, with a
// single constructor function that reads environment variables").
func BuildEmbeddingProvider(cfg EmbedProviderConfig) (embed.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "openai-compatible", "":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return NewOpenAICompatible(baseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case "jina":
		return NewJinaEmbed(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case "gemini":
		return NewGeminiEmbed(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// RerankProviderConfig is the env-var-derived configuration for
// BuildRerankProvider (spec §6: PRX_RERANK_*).
type RerankProviderConfig struct {
	Provider   string // "jina" | "cohere" | "pinecone" | "pinecone-compatible" | "none"
	APIKey     string
	Model      string
	Endpoint   string
	APIVersion string
	Timeout    time.Duration
}

// BuildRerankProvider returns nil (no error) when Provider is "none" or
// empty, so the caller can treat the front-end as cosine-only.
func BuildRerankProvider(cfg RerankProviderConfig) (embed.RerankProvider, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "jina":
		return NewJinaRerank(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case "cohere":
		return NewCohereRerank(cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case "pinecone", "pinecone-compatible":
		return NewPineconeCompatibleRerank(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.APIVersion, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown rerank provider %q", cfg.Provider)
	}
}
