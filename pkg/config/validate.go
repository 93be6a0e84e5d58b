package config

import "fmt"

// validate checks enum membership and numeric ranges, rejecting a bad
// configuration before Initialize returns it.
// Unrecognized StandardProfile values are not an error here: an unset or
// unfamiliar value folds to zero-config rather than
// refusing to start (StandardizationConfig::from_env), so validate only
// normalizes it instead of rejecting the run.
func validate(cfg *Config) error {
	switch cfg.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return &ConfigError{Field: "PRX_MEMORYD_TRANSPORT", Value: string(cfg.Transport), Err: ErrUnknownEnum}
	}

	switch cfg.Backend {
	case BackendJSON:
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return &ConfigError{Field: "PRX_MEMORY_DB", Value: cfg.PostgresDSN, Err: fmt.Errorf("%w: postgres backend requires a connection string", ErrInvalidEnv)}
		}
	case BackendLanceDB:
		return &ConfigError{Field: "PRX_MEMORY_BACKEND", Value: string(cfg.Backend), Err: fmt.Errorf("%w: no lancedb driver is wired in this build", ErrInvalidEnv)}
	default:
		return &ConfigError{Field: "PRX_MEMORY_BACKEND", Value: string(cfg.Backend), Err: ErrUnknownEnum}
	}

	if !cfg.StandardProfile.IsGoverned() {
		cfg.StandardProfile = ProfileZeroConfig
	}

	switch cfg.Embed.Provider {
	case "", "openai-compatible", "jina", "gemini":
	default:
		return &ConfigError{Field: "PRX_EMBED_PROVIDER", Value: cfg.Embed.Provider, Err: ErrUnknownEnum}
	}

	switch cfg.Rerank.Provider {
	case "", "none", "jina", "cohere", "pinecone", "pinecone-compatible":
	default:
		return &ConfigError{Field: "PRX_RERANK_PROVIDER", Value: cfg.Rerank.Provider, Err: ErrUnknownEnum}
	}

	if cfg.Embed.RateLimitRPS <= 0 {
		return &ConfigError{Field: "PRX_EMBED_RATE_LIMIT_RPS", Value: fmt.Sprintf("%v", cfg.Embed.RateLimitRPS), Err: ErrInvalidEnv}
	}
	if cfg.Embed.CacheCapacity <= 0 {
		return &ConfigError{Field: "PRX_EMBED_CACHE_CAPACITY", Value: fmt.Sprintf("%v", cfg.Embed.CacheCapacity), Err: ErrInvalidEnv}
	}

	switch cfg.Embed.CacheBackend {
	case "", "memory":
	case "redis":
		if cfg.Embed.RedisAddr == "" {
			return &ConfigError{Field: "PRX_EMBED_REDIS_ADDR", Value: cfg.Embed.RedisAddr, Err: fmt.Errorf("%w: redis cache backend requires an address", ErrInvalidEnv)}
		}
	default:
		return &ConfigError{Field: "PRX_EMBED_CACHE_BACKEND", Value: cfg.Embed.CacheBackend, Err: ErrUnknownEnum}
	}

	const (
		minStreamTTLMs = 1000
		maxStreamTTLMs = 86_400_000
	)
	if cfg.StreamSessionTTLMs < minStreamTTLMs || cfg.StreamSessionTTLMs > maxStreamTTLMs {
		return &ConfigError{Field: "PRX_MEMORY_STREAM_SESSION_TTL_MS", Value: fmt.Sprintf("%d", cfg.StreamSessionTTLMs), Err: ErrInvalidEnv}
	}

	if cfg.Transport == TransportHTTP && cfg.HTTPAddr == "" {
		return &ConfigError{Field: "PRX_MEMORY_HTTP_ADDR", Value: cfg.HTTPAddr, Err: ErrInvalidEnv}
	}

	return nil
}
