// Package config loads the memory service's configuration from the
// process environment (spec §6 "Environment configuration"). Initialize
// reads os.LookupEnv directly and layers the sparse result over
// DefaultConfig with dario.cat/mergo, the same override-wins merge shape
// used for YAML-plus-defaults config elsewhere in this codebase. Several
// subsystems (scope, embedding runtime, metrics) expose their own
// from_env-style constructor that this package's Config feeds with
// already-parsed values.
package config

import (
	"fmt"
	"log/slog"

	"dario.cat/mergo"

	"github.com/openprx/prx-memory/pkg/embed"
	"github.com/openprx/prx-memory/pkg/metrics"
)

// Backend identifies which Storage Backend implementation to open.
type Backend string

const (
	BackendJSON     Backend = "json"
	BackendLanceDB  Backend = "lancedb"
	BackendPostgres Backend = "postgres"
)

// Transport identifies which server transport to run.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// StandardProfile selects the default governance posture (spec §4.5/§6).
type StandardProfile string

const (
	ProfileZeroConfig StandardProfile = "zero-config"
	ProfileGoverned   StandardProfile = "governed"
	ProfileStrict     StandardProfile = "strict"
	ProfileProduction StandardProfile = "production"
	ProfileProd       StandardProfile = "prod"
)

// IsGoverned reports whether the profile puts memory_store/memory_update/
// memory_import in governed-by-default mode. StandardProfile is a
// two-valued enum internally but accepts four spellings
// ("governed", "strict", "production", "prod") on the wire, all folding to
// Governed; anything else, including an unset variable, is ZeroConfig.
func (p StandardProfile) IsGoverned() bool {
	switch p {
	case ProfileGoverned, ProfileStrict, ProfileProduction, ProfileProd:
		return true
	default:
		return false
	}
}

// Config is the umbrella configuration object returned by Initialize and
// threaded through cmd/prx-memoryd's wiring.
type Config struct {
	Transport   Transport
	HTTPAddr    string

	AgentID             string
	DefaultScopeTemplate string
	AllowedScopes       []string
	AgentAccess         map[string][]string

	Backend        Backend
	DBPath         string
	PostgresDSN    string

	StandardProfile    StandardProfile
	EnforceDualLayer   bool
	DefaultProjectTag  string
	DefaultToolTag     string
	DefaultDomainTag   string

	StreamSessionTTLMs int64

	Embed   EmbedConfig
	Rerank  RerankConfig
	Metrics MetricsConfig
}

// EmbedConfig configures the embedding provider front-end (spec §4.3).
type EmbedConfig struct {
	Provider      string
	APIKey        string
	Model         string
	BaseURL       string
	CacheCapacity int
	CacheTTLMs    int64
	RateLimitRPS  float64

	// CacheBackend selects the embedding-cache implementation: "" or
	// "memory" for the in-process LRU, "redis" to share the cache across
	// multiple prx-memoryd processes.
	CacheBackend string
	RedisAddr    string
}

// RerankConfig configures the cross-encoder rerank provider (spec §4.3).
type RerankConfig struct {
	Provider   string
	APIKey     string
	Model      string
	Endpoint   string
	APIVersion string
}

// MetricsConfig configures cardinality limits and alert thresholds (spec
// §4.9).
type MetricsConfig struct {
	Thresholds metrics.Thresholds
	Limits     metrics.CardinalityLimits
}

// EmbedRuntimeConfig projects the subset of Config that pkg/embed.Config
// needs, converting millisecond durations at the boundary.
func (c *Config) EmbedRuntimeConfig() embed.Config {
	return embed.Config{
		CacheCapacity: c.Embed.CacheCapacity,
		CacheTTL:      msToDuration(c.Embed.CacheTTLMs),
		RateLimitRPS:  c.Embed.RateLimitRPS,
		EmbedTimeout:  defaultEmbedTimeout,
		RerankTimeout: defaultRerankTimeout,
		Secrets:       nonEmpty(c.Embed.APIKey, c.Rerank.APIKey),
		CacheBackend:  c.Embed.CacheBackend,
		RedisAddr:     c.Embed.RedisAddr,
	}
}

func nonEmpty(ss ...string) []string {
	var out []string
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Initialize reads the process environment, layers it over DefaultConfig
// with mergo, validates the result, and returns a ready-to-use Config.
//
// Steps performed:
//  1. Read every PRX_* variable into a sparse Config
//  2. Merge over DefaultConfig (mergo.WithOverride, env wins)
//  3. Validate enums and numeric ranges
//  4. Return Config ready for use
func Initialize(logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("initializing configuration")

	sparse := fromEnv()
	cfg := DefaultConfig()
	if err := mergo.Merge(&cfg, sparse, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging environment configuration: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info("configuration initialized",
		"transport", cfg.Transport,
		"backend", cfg.Backend,
		"agent_id", cfg.AgentID,
		"standard_profile", cfg.StandardProfile,
	)
	return &cfg, nil
}
