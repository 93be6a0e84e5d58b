package config

import (
	"time"

	"github.com/openprx/prx-memory/pkg/metrics"
)

const (
	defaultEmbedTimeout  = 15 * time.Second
	defaultRerankTimeout = 8 * time.Second
)

// DefaultConfig returns the spec's built-in defaults (spec §6), used as
// the base that environment-derived values are merged over.
func DefaultConfig() Config {
	return Config{
		Transport: TransportStdio,
		HTTPAddr:  "127.0.0.1:8787",

		AgentID:              "default",
		DefaultScopeTemplate: "agent:{agent_id}",
		AllowedScopes:        nil,
		AgentAccess:          map[string][]string{},

		Backend: BackendJSON,
		DBPath:  "./prx-memory.json",

		StandardProfile: ProfileZeroConfig,
		// enforce_dual_layer defaults to true; only an explicit falsy value
		// turns single-layer governed writes back on.
		EnforceDualLayer:  true,
		DefaultProjectTag: "prx-memory",
		DefaultToolTag:    "mcp",
		DefaultDomainTag:  "general",

		StreamSessionTTLMs: 600_000,

		Embed: EmbedConfig{
			Provider:      "",
			CacheCapacity: 1024,
			CacheTTLMs:    300_000,
			RateLimitRPS:  5,
		},
		Rerank: RerankConfig{
			Provider: "none",
		},
		Metrics: MetricsConfig{
			Thresholds: metrics.DefaultThresholds(),
			Limits:     metrics.DefaultCardinalityLimits(),
		},
	}
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
