package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// fromEnv reads every PRX_* variable (spec §6) into a sparse Config: only
// fields whose variable was actually set are populated, everything else
// is left at its zero value so mergo.Merge leaves DefaultConfig's value
// in place.
func fromEnv() Config {
	var c Config

	if v, ok := lookup("PRX_MEMORYD_TRANSPORT"); ok {
		c.Transport = Transport(v)
	}
	if v, ok := lookup("PRX_MEMORY_HTTP_ADDR"); ok {
		c.HTTPAddr = v
	}

	if v, ok := lookup("PRX_MEMORY_AGENT_ID"); ok {
		c.AgentID = v
	}
	if v, ok := lookup("PRX_MEMORY_DEFAULT_SCOPE"); ok {
		c.DefaultScopeTemplate = v
	}
	if v, ok := lookup("PRX_MEMORY_ALLOWED_SCOPES"); ok {
		c.AllowedScopes = splitCSV(v)
	}
	if v, ok := lookup("PRX_MEMORY_AGENT_ACCESS"); ok {
		access, err := parseAgentAccess(v)
		if err == nil {
			c.AgentAccess = access
		}
	}

	if v, ok := lookup("PRX_MEMORY_BACKEND"); ok {
		c.Backend = Backend(v)
	}
	if v, ok := lookup("PRX_MEMORY_DB"); ok {
		c.DBPath = v
		c.PostgresDSN = v
	}

	if v, ok := lookup("PRX_MEMORY_STANDARD_PROFILE"); ok {
		c.StandardProfile = StandardProfile(strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := lookup("PRX_MEMORY_DEFAULT_PROJECT_TAG"); ok {
		c.DefaultProjectTag = strings.TrimSpace(v)
	}
	if v, ok := lookup("PRX_MEMORY_DEFAULT_TOOL_TAG"); ok {
		c.DefaultToolTag = strings.TrimSpace(v)
	}
	if v, ok := lookup("PRX_MEMORY_DEFAULT_DOMAIN_TAG"); ok {
		c.DefaultDomainTag = strings.TrimSpace(v)
	}
	if v, ok := lookup("PRX_MEMORY_ENFORCE_DUAL_LAYER"); ok {
		c.EnforceDualLayer = parseEnforceDualLayer(v)
	}

	if v, ok := lookup("PRX_MEMORY_STREAM_SESSION_TTL_MS"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.StreamSessionTTLMs = n
		}
	}

	c.Embed = embedFromEnv()
	c.Rerank = rerankFromEnv()
	c.Metrics = metricsFromEnv()

	return c
}

func embedFromEnv() EmbedConfig {
	var e EmbedConfig
	if v, ok := lookup("PRX_EMBED_PROVIDER"); ok {
		e.Provider = v
	}
	if v, ok := lookup("PRX_EMBED_API_KEY"); ok {
		e.APIKey = v
	}
	if v, ok := lookup("PRX_EMBED_MODEL"); ok {
		e.Model = v
	}
	if v, ok := lookup("PRX_EMBED_BASE_URL"); ok {
		e.BaseURL = v
	}
	if v, ok := lookup("PRX_EMBED_CACHE_CAPACITY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			e.CacheCapacity = n
		}
	}
	if v, ok := lookup("PRX_EMBED_CACHE_TTL_MS"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			e.CacheTTLMs = n
		}
	}
	if v, ok := lookup("PRX_EMBED_RATE_LIMIT_RPS"); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			e.RateLimitRPS = n
		}
	}
	if v, ok := lookup("PRX_EMBED_CACHE_BACKEND"); ok {
		e.CacheBackend = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("PRX_EMBED_REDIS_ADDR"); ok {
		e.RedisAddr = v
	}
	return e
}

func rerankFromEnv() RerankConfig {
	var r RerankConfig
	if v, ok := lookup("PRX_RERANK_PROVIDER"); ok {
		r.Provider = v
	}
	if v, ok := lookup("PRX_RERANK_API_KEY"); ok {
		r.APIKey = v
	}
	if v, ok := lookup("PRX_RERANK_MODEL"); ok {
		r.Model = v
	}
	if v, ok := lookup("PRX_RERANK_ENDPOINT"); ok {
		r.Endpoint = v
	}
	if v, ok := lookup("PRX_RERANK_API_VERSION"); ok {
		r.APIVersion = v
	}
	return r
}

func metricsFromEnv() MetricsConfig {
	var m MetricsConfig
	if v, ok := lookupInt("PRX_METRICS_MAX_SCOPE_LABELS"); ok {
		m.Limits.Scope = v
	}
	if v, ok := lookupInt("PRX_METRICS_MAX_CATEGORY_LABELS"); ok {
		m.Limits.Category = v
	}
	if v, ok := lookupInt("PRX_METRICS_MAX_RERANK_PROVIDER_LABELS"); ok {
		m.Limits.RerankProvider = v
	}
	if v, ok := lookupFloat("PRX_ALERT_TOOL_ERROR_RATIO_WARN"); ok {
		m.Thresholds.ToolErrorWarn = v
	}
	if v, ok := lookupFloat("PRX_ALERT_TOOL_ERROR_RATIO_CRIT"); ok {
		m.Thresholds.ToolErrorCrit = v
	}
	if v, ok := lookupFloat("PRX_ALERT_REMOTE_WARNING_RATIO_WARN"); ok {
		m.Thresholds.RemoteWarningWarn = v
	}
	if v, ok := lookupFloat("PRX_ALERT_REMOTE_WARNING_RATIO_CRIT"); ok {
		m.Thresholds.RemoteWarningCrit = v
	}
	return m
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func lookupInt(key string) (int, bool) {
	v, ok := lookup(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupFloat(key string) (float64, bool) {
	v, ok := lookup(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseEnforceDualLayer mirrors enforce_dual_layer()'s negative-list check:
// the flag is on unless the value is explicitly one of a handful of falsy
// spellings, so an unset or unrecognized value stays enforced.
func parseEnforceDualLayer(v string) bool {
	lowered := strings.ToLower(strings.TrimSpace(v))
	switch lowered {
	case "0", "false", "off", "no":
		return false
	default:
		return true
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseAgentAccess decodes PRX_MEMORY_AGENT_ACCESS, trying JSON first and
// falling back to YAML, so operators hand-editing
// deploy manifests.
func parseAgentAccess(v string) (map[string][]string, error) {
	var access map[string][]string
	if err := json.Unmarshal([]byte(v), &access); err == nil {
		return access, nil
	}
	if err := yaml.Unmarshal([]byte(v), &access); err == nil {
		return access, nil
	}
	return nil, &ConfigError{Field: "PRX_MEMORY_AGENT_ACCESS", Value: v, Err: ErrInvalidEnv}
}
