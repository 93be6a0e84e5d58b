// Package metrics implements the Metrics Registry (spec §4.9): bounded-
// cardinality label counters for tools, recall stages, and recall
// dimensions, plus derived alert-level signals. Grounded on ToolMetric,
// StageMetric, BoundedLabelCounter, and MetricsRegistry in
// prx-memory-mcp/src/server.rs; backed by
// github.com/prometheus/client_golang for /metrics text exposition,
// since client_golang has no built-in cardinality cap of its own.
package metrics

import (
	"regexp"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var unsafeLabelChar = regexp.MustCompile(`[^a-z0-9:_\-.*]`)

// SanitizeLabel lowercases, replaces disallowed characters with "_",
// truncates to 64 chars, and maps empty to "unknown" (spec §4.9).
func SanitizeLabel(v string) string {
	v = strings.ToLower(v)
	v = unsafeLabelChar.ReplaceAllString(v, "_")
	if len(v) > 64 {
		v = v[:64]
	}
	if v == "" {
		v = "unknown"
	}
	return v
}

// boundedLabelCounter wraps a prometheus.CounterVec with a cardinality
// cap: once maxLabels distinct sanitized values have been observed,
// further new values increment an overflow counter instead of creating a
// new label series.
type boundedLabelCounter struct {
	mu        sync.Mutex
	vec       *prometheus.CounterVec
	overflow  prometheus.Counter
	seen      map[string]bool
	maxLabels int
}

func newBoundedLabelCounter(name, help, labelName string, maxLabels int, overflow prometheus.Counter) *boundedLabelCounter {
	return &boundedLabelCounter{
		vec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: help,
		}, []string{labelName}),
		overflow:  overflow,
		seen:      make(map[string]bool),
		maxLabels: maxLabels,
	}
}

// Observe increments the counter for value, sanitized first. If value is
// new and the cardinality cap has been reached, it increments overflow
// and drops the label instead.
func (c *boundedLabelCounter) Observe(value string) {
	sanitized := SanitizeLabel(value)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seen[sanitized] {
		if len(c.seen) >= c.maxLabels {
			c.overflow.Inc()
			return
		}
		c.seen[sanitized] = true
	}
	c.vec.WithLabelValues(sanitized).Inc()
}

func (c *boundedLabelCounter) cardinality() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *boundedLabelCounter) collectors() []prometheus.Collector {
	return []prometheus.Collector{c.vec}
}
