package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Thresholds configures the warn/crit cutoffs for derived alert signals
// (spec §4.9, env vars PRX_ALERT_*_WARN/CRIT).
type Thresholds struct {
	ToolErrorWarn      float64
	ToolErrorCrit      float64
	RemoteWarningWarn  float64
	RemoteWarningCrit  float64
}

// DefaultThresholds mirrors the reference server's default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ToolErrorWarn:     0.05,
		ToolErrorCrit:     0.20,
		RemoteWarningWarn: 0.10,
		RemoteWarningCrit: 0.40,
	}
}

// CardinalityLimits configures the max distinct labels per bounded
// counter (spec §4.9, env vars PRX_METRICS_MAX_*_LABELS).
type CardinalityLimits struct {
	Scope           int
	Category        int
	RerankProvider  int
}

// DefaultCardinalityLimits mirrors the spec's defaults: 32, 32, 16.
func DefaultCardinalityLimits() CardinalityLimits {
	return CardinalityLimits{Scope: 32, Category: 32, RerankProvider: 16}
}

// Registry is the process-wide metrics singleton: lazily initialized on
// first use, guarded by a single mutex per counter family (each
// boundedLabelCounter and each prometheus CounterVec already serializes
// its own updates internally).
type Registry struct {
	reg *prometheus.Registry

	toolOK      *prometheus.CounterVec
	toolErr     *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec

	recallStageOK  *prometheus.CounterVec
	recallStageErr *prometheus.CounterVec

	recallScope          *boundedLabelCounter
	recallCategory       *boundedLabelCounter
	recallRerankProvider *boundedLabelCounter

	remoteRerankAttempts prometheus.Counter
	remoteRerankWarnings prometheus.Counter

	sessionsCreated      prometheus.Counter
	sessionsRenewed      prometheus.Counter
	sessionsExpired      prometheus.Counter
	sessionAccessErrors  *prometheus.CounterVec

	// Plain running sums for the derived signals in Summarize. Prometheus
	// counters remain the source of truth for /metrics text exposition;
	// these mirror them so summary computation never has to reach into
	// client_golang's internal metric representation.
	toolOKSum        int64
	toolErrSum       int64
	rerankAttemptSum int64
	rerankWarningSum int64

	sessionsCreatedSum     int64
	sessionsRenewedSum     int64
	sessionsExpiredSum     int64
	sessionAccessNotFound  int64
	sessionAccessInternal  int64

	thresholds Thresholds
	limits     CardinalityLimits
}

// NewRegistry builds a Registry and registers every collector into its
// own prometheus.Registry (kept private rather than the global default
// registry, so multiple test instances never collide).
func NewRegistry(thresholds Thresholds, limits CardinalityLimits) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg:        reg,
		thresholds: thresholds,
		limits:     limits,

		toolOK: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prx_memory_tool_ok_total", Help: "Successful tool invocations.",
		}, []string{"tool"}),
		toolErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prx_memory_tool_err_total", Help: "Failed tool invocations.",
		}, []string{"tool"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "prx_memory_tool_latency_seconds", Help: "Tool invocation latency.",
		}, []string{"tool"}),

		recallStageOK: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prx_memory_recall_stage_ok_total", Help: "Successful recall stage invocations.",
		}, []string{"stage"}),
		recallStageErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prx_memory_recall_stage_err_total", Help: "Failed recall stage invocations.",
		}, []string{"stage"}),

		remoteRerankAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prx_memory_remote_rerank_attempts_total", Help: "Cross-encoder rerank attempts.",
		}),
		remoteRerankWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prx_memory_remote_rerank_warnings_total", Help: "Cross-encoder rerank fallbacks to cosine.",
		}),

		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prx_memory_sessions_created_total", Help: "Stream sessions created.",
		}),
		sessionsRenewed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prx_memory_sessions_renewed_total", Help: "Stream session lease renewals.",
		}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prx_memory_sessions_expired_total", Help: "Stream sessions lazily expired.",
		}),
		sessionAccessErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prx_memory_session_access_errors_total", Help: "Session access errors by kind.",
		}, []string{"kind"}),
	}

	overflowRecallScope := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prx_memory_recall_scope_label_overflow_total", Help: "recall_scope label cardinality overflow.",
	})
	overflowRecallCategory := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prx_memory_recall_category_label_overflow_total", Help: "recall_category label cardinality overflow.",
	})
	overflowRerankProvider := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prx_memory_recall_rerank_provider_label_overflow_total", Help: "recall_rerank_provider label cardinality overflow.",
	})
	r.recallScope = newBoundedLabelCounter("prx_memory_recall_scope_total", "Recalls by scope.", "scope", limits.Scope, overflowRecallScope)
	r.recallCategory = newBoundedLabelCounter("prx_memory_recall_category_total", "Recalls by category.", "category", limits.Category, overflowRecallCategory)
	r.recallRerankProvider = newBoundedLabelCounter("prx_memory_recall_rerank_provider_total", "Recalls by rerank provider.", "provider", limits.RerankProvider, overflowRerankProvider)

	collectors := []prometheus.Collector{
		r.toolOK, r.toolErr, r.toolLatency,
		r.recallStageOK, r.recallStageErr,
		r.remoteRerankAttempts, r.remoteRerankWarnings,
		r.sessionsCreated, r.sessionsRenewed, r.sessionsExpired, r.sessionAccessErrors,
		overflowRecallScope, overflowRecallCategory, overflowRerankProvider,
	}
	collectors = append(collectors, r.recallScope.collectors()...)
	collectors = append(collectors, r.recallCategory.collectors()...)
	collectors = append(collectors, r.recallRerankProvider.collectors()...)
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return r
}

// Registerer exposes the underlying prometheus.Registry for the /metrics
// HTTP handler.
func (r *Registry) Registerer() *prometheus.Registry { return r.reg }

// RecordTool records a tool invocation's outcome and latency.
func (r *Registry) RecordTool(tool string, ok bool, latency time.Duration) {
	if ok {
		r.toolOK.WithLabelValues(tool).Inc()
		atomic.AddInt64(&r.toolOKSum, 1)
	} else {
		r.toolErr.WithLabelValues(tool).Inc()
		atomic.AddInt64(&r.toolErrSum, 1)
	}
	r.toolLatency.WithLabelValues(tool).Observe(latency.Seconds())
}

// RecordRecall records one recall's stage outcome plus its scope/category
// dimensions.
func (r *Registry) RecordRecall(stage string, ok bool, scope, category string) {
	if ok {
		r.recallStageOK.WithLabelValues(stage).Inc()
	} else {
		r.recallStageErr.WithLabelValues(stage).Inc()
	}
	if scope != "" {
		r.recallScope.Observe(scope)
	}
	if category != "" {
		r.recallCategory.Observe(category)
	}
}

// RecordRerank records a cross-encoder rerank attempt, its provider, and
// whether it fell back to cosine (a "warning").
func (r *Registry) RecordRerank(provider string, warned bool) {
	r.remoteRerankAttempts.Inc()
	atomic.AddInt64(&r.rerankAttemptSum, 1)
	if warned {
		r.remoteRerankWarnings.Inc()
		atomic.AddInt64(&r.rerankWarningSum, 1)
	}
	if provider != "" {
		r.recallRerankProvider.Observe(provider)
	}
}

func (r *Registry) RecordSessionCreated() {
	r.sessionsCreated.Inc()
	atomic.AddInt64(&r.sessionsCreatedSum, 1)
}
func (r *Registry) RecordSessionRenewed() {
	r.sessionsRenewed.Inc()
	atomic.AddInt64(&r.sessionsRenewedSum, 1)
}
func (r *Registry) RecordSessionExpired(n int) {
	for i := 0; i < n; i++ {
		r.sessionsExpired.Inc()
	}
	atomic.AddInt64(&r.sessionsExpiredSum, int64(n))
}

// RecordSessionAccessError records a failed session access, bucketed the
// way render_metrics_summary's session_counters groups them: not-found
// and expired share one bucket, lock-poisoned gets its own.
func (r *Registry) RecordSessionAccessError(kind string) {
	r.sessionAccessErrors.WithLabelValues(kind).Inc()
	if kind == "poisoned" {
		atomic.AddInt64(&r.sessionAccessInternal, 1)
	} else {
		atomic.AddInt64(&r.sessionAccessNotFound, 1)
	}
}

// SessionCounterSnapshot returns the plain running sums backing
// /metrics/summary's session_counters object.
func (r *Registry) SessionCounterSnapshot() map[string]int {
	return map[string]int{
		"created":                     int(atomic.LoadInt64(&r.sessionsCreatedSum)),
		"renewed":                     int(atomic.LoadInt64(&r.sessionsRenewedSum)),
		"expired":                     int(atomic.LoadInt64(&r.sessionsExpiredSum)),
		"access_not_found_or_expired": int(atomic.LoadInt64(&r.sessionAccessNotFound)),
		"access_internal":             int(atomic.LoadInt64(&r.sessionAccessInternal)),
	}
}

// AlertLevel is the derived severity of a signal: 0 ok, 1 warn, 2 crit.
type AlertLevel int

const (
	AlertOK   AlertLevel = 0
	AlertWarn AlertLevel = 1
	AlertCrit AlertLevel = 2
)

func levelFor(value, warn, crit float64) AlertLevel {
	if value >= crit {
		return AlertCrit
	}
	if value >= warn {
		return AlertWarn
	}
	return AlertOK
}

// Summary is the JSON shape of GET /metrics/summary (spec §6).
type Summary struct {
	Status               string         `json:"status"`
	OverallAlertLevel    AlertLevel     `json:"overall_alert_level"`
	ToolErrorRatio       float64        `json:"tool_error_ratio"`
	RemoteWarningRatio   float64        `json:"remote_warning_ratio"`
	LabelOverflowTotal   int            `json:"label_overflow_total"`
	ActiveSessions       int            `json:"active_sessions"`
	SessionCounters      map[string]int `json:"session_counters"`
	Thresholds           Thresholds     `json:"thresholds"`
	CardinalityLimits    CardinalityLimits `json:"cardinality_limits"`
}

// Summarize computes the derived signals at read time, per spec §4.9.
func (r *Registry) Summarize(activeSessions int, sessionCounters map[string]int) Summary {
	toolOK := float64(atomic.LoadInt64(&r.toolOKSum))
	toolErr := float64(atomic.LoadInt64(&r.toolErrSum))
	var toolErrorRatio float64
	if total := toolOK + toolErr; total > 0 {
		toolErrorRatio = toolErr / total
	}

	attempts := float64(atomic.LoadInt64(&r.rerankAttemptSum))
	warnings := float64(atomic.LoadInt64(&r.rerankWarningSum))
	var remoteWarningRatio float64
	if attempts > 0 {
		remoteWarningRatio = warnings / attempts
	}

	toolLevel := levelFor(toolErrorRatio, r.thresholds.ToolErrorWarn, r.thresholds.ToolErrorCrit)
	remoteLevel := levelFor(remoteWarningRatio, r.thresholds.RemoteWarningWarn, r.thresholds.RemoteWarningCrit)
	overall := toolLevel
	if remoteLevel > overall {
		overall = remoteLevel
	}

	status := "ok"
	if overall == AlertWarn {
		status = "warn"
	} else if overall == AlertCrit {
		status = "crit"
	}

	return Summary{
		Status:             status,
		OverallAlertLevel:  overall,
		ToolErrorRatio:      toolErrorRatio,
		RemoteWarningRatio:  remoteWarningRatio,
		LabelOverflowTotal:  r.labelOverflowTotal(),
		ActiveSessions:      activeSessions,
		SessionCounters:     sessionCounters,
		Thresholds:          r.thresholds,
		CardinalityLimits:   r.limits,
	}
}

func (r *Registry) labelOverflowTotal() int {
	// Cardinality, not overflow count, is tracked per-counter for
	// introspection; the overflow counters themselves are exposed via
	// /metrics. Summary reports how close each dimension is to its cap.
	return r.recallScope.cardinality() + r.recallCategory.cardinality() + r.recallRerankProvider.cardinality()
}
