package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/openprx/prx-memory/pkg/recall"
)

// Config configures a Runtime; see spec §6's embedding/rerank env vars.
type Config struct {
	CacheCapacity  int
	CacheTTL       time.Duration
	RateLimitRPS   float64
	EmbedTimeout   time.Duration
	RerankTimeout  time.Duration
	Secrets        []string // env-derived secret values to scrub from errors

	// CacheBackend selects the cache implementation: "" or "memory" for
	// the in-process LRU, "redis" to share it across processes.
	CacheBackend string
	RedisAddr    string
}

// RuntimeStats mirrors EmbedRuntimeStats upstream: counters
// surfaced through the Metrics Registry (spec §4.9) and /metrics/summary.
type RuntimeStats struct {
	CacheHits      int64
	CacheMisses    int64
	CacheEvictions int64
	CacheSize      int
	RateLimitWaits int64
}

// Runtime is the process-wide singleton described by spec §4.3:
// initialized lazily on first use, guarded by a single mutex per piece of
// state (cache has its own lock, bucket has its own lock), never
// destroyed.
type Runtime struct {
	cfg     Config
	cache   embeddingCache
	bucket  *tokenBucket
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	providerMu sync.RWMutex
	embedder   EmbeddingProvider
	reranker   RerankProvider
}

// NewRuntime constructs a Runtime. embedder/reranker may be nil; when nil,
// Embed/Rerank return an ErrKindConfig ProviderError.
func NewRuntime(cfg Config, embedder EmbeddingProvider, reranker RerankProvider, logger *slog.Logger) *Runtime {
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = 1024
	}
	if cfg.CacheTTL < time.Second {
		cfg.CacheTTL = 300 * time.Second
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20.0
	}
	now := time.Now()
	return &Runtime{
		cfg:      cfg,
		cache:    newEmbeddingCache(cfg),
		bucket:   newTokenBucket(cfg.RateLimitRPS, now),
		embedder: embedder,
		reranker: reranker,
		logger:   logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "embed-provider",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (r *Runtime) cacheKey(providerHint string, task Task, normalizedText string) string {
	return providerHint + "|" + task.String() + "|" + normalizedText
}

// EmbedOne performs the embed-one operation of spec §4.3: cache check,
// rate-limit acquire-with-sleep, provider call, cache store.
func (r *Runtime) EmbedOne(ctx context.Context, text string, task Task) ([]float32, error) {
	r.providerMu.RLock()
	provider := r.embedder
	r.providerMu.RUnlock()
	if provider == nil {
		return nil, r.redactErr(&ProviderError{Kind: ErrKindConfig, Message: "no embedding provider configured"})
	}

	normalized := strings.TrimSpace(strings.ToLower(text))
	key := r.cacheKey(provider.Name(), task, normalized)

	now := time.Now()
	if v, ok := r.cache.Get(key, now); ok {
		return v, nil
	}

	if wait := r.bucket.Acquire(now); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	result, err := r.breaker.Execute(func() (any, error) {
		return provider.Embed(ctx, EmbedRequest{Inputs: []string{text}, Task: task, Normalized: true})
	})
	if err != nil {
		return nil, r.redactErr(err)
	}
	resp := result.(EmbedResponse)
	if len(resp.Vectors) == 0 || len(resp.Vectors[0]) == 0 {
		return nil, r.redactErr(&ProviderError{Kind: ErrKindInvalidResponse, Message: "provider returned no vectors"})
	}
	vector := resp.Vectors[0]
	r.cache.Put(key, vector, time.Now())
	return vector, nil
}

func (r *Runtime) redactErr(err error) error {
	if err == nil {
		return nil
	}
	msg := Redact(err.Error(), r.cfg.Secrets...)
	if pe, ok := err.(*ProviderError); ok {
		return &ProviderError{Kind: pe.Kind, Status: pe.Status, Message: msg}
	}
	return fmt.Errorf("%s", msg)
}

// Stats returns a snapshot of cache/rate-limit counters.
func (r *Runtime) Stats() RuntimeStats {
	cs := r.cache.Stats()
	return RuntimeStats{
		CacheHits:      cs.Hits,
		CacheMisses:    cs.Misses,
		CacheEvictions: cs.Evictions,
		CacheSize:      cs.Size,
		RateLimitWaits: r.bucket.waitCount(),
	}
}

// RerankCandidate is one local-fusion result awaiting rerank.
type RerankCandidate struct {
	ID          string
	Text        string
	Embedding   []float32
	LocalScore  float64
}

// RerankOutcome is a reranked candidate with its final combined score.
type RerankOutcome struct {
	ID      string
	Score   float64
	Warning string
}

// SemanticRerank attempts a cross-encoder remote rerank; on failure it
// falls back to embedding-cosine rerank and attaches a warning, per
// spec §4.3. The combination formula is fixed: normalize local scores by
// dividing by the max, min-max normalize cross/cosine scores, then
// new_score = 0.4*local + 0.6*cross.
func (r *Runtime) SemanticRerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankOutcome, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	r.providerMu.RLock()
	reranker := r.reranker
	r.providerMu.RUnlock()

	crossScores, warning, err := r.crossEncoderScores(ctx, query, candidates, reranker)
	if err != nil {
		crossScores, warning = r.cosineFallbackScores(ctx, query, candidates)
	}
	return combineScores(candidates, crossScores, warning), nil
}

func (r *Runtime) crossEncoderScores(ctx context.Context, query string, candidates []RerankCandidate, reranker RerankProvider) ([]float64, string, error) {
	if reranker == nil {
		return nil, "", &ProviderError{Kind: ErrKindConfig, Message: "no rerank provider configured"}
	}
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Text
	}
	result, err := r.breaker.Execute(func() (any, error) {
		return reranker.Rerank(ctx, RerankRequest{Query: query, Documents: docs, TopN: len(docs)})
	})
	if err != nil {
		return nil, "", r.redactErr(err)
	}
	resp := result.(RerankResponse)
	scores := make([]float64, len(candidates))
	for _, item := range resp.Items {
		if item.Index >= 0 && item.Index < len(scores) {
			scores[item.Index] = item.Score
		}
	}
	return scores, "", nil
}

func (r *Runtime) cosineFallbackScores(ctx context.Context, query string, candidates []RerankCandidate) ([]float64, string) {
	queryVec, err := r.EmbedOne(ctx, query, TaskRetrievalQuery)
	scores := make([]float64, len(candidates))
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("cosine fallback rerank unavailable", "error", err)
		}
		return scores, "cross-encoder rerank failed and cosine fallback also failed; scores unchanged"
	}
	for i, c := range candidates {
		scores[i] = recall.CosineSimilarity(queryVec, c.Embedding)
	}
	return scores, "cross-encoder rerank failed; fell back to embedding cosine rerank"
}

func combineScores(candidates []RerankCandidate, crossScores []float64, warning string) []RerankOutcome {
	maxLocal := 0.0
	for _, c := range candidates {
		if c.LocalScore > maxLocal {
			maxLocal = c.LocalScore
		}
	}
	minCross, maxCross := crossScores[0], crossScores[0]
	for _, s := range crossScores {
		if s < minCross {
			minCross = s
		}
		if s > maxCross {
			maxCross = s
		}
	}
	crossRange := maxCross - minCross

	out := make([]RerankOutcome, len(candidates))
	for i, c := range candidates {
		localNorm := 0.0
		if maxLocal > 0 {
			localNorm = c.LocalScore / maxLocal
		}
		crossNorm := 0.0
		if crossRange > 0 {
			crossNorm = (crossScores[i] - minCross) / crossRange
		} else if len(crossScores) > 0 {
			crossNorm = 1
		}
		out[i] = RerankOutcome{
			ID:      c.ID,
			Score:   0.4*localNorm + 0.6*crossNorm,
			Warning: warning,
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
