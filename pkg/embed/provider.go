// Package embed implements the Embedding/Rerank Front-End (spec §4.3): a
// process-wide Runtime combining a bounded LRU+TTL cache, a token-bucket
// rate limiter, and a uniform EmbeddingProvider/RerankProvider capability
// with cross-encoder-to-cosine rerank fallback. Grounded on
// EmbedRuntime::{from_env,refresh_tokens,acquire_rate_limit,cache_get,
// cache_put,bump_lru}, embed_one, semantic_rerank_with_remote,
// cross_encoder_rerank_with_remote, and semantic_rerank_with_embeddings
// in prx-memory-mcp/src/server.rs.
package embed

import (
	"context"
	"fmt"
)

// Task names the embedding purpose. Its wire form is a stable,
// lowercase, dot-separated string — the Open Question decision recorded
// in SPEC_FULL.md: a language-specific debug formatter is not a stable
// cache key, so the wire name (already sent to providers) is used
// instead.
type Task string

const (
	TaskRetrievalQuery   Task = "retrieval.query"
	TaskRetrievalPassage Task = "retrieval.passage"
	TaskRerankDocument   Task = "rerank.document"
)

func (t Task) String() string { return string(t) }

// EmbedRequest is the uniform embedding capability input (spec §6).
type EmbedRequest struct {
	Inputs     []string
	Task       Task
	Dimensions int
	Normalized bool
}

// EmbedResponse is the uniform embedding capability output.
type EmbedResponse struct {
	Vectors     [][]float32
	UsageTokens int
}

// EmbeddingProvider is the capability the core consumes for computing
// embeddings; concrete implementations live in pkg/embedproviders.
type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error)
	Name() string
}

// RerankRequest is the uniform rerank capability input (spec §6).
type RerankRequest struct {
	Query     string
	Documents []string
	TopN      int
}

// RerankItem is one scored document in a RerankResponse.
type RerankItem struct {
	Index int
	Score float64
}

// RerankResponse is the uniform rerank capability output.
type RerankResponse struct {
	Items []RerankItem
	Model string
}

// RerankProvider is the capability the core consumes for cross-encoder
// reranking; concrete implementations live in pkg/embedproviders.
type RerankProvider interface {
	Rerank(ctx context.Context, req RerankRequest) (RerankResponse, error)
	Name() string
}

// ErrorKind classifies a provider failure the way spec §4.3 step 5 names
// subkinds.
type ErrorKind string

const (
	ErrKindConfig          ErrorKind = "config"
	ErrKindHTTP            ErrorKind = "http"
	ErrKindSerialization   ErrorKind = "serialization"
	ErrKindInvalidResponse ErrorKind = "invalid_response"
	ErrKindAPI             ErrorKind = "api"
)

// ProviderError is the typed failure surfaced by embedding/rerank
// providers. Message is assumed pre-redacted by the caller (see
// Redact in this package) before it crosses any RPC boundary.
type ProviderError struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Kind == ErrKindAPI {
		return fmt.Sprintf("provider api error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s error: %s", e.Kind, e.Message)
}
