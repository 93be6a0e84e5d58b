// Package embedproviders implements concrete EmbeddingProvider and
// RerankProvider adapters for OpenAI-compatible, Jina, and Gemini
// embedding APIs, and Jina, Cohere, and Pinecone(-compatible) rerank
// APIs, behind the uniform capability interfaces in pkg/embed. HTTP
// client construction uses a timeout plus an optional bearer-token
// RoundTripper; provider selection follows the single
// read-environment-variables constructor pattern of Design Note §9,
// grounded on build_embedding_provider_from_env /
// build_rerank_provider_from_env in server.rs.
package embedproviders

import (
	"net/http"
	"time"
)

type bearerTokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

func buildHTTPClient(timeout time.Duration, bearerToken string) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	var transport http.RoundTripper = http.DefaultTransport
	if bearerToken != "" {
		transport = &bearerTokenTransport{token: bearerToken, base: transport}
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
