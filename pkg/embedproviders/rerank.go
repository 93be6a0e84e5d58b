package embedproviders

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/openprx/prx-memory/pkg/embed"
)

type jinaRerank struct {
	client  *http.Client
	baseURL string
	model   string
}

func NewJinaRerank(baseURL, apiKey, model string, timeout time.Duration) embed.RerankProvider {
	if baseURL == "" {
		baseURL = "https://api.jina.ai/v1"
	}
	return &jinaRerank{client: buildHTTPClient(timeout, apiKey), baseURL: baseURL, model: model}
}

func (p *jinaRerank) Name() string { return "jina" }

func (p *jinaRerank) Rerank(ctx context.Context, req embed.RerankRequest) (embed.RerankResponse, error) {
	body, _ := json.Marshal(map[string]any{
		"model":     p.model,
		"query":     req.Query,
		"documents": req.Documents,
		"top_n":     req.TopN,
	})
	return doRerankRequest(ctx, p.client, p.baseURL+"/rerank", body, p.model)
}

type cohereRerank struct {
	client  *http.Client
	baseURL string
	model   string
}

func NewCohereRerank(apiKey, model string, timeout time.Duration) embed.RerankProvider {
	return &cohereRerank{client: buildHTTPClient(timeout, apiKey), baseURL: "https://api.cohere.com/v1", model: model}
}

func (p *cohereRerank) Name() string { return "cohere" }

func (p *cohereRerank) Rerank(ctx context.Context, req embed.RerankRequest) (embed.RerankResponse, error) {
	body, _ := json.Marshal(map[string]any{
		"model":     p.model,
		"query":     req.Query,
		"documents": req.Documents,
		"top_n":     req.TopN,
	})
	return doRerankRequest(ctx, p.client, p.baseURL+"/rerank", body, p.model)
}

// pineconeCompatibleRerank targets Pinecone's rerank endpoint and any
// endpoint implementing the same wire shape (PRX_RERANK_PROVIDER values
// "pinecone" and "pinecone-compatible" share this adapter; only the base
// URL and API version header differ).
type pineconeCompatibleRerank struct {
	client     *http.Client
	endpoint   string
	model      string
	apiVersion string
}

func NewPineconeCompatibleRerank(endpoint, apiKey, model, apiVersion string, timeout time.Duration) embed.RerankProvider {
	return &pineconeCompatibleRerank{
		client:     buildHTTPClient(timeout, apiKey),
		endpoint:   endpoint,
		model:      model,
		apiVersion: apiVersion,
	}
}

func (p *pineconeCompatibleRerank) Name() string { return "pinecone-compatible" }

func (p *pineconeCompatibleRerank) Rerank(ctx context.Context, req embed.RerankRequest) (embed.RerankResponse, error) {
	body, _ := json.Marshal(map[string]any{
		"model":     p.model,
		"query":     req.Query,
		"documents": req.Documents,
		"top_n":     req.TopN,
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return embed.RerankResponse{}, &embed.ProviderError{Kind: embed.ErrKindConfig, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiVersion != "" {
		httpReq.Header.Set("X-Pinecone-API-Version", p.apiVersion)
	}
	return sendRerankRequest(p.client, httpReq, p.model)
}

func doRerankRequest(ctx context.Context, client *http.Client, url string, body []byte, model string) (embed.RerankResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return embed.RerankResponse{}, &embed.ProviderError{Kind: embed.ErrKindConfig, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return sendRerankRequest(client, httpReq, model)
}

func sendRerankRequest(client *http.Client, httpReq *http.Request, model string) (embed.RerankResponse, error) {
	resp, err := client.Do(httpReq)
	if err != nil {
		return embed.RerankResponse{}, &embed.ProviderError{Kind: embed.ErrKindHTTP, Message: err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return embed.RerankResponse{}, &embed.ProviderError{Kind: embed.ErrKindAPI, Status: resp.StatusCode, Message: string(raw)}
	}
	var parsed struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
			Score          float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return embed.RerankResponse{}, &embed.ProviderError{Kind: embed.ErrKindSerialization, Message: err.Error()}
	}
	items := make([]embed.RerankItem, len(parsed.Results))
	for i, r := range parsed.Results {
		score := r.RelevanceScore
		if score == 0 {
			score = r.Score
		}
		items[i] = embed.RerankItem{Index: r.Index, Score: score}
	}
	return embed.RerankResponse{Items: items, Model: model}, nil
}
