package embedproviders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openprx/prx-memory/pkg/embed"
)

// openAICompatible talks to any embeddings endpoint implementing the
// OpenAI `/v1/embeddings` wire shape (used directly by OpenAI and by a
// wide set of self-hosted/compatible servers).
type openAICompatible struct {
	client  *http.Client
	baseURL string
	model   string
}

// NewOpenAICompatible builds an EmbeddingProvider against baseURL (e.g.
// "https://api.openai.com/v1") using apiKey as a bearer token.
func NewOpenAICompatible(baseURL, apiKey, model string, timeout time.Duration) embed.EmbeddingProvider {
	return &openAICompatible{
		client:  buildHTTPClient(timeout, apiKey),
		baseURL: baseURL,
		model:   model,
	}
}

func (p *openAICompatible) Name() string { return "openai-compatible" }

func (p *openAICompatible) Embed(ctx context.Context, req embed.EmbedRequest) (embed.EmbedResponse, error) {
	body, _ := json.Marshal(map[string]any{
		"model": p.model,
		"input": req.Inputs,
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return embed.EmbedResponse{}, &embed.ProviderError{Kind: embed.ErrKindConfig, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return embed.EmbedResponse{}, &embed.ProviderError{Kind: embed.ErrKindHTTP, Message: err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return embed.EmbedResponse{}, &embed.ProviderError{Kind: embed.ErrKindAPI, Status: resp.StatusCode, Message: string(raw)}
	}
	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return embed.EmbedResponse{}, &embed.ProviderError{Kind: embed.ErrKindSerialization, Message: err.Error()}
	}
	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vectors[i] = d.Embedding
	}
	return embed.EmbedResponse{Vectors: vectors, UsageTokens: parsed.Usage.TotalTokens}, nil
}

// jinaEmbed talks to Jina AI's embeddings endpoint, which additionally
// accepts a "task" hint distinguishing query vs passage embeddings.
type jinaEmbed struct {
	client  *http.Client
	baseURL string
	model   string
}

func NewJinaEmbed(baseURL, apiKey, model string, timeout time.Duration) embed.EmbeddingProvider {
	if baseURL == "" {
		baseURL = "https://api.jina.ai/v1"
	}
	return &jinaEmbed{client: buildHTTPClient(timeout, apiKey), baseURL: baseURL, model: model}
}

func (p *jinaEmbed) Name() string { return "jina" }

func (p *jinaEmbed) Embed(ctx context.Context, req embed.EmbedRequest) (embed.EmbedResponse, error) {
	body, _ := json.Marshal(map[string]any{
		"model":          p.model,
		"input":          req.Inputs,
		"task":           req.Task.String(),
		"normalized":     req.Normalized,
		"embedding_type": "float",
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return embed.EmbedResponse{}, &embed.ProviderError{Kind: embed.ErrKindConfig, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return embed.EmbedResponse{}, &embed.ProviderError{Kind: embed.ErrKindHTTP, Message: err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return embed.EmbedResponse{}, &embed.ProviderError{Kind: embed.ErrKindAPI, Status: resp.StatusCode, Message: string(raw)}
	}
	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return embed.EmbedResponse{}, &embed.ProviderError{Kind: embed.ErrKindSerialization, Message: err.Error()}
	}
	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vectors[i] = d.Embedding
	}
	return embed.EmbedResponse{Vectors: vectors}, nil
}

// geminiEmbed talks to Google's generative-language embedding endpoint.
type geminiEmbed struct {
	client  *http.Client
	baseURL string
	model   string
	apiKey  string
}

func NewGeminiEmbed(baseURL, apiKey, model string, timeout time.Duration) embed.EmbeddingProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &geminiEmbed{client: buildHTTPClient(timeout, ""), baseURL: baseURL, model: model, apiKey: apiKey}
}

func (p *geminiEmbed) Name() string { return "gemini" }

func (p *geminiEmbed) Embed(ctx context.Context, req embed.EmbedRequest) (embed.EmbedResponse, error) {
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		body, _ := json.Marshal(map[string]any{
			"model":   "models/" + p.model,
			"content": map[string]any{"parts": []map[string]string{{"text": input}}},
		})
		url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", p.baseURL, p.model, p.apiKey)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return embed.EmbedResponse{}, &embed.ProviderError{Kind: embed.ErrKindConfig, Message: err.Error()}
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := p.client.Do(httpReq)
		if err != nil {
			return embed.EmbedResponse{}, &embed.ProviderError{Kind: embed.ErrKindHTTP, Message: err.Error()}
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return embed.EmbedResponse{}, &embed.ProviderError{Kind: embed.ErrKindAPI, Status: resp.StatusCode, Message: string(raw)}
		}
		var parsed struct {
			Embedding struct {
				Values []float32 `json:"values"`
			} `json:"embedding"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return embed.EmbedResponse{}, &embed.ProviderError{Kind: embed.ErrKindSerialization, Message: err.Error()}
		}
		vectors = append(vectors, parsed.Embedding.Values)
	}
	return embed.EmbedResponse{Vectors: vectors}, nil
}
