package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	embeddingsEndpoint    = "https://api.openai.com/v1/embeddings"
	defaultEmbeddingModel = "text-embedding-3-small"
	embedRequestTimeout   = 15 * time.Second
)

// OpenAIClient calls the OpenAI embeddings API. The model is chosen at
// construction so the vector store's canary probe and every Embed call
// use the same one.
type OpenAIClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIClient builds a client for the given model. An empty model
// selects the default.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: embedRequestTimeout},
	}
}

// Model reports which embedding model this client targets.
func (c *OpenAIClient) Model() string {
	return c.model
}

type embedPayload struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResult struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedPayload{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, embeddingsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", c.model, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	var result embedResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("embeddings API status %d: unparseable body", resp.StatusCode)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embeddings API: %s", result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings API status %d", resp.StatusCode)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embeddings API returned no vectors")
	}
	return result.Data[0].Embedding, nil
}
