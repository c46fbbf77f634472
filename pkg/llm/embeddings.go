package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// EmbeddingClient turns text into vectors suitable for similarity search.
type EmbeddingClient interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// NewEmbeddingClient builds a client for the configured provider. Supported
// providers are "openai" (the default, covers any OpenAI-compatible API) and
// "ollama".
func NewEmbeddingClient(cfg Config) (EmbeddingClient, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}

	httpClient := &http.Client{Timeout: 120 * time.Second}
	baseURL := strings.TrimRight(cfg.APIURL, "/")

	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		if baseURL == "" {
			return nil, errors.New("ollama embedding provider requires an API URL")
		}
		return &ollamaEmbedder{client: httpClient, baseURL: baseURL, model: cfg.Model}, nil
	case "openai", "":
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return &openaiEmbedder{client: httpClient, baseURL: baseURL, apiKey: cfg.APIKey, model: cfg.Model}, nil
	default:
		return nil, fmt.Errorf("embedding provider %q is not supported", cfg.Provider)
	}
}

// ProbeEmbeddingDimensions makes a single embedding call and returns the
// vector length, so startup can size the pgvector column check without a
// hardcoded model-to-dimension table.
func ProbeEmbeddingDimensions(ctx context.Context, client EmbeddingClient) (int, error) {
	vecs, err := client.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, fmt.Errorf("probe embedding dimensions: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, errors.New("probe returned empty embedding")
	}
	return len(vecs[0]), nil
}

type openaiEmbedder struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

func (e *openaiEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, errors.New("inputs are required")
	}

	body := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: e.model, Input: inputs}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := postJSON(ctx, e.client, e.baseURL+"/embeddings", e.apiKey, body, &out); err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(out.Data) != len(inputs) {
		return nil, fmt.Errorf("openai embed: got %d embeddings for %d inputs", len(out.Data), len(inputs))
	}

	vectors := make([][]float32, len(out.Data))
	for i, entry := range out.Data {
		vectors[i] = entry.Embedding
	}
	return vectors, nil
}

// ollamaEmbedder embeds one prompt per request; the /api/embeddings endpoint
// takes no batch input.
type ollamaEmbedder struct {
	client  *http.Client
	baseURL string
	model   string
}

func (e *ollamaEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, errors.New("inputs are required")
	}

	vectors := make([][]float32, 0, len(inputs))
	for _, input := range inputs {
		body := struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}{Model: e.model, Prompt: input}

		var out struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := postJSON(ctx, e.client, e.baseURL+"/api/embeddings", "", body, &out); err != nil {
			return nil, fmt.Errorf("ollama embed: %w", err)
		}
		vectors = append(vectors, out.Embedding)
	}
	return vectors, nil
}

// postJSON posts a JSON body and decodes a JSON response, retrying transient
// failures via doWithRetry.
func postJSON(ctx context.Context, client *http.Client, endpoint, apiKey string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := doWithRetry(ctx, client, func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if reqErr != nil {
			return nil, fmt.Errorf("create request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
