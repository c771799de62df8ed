package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const DefaultEmbeddingModel = "text-embedding-ada-002"

// EmbeddingsClient talks to an OpenAI-compatible /embeddings endpoint.
type EmbeddingsClient struct {
	baseClient
	model      string
	maxRetries int
}

func NewEmbeddingsClient(cfg Config, model string, opts ...Option) (*EmbeddingsClient, error) {
	base, err := newBaseClient(cfg, opts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultEmbeddingModel
	}
	return &EmbeddingsClient{baseClient: base, model: model, maxRetries: 2}, nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector of a single text.
func (c *EmbeddingsClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds several texts in one request, retrying on throttling and
// server errors. Vectors are returned in input order.
func (c *EmbeddingsClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("embed: no input")
	}
	body, err := json.Marshal(embeddingsRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal embeddings request: %v", ErrModelInvocation, err)
	}
	url := endpointURL(c.baseURL, "/embeddings")

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, retryDelay(attempt-1)); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrModelInvocation, err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: build embeddings request: %v", ErrModelInvocation, err)
		}
		raw, err := c.doJSONRequest(req, url)
		if err != nil {
			lastErr = err
			if retryable(ctx, err) {
				continue
			}
			break
		}
		return decodeEmbeddings(raw, len(texts))
	}
	return nil, fmt.Errorf("%w: embeddings: %w", ErrModelInvocation, lastErr)
}

func decodeEmbeddings(raw []byte, want int) ([][]float32, error) {
	var decoded embeddingsResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode embeddings: %v", ErrModelInvocation, err)
	}
	if len(decoded.Data) != want {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrModelInvocation, want, len(decoded.Data))
	}
	out := make([][]float32, want)
	for i, item := range decoded.Data {
		idx := item.Index
		if idx < 0 || idx >= want || out[idx] != nil {
			idx = i
		}
		if len(item.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrModelInvocation, i)
		}
		out[idx] = item.Embedding
	}
	return out, nil
}
