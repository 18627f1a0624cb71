// Package embed provides an OpenAI-compatible embeddings client.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/draa-ai/draa/internal/core"
	"github.com/draa-ai/draa/internal/logger"
)

// DefaultDimension matches paraphrase-multilingual-MiniLM-L12-v2, the
// model the corpus was originally embedded with.
const DefaultDimension = 384

// Client calls an OpenAI-compatible /v1/embeddings endpoint. It holds no
// mutable state beyond the HTTP client, so it is safe for concurrent use
// from ingestion and query flows.
type Client struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

// Config configures the embeddings client.
type Config struct {
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// NewClient creates an embeddings client with the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:1234/v1"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimension
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Dimensions returns the fixed embedding dimension.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Embed generates a vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates one vector per input text, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}{Input: texts, Model: c.model}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embeddings request: %w", err)
	}

	url := c.baseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embeddings request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode embeddings response: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(out.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range out.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embeddings response index %d out of range", item.Index)
		}
		if len(item.Embedding) != c.dimensions {
			return nil, fmt.Errorf("embedding dimension %d does not match configured %d", len(item.Embedding), c.dimensions)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embeddings response missing vector for input %d", i)
		}
	}

	logger.Debug("Embedded %d texts (dim=%d)", len(texts), c.dimensions)
	return vectors, nil
}

var _ core.EmbedService = (*Client)(nil)
