// Package llm implements the chat-completion client used to generate the
// final answer. The endpoint speaks the OpenAI chat completions protocol,
// typically served locally by LM Studio.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/draa-ai/draa/internal/core"
	"github.com/draa-ai/draa/internal/logger"
)

const (
	// DefaultTimeout bounds the single long-blocking call in the query path.
	DefaultTimeout = 30 * time.Second

	temperature = 0.7
	maxTokens   = 500
)

// Fallback responses shown to the user when the model cannot answer. These
// are returned alongside the matching sentinel error so the caller can log
// the query as failed while still replying with something useful.
const (
	TimeoutFallback    = "Timeout: the language model took too long to respond. Try a shorter prompt."
	ConnectionFallback = "Connection error: make sure the model server is running and the model is loaded."
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a request to the chat completion API.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

// ChatResponse represents the subset of the completion response we read.
type ChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Config holds the client's connection settings.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client is an http-backed core.LLMService.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a chat completion client. Zero-value config fields fall
// back to the local LM Studio defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:1234/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Complete sends the assembled prompt as a single user message and returns
// the model's reply. Timeout and connection failures return an explanatory
// fallback string together with the matching sentinel error; they are never
// surfaced as raw transport errors.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := ChatRequest{
		Model:       c.model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logger.Debug("Sending completion request to %s (model=%s, prompt=%d chars)", url, c.model, len(prompt))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			logger.Warn("Completion request timed out: %v", err)
			return TimeoutFallback, core.ErrLLMTimeout
		}
		logger.Warn("Completion request failed: %v", err)
		return ConnectionFallback, fmt.Errorf("%w: %v", core.ErrLLMConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ConnectionFallback, fmt.Errorf("%w: failed to read response body: %v", core.ErrLLMConnection, err)
	}

	if resp.StatusCode != http.StatusOK {
		logger.Warn("Completion endpoint returned status %d: %s", resp.StatusCode, string(body))
		return ConnectionFallback, fmt.Errorf("%w: status %d", core.ErrLLMConnection, resp.StatusCode)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return ConnectionFallback, fmt.Errorf("%w: failed to decode response: %v", core.ErrLLMConnection, err)
	}
	if len(chatResp.Choices) == 0 {
		return ConnectionFallback, fmt.Errorf("%w: response contained no choices", core.ErrLLMConnection)
	}

	return chatResp.Choices[0].Message.Content, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ core.LLMService = (*Client)(nil)
