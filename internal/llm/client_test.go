package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draa-ai/draa/internal/core"
)

func TestCompleteReturnsFirstChoice(t *testing.T) {
	var captured ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "the answer"}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/v1", Model: "test-model"})
	got, err := client.Complete(context.Background(), "the prompt")
	require.NoError(t, err)
	assert.Equal(t, "the answer", got)

	assert.Equal(t, "test-model", captured.Model)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
	assert.Equal(t, "the prompt", captured.Messages[0].Content)
	assert.Equal(t, 0.7, captured.Temperature)
	assert.Equal(t, 500, captured.MaxTokens)
	assert.False(t, captured.Stream)
}

func TestCompleteTimeoutReturnsFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/v1", Model: "m", Timeout: 20 * time.Millisecond})
	got, err := client.Complete(context.Background(), "slow prompt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrLLMTimeout))
	assert.Equal(t, TimeoutFallback, got)
}

func TestCompleteConnectionRefusedReturnsFallback(t *testing.T) {
	// Point at a server that has already been shut down.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(Config{BaseURL: url + "/v1", Model: "m"})
	got, err := client.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrLLMConnection))
	assert.Equal(t, ConnectionFallback, got)
}

func TestCompleteServerErrorReturnsFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/v1", Model: "m"})
	got, err := client.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrLLMConnection))
	assert.Equal(t, ConnectionFallback, got)
}

func TestCompleteNoChoicesReturnsFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/v1", Model: "m"})
	_, err := client.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrLLMConnection))
}
