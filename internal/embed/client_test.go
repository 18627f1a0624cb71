package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		out := struct {
			Data []item `json:"data"`
		}{}
		// Return items in reverse order to exercise index-based placement.
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dim)
			vec[0] = float32(i + 1)
			out.Data = append(out.Data, item{Index: i, Embedding: vec})
		}
		json.NewEncoder(w).Encode(out)
	}))
}

func TestEmbedBatchPreservesInputOrder(t *testing.T) {
	srv := newTestServer(t, 4)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "test-model", Dimensions: 4})
	vectors, err := c.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[1][0])
	assert.Equal(t, float32(3), vectors[2][0])
}

func TestEmbedSingle(t *testing.T) {
	srv := newTestServer(t, 8)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Dimensions: 8})
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestEmbedBatchRejectsWrongDimension(t *testing.T) {
	srv := newTestServer(t, 4)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Dimensions: 16})
	_, err := c.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	c := NewClient(Config{Dimensions: 4})
	vectors, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedBatchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Dimensions: 4})
	_, err := c.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
