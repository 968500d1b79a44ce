package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/poiesic/kbsync/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbeddingServer answers /v1/embeddings with one 3-dim vector per input.
func fakeEmbeddingServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func embeddingsHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input []string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	type item struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	}
	data := make([]item, len(req.Input))
	for i := range req.Input {
		data[i] = item{Object: "embedding", Index: i, Embedding: []float32{float32(i), 1, 0}}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   data,
		"model":  "test",
		"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
	})
}

func newTestEmbedder(t *testing.T, url string, timeout time.Duration) ai.Embedder {
	t.Helper()
	e, err := NewEmbedder(ai.NewConfig(
		ai.WithEmbeddingHost(url),
		ai.WithEmbeddingModel("test"),
		ai.WithRequestTimeout(timeout),
	))
	require.NoError(t, err)
	return e
}

func TestEmbedTexts_PreservesOrder(t *testing.T) {
	srv := fakeEmbeddingServer(t, embeddingsHandler)
	e := newTestEmbedder(t, srv.URL, time.Second)

	vectors, err := e.EmbedTexts(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for i, v := range vectors {
		assert.Equal(t, float32(i), v[0])
	}
}

func TestEmbedTexts_Empty(t *testing.T) {
	e := newTestEmbedder(t, "http://127.0.0.1:9", time.Second)
	vectors, err := e.EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestEmbedTexts_ServerError(t *testing.T) {
	srv := fakeEmbeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	})
	e := newTestEmbedder(t, srv.URL, time.Second)

	_, err := e.EmbedTexts(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrProviderUnavailable)
}

func TestEmbedTexts_Unreachable(t *testing.T) {
	e := newTestEmbedder(t, "http://127.0.0.1:9", time.Second)

	_, err := e.EmbedTexts(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, ai.IsRetryable(err))
}

func TestEmbedTexts_Timeout(t *testing.T) {
	srv := fakeEmbeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	e := newTestEmbedder(t, srv.URL, 50*time.Millisecond)

	_, err := e.EmbedTexts(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrProviderTimeout)
	assert.True(t, ai.IsRetryable(err))
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ai.NewConfig(ai.WithEmbeddingModel("nomic-embed-text")))
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "nomic-embed-text", p.ModelID())
	assert.NotNil(t, p.Embedder())

	_, err = NewProvider(ai.NewConfig(ai.WithEmbeddingModel("")))
	assert.Error(t, err)
}
