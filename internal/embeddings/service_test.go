package embeddings_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fyrsmithlabs/crystald/internal/embeddings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTEIServer returns a fake TEI endpoint producing fixed-size vectors.
func newTEIServer(t *testing.T, vectorSize int) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embed", r.URL.Path)

		var req struct {
			Inputs interface{} `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		count := 1
		if list, ok := req.Inputs.([]interface{}); ok {
			count = len(list)
		}

		vectors := make([][]float32, count)
		for i := range vectors {
			vectors[i] = make([]float32, vectorSize)
			vectors[i][0] = float32(i + 1)
		}
		require.NoError(t, json.NewEncoder(w).Encode(vectors))
	}))
}

func newTestService(t *testing.T, baseURL string) *embeddings.Service {
	t.Helper()

	svc, err := embeddings.NewService(embeddings.Config{
		BaseURL: baseURL,
		Model:   "BAAI/bge-small-en-v1.5",
	}, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresBaseURL(t *testing.T) {
	_, err := embeddings.NewService(embeddings.Config{}, zap.NewNop())
	assert.ErrorIs(t, err, embeddings.ErrInvalidConfig)
}

func TestEmbedDocuments(t *testing.T) {
	srv := newTEIServer(t, 4)
	defer srv.Close()

	svc := newTestService(t, srv.URL)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"first chunk", "second chunk"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 4)
	assert.Len(t, vectors[1], 4)
}

func TestEmbedDocuments_SkipsBlankInputs(t *testing.T) {
	srv := newTEIServer(t, 4)
	defer srv.Close()

	svc := newTestService(t, srv.URL)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"real text", "   ", ""})
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
}

func TestEmbedDocuments_AllBlank(t *testing.T) {
	srv := newTEIServer(t, 4)
	defer srv.Close()

	svc := newTestService(t, srv.URL)

	_, err := svc.EmbedDocuments(context.Background(), []string{"", "  "})
	assert.ErrorIs(t, err, embeddings.ErrEmptyInput)
}

func TestEmbedQuery(t *testing.T) {
	srv := newTEIServer(t, 8)
	defer srv.Close()

	svc := newTestService(t, srv.URL)

	vec, err := svc.EmbedQuery(context.Background(), "what happened in Germany?")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestEmbedQuery_BlankQuery(t *testing.T) {
	srv := newTEIServer(t, 8)
	defer srv.Close()

	svc := newTestService(t, srv.URL)

	_, err := svc.EmbedQuery(context.Background(), "   ")
	assert.ErrorIs(t, err, embeddings.ErrEmptyInput)
}

func TestEmbed_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL)

	_, err := svc.EmbedQuery(context.Background(), "query")
	assert.ErrorIs(t, err, embeddings.ErrEmbeddingFailed)
}
