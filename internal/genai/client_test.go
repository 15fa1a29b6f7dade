package genai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/fyrsmithlabs/crystald/internal/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chatHandler(t *testing.T, answer string) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": answer}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

func newTestClient(t *testing.T, baseURL string) *genai.Client {
	t.Helper()

	client, err := genai.NewClient(genai.Config{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := genai.NewClient(genai.Config{}, zap.NewNop())
	assert.ErrorIs(t, err, genai.ErrInvalidConfig)
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, "The mission concluded successfully."))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	answer, err := client.Complete(context.Background(), "summarize the report")
	require.NoError(t, err)
	assert.Equal(t, "The mission concluded successfully.", answer)
}

func TestComplete_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		chatHandler(t, "recovered")(w, r)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	answer, err := client.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)
	assert.Equal(t, int32(2), calls.Load())
}

func TestComplete_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "bad prompt"},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, genai.ErrGenerationFailed)
	assert.Contains(t, err.Error(), "bad prompt")
	assert.Equal(t, int32(1), calls.Load())
}

func TestModel(t *testing.T) {
	client := newTestClient(t, "http://localhost:0")
	assert.Equal(t, "gpt-4o-mini", client.Model())
}
