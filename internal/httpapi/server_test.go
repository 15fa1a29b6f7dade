package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crystald/internal/knowledge"
	"github.com/fyrsmithlabs/crystald/internal/pagestore"
	"github.com/fyrsmithlabs/crystald/internal/segment"
	"github.com/fyrsmithlabs/crystald/internal/vectorstore"
)

const testVectorSize = 8

type stubEmbedder struct{}

func embedText(text string) []float32 {
	vec := make([]float32, testVectorSize)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := 0
		for _, c := range strings.Trim(w, ".,!?") {
			h = h*31 + int(c)
		}
		vec[((h%testVectorSize)+testVectorSize)%testVectorSize]++
	}
	var sumSq float32
	for _, v := range vec {
		sumSq += v * v
	}
	if sumSq > 0 {
		norm := float32(1.0)
		for i := 0; i < 12; i++ {
			norm = (norm + sumSq/norm) / 2
		}
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func (stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

func (stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return embedText(text), nil
}

type stubGenerator struct{}

func (stubGenerator) Complete(_ context.Context, prompt string) (string, error) {
	if strings.HasPrefix(prompt, "Summarize") {
		return "Summary of the document.", nil
	}
	if strings.Contains(prompt, "Points:") {
		return "- relevant point one\n- relevant point two\n- relevant point three", nil
	}
	return "Grounded answer.", nil
}

func (stubGenerator) Model() string { return "test-model" }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	index, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{
		Path:       t.TempDir(),
		Collection: "test_chunks",
		VectorSize: testVectorSize,
	}, zap.NewNop())
	require.NoError(t, err)

	store := pagestore.NewMemoryStore()
	seg := segment.New(20, 10)
	pages := knowledge.NewPageService(store, index, stubEmbedder{}, seg, zap.NewNop())
	search := knowledge.NewSearchService(store, index, stubEmbedder{}, stubGenerator{}, zap.NewNop())
	chat := knowledge.NewChatService(search, stubGenerator{}, zap.NewNop())

	server, err := NewServer(pages, search, chat, zap.NewNop(), nil)
	require.NoError(t, err)
	return server
}

func doJSON(t *testing.T, server *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	return rec
}

func createTestPage(t *testing.T, server *Server, category string) string {
	t.Helper()

	rec := doJSON(t, server, http.MethodPost, "/api/v1/pages", PageRequest{
		Title:      "Germany Mission Report",
		Content:    "Mission in Germany completed successfully. The Berlin operation recovered the files. Extraction went through the northern route without incident.",
		Category:   category,
		Country:    "Germany",
		Tags:       []string{"mission"},
		Visibility: "private",
		MissionID:  "MS-2025-001",
		Author:     "handler-7",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp PageCreateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.PageID)
	require.Greater(t, resp.ChunksCreated, 0)
	return resp.PageID
}

func TestNewServer_Validation(t *testing.T) {
	server := newTestServer(t)
	assert.NotNil(t, server.echo)
	assert.Equal(t, 8080, server.config.Port)

	_, err := NewServer(nil, nil, nil, zap.NewNop(), nil)
	assert.Error(t, err)

	_, err = NewServer(server.pages, server.search, server.chat, nil, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logger is required")
}

func TestHandleHealth(t *testing.T) {
	server := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPageLifecycle(t *testing.T) {
	server := newTestServer(t)
	id := createTestPage(t, server, "agent")

	rec := doJSON(t, server, http.MethodGet, "/api/v1/pages/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page PageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, "Germany Mission Report", page.Title)
	assert.Equal(t, "indexed", page.Status)
	assert.Greater(t, page.ChunkCount, 0)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/pages?category=agent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list PageListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	newTitle := "Revised Report"
	rec = doJSON(t, server, http.MethodPut, "/api/v1/pages/"+id, PageUpdateRequest{Title: &newTitle})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, "Revised Report", page.Title)

	rec = doJSON(t, server, http.MethodDelete, "/api/v1/pages/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var del PageDeleteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &del))
	assert.Greater(t, del.ChunksRemoved, 0)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/pages/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatePage_Errors(t *testing.T) {
	server := newTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/pages", PageRequest{
		Title: "x", Content: "y", Category: "janitor",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, server, http.MethodPost, "/api/v1/pages", PageRequest{
		Content: "y", Category: "agent",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePage_CategoryImmutable(t *testing.T) {
	server := newTestServer(t)
	id := createTestPage(t, server, "agent")

	tech := "technician"
	rec := doJSON(t, server, http.MethodPut, "/api/v1/pages/"+id, PageUpdateRequest{Category: &tech})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "category")
}

func TestHandleSearch(t *testing.T) {
	server := newTestServer(t)
	id := createTestPage(t, server, "agent")

	rec := doJSON(t, server, http.MethodGet, "/api/v1/search?query=mission+in+Germany&category=agent", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, id, resp.Results[0].PageID)

	// Filtered to the other category the same query finds nothing.
	rec = doJSON(t, server, http.MethodGet, "/api/v1/search?query=mission+in+Germany&category=technician", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Total)
	assert.NotNil(t, resp.Results)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/search?query=mission&category=janitor", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/search?query=mission&category=agent&limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChat(t *testing.T) {
	server := newTestServer(t)
	id := createTestPage(t, server, "agent")

	rec := doJSON(t, server, http.MethodPost, "/api/v1/chat", ChatRequest{
		Query: "What operations happened in Germany?",
		Role:  "agent",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp knowledge.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Grounded answer.", resp.Answer)
	require.NotEmpty(t, resp.MatchedDocuments)
	assert.Equal(t, id, resp.MatchedDocuments[0].PageID)
	assert.Equal(t, "test-model", resp.ModelUsed)

	rec = doJSON(t, server, http.MethodPost, "/api/v1/chat", ChatRequest{Query: "hi", Role: "agent"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown role is a descriptive answer, not an error status.
	rec = doJSON(t, server, http.MethodPost, "/api/v1/chat", ChatRequest{
		Query: "valid question", Role: "janitor",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Answer, "janitor")
	assert.Zero(t, resp.Confidence)
}

func TestHandleQuery(t *testing.T) {
	server := newTestServer(t)
	createTestPage(t, server, "agent")

	rec := doJSON(t, server, http.MethodPost, "/api/v1/query", QueryRequest{
		Query:      "operations in Germany",
		Category:   "agent",
		Synthesize: true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp knowledge.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Results)
	assert.Equal(t, "Grounded answer.", resp.Answer)
}

func TestHandleStats(t *testing.T) {
	server := newTestServer(t)
	createTestPage(t, server, "agent")

	rec := doJSON(t, server, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats knowledge.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalPages)
	assert.Equal(t, 1, stats.AgentPages)
	assert.Greater(t, stats.IndexedChunks, 0)
}
