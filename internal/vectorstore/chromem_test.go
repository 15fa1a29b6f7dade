package vectorstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/crystald/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testVectorSize = 8

// makeEmbedding creates a deterministic normalized vector from text.
func makeEmbedding(text string) []float32 {
	embedding := make([]float32, testVectorSize)
	hash := 0
	for _, c := range text {
		hash = (hash*31 + int(c)) % 1000
	}
	var sumSq float32
	for i := range embedding {
		embedding[i] = float32((hash+i)%100) / 100.0
		sumSq += embedding[i] * embedding[i]
	}
	if sumSq > 0 {
		norm := float32(1.0) / sqrt32(sumSq)
		for i := range embedding {
			embedding[i] *= norm
		}
	}
	return embedding
}

func sqrt32(x float32) float32 {
	if x <= 0 {
		return 0
	}
	z := x / 2
	for i := 0; i < 10; i++ {
		z = (z + x/z) / 2
	}
	return z
}

func newTestIndex(t *testing.T) *vectorstore.ChromemIndex {
	t.Helper()

	config := vectorstore.ChromemConfig{
		Path:       t.TempDir(),
		Collection: "test_chunks",
		VectorSize: testVectorSize,
	}

	idx, err := vectorstore.NewChromemIndex(config, zap.NewNop())
	require.NoError(t, err)
	return idx
}

func testMeta(pageID, category string, ordinal int) vectorstore.ChunkMetadata {
	return vectorstore.ChunkMetadata{
		PageID:     pageID,
		ChunkIndex: ordinal,
		Title:      "Test Page",
		Category:   category,
		IndexedAt:  time.Now(),
	}
}

func addPage(t *testing.T, idx *vectorstore.ChromemIndex, pageID, category string, chunks []string) {
	t.Helper()

	embeddings := make([][]float32, len(chunks))
	meta := make([]vectorstore.ChunkMetadata, len(chunks))
	for i, c := range chunks {
		embeddings[i] = makeEmbedding(c)
		meta[i] = testMeta(pageID, category, i)
	}
	require.NoError(t, idx.AddChunks(context.Background(), pageID, chunks, embeddings, meta))
}

func TestChromemIndex_AddAndSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	addPage(t, idx, "page-1", "agent", []string{
		"mission briefing for berlin operation",
		"extraction route through checkpoint charlie",
	})

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	hits, err := idx.Search(ctx, makeEmbedding("mission briefing for berlin operation"), 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	top := hits[0]
	assert.Equal(t, "page-1_chunk_0", top.ID)
	assert.Equal(t, "page-1", top.Metadata.PageID)
	assert.Equal(t, "agent", top.Metadata.Category)
	assert.GreaterOrEqual(t, top.Similarity, float32(0))
	assert.LessOrEqual(t, top.Similarity, float32(1))
}

func TestChromemIndex_AddChunks_CountMismatch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	chunks := []string{"one", "two"}
	embeddings := [][]float32{makeEmbedding("one")}
	meta := []vectorstore.ChunkMetadata{testMeta("page-1", "agent", 0), testMeta("page-1", "agent", 1)}

	err := idx.AddChunks(ctx, "page-1", chunks, embeddings, meta)
	require.ErrorIs(t, err, vectorstore.ErrCountMismatch)

	// Nothing may be written for the page after a rejected batch.
	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestChromemIndex_AddChunks_DimensionMismatch(t *testing.T) {
	idx := newTestIndex(t)

	err := idx.AddChunks(context.Background(), "page-1",
		[]string{"one"},
		[][]float32{{0.5, 0.5}},
		[]vectorstore.ChunkMetadata{testMeta("page-1", "agent", 0)},
	)
	require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestChromemIndex_AddChunks_EmptyBatch(t *testing.T) {
	idx := newTestIndex(t)

	err := idx.AddChunks(context.Background(), "page-1", nil, nil, nil)
	require.ErrorIs(t, err, vectorstore.ErrEmptyChunks)
}

func TestChromemIndex_CategoryFilterIsolation(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	addPage(t, idx, "mission-1", "agent", []string{"covert infiltration procedure"})
	addPage(t, idx, "manual-1", "technician", []string{"cctv camera installation guide"})

	hits, err := idx.Search(ctx, makeEmbedding("cctv camera installation guide"), 10,
		&vectorstore.Filter{Category: "agent"})
	require.NoError(t, err)

	for _, h := range hits {
		assert.Equal(t, "agent", h.Metadata.Category,
			"chunk %s leaked across the category boundary", h.ID)
	}
}

func TestChromemIndex_CountryFilter(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	embeddings := [][]float32{makeEmbedding("germany operation notes")}
	meta := []vectorstore.ChunkMetadata{{
		PageID:     "page-de",
		ChunkIndex: 0,
		Title:      "Germany Notes",
		Category:   "agent",
		Country:    "Germany",
		IndexedAt:  time.Now(),
	}}
	require.NoError(t, idx.AddChunks(ctx, "page-de", []string{"germany operation notes"}, embeddings, meta))

	addPage(t, idx, "page-fr", "agent", []string{"france operation notes"})

	hits, err := idx.Search(ctx, makeEmbedding("operation notes"), 10,
		&vectorstore.Filter{Category: "agent", Country: "Germany"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "page-de", hits[0].Metadata.PageID)
}

func TestChromemIndex_Search_EmptyIndex(t *testing.T) {
	idx := newTestIndex(t)

	hits, err := idx.Search(context.Background(), makeEmbedding("anything"), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromemIndex_Search_LimitCappedAtCount(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	addPage(t, idx, "page-1", "agent", []string{"only one chunk"})

	hits, err := idx.Search(ctx, makeEmbedding("only one chunk"), 50, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestChromemIndex_DeleteByPage(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	addPage(t, idx, "page-1", "agent", []string{"first chunk", "second chunk"})
	addPage(t, idx, "page-2", "agent", []string{"unrelated chunk"})

	removed, err := idx.DeleteByPage(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Deleting an unindexed page is a no-op.
	removed, err = idx.DeleteByPage(ctx, "page-1")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestChromemIndex_ReindexReplacesChunks(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	addPage(t, idx, "page-1", "agent", []string{"old version chunk one", "old version chunk two", "old version chunk three"})

	removed, err := idx.DeleteByPage(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	addPage(t, idx, "page-1", "agent", []string{"new version single chunk"})

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	hits, err := idx.Search(ctx, makeEmbedding("new version single chunk"), 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new version single chunk", hits[0].Text)
}

func TestChromemIndex_MetadataRoundTrip(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	indexedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	meta := []vectorstore.ChunkMetadata{{
		PageID:     "page-1",
		ChunkIndex: 0,
		Title:      "Berlin Mission",
		Category:   "agent",
		Country:    "Germany",
		Tags:       []string{"mission", "europe"},
		Visibility: "internal",
		Author:     "handler-7",
		MissionID:  "MS-2025-001",
		IndexedAt:  indexedAt,
	}}
	require.NoError(t, idx.AddChunks(ctx, "page-1",
		[]string{"berlin mission details"},
		[][]float32{makeEmbedding("berlin mission details")},
		meta,
	))

	hits, err := idx.Search(ctx, makeEmbedding("berlin mission details"), 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	got := hits[0].Metadata
	assert.Equal(t, "Berlin Mission", got.Title)
	assert.Equal(t, "Germany", got.Country)
	assert.Equal(t, []string{"mission", "europe"}, got.Tags)
	assert.Equal(t, "internal", got.Visibility)
	assert.Equal(t, "handler-7", got.Author)
	assert.Equal(t, "MS-2025-001", got.MissionID)
	assert.True(t, got.IndexedAt.Equal(indexedAt))
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "abc_chunk_0", vectorstore.ChunkID("abc", 0))
	assert.Equal(t, "abc_chunk_12", vectorstore.ChunkID("abc", 12))
}
