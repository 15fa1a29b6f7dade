// Package vectorstore provides chunk-level vector index implementations.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors returned by index implementations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCountMismatch indicates chunks, embeddings, and metadata slices disagree in length.
	ErrCountMismatch = errors.New("chunk/embedding count mismatch")

	// ErrDimensionMismatch indicates an embedding does not match the configured vector size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyChunks indicates no chunks were provided to index.
	ErrEmptyChunks = errors.New("no chunks to index")

	// ErrConnectionFailed indicates the backing store could not be reached.
	ErrConnectionFailed = errors.New("connection to vector store failed")
)

// ChunkMetadata is the metadata snapshot attached to every indexed chunk.
// It is captured at index time and does not track later page edits; a page
// update re-indexes all of its chunks with a fresh snapshot.
type ChunkMetadata struct {
	PageID     string
	ChunkIndex int
	Title      string
	Category   string
	Country    string
	Tags       []string
	Visibility string
	Author     string
	MissionID  string
	IndexedAt  time.Time
}

// ScoredChunk is a single similarity search hit.
type ScoredChunk struct {
	ID         string
	Text       string
	Similarity float32
	Metadata   ChunkMetadata
}

// Filter restricts a search to chunks whose metadata matches every set field.
// Category is the primary isolation boundary and is always set by callers.
type Filter struct {
	Category   string
	Country    string
	Visibility string
}

// Index is the contract all vector index backends implement.
type Index interface {
	// AddChunks indexes the chunks of a single page. chunks, embeddings, and
	// meta must have equal length; on any validation or write failure nothing
	// is left behind for the page.
	AddChunks(ctx context.Context, pageID string, chunks []string, embeddings [][]float32, meta []ChunkMetadata) error

	// Search returns up to limit chunks ranked by similarity, most similar
	// first. An empty index yields an empty slice, not an error.
	Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]ScoredChunk, error)

	// DeleteByPage removes every chunk belonging to pageID and reports how
	// many were removed. Deleting an unindexed page returns 0, nil.
	DeleteByPage(ctx context.Context, pageID string) (int, error)

	// Count returns the total number of indexed chunks.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// ChunkID builds the stable chunk identifier for a page ordinal.
func ChunkID(pageID string, ordinal int) string {
	return fmt.Sprintf("%s_chunk_%d", pageID, ordinal)
}

// clampSimilarity forces a backend score into [0, 1].
func clampSimilarity(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// joinTags flattens a tag list for string-keyed metadata stores.
func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func validateBatch(pageID string, chunks []string, embeddings [][]float32, meta []ChunkMetadata, vectorSize int) error {
	if pageID == "" {
		return fmt.Errorf("%w: page ID is required", ErrInvalidConfig)
	}
	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	if len(chunks) != len(embeddings) || len(chunks) != len(meta) {
		return fmt.Errorf("%w: %d chunks, %d embeddings, %d metadata",
			ErrCountMismatch, len(chunks), len(embeddings), len(meta))
	}
	for i, emb := range embeddings {
		if len(emb) != vectorSize {
			return fmt.Errorf("%w: chunk %d has dimension %d, expected %d",
				ErrDimensionMismatch, i, len(emb), vectorSize)
		}
	}
	return nil
}
