package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("crystald.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go index.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name holding all chunks.
	Collection string

	// VectorSize is the expected embedding dimension.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/crystald/index"
	}
	if c.Collection == "" {
		c.Collection = "knowledge_chunks"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemIndex implements Index on chromem-go, an embeddable pure-Go vector
// database with gob-file persistence. It needs no external service, which
// makes it the default backend.
type ChromemIndex struct {
	db     *chromem.DB
	col    *chromem.Collection
	config ChromemConfig
	logger *zap.Logger
}

var _ Index = (*ChromemIndex)(nil)

// NewChromemIndex opens or creates the persistent index at config.Path.
func NewChromemIndex(config ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	// Embeddings always arrive precomputed, so the embedding func is a guard
	// against accidental text-only inserts rather than a real code path.
	col, err := db.GetOrCreateCollection(config.Collection, nil, rejectTextEmbedding)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", config.Collection, err)
	}

	logger.Info("chromem index initialized",
		zap.String("path", path),
		zap.String("collection", config.Collection),
		zap.Int("vector_size", config.VectorSize),
	)

	return &ChromemIndex{db: db, col: col, config: config, logger: logger}, nil
}

func rejectTextEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("index requires precomputed embeddings")
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// AddChunks indexes the chunks of one page. If the underlying write fails
// partway, any chunks already written for the page are removed so a failed
// index never leaves partial state behind.
func (s *ChromemIndex) AddChunks(ctx context.Context, pageID string, chunks []string, embeddings [][]float32, meta []ChunkMetadata) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.AddChunks")
	defer span.End()

	span.SetAttributes(
		attribute.String("page_id", pageID),
		attribute.Int("chunk_count", len(chunks)),
	)

	if err := validateBatch(pageID, chunks, embeddings, meta, s.config.VectorSize); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, text := range chunks {
		docs[i] = chromem.Document{
			ID:        ChunkID(pageID, i),
			Content:   text,
			Metadata:  metadataToMap(meta[i]),
			Embedding: embeddings[i],
		}
	}

	// Concurrency of 1: embeddings are precomputed, nothing to parallelize.
	if err := s.col.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if _, delErr := s.DeleteByPage(ctx, pageID); delErr != nil {
			s.logger.Error("rollback after failed add",
				zap.String("page_id", pageID),
				zap.Error(delErr),
			)
		}
		return fmt.Errorf("adding chunks for page %s: %w", pageID, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("indexed chunks",
		zap.String("page_id", pageID),
		zap.Int("count", len(docs)),
	)
	return nil
}

// Search returns up to limit chunks ranked by similarity.
func (s *ChromemIndex) Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]ScoredChunk, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Search")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query has dimension %d, expected %d",
			ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}

	// chromem requires nResults <= document count.
	total := s.col.Count()
	if total == 0 {
		return []ScoredChunk{}, nil
	}
	if limit > total {
		limit = total
	}

	where := filterToWhere(filter)

	results, err := s.col.QueryEmbedding(ctx, vector, limit, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	hits := make([]ScoredChunk, len(results))
	for i, r := range results {
		hits[i] = ScoredChunk{
			ID:         r.ID,
			Text:       r.Content,
			Similarity: clampSimilarity(r.Similarity),
			Metadata:   metadataFromMap(r.Metadata),
		}
	}

	span.SetAttributes(attribute.Int("results", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// DeleteByPage removes all chunks of a page. The removed count is derived
// from the collection size before and after, which keeps the operation
// idempotent for pages that were never indexed.
func (s *ChromemIndex) DeleteByPage(ctx context.Context, pageID string) (int, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.DeleteByPage")
	defer span.End()

	span.SetAttributes(attribute.String("page_id", pageID))

	if pageID == "" {
		return 0, fmt.Errorf("%w: page ID is required", ErrInvalidConfig)
	}

	before := s.col.Count()
	if before == 0 {
		return 0, nil
	}

	if err := s.col.Delete(ctx, map[string]string{"page_id": pageID}, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting chunks for page %s: %w", pageID, err)
	}

	removed := before - s.col.Count()
	span.SetAttributes(attribute.Int("removed", removed))
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("removed page chunks",
		zap.String("page_id", pageID),
		zap.Int("count", removed),
	)
	return removed, nil
}

// Count returns the number of indexed chunks.
func (s *ChromemIndex) Count(_ context.Context) (int, error) {
	return s.col.Count(), nil
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemIndex) Close() error {
	return nil
}

func filterToWhere(filter *Filter) map[string]string {
	if filter == nil {
		return nil
	}
	where := make(map[string]string)
	if filter.Category != "" {
		where["category"] = filter.Category
	}
	if filter.Country != "" {
		where["country"] = filter.Country
	}
	if filter.Visibility != "" {
		where["visibility"] = filter.Visibility
	}
	if len(where) == 0 {
		return nil
	}
	return where
}

func metadataToMap(m ChunkMetadata) map[string]string {
	out := map[string]string{
		"page_id":     m.PageID,
		"chunk_index": strconv.Itoa(m.ChunkIndex),
		"title":       m.Title,
		"category":    m.Category,
		"indexed_at":  m.IndexedAt.UTC().Format(time.RFC3339),
	}
	if m.Country != "" {
		out["country"] = m.Country
	}
	if m.Visibility != "" {
		out["visibility"] = m.Visibility
	}
	if m.Author != "" {
		out["author"] = m.Author
	}
	if m.MissionID != "" {
		out["mission_id"] = m.MissionID
	}
	if len(m.Tags) > 0 {
		out["tags"] = joinTags(m.Tags)
	}
	return out
}

func metadataFromMap(raw map[string]string) ChunkMetadata {
	idx, _ := strconv.Atoi(raw["chunk_index"])
	indexedAt, _ := time.Parse(time.RFC3339, raw["indexed_at"])
	return ChunkMetadata{
		PageID:     raw["page_id"],
		ChunkIndex: idx,
		Title:      raw["title"],
		Category:   raw["category"],
		Country:    raw["country"],
		Tags:       splitTags(raw["tags"]),
		Visibility: raw["visibility"],
		Author:     raw["author"],
		MissionID:  raw["mission_id"],
		IndexedAt:  indexedAt,
	}
}
