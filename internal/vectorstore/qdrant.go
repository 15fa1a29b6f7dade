package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("crystald.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	VectorSize int

	// MaxRetries bounds retry attempts for transient gRPC failures.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "knowledge_chunks"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
}

// Validate validates the configuration.
func (c *QdrantConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	return nil
}

// isTransientError reports whether a gRPC error is worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantIndex implements Index against a Qdrant server over gRPC. It suits
// deployments where the index outgrows a single embedded gob file.
type QdrantIndex struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

var _ Index = (*QdrantIndex)(nil)

// NewQdrantIndex connects to Qdrant and ensures the collection exists with
// cosine distance and the configured vector size.
func NewQdrantIndex(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantIndex{client: client, config: config, logger: logger}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(healthCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant index initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
		zap.Int("vector_size", config.VectorSize),
	)
	return s, nil
}

func (s *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = s.retry(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.config.VectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

// retry runs operation with exponential backoff for transient gRPC failures.
func (s *QdrantIndex) retry(ctx context.Context, name string, operation func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !isTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, s.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// pointID derives a stable UUID for a chunk ID. Qdrant only accepts UUID or
// integer point IDs; the original chunk ID travels in the payload.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

// AddChunks upserts the chunks of one page. Upsert is atomic per point, so a
// failed batch is rolled back by deleting whatever landed for the page.
func (s *QdrantIndex) AddChunks(ctx context.Context, pageID string, chunks []string, embeddings [][]float32, meta []ChunkMetadata) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.AddChunks")
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

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, text := range chunks {
		chunkID := ChunkID(pageID, i)
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(chunkID)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: chunkPayload(chunkID, text, meta[i]),
		}
	}

	err := s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if _, delErr := s.DeleteByPage(ctx, pageID); delErr != nil {
			s.logger.Error("rollback after failed upsert",
				zap.String("page_id", pageID),
				zap.Error(delErr),
			)
		}
		return fmt.Errorf("upserting chunks for page %s: %w", pageID, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns up to limit chunks ranked by similarity.
func (s *QdrantIndex) Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]ScoredChunk, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Search")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query has dimension %d, expected %d",
			ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}

	var results []*qdrant.ScoredPoint
	err := s.retry(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			Filter:         qdrantFilter(filter),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	hits := make([]ScoredChunk, len(results))
	for i, p := range results {
		hits[i] = chunkFromPoint(p)
	}

	span.SetAttributes(attribute.Int("results", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// DeleteByPage removes all chunks of a page by payload filter.
func (s *QdrantIndex) DeleteByPage(ctx context.Context, pageID string) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.DeleteByPage")
	defer span.End()

	span.SetAttributes(attribute.String("page_id", pageID))

	if pageID == "" {
		return 0, fmt.Errorf("%w: page ID is required", ErrInvalidConfig)
	}

	pageFilter := &qdrant.Filter{
		Must: []*qdrant.Condition{keywordCondition("page_id", pageID)},
	}

	var removed uint64
	err := s.retry(ctx, "count", func() error {
		n, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.Collection,
			Filter:         pageFilter,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		removed = n
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("counting chunks for page %s: %w", pageID, err)
	}
	if removed == 0 {
		return 0, nil
	}

	err = s.retry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points:         qdrant.NewPointsSelectorFilter(pageFilter),
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting chunks for page %s: %w", pageID, err)
	}

	span.SetAttributes(attribute.Int("removed", int(removed)))
	span.SetStatus(codes.Ok, "success")
	return int(removed), nil
}

// Count returns the total number of indexed chunks.
func (s *QdrantIndex) Count(ctx context.Context) (int, error) {
	var total uint64
	err := s.retry(ctx, "count", func() error {
		n, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.Collection,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		total = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return int(total), nil
}

// Close closes the gRPC connection.
func (s *QdrantIndex) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func keywordCondition(field, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: field,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func qdrantFilter(filter *Filter) *qdrant.Filter {
	if filter == nil {
		return nil
	}
	var must []*qdrant.Condition
	if filter.Category != "" {
		must = append(must, keywordCondition("category", filter.Category))
	}
	if filter.Country != "" {
		must = append(must, keywordCondition("country", filter.Country))
	}
	if filter.Visibility != "" {
		must = append(must, keywordCondition("visibility", filter.Visibility))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func chunkPayload(chunkID, text string, m ChunkMetadata) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		"chunk_id":    stringValue(chunkID),
		"content":     stringValue(text),
		"page_id":     stringValue(m.PageID),
		"chunk_index": {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(m.ChunkIndex)}},
		"title":       stringValue(m.Title),
		"category":    stringValue(m.Category),
		"indexed_at":  stringValue(m.IndexedAt.UTC().Format(time.RFC3339)),
	}
	if m.Country != "" {
		payload["country"] = stringValue(m.Country)
	}
	if m.Visibility != "" {
		payload["visibility"] = stringValue(m.Visibility)
	}
	if m.Author != "" {
		payload["author"] = stringValue(m.Author)
	}
	if m.MissionID != "" {
		payload["mission_id"] = stringValue(m.MissionID)
	}
	if len(m.Tags) > 0 {
		payload["tags"] = stringValue(joinTags(m.Tags))
	}
	return payload
}

func chunkFromPoint(p *qdrant.ScoredPoint) ScoredChunk {
	get := func(key string) string {
		if v, ok := p.Payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}

	idx := 0
	if v, ok := p.Payload["chunk_index"]; ok {
		switch {
		case v.GetIntegerValue() != 0:
			idx = int(v.GetIntegerValue())
		default:
			idx, _ = strconv.Atoi(v.GetStringValue())
		}
	}

	indexedAt, _ := time.Parse(time.RFC3339, get("indexed_at"))

	return ScoredChunk{
		ID:         get("chunk_id"),
		Text:       get("content"),
		Similarity: clampSimilarity(p.Score),
		Metadata: ChunkMetadata{
			PageID:     get("page_id"),
			ChunkIndex: idx,
			Title:      get("title"),
			Category:   get("category"),
			Country:    get("country"),
			Tags:       splitTags(get("tags")),
			Visibility: get("visibility"),
			Author:     get("author"),
			MissionID:  get("mission_id"),
			IndexedAt:  indexedAt,
		},
	}
}
