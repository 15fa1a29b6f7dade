package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crystald/internal/pagestore"
	"github.com/fyrsmithlabs/crystald/internal/segment"
	"github.com/fyrsmithlabs/crystald/internal/vectorstore"
)

// Embedder converts text into fixed-length vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// PageService owns the page lifecycle and drives the segment, embed, and
// index pipeline on every content change.
type PageService struct {
	store     pagestore.Store
	index     vectorstore.Index
	embedder  Embedder
	segmenter *segment.Segmenter
	locks     *lockRegistry
	logger    *zap.Logger
}

// NewPageService wires the write path. A nil logger is replaced with a no-op.
func NewPageService(store pagestore.Store, index vectorstore.Index, embedder Embedder, segmenter *segment.Segmenter, logger *zap.Logger) *PageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageService{
		store:     store,
		index:     index,
		embedder:  embedder,
		segmenter: segmenter,
		locks:     newLockRegistry(),
		logger:    logger,
	}
}

func validateCreate(req PageCreate) error {
	if req.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidPage)
	}
	if req.Content == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidPage)
	}
	if !req.Category.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownCategory, req.Category)
	}
	switch req.Visibility {
	case "", "public", "private":
	default:
		return fmt.Errorf("%w: visibility must be public or private", ErrInvalidPage)
	}
	return nil
}

// Create persists a new page and indexes its content. On an indexing failure
// the record survives with status error and zero live chunks.
func (s *PageService) Create(ctx context.Context, req PageCreate) (*PageCreateResult, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	if req.Visibility == "" {
		req.Visibility = "public"
	}

	page := &pagestore.Page{
		ID:         uuid.NewString(),
		Title:      req.Title,
		Text:       req.Content,
		Category:   req.Category.String(),
		Country:    req.Country,
		Tags:       req.Tags,
		Visibility: req.Visibility,
		Author:     req.Author,
		MissionID:  req.MissionID,
		Status:     pagestore.StatusIndexing,
	}
	if err := s.store.Create(ctx, page); err != nil {
		return nil, fmt.Errorf("creating page record: %w", err)
	}

	unlock := s.locks.acquire(page.ID)
	defer unlock()

	count, err := s.indexContent(ctx, page)
	if err != nil {
		s.markError(ctx, page.ID)
		return nil, err
	}

	if err := s.store.SetStatus(ctx, page.ID, pagestore.StatusIndexed, count); err != nil {
		return nil, fmt.Errorf("committing indexed status: %w", err)
	}

	s.logger.Info("page indexed",
		zap.String("page_id", page.ID),
		zap.String("category", page.Category),
		zap.Int("chunks", count),
	)
	return &PageCreateResult{PageID: page.ID, ChunksCreated: count}, nil
}

// indexContent runs segment -> embed -> index for the page's current text
// and returns the chunk count. The index add is all-or-nothing.
func (s *PageService) indexContent(ctx context.Context, page *pagestore.Page) (int, error) {
	chunks := s.segmenter.Segment(page.Text)
	if len(chunks) == 0 {
		return 0, nil
	}

	embeddings, err := s.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("%w: embedding chunks: %v", ErrIndexingFailed, err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("%w: %d chunks but %d embeddings",
			ErrIndexingFailed, len(chunks), len(embeddings))
	}

	meta := make([]vectorstore.ChunkMetadata, len(chunks))
	indexedAt := time.Now().UTC()
	for i := range chunks {
		meta[i] = vectorstore.ChunkMetadata{
			PageID:     page.ID,
			ChunkIndex: i,
			Title:      page.Title,
			Category:   page.Category,
			Country:    page.Country,
			Tags:       page.Tags,
			Visibility: page.Visibility,
			Author:     page.Author,
			MissionID:  page.MissionID,
			IndexedAt:  indexedAt,
		}
	}

	if err := s.index.AddChunks(ctx, page.ID, chunks, embeddings, meta); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIndexingFailed, err)
	}
	return len(chunks), nil
}

// markError records a failed indexing run. The index add path already rolls
// back partial chunks, so an error page holds zero live chunks.
func (s *PageService) markError(ctx context.Context, pageID string) {
	if err := s.store.SetStatus(ctx, pageID, pagestore.StatusError, 0); err != nil {
		s.logger.Error("recording error status",
			zap.String("page_id", pageID),
			zap.Error(err),
		)
	}
}

// Get returns a page by ID.
func (s *PageService) Get(ctx context.Context, id string) (*pagestore.Page, error) {
	return s.store.Get(ctx, id)
}

// List returns pages matching the filter.
func (s *PageService) List(ctx context.Context, filter pagestore.ListFilter) ([]*pagestore.Page, error) {
	return s.store.List(ctx, filter)
}

// Update applies partial changes to a page. A content change re-runs the full
// indexing pipeline: old chunks are deleted, the new content is indexed, and
// the record commits with the new chunk count. If re-indexing fails the page
// is left in status error with zero live chunks and the update is reported as
// failed; the old chunks are not restored.
func (s *PageService) Update(ctx context.Context, id string, upd PageUpdate) (*pagestore.Page, error) {
	unlock := s.locks.acquire(id)
	defer unlock()

	page, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Category != nil && upd.Category.String() != page.Category {
		if !upd.Category.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, *upd.Category)
		}
		if page.ChunkCount > 0 {
			return nil, fmt.Errorf("%w: page %s has %d chunks", ErrCategoryImmutable, id, page.ChunkCount)
		}
		page.Category = upd.Category.String()
	}
	if upd.Title != nil {
		page.Title = *upd.Title
	}
	if upd.Tags != nil {
		page.Tags = *upd.Tags
	}
	if upd.Visibility != nil {
		switch *upd.Visibility {
		case "public", "private":
			page.Visibility = *upd.Visibility
		default:
			return nil, fmt.Errorf("%w: visibility must be public or private", ErrInvalidPage)
		}
	}
	if upd.Country != nil {
		page.Country = *upd.Country
	}
	if upd.MissionID != nil {
		page.MissionID = *upd.MissionID
	}

	contentChanged := upd.Content != nil && *upd.Content != page.Text
	if contentChanged {
		page.Text = *upd.Content
		page.Status = pagestore.StatusIndexing

		removed, err := s.index.DeleteByPage(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: removing stale chunks: %v", ErrIndexingFailed, err)
		}
		s.logger.Debug("removed stale chunks before re-index",
			zap.String("page_id", id),
			zap.Int("removed", removed),
		)

		count, err := s.indexContent(ctx, page)
		if err != nil {
			page.Status = pagestore.StatusError
			page.ChunkCount = 0
			if storeErr := s.store.Update(ctx, page); storeErr != nil {
				s.logger.Error("recording failed re-index",
					zap.String("page_id", id),
					zap.Error(storeErr),
				)
			}
			return nil, err
		}
		page.Status = pagestore.StatusIndexed
		page.ChunkCount = count
	}

	if err := s.store.Update(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// Delete removes a page's chunks and then its record, returning the number
// of chunks removed. Chunks go first so an interruption leaves at worst an
// unsearchable record, never orphaned index entries.
func (s *PageService) Delete(ctx context.Context, id string) (int, error) {
	unlock := s.locks.acquire(id)
	defer unlock()

	if _, err := s.store.Get(ctx, id); err != nil {
		return 0, err
	}

	removed, err := s.index.DeleteByPage(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("removing chunks for page %s: %w", id, err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return removed, err
	}

	s.logger.Info("page deleted",
		zap.String("page_id", id),
		zap.Int("chunks_removed", removed),
	)
	return removed, nil
}

// Stats reports page counts per category and the total indexed chunk count.
type Stats struct {
	TotalPages      int `json:"total_pages"`
	AgentPages      int `json:"agent_pages"`
	TechnicianPages int `json:"technician_pages"`
	IndexedChunks   int `json:"indexed_chunks"`
}

// Stats aggregates counts from the page store and the index.
func (s *PageService) Stats(ctx context.Context) (*Stats, error) {
	total, err := s.store.Count(ctx, "")
	if err != nil {
		return nil, err
	}
	agents, err := s.store.Count(ctx, CategoryAgent.String())
	if err != nil {
		return nil, err
	}
	techs, err := s.store.Count(ctx, CategoryTechnician.String())
	if err != nil {
		return nil, err
	}
	chunks, err := s.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalPages:      total,
		AgentPages:      agents,
		TechnicianPages: techs,
		IndexedChunks:   chunks,
	}, nil
}
