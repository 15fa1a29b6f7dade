package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crystald/internal/genai"
	"github.com/fyrsmithlabs/crystald/internal/pagestore"
	"github.com/fyrsmithlabs/crystald/internal/vectorstore"
)

// overfetchFactor compensates for post-filters (country, visibility, tags)
// the index cannot express natively; without it a heavily filtered query
// could starve below the requested limit.
const overfetchFactor = 3

const (
	// DefaultSearchLimit applies when a request leaves the limit unset.
	DefaultSearchLimit = 5

	// MaxSearchLimit caps the number of distinct documents per query.
	MaxSearchLimit = 20
)

const (
	summaryFallbackChars = 1000
	pointFallbackChars   = 500
)

// SearchService embeds queries, searches the vector index, deduplicates hits
// to one per document, and enriches each surviving document with a generated
// summary and query-specific matched points.
type SearchService struct {
	store     pagestore.Store
	index     vectorstore.Index
	embedder  Embedder
	generator genai.Generator
	logger    *zap.Logger
}

// NewSearchService wires the read path. A nil logger is replaced with a no-op.
func NewSearchService(store pagestore.Store, index vectorstore.Index, embedder Embedder, generator genai.Generator, logger *zap.Logger) *SearchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchService{
		store:     store,
		index:     index,
		embedder:  embedder,
		generator: generator,
		logger:    logger,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}

// Search returns up to req.Limit distinct documents ranked by their
// best-matching chunk's similarity. A failed query embedding aborts the
// search; a failed summary or points generation degrades that one result to
// truncated raw text instead.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	// A zero Category means unrestricted search (generic variant only); a
	// set Category must be one of the sealed variants.
	if req.Category != 0 && !req.Category.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, req.Category)
	}
	limit := clampLimit(req.Limit)

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrSearchFailed, err)
	}

	// Category is the only filter the index applies natively.
	var filter *vectorstore.Filter
	if req.Category != 0 {
		filter = &vectorstore.Filter{Category: req.Category.String()}
	}
	hits, err := s.index.Search(ctx, vector, limit*overfetchFactor, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	results := make([]SearchResult, 0, limit)
	seen := make(map[string]bool)

	for _, hit := range hits {
		pageID := hit.Metadata.PageID
		if pageID == "" || seen[pageID] {
			continue
		}
		seen[pageID] = true

		if req.Country != "" && hit.Metadata.Country != req.Country {
			continue
		}

		page, err := s.store.Get(ctx, pageID)
		if err != nil {
			if errors.Is(err, pagestore.ErrNotFound) {
				// Chunk outlived its record; skip, do not fail the search.
				s.logger.Warn("orphaned chunk skipped", zap.String("page_id", pageID))
				continue
			}
			return nil, fmt.Errorf("%w: loading page %s: %v", ErrSearchFailed, pageID, err)
		}

		if req.Visibility != "" && page.Visibility != req.Visibility {
			continue
		}
		if len(req.Tags) > 0 && !anyTagMatch(page.Tags, req.Tags) {
			continue
		}

		results = append(results, s.buildResult(ctx, query, hit, page))
		if len(results) == limit {
			break
		}
	}

	return results, nil
}

func anyTagMatch(pageTags, wanted []string) bool {
	for _, w := range wanted {
		for _, t := range pageTags {
			if t == w {
				return true
			}
		}
	}
	return false
}

// buildResult enriches one deduplicated hit. Generation failures degrade to
// truncated raw text; the result is still emitted, marked Degraded.
func (s *SearchService) buildResult(ctx context.Context, query string, hit vectorstore.ScoredChunk, page *pagestore.Page) SearchResult {
	result := SearchResult{
		PageID:     page.ID,
		Title:      page.Title,
		MissionID:  page.MissionID,
		Country:    page.Country,
		Category:   page.Category,
		Tags:       page.Tags,
		Similarity: hit.Similarity,
		Author:     page.Author,
	}

	summary, err := s.generator.Complete(ctx, summaryPrompt(page.Title, page.Text))
	if err != nil {
		s.logger.Warn("summary generation failed, using truncated content",
			zap.String("page_id", page.ID),
			zap.Error(err),
		)
		result.Summary = truncate(page.Text, summaryFallbackChars)
		result.MatchedPoints = []string{truncate(hit.Text, pointFallbackChars)}
		result.Degraded = true
		return result
	}
	result.Summary = strings.TrimSpace(summary)

	raw, err := s.generator.Complete(ctx, matchedPointsPrompt(query, page.Title, hit.Text, page.Text))
	if err != nil {
		s.logger.Warn("matched points generation failed, using chunk snippet",
			zap.String("page_id", page.ID),
			zap.Error(err),
		)
		result.MatchedPoints = []string{truncate(hit.Text, pointFallbackChars)}
		result.Degraded = true
		return result
	}
	result.MatchedPoints = parsePoints(raw)
	if len(result.MatchedPoints) == 0 {
		result.MatchedPoints = []string{truncate(hit.Text, pointFallbackChars)}
		result.Degraded = true
	}
	return result
}

func summaryPrompt(title, content string) string {
	return fmt.Sprintf(`Summarize the following document in 150-200 words. Preserve concrete facts such as names, dates, locations, and identifiers.

Title: %s

Document:
%s

Summary:`, title, truncate(content, 6000))
}

func matchedPointsPrompt(query, title, chunk, content string) string {
	return fmt.Sprintf(`A user asked: %q

The following passage from the document %q matched the question:
%s

Using the passage and the surrounding document context below, list 3-5 short points that directly relate to the question. One point per line, no numbering.

Document context:
%s

Points:`, query, title, chunk, truncate(content, 3000))
}

// parsePoints splits generator output into at most 5 clean point strings.
func parsePoints(raw string) []string {
	var points []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• \t")
		// Strip a leading "1." style ordinal.
		if n := strings.IndexAny(line, ".)"); n > 0 && n <= 2 {
			if _, isNum := atoiPrefix(line[:n]); isNum {
				line = strings.TrimSpace(line[n+1:])
			}
		}
		if line == "" {
			continue
		}
		points = append(points, line)
		if len(points) == 5 {
			break
		}
	}
	return points
}

func atoiPrefix(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, s != ""
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}
