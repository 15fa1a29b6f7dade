// Package knowledge implements the retrieval engine: page indexing,
// similarity search, and retrieval-augmented answering over two strictly
// partitioned document categories.
package knowledge

import (
	"errors"
	"fmt"
)

// Category partitions the knowledge base. Every page belongs to exactly one
// category and every query is bound to exactly one; the index never returns
// chunks across the boundary. The set is sealed: adding a variant requires
// touching every exhaustive switch in this package.
type Category uint8

const (
	// CategoryAgent holds mission archives readable by field agents.
	CategoryAgent Category = iota + 1

	// CategoryTechnician holds technical documentation for technicians.
	CategoryTechnician
)

// String returns the wire form stored in chunk metadata and page records.
func (c Category) String() string {
	switch c {
	case CategoryAgent:
		return "agent"
	case CategoryTechnician:
		return "technician"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// Valid reports whether c is one of the sealed variants.
func (c Category) Valid() bool {
	switch c {
	case CategoryAgent, CategoryTechnician:
		return true
	default:
		return false
	}
}

// ParseCategory converts the wire form back into a Category.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "agent":
		return CategoryAgent, nil
	case "technician":
		return CategoryTechnician, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
}

// CategoryForRole resolves a caller role to its category. Unknown roles are
// the caller's error; Chat converts it into a descriptive answer instead.
func CategoryForRole(role string) (Category, error) {
	switch role {
	case "agent":
		return CategoryAgent, nil
	case "technician":
		return CategoryTechnician, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}

// Errors returned by the engine's operations.
var (
	ErrUnknownCategory   = errors.New("unknown category")
	ErrUnknownRole       = errors.New("unknown role")
	ErrEmptyQuery        = errors.New("query text is empty")
	ErrQueryTooShort     = errors.New("query text is too short")
	ErrInvalidPage       = errors.New("invalid page data")
	ErrCategoryImmutable = errors.New("category cannot change while chunks are indexed")
	ErrIndexingFailed    = errors.New("indexing failed")
	ErrSearchFailed      = errors.New("search failed")
	ErrSynthesisFailed   = errors.New("answer synthesis failed")
)

// MinQueryLength is the minimum accepted chat/query length in characters.
const MinQueryLength = 5

// PageCreate is the input to PageService.Create.
type PageCreate struct {
	Title      string
	Content    string
	Category   Category
	Tags       []string
	Visibility string
	Country    string
	MissionID  string
	Author     string
}

// PageCreateResult reports a successful create.
type PageCreateResult struct {
	PageID        string
	ChunksCreated int
}

// PageUpdate carries partial page updates. Nil fields are left unchanged.
type PageUpdate struct {
	Title      *string
	Content    *string
	Category   *Category
	Tags       *[]string
	Visibility *string
	Country    *string
	MissionID  *string
}

// SearchRequest is the input to SearchService.Search. Category is the only
// filter applied inside the index; the rest are post-filters.
type SearchRequest struct {
	Query      string
	Limit      int
	Category   Category
	Country    string
	Tags       []string
	Visibility string
}

// SearchResult is one retrieved document. Degraded marks results whose
// summary or matched points fell back to truncated raw text after a
// generation failure; the content is still truthful, just not synthesized.
type SearchResult struct {
	PageID        string   `json:"page_id"`
	Title         string   `json:"title"`
	MissionID     string   `json:"mission_id,omitempty"`
	Country       string   `json:"country,omitempty"`
	Summary       string   `json:"summary"`
	MatchedPoints []string `json:"matched_points"`
	Category      string   `json:"category"`
	Tags          []string `json:"tags,omitempty"`
	Similarity    float32  `json:"similarity"`
	Author        string   `json:"author"`
	Degraded      bool     `json:"degraded,omitempty"`
}

// ChatRequest is the role-aware Q&A input.
type ChatRequest struct {
	Query string
	Role  string
	Limit int
	Tags  []string
}

// ChatResponse is the role-aware Q&A output. Confidence is the mean
// similarity of the grounding set, zero when the set is empty.
type ChatResponse struct {
	Answer           string         `json:"answer"`
	MatchedDocuments []SearchResult `json:"matched_documents"`
	Confidence       float32        `json:"confidence"`
	ModelUsed        string         `json:"model_used"`
}

// QueryRequest is the generic filtered query input. CategoryRaw is optional;
// empty means unrestricted. Synthesize requests a generated answer on top of
// the ranked results.
type QueryRequest struct {
	Query      string
	Limit      int
	Category   string
	Country    string
	Tags       []string
	Visibility string
	Synthesize bool
}

// QueryResponse wraps generic query output.
type QueryResponse struct {
	Answer     string         `json:"answer,omitempty"`
	Results    []SearchResult `json:"results"`
	Confidence float32        `json:"confidence"`
	ModelUsed  string         `json:"model_used,omitempty"`
}

// meanSimilarity computes the confidence for a grounding set.
func meanSimilarity(results []SearchResult) float32 {
	if len(results) == 0 {
		return 0
	}
	var sum float32
	for _, r := range results {
		sum += r.Similarity
	}
	mean := sum / float32(len(results))
	if mean < 0 {
		return 0
	}
	if mean > 1 {
		return 1
	}
	return mean
}
