package knowledge

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crystald/internal/genai"
)

// NoResultsAnswer is returned when retrieval finds nothing. Absence of
// knowledge is a valid outcome, not an error.
const NoResultsAnswer = "No relevant information found in the knowledge base."

// ChatService composes retrieved documents into a grounded prompt and asks
// the generative backend for a single answer.
type ChatService struct {
	search    *SearchService
	generator genai.Generator
	logger    *zap.Logger
}

// NewChatService wires the synthesis stage on top of retrieval.
func NewChatService(search *SearchService, generator genai.Generator, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{search: search, generator: generator, logger: logger}
}

func validateQuery(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}
	if len(query) < MinQueryLength {
		return "", fmt.Errorf("%w: need at least %d characters", ErrQueryTooShort, MinQueryLength)
	}
	return query, nil
}

// Chat answers a question scoped to the caller's role. The role resolves to
// exactly one category; an unrecognized role yields a descriptive answer
// rather than an error, since this is a user-facing Q&A surface.
func (s *ChatService) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	query, err := validateQuery(req.Query)
	if err != nil {
		return nil, err
	}

	category, err := CategoryForRole(req.Role)
	if err != nil {
		answer := fmt.Sprintf("I can only answer questions for agents (mission archive) or technicians (technical documentation). The role %q is not recognized.", req.Role)
		return &ChatResponse{
			Answer:           answer,
			MatchedDocuments: []SearchResult{},
			Confidence:       0,
			ModelUsed:        s.generator.Model(),
		}, nil
	}

	results, err := s.search.Search(ctx, SearchRequest{
		Query:    query,
		Limit:    req.Limit,
		Category: category,
		Tags:     req.Tags,
	})
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return &ChatResponse{
			Answer:           NoResultsAnswer,
			MatchedDocuments: []SearchResult{},
			Confidence:       0,
			ModelUsed:        s.generator.Model(),
		}, nil
	}

	answer, err := s.generator.Complete(ctx, chatPrompt(category, query, results))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	return &ChatResponse{
		Answer:           strings.TrimSpace(answer),
		MatchedDocuments: results,
		Confidence:       meanSimilarity(results),
		ModelUsed:        s.generator.Model(),
	}, nil
}

// Query is the generic filtered entry point. Unlike Chat it accepts explicit
// filters and an unknown category is a hard error, not a friendly answer.
func (s *ChatService) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	query, err := validateQuery(req.Query)
	if err != nil {
		return nil, err
	}

	var category Category
	if req.Category != "" {
		category, err = ParseCategory(req.Category)
		if err != nil {
			return nil, err
		}
	}

	results, err := s.search.Search(ctx, SearchRequest{
		Query:      query,
		Limit:      req.Limit,
		Category:   category,
		Country:    req.Country,
		Tags:       req.Tags,
		Visibility: req.Visibility,
	})
	if err != nil {
		return nil, err
	}

	resp := &QueryResponse{
		Results:    results,
		Confidence: meanSimilarity(results),
	}
	if !req.Synthesize {
		return resp, nil
	}

	resp.ModelUsed = s.generator.Model()
	if len(results) == 0 {
		resp.Answer = NoResultsAnswer
		return resp, nil
	}

	answer, err := s.generator.Complete(ctx, genericPrompt(query, results))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	resp.Answer = strings.TrimSpace(answer)
	return resp, nil
}

// categoryFraming tailors the prompt to the resolved category. This is a
// template selection only; retrieval is identical for both roles.
func categoryFraming(category Category) string {
	switch category {
	case CategoryAgent:
		return "You are a field operations assistant. The context below comes from the mission archive."
	case CategoryTechnician:
		return "You are a technical support assistant. The context below comes from technical documentation."
	default:
		return "You are a helpful assistant."
	}
}

func groundingContext(results []SearchResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "[Source: %s]\n", r.Title)
		if r.Summary != "" {
			b.WriteString(r.Summary)
			b.WriteString("\n")
		}
		for _, p := range r.MatchedPoints {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func chatPrompt(category Category, query string, results []SearchResult) string {
	return fmt.Sprintf(`%s Answer the question using ONLY the provided context.
If the answer is not in the context, say "I don't have enough information to answer this question."

Context:
%s
Question: %s

Provide a clear, concise answer citing the relevant sources by title.`,
		categoryFraming(category), groundingContext(results), query)
}

func genericPrompt(query string, results []SearchResult) string {
	return fmt.Sprintf(`You are a helpful assistant. Answer the question using ONLY the provided context.
If the answer is not in the context, say "I don't have enough information to answer this question."

Context:
%s
Question: %s

Provide a clear, concise answer citing the relevant sources by title.`,
		groundingContext(results), query)
}
