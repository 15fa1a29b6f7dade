package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crystald/internal/knowledge"
	"github.com/fyrsmithlabs/crystald/internal/pagestore"
)

// PageRequest is the body for POST /api/v1/pages.
type PageRequest struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags"`
	Visibility string   `json:"visibility"`
	Country    string   `json:"country"`
	MissionID  string   `json:"mission_id"`
	Author     string   `json:"author"`
}

// PageCreateResponse is the body for a successful create.
type PageCreateResponse struct {
	PageID        string `json:"page_id"`
	ChunksCreated int    `json:"chunks_created"`
}

// PageUpdateRequest is the body for PUT /api/v1/pages/:id. Absent fields are
// left unchanged.
type PageUpdateRequest struct {
	Title      *string   `json:"title"`
	Content    *string   `json:"content"`
	Category   *string   `json:"category"`
	Tags       *[]string `json:"tags"`
	Visibility *string   `json:"visibility"`
	Country    *string   `json:"country"`
	MissionID  *string   `json:"mission_id"`
}

// PageResponse is the wire form of a page record.
type PageResponse struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Category   string    `json:"category"`
	Country    string    `json:"country,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Visibility string    `json:"visibility"`
	Author     string    `json:"author,omitempty"`
	MissionID  string    `json:"mission_id,omitempty"`
	Status     string    `json:"status"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func pageResponse(p *pagestore.Page) PageResponse {
	return PageResponse{
		ID:         p.ID,
		Title:      p.Title,
		Content:    p.Text,
		Category:   p.Category,
		Country:    p.Country,
		Tags:       p.Tags,
		Visibility: p.Visibility,
		Author:     p.Author,
		MissionID:  p.MissionID,
		Status:     p.Status,
		ChunkCount: p.ChunkCount,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func (s *Server) handleCreatePage(c echo.Context) error {
	var req PageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	category, err := knowledge.ParseCategory(req.Category)
	if err != nil {
		return httpError(err)
	}

	result, err := s.pages.Create(c.Request().Context(), knowledge.PageCreate{
		Title:      req.Title,
		Content:    req.Content,
		Category:   category,
		Tags:       req.Tags,
		Visibility: req.Visibility,
		Country:    req.Country,
		MissionID:  req.MissionID,
		Author:     req.Author,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, PageCreateResponse{
		PageID:        result.PageID,
		ChunksCreated: result.ChunksCreated,
	})
}

func (s *Server) handleGetPage(c echo.Context) error {
	page, err := s.pages.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pageResponse(page))
}

// PageListResponse is the body for GET /api/v1/pages.
type PageListResponse struct {
	Pages []PageResponse `json:"pages"`
	Total int            `json:"total"`
}

func (s *Server) handleListPages(c echo.Context) error {
	filter := pagestore.ListFilter{
		Category: c.QueryParam("category"),
		Status:   c.QueryParam("status"),
	}
	if filter.Category != "" {
		if _, err := knowledge.ParseCategory(filter.Category); err != nil {
			return httpError(err)
		}
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "offset must be a non-negative integer")
		}
		filter.Offset = n
	}

	pages, err := s.pages.List(c.Request().Context(), filter)
	if err != nil {
		return httpError(err)
	}

	out := make([]PageResponse, len(pages))
	for i, p := range pages {
		out[i] = pageResponse(p)
	}
	return c.JSON(http.StatusOK, PageListResponse{Pages: out, Total: len(out)})
}

func (s *Server) handleUpdatePage(c echo.Context) error {
	var req PageUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	upd := knowledge.PageUpdate{
		Title:      req.Title,
		Content:    req.Content,
		Tags:       req.Tags,
		Visibility: req.Visibility,
		Country:    req.Country,
		MissionID:  req.MissionID,
	}
	if req.Category != nil {
		category, err := knowledge.ParseCategory(*req.Category)
		if err != nil {
			return httpError(err)
		}
		upd.Category = &category
	}

	page, err := s.pages.Update(c.Request().Context(), c.Param("id"), upd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pageResponse(page))
}

// PageDeleteResponse reports the chunks removed with the page.
type PageDeleteResponse struct {
	PageID        string `json:"page_id"`
	ChunksRemoved int    `json:"chunks_removed"`
}

func (s *Server) handleDeletePage(c echo.Context) error {
	id := c.Param("id")
	removed, err := s.pages.Delete(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, PageDeleteResponse{PageID: id, ChunksRemoved: removed})
}

// SearchResponse is the body for GET /api/v1/search.
type SearchResponse struct {
	Results []knowledge.SearchResult `json:"results"`
	Total   int                      `json:"total"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var category knowledge.Category
	if v := c.QueryParam("category"); v != "" {
		var err error
		category, err = knowledge.ParseCategory(v)
		if err != nil {
			return httpError(err)
		}
	}

	req := knowledge.SearchRequest{
		Query:      c.QueryParam("query"),
		Category:   category,
		Country:    c.QueryParam("country"),
		Visibility: c.QueryParam("visibility"),
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		req.Limit = n
	}
	if v := c.QueryParam("tags"); v != "" {
		req.Tags = strings.Split(v, ",")
	}

	results, err := s.search.Search(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	if results == nil {
		results = []knowledge.SearchResult{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results, Total: len(results)})
}

// ChatRequest is the body for POST /api/v1/chat.
type ChatRequest struct {
	Query string   `json:"query"`
	Role  string   `json:"role"`
	Limit int      `json:"limit"`
	Tags  []string `json:"tags"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := s.chat.Chat(c.Request().Context(), knowledge.ChatRequest{
		Query: req.Query,
		Role:  req.Role,
		Limit: req.Limit,
		Tags:  req.Tags,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// QueryRequest is the body for POST /api/v1/query.
type QueryRequest struct {
	Query      string   `json:"query"`
	Limit      int      `json:"limit"`
	Category   string   `json:"category"`
	Country    string   `json:"country"`
	Tags       []string `json:"tags"`
	Visibility string   `json:"visibility"`
	Synthesize bool     `json:"synthesize"`
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := s.chat.Query(c.Request().Context(), knowledge.QueryRequest{
		Query:      req.Query,
		Limit:      req.Limit,
		Category:   req.Category,
		Country:    req.Country,
		Tags:       req.Tags,
		Visibility: req.Visibility,
		Synthesize: req.Synthesize,
	})
	if err != nil {
		return httpError(err)
	}
	if resp.Results == nil {
		resp.Results = []knowledge.SearchResult{}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.pages.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error("stats aggregation failed", zap.Error(err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}
