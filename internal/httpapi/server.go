// Package httpapi exposes the knowledge engine over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crystald/internal/knowledge"
	"github.com/fyrsmithlabs/crystald/internal/pagestore"
)

// Server provides the HTTP endpoints for crystald.
type Server struct {
	echo   *echo.Echo
	pages  *knowledge.PageService
	search *knowledge.SearchService
	chat   *knowledge.ChatService
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(pages *knowledge.PageService, search *knowledge.SearchService, chat *knowledge.ChatService, logger *zap.Logger, cfg *Config) (*Server, error) {
	if pages == nil || search == nil || chat == nil {
		return nil, fmt.Errorf("page, search, and chat services are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 8080}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		pages:  pages,
		search: search,
		chat:   chat,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/pages", s.handleCreatePage)
	v1.GET("/pages", s.handleListPages)
	v1.GET("/pages/:id", s.handleGetPage)
	v1.PUT("/pages/:id", s.handleUpdatePage)
	v1.DELETE("/pages/:id", s.handleDeletePage)
	v1.GET("/search", s.handleSearch)
	v1.POST("/chat", s.handleChat)
	v1.POST("/query", s.handleQuery)
	v1.GET("/stats", s.handleStats)
}

// httpError maps engine errors onto HTTP status codes. Input faults become
// 400, missing pages 404, backend failures 502.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, knowledge.ErrInvalidPage),
		errors.Is(err, knowledge.ErrUnknownCategory),
		errors.Is(err, knowledge.ErrUnknownRole),
		errors.Is(err, knowledge.ErrEmptyQuery),
		errors.Is(err, knowledge.ErrQueryTooShort),
		errors.Is(err, knowledge.ErrCategoryImmutable),
		errors.Is(err, pagestore.ErrDuplicateID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, pagestore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, knowledge.ErrIndexingFailed),
		errors.Is(err, knowledge.ErrSearchFailed),
		errors.Is(err, knowledge.ErrSynthesisFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
