// Package httpapi exposes the question answering engine over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"docrag/internal/chunker"
	"docrag/internal/domain"
	"docrag/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Engine is the subset of the RAG service the HTTP layer drives.
type Engine interface {
	Index(ctx context.Context, dir string) (*service.IndexReport, error)
	Query(ctx context.Context, req domain.QueryRequest) (*domain.Answer, error)
	Len() int
	Dir() string
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// OutputsDir is searched for the newest run_*/recognition_json when
	// /rag/init is called without a directory.
	OutputsDir string
	// RequestTimeout bounds every request; zero disables the deadline.
	RequestTimeout time.Duration
}

// Server provides the /rag endpoints.
type Server struct {
	echo        *echo.Echo
	engine      Engine
	logger      *zap.Logger
	config      *Config
	metrics     *Metrics
	initialized atomic.Bool
}

// NewServer creates a new HTTP server around engine.
func NewServer(engine Engine, logger *zap.Logger, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking")
	}
	if cfg == nil {
		cfg = &Config{
			Host:       "127.0.0.1",
			Port:       8000,
			OutputsDir: "api_outputs",
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		engine:  engine,
		logger:  logger,
		config:  cfg,
		metrics: NewMetrics(),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.observe)
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.ContextTimeout(cfg.RequestTimeout))
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	rag := s.echo.Group("/rag")
	rag.POST("/init", s.handleInit)
	rag.GET("/status", s.handleStatus)
	rag.POST("/query", s.handleQuery)
}

// observe logs each request and counts it by route and status.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
		} else if err != nil {
			status = http.StatusInternalServerError
		}
		s.metrics.observeRequest(c.Request().Method, c.Path(), status)
		s.logger.Info("http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return err
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// InitRequest is the request body for POST /rag/init.
type InitRequest struct {
	RecognitionDir string `json:"recognition_dir"`
}

// InitResponse is the response body for POST /rag/init.
type InitResponse struct {
	Initialized    bool   `json:"initialized"`
	ChunksIndexed  int    `json:"chunks_indexed"`
	RecognitionDir string `json:"recognition_dir,omitempty"`
	Summary        string `json:"summary,omitempty"`
}

// StatusResponse is the response body for GET /rag/status.
type StatusResponse struct {
	Initialized    bool   `json:"initialized"`
	ChunksIndexed  int    `json:"chunks_indexed"`
	RecognitionDir string `json:"recognition_dir,omitempty"`
}

// QueryRequest is the request body for POST /rag/query.
type QueryRequest struct {
	Question         string `json:"question"`
	K                int    `json:"k"`
	IncludeRelations *bool  `json:"include_relations"`
	RelationWindow   *int   `json:"relation_window"`
	MaxGroupItems    int    `json:"max_group_items"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleInit(c echo.Context) error {
	var req InitRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid init request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	report, err := s.Init(c.Request().Context(), req.RecognitionDir)
	switch {
	case err == nil:
	case errors.Is(err, errNoRunFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, chunker.ErrRecognitionDirNotFound):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to initialize index: %v", err))
	}

	return c.JSON(http.StatusOK, InitResponse{
		Initialized:    true,
		ChunksIndexed:  report.Chunks,
		RecognitionDir: report.Dir,
		Summary:        report.Summary,
	})
}

var errNoRunFound = errors.New("no recognition_json directory found")

// Init indexes dir, or the newest recognition run under OutputsDir when dir
// is empty, and marks the server ready for queries.
func (s *Server) Init(ctx context.Context, dir string) (*service.IndexReport, error) {
	if dir == "" {
		latest, err := chunker.FindLatestRecognitionDir(s.config.OutputsDir)
		if err != nil {
			return nil, fmt.Errorf("%w under %s", errNoRunFound, s.config.OutputsDir)
		}
		dir = latest
	} else if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", chunker.ErrRecognitionDirNotFound, dir)
	}

	report, err := s.engine.Index(ctx, dir)
	if err != nil {
		return nil, err
	}
	s.initialized.Store(true)
	s.metrics.indexedChunks.Set(float64(report.Chunks))
	return report, nil
}

func (s *Server) handleStatus(c echo.Context) error {
	if !s.initialized.Load() {
		return c.JSON(http.StatusOK, StatusResponse{})
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Initialized:    true,
		ChunksIndexed:  s.engine.Len(),
		RecognitionDir: s.engine.Dir(),
	})
}

func (s *Server) handleQuery(c echo.Context) error {
	if !s.initialized.Load() {
		return echo.NewHTTPError(http.StatusBadRequest, "index is not initialized, call /rag/init first")
	}
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}
	if req.RelationWindow != nil && *req.RelationWindow < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "relation_window must be >= 0")
	}

	start := time.Now()
	answer, err := s.engine.Query(c.Request().Context(), domain.QueryRequest{
		Question:         req.Question,
		MaxSources:       req.K,
		IncludeRelations: req.IncludeRelations,
		RelationWindow:   req.RelationWindow,
		MaxGroupItems:    req.MaxGroupItems,
	})
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}
	s.metrics.queryDuration.Observe(time.Since(start).Seconds())
	return c.JSON(http.StatusOK, answer)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
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
