// Package server exposes the retrieval core over a small JSON HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/tripsense/ai/index"
	"github.com/hrygo/tripsense/ai/memory"
	"github.com/hrygo/tripsense/ai/metrics"
	"github.com/hrygo/tripsense/ai/retrieval"
	"github.com/hrygo/tripsense/ai/vector"
	"github.com/hrygo/tripsense/internal/profile"
	"github.com/hrygo/tripsense/store"
)

// ContextBuilder assembles retrieval context. Implemented by
// *retrieval.Assembler.
type ContextBuilder interface {
	BuildContext(ctx context.Context, query string, userID *int32, maxItems int) (*retrieval.Context, error)
}

// Embedder embeds search queries. Implemented by the embedding gateway.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IndexManager gates and rebuilds the serving index. Implemented by
// *index.Manager.
type IndexManager interface {
	Store() (*vector.Store, error)
	Ready() bool
	Stats() index.Stats
	Rebuild(ctx context.Context) error
}

// MemoryService is the session memory surface. Implemented by
// *memory.Service.
type MemoryService interface {
	StoreMemory(ctx context.Context, fact *store.MemoryFact) (string, error)
	GetMemories(ctx context.Context, userID int32, limit int) ([]*store.MemoryFact, error)
	StoreTurn(sessionID string, turn memory.Turn)
	GetHistory(sessionID string, limit int) []memory.Turn
	ClearSession(sessionID string)
}

// Server is the HTTP server for the retrieval core.
type Server struct {
	Profile *profile.Profile

	echoServer *echo.Echo
	assembler  ContextBuilder
	embedder   Embedder
	indexMgr   IndexManager
	memorySvc  MemoryService
	metrics    *metrics.Registry
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(
	profile *profile.Profile,
	assembler ContextBuilder,
	embedder Embedder,
	indexMgr IndexManager,
	memorySvc MemoryService,
	m *metrics.Registry,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		Profile:    profile,
		echoServer: e,
		assembler:  assembler,
		embedder:   embedder,
		indexMgr:   indexMgr,
		memorySvc:  memorySvc,
		metrics:    m,
	}
	s.registerRoutes(e)
	return s
}

// Start starts serving. It blocks until the listener stops.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("starting http server", "address", address, "version", s.Profile.Version)
	return s.echoServer.Start(address)
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	slog.Info("http server stopped")
}

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/readyz", s.handleReady)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	api := e.Group("/api/v1")
	api.POST("/search", s.handleSearch)
	api.POST("/search/similar", s.handleSearchSimilar)
	api.POST("/context", s.handleContext)
	api.POST("/memories", s.handleStoreMemory)
	api.GET("/memories/:userID", s.handleGetMemories)
	api.POST("/sessions/:sessionID/turns", s.handleStoreTurn)
	api.GET("/sessions/:sessionID/history", s.handleGetHistory)
	api.DELETE("/sessions/:sessionID", s.handleClearSession)
	api.POST("/admin/reindex", s.handleReindex)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.Profile.Version,
	})
}

// handleReady reflects the index lifecycle state: the service reports
// itself not-ready until the index has completed its (re)build, rather
// than serving an empty, silently-wrong index.
func (s *Server) handleReady(c echo.Context) error {
	stats := s.indexMgr.Stats()
	code := http.StatusOK
	if !s.indexMgr.Ready() {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, stats)
}
