package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/tripsense/ai"
	"github.com/hrygo/tripsense/ai/index"
	"github.com/hrygo/tripsense/ai/memory"
	"github.com/hrygo/tripsense/ai/retrieval"
	"github.com/hrygo/tripsense/ai/vector"
	"github.com/hrygo/tripsense/store"
)

type searchRequest struct {
	Query       string   `json:"query"`
	TopK        int      `json:"top_k"`
	MinScore    *float32 `json:"min_score"`
	EntityTypes []string `json:"entity_types"`
}

type searchHit struct {
	EntityID   int32             `json:"entity_id"`
	EntityType string            `json:"entity_type"`
	Score      float32           `json:"score"`
	Metadata   map[string]string `json:"metadata"`
}

type searchResponse struct {
	Hits []searchHit `json:"hits"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	minScore := float32(0)
	if req.MinScore != nil {
		minScore = *req.MinScore
	}

	idx, err := s.indexMgr.Store()
	if err != nil {
		return indexError(err)
	}

	embedding, err := s.embedder.Embed(c.Request().Context(), req.Query)
	if err != nil {
		slog.Warn("search embedding failed", "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "embedding service unavailable")
	}

	types := make([]vector.EntityType, 0, len(req.EntityTypes))
	for _, t := range req.EntityTypes {
		types = append(types, vector.EntityType(t))
	}

	hits, err := idx.Query(embedding, req.TopK, minScore, types)
	if err != nil {
		return searchError(err)
	}
	return c.JSON(http.StatusOK, toSearchResponse(hits))
}

type similarRequest struct {
	InternalID int      `json:"internal_id"`
	TopK       int      `json:"top_k"`
	MinScore   *float32 `json:"min_score"`
}

// handleSearchSimilar finds entities similar to an already-indexed one,
// reusing its stored vector instead of re-embedding.
func (s *Server) handleSearchSimilar(c echo.Context) error {
	var req similarRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	minScore := float32(0)
	if req.MinScore != nil {
		minScore = *req.MinScore
	}

	idx, err := s.indexMgr.Store()
	if err != nil {
		return indexError(err)
	}

	embedding, err := idx.Reconstruct(req.InternalID)
	if err != nil {
		if errors.Is(err, vector.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown internal id")
		}
		return err
	}

	hits, err := idx.Query(embedding, req.TopK, minScore, nil)
	if err != nil {
		return searchError(err)
	}
	return c.JSON(http.StatusOK, toSearchResponse(hits))
}

type contextRequest struct {
	Query     string `json:"query"`
	UserID    *int32 `json:"user_id"`
	SessionID string `json:"session_id"`
	MaxItems  int    `json:"max_items"`
}

type contextResponse struct {
	SessionID string             `json:"session_id"`
	Context   string             `json:"context"`
	Sources   []retrieval.Source `json:"sources"`
	Actions   []retrieval.Action `json:"suggested_actions"`
}

func (s *Server) handleContext(c echo.Context) error {
	var req contextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if req.SessionID == "" {
		req.SessionID = memory.NewSessionID()
	}

	result, err := s.assembler.BuildContext(c.Request().Context(), req.Query, req.UserID, req.MaxItems)
	if err != nil {
		switch {
		case errors.Is(err, index.ErrIndexNotReady):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "index not ready")
		case errors.Is(err, retrieval.ErrContextUnavailable):
			return echo.NewHTTPError(http.StatusBadGateway, "context unavailable")
		}
		return err
	}

	s.memorySvc.StoreTurn(req.SessionID, memory.Turn{Role: memory.RoleUser, Content: req.Query})

	return c.JSON(http.StatusOK, contextResponse{
		SessionID: req.SessionID,
		Context:   result.Text(),
		Sources:   result.Sources,
		Actions:   result.Actions,
	})
}

type storeMemoryRequest struct {
	UserID     int32   `json:"user_id"`
	Type       string  `json:"memory_type"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

func (s *Server) handleStoreMemory(c echo.Context) error {
	var req storeMemoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Confidence == 0 {
		req.Confidence = 1.0
	}

	id, err := s.memorySvc.StoreMemory(c.Request().Context(), &store.MemoryFact{
		UserID:     req.UserID,
		Type:       store.MemoryType(req.Type),
		Content:    req.Content,
		Confidence: req.Confidence,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetMemories(c echo.Context) error {
	userID, err := strconv.ParseInt(c.Param("userID"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	limit := queryLimit(c, 10)

	facts, err := s.memorySvc.GetMemories(c.Request().Context(), int32(userID), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"memories": facts})
}

type storeTurnRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleStoreTurn(c echo.Context) error {
	var req storeTurnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	role := memory.Role(req.Role)
	if role != memory.RoleUser && role != memory.RoleAssistant {
		return echo.NewHTTPError(http.StatusBadRequest, "role must be user or assistant")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	s.memorySvc.StoreTurn(c.Param("sessionID"), memory.Turn{Role: role, Content: req.Content})
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetHistory(c echo.Context) error {
	limit := queryLimit(c, 10)
	turns := s.memorySvc.GetHistory(c.Param("sessionID"), limit)
	return c.JSON(http.StatusOK, map[string]any{"turns": turns})
}

func (s *Server) handleClearSession(c echo.Context) error {
	s.memorySvc.ClearSession(c.Param("sessionID"))
	return c.NoContent(http.StatusNoContent)
}

// handleReindex triggers a full rebuild in the background. The serving
// index stays live until the new one is swapped in.
func (s *Server) handleReindex(c echo.Context) error {
	go func() {
		// Detached from the request context: the rebuild outlives the call.
		if err := s.indexMgr.Rebuild(context.Background()); err != nil {
			slog.Error("manual reindex failed", "error", err)
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "rebuilding"})
}

func queryLimit(c echo.Context, fallback int) int {
	if raw := c.QueryParam("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}

func toSearchResponse(hits []vector.Hit) searchResponse {
	resp := searchResponse{Hits: make([]searchHit, 0, len(hits))}
	for _, h := range hits {
		resp.Hits = append(resp.Hits, searchHit{
			EntityID:   h.EntityID,
			EntityType: string(h.EntityType),
			Score:      h.Score,
			Metadata:   h.Metadata,
		})
	}
	return resp
}

func indexError(err error) error {
	if errors.Is(err, index.ErrIndexNotReady) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "index not ready")
	}
	return err
}

func searchError(err error) error {
	if errors.Is(err, vector.ErrDimensionMismatch) {
		return echo.NewHTTPError(http.StatusBadRequest, "dimension mismatch")
	}
	if errors.Is(err, ai.ErrEmbeddingUnavailable) {
		return echo.NewHTTPError(http.StatusBadGateway, "embedding service unavailable")
	}
	return err
}
