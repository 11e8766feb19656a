package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/maestrokit/maestro/pkg/models"
)

// SearchMemoryResponse wraps memory search hits.
type SearchMemoryResponse struct {
	Hits  []models.MemoryHit `json:"hits"`
	Count int                `json:"count"`
}

// searchMemoryHandler handles GET /api/v1/memory/search.
// Query params: q (required), scope, limit, recency_bias, user_id,
// agent_id, conversation_id.
func (s *Server) searchMemoryHandler(c *echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}

	opts := models.SearchOptions{
		Scope:  models.SearchScope(c.QueryParam("scope")),
		Filter: map[string]any{},
	}
	switch opts.Scope {
	case "", models.ScopeBuffer, models.ScopeLongTerm, models.ScopeBoth:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid scope: "+string(opts.Scope))
	}

	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		opts.Limit = limit
	}
	if v := c.QueryParam("recency_bias"); v != "" {
		bias, err := strconv.ParseFloat(v, 64)
		if err != nil || bias < 0 || bias > 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid recency_bias")
		}
		opts.RecencyBias = bias
	}
	if v := c.QueryParam("user_id"); v != "" {
		userID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
		}
		opts.Filter[models.MetaUserID] = userID
	}
	if v := c.QueryParam("agent_id"); v != "" {
		opts.Filter[models.MetaAgentID] = v
	}
	if v := c.QueryParam("conversation_id"); v != "" {
		opts.Filter[models.MetaConversationID] = v
	}

	hits, err := s.orch.SearchMemory(c.Request().Context(), query, opts)
	if err != nil {
		return writeTurnError(c, err)
	}
	return c.JSON(http.StatusOK, &SearchMemoryResponse{Hits: hits, Count: len(hits)})
}
