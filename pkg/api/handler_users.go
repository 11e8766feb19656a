package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/maestrokit/maestro/pkg/models"
)

// PutUserContextRequest is the body for PUT /users/:id/context/:key.
type PutUserContextRequest struct {
	Value      any      `json:"value"`
	Importance *float64 `json:"importance,omitempty"`
}

// Manual writes carry maximum importance unless the caller says otherwise,
// so they displace extracted facts.
const defaultManualImportance = 1.0

func userIDParam(c *echo.Context) (int64, error) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	return userID, nil
}

// getUserContextHandler handles GET /api/v1/users/:id/context.
func (s *Server) getUserContextHandler(c *echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}

	facts, err := s.orch.GetUserContext(c.Request().Context(), userID)
	if err != nil {
		return writeTurnError(c, err)
	}
	return c.JSON(http.StatusOK, facts)
}

// putUserContextHandler handles PUT /api/v1/users/:id/context/:key.
func (s *Server) putUserContextHandler(c *echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	key := c.Param("key")
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key is required")
	}

	var req PutUserContextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Value == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "value is required")
	}
	importance := defaultManualImportance
	if req.Importance != nil {
		if *req.Importance < 0 || *req.Importance > 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "importance must be in [0, 1]")
		}
		importance = *req.Importance
	}

	if err := s.orch.AddUserContext(c.Request().Context(), userID, key, req.Value, importance, models.SourceManual); err != nil {
		return writeTurnError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// deleteUserContextHandler handles DELETE /api/v1/users/:id/context/:key.
func (s *Server) deleteUserContextHandler(c *echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	key := c.Param("key")
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key is required")
	}

	if err := s.orch.DeleteUserContext(c.Request().Context(), userID, key); err != nil {
		return writeTurnError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
