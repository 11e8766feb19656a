package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/models"
)

// registerMCPServerHandler handles POST /api/v1/mcp/servers (admin).
func (s *Server) registerMCPServerHandler(c *echo.Context) error {
	var req models.RegisterMCPServerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ServerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "server_id is required")
	}

	var requestTimeout time.Duration
	if req.RequestTimeout != "" {
		var err error
		requestTimeout, err = time.ParseDuration(req.RequestTimeout)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request_timeout: "+err.Error())
		}
	}

	serverCfg := &config.MCPServerConfig{
		Transport: config.TransportConfig{
			Type:        config.TransportType(req.Transport),
			Endpoint:    req.Endpoint,
			BearerToken: req.BearerToken,
			Command:     req.Command,
			Args:        req.Args,
			Env:         req.Env,
		},
		RequestTimeout: requestTimeout,
		DisableRestart: req.DisableRestart,
	}
	if !serverCfg.Transport.Type.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid transport type")
	}

	if err := s.orch.SetMCPServer(c.Request().Context(), req.ServerID, serverCfg); err != nil {
		return writeTurnError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"server_id": req.ServerID})
}

// removeMCPServerHandler handles DELETE /api/v1/mcp/servers/:id (admin).
func (s *Server) removeMCPServerHandler(c *echo.Context) error {
	serverID := c.Param("id")
	if serverID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "server id is required")
	}

	if err := s.orch.RemoveMCPServer(c.Request().Context(), serverID); err != nil {
		return writeTurnError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// listMCPServersHandler handles GET /api/v1/mcp/servers.
func (s *Server) listMCPServersHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.MCPStatuses())
}
