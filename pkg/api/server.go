// Package api exposes the HTTP and WebSocket surface: chat, memory search,
// user context, admin registration of agents and MCP servers, health, and
// metrics. Authentication uses two in-memory bearer keys with distinct
// roles.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/database"
	"github.com/maestrokit/maestro/pkg/orchestrator"
)

// wsWriteTimeout bounds a single WebSocket write; clients slower than this
// are disconnected.
const wsWriteTimeout = 10 * time.Second

// Server is the HTTP API server.
type Server struct {
	cfg   *config.Config
	orch  *orchestrator.Orchestrator
	db    *database.Client // nil when running without persistence
	keys  *Keyring
	conns *ConnectionManager

	echo *echo.Echo
	http *http.Server
}

// NewServer wires the routes and middleware. db may be nil.
func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, db *database.Client, keys *Keyring) *Server {
	s := &Server{
		cfg:   cfg,
		orch:  orch,
		db:    db,
		keys:  keys,
		conns: NewConnectionManager(wsWriteTimeout),
	}
	s.echo = s.routes()
	return s
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.Use(securityHeaders(), requestID(), requestLogger())

	// unauthenticated surface
	e.GET("/health", s.healthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/ws", s.wsHandler, s.keys.requireRole(RoleClient))

	v1 := e.Group("/api/v1", s.keys.requireRole(RoleClient))
	v1.POST("/chat", s.chatHandler)
	v1.POST("/conversations/:id/cancel", s.cancelTurnHandler)
	v1.GET("/memory/search", s.searchMemoryHandler)

	v1.GET("/users/:id/context", s.getUserContextHandler)
	v1.PUT("/users/:id/context/:key", s.putUserContextHandler)
	v1.DELETE("/users/:id/context/:key", s.deleteUserContextHandler)

	v1.GET("/agents", s.listAgentsHandler)
	v1.POST("/agents", s.registerAgentHandler, s.keys.requireRole(RoleAdmin))
	v1.DELETE("/agents/:id", s.removeAgentHandler, s.keys.requireRole(RoleAdmin))

	v1.GET("/mcp/servers", s.listMCPServersHandler)
	v1.POST("/mcp/servers", s.registerMCPServerHandler, s.keys.requireRole(RoleAdmin))
	v1.DELETE("/mcp/servers/:id", s.removeMCPServerHandler, s.keys.requireRole(RoleAdmin))

	return e
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
