// Package mcp implements the client side of the Model Context Protocol:
// connection management for registered tool servers, request correlation,
// and the process-wide tool catalog. The service is the only process-wide
// singleton; every tool invocation in the system goes through it.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/models"
)

// ResultMasker scrubs tool result text before it reaches a model or a
// client. Nil disables masking.
type ResultMasker interface {
	MaskToolResult(serverID, text string) string
}

// InvokeResult is one tool invocation outcome. IsError marks tool-level
// failures the server reported in-band; those are fed back to the model
// rather than failing the turn.
type InvokeResult struct {
	Text    string
	IsError bool
}

// catalogSnapshot is an immutable view of the tool catalog. Readers load
// the current snapshot atomically and never lock.
type catalogSnapshot struct {
	all      []models.Tool
	byServer map[string][]models.Tool
}

// Service owns all MCP server connections.
type Service struct {
	backoff     config.BackoffDefaults
	toolTimeout time.Duration
	masker      ResultMasker

	mu     sync.Mutex
	conns  map[string]*connection
	closed bool

	catalog atomic.Pointer[catalogSnapshot]
}

// NewService creates the service. toolTimeout is the per-invocation default
// for servers without their own; masker may be nil.
func NewService(backoff config.BackoffDefaults, toolTimeout time.Duration, masker ResultMasker) *Service {
	s := &Service{
		backoff:     backoff,
		toolTimeout: toolTimeout,
		masker:      masker,
		conns:       make(map[string]*connection),
	}
	s.catalog.Store(&catalogSnapshot{byServer: make(map[string][]models.Tool)})
	return s
}

// Register validates the descriptor, opens the connection, and publishes
// the server's tools once it reaches ready. A server that fails its first
// connect stays registered in degraded state and keeps retrying; the error
// is logged, not returned. Duplicate ids are rejected.
func (s *Service) Register(ctx context.Context, serverID string, cfg *config.MCPServerConfig) error {
	if err := config.ValidateMCPServer(serverID, cfg); err != nil {
		return models.WrapTurnError(models.ErrKindInvalidInput, err)
	}
	factory, err := factoryFor(cfg.Transport)
	if err != nil {
		return models.WrapTurnError(models.ErrKindInvalidInput, err)
	}
	return s.register(ctx, serverID, cfg, factory)
}

func (s *Service) register(ctx context.Context, serverID string, cfg *config.MCPServerConfig, factory transportFactory) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("service is shut down")
	}
	if _, exists := s.conns[serverID]; exists {
		s.mu.Unlock()
		return models.NewTurnError(models.ErrKindAlreadyRegistered, "server %s is already registered", serverID)
	}
	conn := newConnection(serverID, cfg, factory, s.backoff, s.republish)
	s.conns[serverID] = conn
	s.mu.Unlock()
	s.republish()

	if err := conn.connect(ctx); err != nil {
		slog.Warn("MCP server registered but not yet reachable",
			"server_id", serverID, "error", err)
	}
	return nil
}

// Invoke calls one tool and returns its flattened text content. Deadline:
// the server's request_timeout, or the service default. A context already
// cancelled on entry produces Cancelled without a network write.
func (s *Service) Invoke(ctx context.Context, serverID, toolName string, params map[string]any) (*InvokeResult, error) {
	conn, err := s.conn(serverID)
	if err != nil {
		return nil, err
	}
	if !conn.hasTool(toolName) {
		return nil, models.NewTurnError(models.ErrKindToolGone, "tool %s is not available on %s", toolName, serverID).WithServer(serverID, "")
	}

	timeout := s.toolTimeout
	if conn.cfg.RequestTimeout > 0 {
		timeout = conn.cfg.RequestTimeout
	}
	attempt := func() (json.RawMessage, error) {
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return conn.call(callCtx, methodCallTool, callToolParams{Name: toolName, Arguments: params})
	}

	raw, err := attempt()
	if err != nil {
		// A transient failure against a server that is still ready gets a
		// single retry; everything else surfaces.
		kind := models.KindOf(err)
		if (kind == models.ErrKindTimeout || kind == models.ErrKindConnectionLost) &&
			conn.currentState() == models.ServerReady && ctx.Err() == nil {
			slog.Debug("Retrying tool call after transient failure",
				"server_id", serverID, "tool", toolName, "kind", kind)
			raw, err = attempt()
		}
	}
	if err != nil {
		if models.KindOf(err) != "" {
			return nil, err
		}
		// Tool-level JSON-RPC errors come back in-band.
		return nil, models.WrapTurnError(models.ErrKindToolUnavailable, err).WithServer(serverID, "")
	}

	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tool result from %s: %w", serverID, err)
	}

	text := result.textOf()
	if s.masker != nil {
		text = s.masker.MaskToolResult(serverID, text)
	}
	return &InvokeResult{Text: text, IsError: result.IsError}, nil
}

// ListTools returns the current catalog, or one server's slice when
// serverID is non-empty. Reads are lock-free against the latest snapshot.
func (s *Service) ListTools(serverID string) []models.Tool {
	snapshot := s.catalog.Load()
	if serverID == "" {
		return snapshot.all
	}
	return snapshot.byServer[serverID]
}

// HasServer reports whether a server id is registered.
func (s *Service) HasServer(serverID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[serverID]
	return ok
}

// State returns the connection state for one server.
func (s *Service) State(serverID string) (models.ServerState, error) {
	conn, err := s.conn(serverID)
	if err != nil {
		return "", err
	}
	return conn.currentState(), nil
}

// Statuses returns the API view of every registered server.
func (s *Service) Statuses() []models.MCPServerStatus {
	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	statuses := make([]models.MCPServerStatus, len(conns))
	for i, conn := range conns {
		statuses[i] = conn.status()
	}
	return statuses
}

// Ping checks liveness of one ready connection.
func (s *Service) Ping(ctx context.Context, serverID string) error {
	conn, err := s.conn(serverID)
	if err != nil {
		return err
	}
	_, err = conn.call(ctx, methodPing, struct{}{})
	return err
}

// Close tears down one server. In-flight invocations fail ConnectionLost;
// the server's tools leave the catalog.
func (s *Service) Close(serverID string) error {
	s.mu.Lock()
	conn, ok := s.conns[serverID]
	if !ok {
		s.mu.Unlock()
		return models.NewTurnError(models.ErrKindNotFound, "server %s is not registered", serverID)
	}
	delete(s.conns, serverID)
	s.mu.Unlock()

	conn.close()
	s.republish()
	slog.Info("MCP server closed", "server_id", serverID)
	return nil
}

// CloseAll tears down every connection. Used at shutdown.
func (s *Service) CloseAll() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*connection, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.conns = make(map[string]*connection)
	s.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
	s.republish()
}

func (s *Service) conn(serverID string) (*connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[serverID]
	if !ok {
		return nil, models.NewTurnError(models.ErrKindNotFound, "server %s is not registered", serverID)
	}
	return conn, nil
}

// republish rebuilds the catalog snapshot and swaps it in atomically.
func (s *Service) republish() {
	s.mu.Lock()
	conns := make(map[string]*connection, len(s.conns))
	for id, conn := range s.conns {
		conns[id] = conn
	}
	s.mu.Unlock()

	snapshot := &catalogSnapshot{byServer: make(map[string][]models.Tool, len(conns))}
	for id, conn := range conns {
		tools := conn.listTools()
		if len(tools) == 0 {
			continue
		}
		snapshot.byServer[id] = tools
		snapshot.all = append(snapshot.all, tools...)
	}
	s.catalog.Store(snapshot)
}
