package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/metrics"
	"github.com/maestrokit/maestro/pkg/models"
	"github.com/maestrokit/maestro/pkg/version"
)

const handshakeTimeout = 30 * time.Second

type invokeOutcome struct {
	result json.RawMessage
	err    error
}

// connection owns the link to one MCP server: transport lifecycle, request
// correlation, the server's slice of the tool catalog, and reconnect
// scheduling. Lock ordering: mu never held across transport I/O; writeMu
// only serializes send and is never taken under mu.
type connection struct {
	serverID string
	cfg      *config.MCPServerConfig
	factory  transportFactory
	backoff  config.BackoffDefaults

	// onStateChange is called after every state or tool-list transition so
	// the service can republish the catalog. Called without locks held.
	onStateChange func()

	writeMu sync.Mutex

	mu        sync.Mutex
	state     models.ServerState
	transport transport
	slots     map[string]chan invokeOutcome
	tools     []models.Tool
	attempt   int
	closed    bool
	retry     *time.Timer
}

func newConnection(serverID string, cfg *config.MCPServerConfig, factory transportFactory, backoff config.BackoffDefaults, onStateChange func()) *connection {
	return &connection{
		serverID:      serverID,
		cfg:           cfg,
		factory:       factory,
		backoff:       backoff,
		onStateChange: onStateChange,
		state:         models.ServerDisconnected,
		slots:         make(map[string]chan invokeOutcome),
	}
}

// connect establishes the transport, runs the handshake, and publishes the
// tool list. On failure the connection goes degraded and a reconnect is
// scheduled; the first caller still gets the error.
func (c *connection) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("connection closed")
	}
	c.state = models.ServerConnecting
	c.mu.Unlock()

	demuxStarted, err := c.establish(ctx)
	if err != nil {
		if !demuxStarted {
			// No frame channel means no demux goroutine to observe the
			// failure; tear down here.
			c.handleDisconnect(err)
		}
		return err
	}
	return nil
}

// establish reports whether the demux goroutine was started. Once it runs,
// teardown on failure belongs to it: closing the transport closes the frame
// channel, and demux calls handleDisconnect exactly once.
func (c *connection) establish(ctx context.Context) (bool, error) {
	t, err := c.factory()
	if err != nil {
		return false, err
	}
	frames, err := t.connect(ctx)
	if err != nil {
		return false, fmt.Errorf("connect %s: %w", c.serverID, err)
	}

	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()
	go c.demux(frames)

	// 1. initialize handshake
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	params := initializeParams{ProtocolVersion: protocolVersion}
	params.ClientInfo = clientInfo{Name: version.AppName, Version: version.GitCommit}
	if _, err := c.call(hctx, methodInitialize, params); err != nil {
		t.close()
		return true, fmt.Errorf("initialize %s: %w", c.serverID, err)
	}

	// 2. tools/list populates this server's catalog slice
	raw, err := c.call(hctx, methodListTools, struct{}{})
	if err != nil {
		t.close()
		return true, fmt.Errorf("list tools on %s: %w", c.serverID, err)
	}
	var listed listToolsResult
	if err := json.Unmarshal(raw, &listed); err != nil {
		t.close()
		return true, fmt.Errorf("decode tool list from %s: %w", c.serverID, err)
	}

	tools := make([]models.Tool, len(listed.Tools))
	for i, td := range listed.Tools {
		tools[i] = models.Tool{
			ServerID:    c.serverID,
			Name:        td.Name,
			Description: td.Description,
			InputSchema: td.InputSchema,
		}
	}

	c.mu.Lock()
	c.tools = tools
	c.state = models.ServerReady
	c.attempt = 0
	c.mu.Unlock()
	c.onStateChange()

	slog.Info("MCP server ready", "server_id", c.serverID, "tools", len(tools))
	return true, nil
}

// demux routes inbound frames to their completion slots. Responses without
// a waiting slot (late arrivals after timeout or cancel) are dropped. When
// the frame channel closes the connection is lost.
func (c *connection) demux(frames <-chan []byte) {
	for raw := range frames {
		var resp rpcResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			slog.Warn("Dropping undecodable MCP frame", "server_id", c.serverID, "error", err)
			continue
		}
		if resp.ID == "" {
			// Server-initiated notification; nothing routes here today.
			continue
		}

		c.mu.Lock()
		slot, ok := c.slots[resp.ID]
		delete(c.slots, resp.ID)
		c.mu.Unlock()
		if !ok {
			slog.Debug("Dropping late MCP response", "server_id", c.serverID, "request_id", resp.ID)
			continue
		}

		if resp.Error != nil {
			slot <- invokeOutcome{err: resp.Error}
		} else {
			slot <- invokeOutcome{result: resp.Result}
		}
	}
	c.handleDisconnect(fmt.Errorf("connection to %s lost", c.serverID))
}

// handleDisconnect fails all in-flight slots, moves to degraded, and
// schedules a reconnect unless the descriptor forbids restarts or the
// connection was closed deliberately.
func (c *connection) handleDisconnect(cause error) {
	c.mu.Lock()
	if c.state == models.ServerClosed {
		c.mu.Unlock()
		return
	}

	failed := len(c.slots)
	for id, slot := range c.slots {
		slot <- invokeOutcome{err: models.WrapTurnError(models.ErrKindConnectionLost, cause).WithServer(c.serverID, id)}
		delete(c.slots, id)
	}
	if c.transport != nil {
		c.transport.close()
		c.transport = nil
	}

	if c.closed {
		c.state = models.ServerClosed
		c.mu.Unlock()
		c.onStateChange()
		return
	}

	c.state = models.ServerDegraded
	restart := !(c.cfg.DisableRestart && c.cfg.Transport.Type == config.TransportTypeCommand)
	attempt := c.attempt
	c.attempt++
	if restart {
		delay := backoffDelay(c.backoff.Base, c.backoff.Max, attempt)
		c.retry = time.AfterFunc(delay, c.reconnect)
		slog.Warn("MCP server degraded, reconnect scheduled",
			"server_id", c.serverID, "failed_in_flight", failed,
			"attempt", attempt, "delay", delay, "error", cause)
	} else {
		slog.Warn("MCP server degraded, restart disabled",
			"server_id", c.serverID, "failed_in_flight", failed, "error", cause)
	}
	c.mu.Unlock()
	c.onStateChange()
}

func (c *connection) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	metrics.MCPReconnectsTotal.WithLabelValues(c.serverID).Inc()
	if err := c.connect(context.Background()); err != nil {
		slog.Debug("MCP reconnect attempt failed", "server_id", c.serverID, "error", err)
	}
}

// call performs one JSON-RPC round trip. A context cancelled before the
// send is observed up front and produces no network write.
func (c *connection) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := uuid.NewString()
	if err := ctx.Err(); err != nil {
		return nil, ctxError(ctx, c.serverID, id)
	}

	frame, err := newRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	slot := make(chan invokeOutcome, 1)
	c.mu.Lock()
	if c.closed || c.transport == nil {
		c.mu.Unlock()
		return nil, models.NewTurnError(models.ErrKindConnectionLost, "server %s is not connected", c.serverID).WithServer(c.serverID, id)
	}
	t := c.transport
	c.slots[id] = slot
	c.mu.Unlock()

	c.writeMu.Lock()
	err = t.send(ctx, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.dropSlot(id)
		return nil, models.WrapTurnError(models.ErrKindConnectionLost, err).WithServer(c.serverID, id)
	}

	select {
	case outcome := <-slot:
		return outcome.result, outcome.err
	case <-ctx.Done():
		c.dropSlot(id)
		return nil, ctxError(ctx, c.serverID, id)
	}
}

func (c *connection) dropSlot(id string) {
	c.mu.Lock()
	delete(c.slots, id)
	c.mu.Unlock()
}

// listTools returns this server's tools. The slice is never mutated after
// publication, so sharing it is safe.
func (c *connection) listTools() []models.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools
}

func (c *connection) hasTool(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (c *connection) currentState() models.ServerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connection) status() models.MCPServerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.MCPServerStatus{
		ServerID:  c.serverID,
		Transport: models.TransportType(c.cfg.Transport.Type),
		State:     c.state,
		ToolCount: len(c.tools),
	}
}

// close tears the connection down for good. In-flight requests fail with
// ConnectionLost; no reconnect is scheduled.
func (c *connection) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.retry != nil {
		c.retry.Stop()
	}
	t := c.transport
	c.mu.Unlock()

	if t != nil {
		// Closing the transport closes the frame channel; demux finishes
		// the teardown and fails remaining slots.
		t.close()
	} else {
		c.mu.Lock()
		c.state = models.ServerClosed
		c.mu.Unlock()
		c.onStateChange()
	}
}

func ctxError(ctx context.Context, serverID, requestID string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return models.NewTurnError(models.ErrKindTimeout, "request to %s timed out", serverID).WithServer(serverID, requestID)
	}
	return models.NewTurnError(models.ErrKindCancelled, "request to %s cancelled", serverID).WithServer(serverID, requestID)
}
