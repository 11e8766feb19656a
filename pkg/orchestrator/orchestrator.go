// Package orchestrator coordinates the runtime: agent lifecycle, routing,
// turn execution, the memory API, and MCP server lifecycle. It owns the
// MCP service singleton and shuts the system down in order.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/maestrokit/maestro/pkg/agent"
	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/conversation"
	"github.com/maestrokit/maestro/pkg/knowledge"
	"github.com/maestrokit/maestro/pkg/llm"
	"github.com/maestrokit/maestro/pkg/mcp"
	"github.com/maestrokit/maestro/pkg/memory/buffer"
	"github.com/maestrokit/maestro/pkg/memory/extractor"
	"github.com/maestrokit/maestro/pkg/memory/longterm"
	"github.com/maestrokit/maestro/pkg/memory/memobase"
	"github.com/maestrokit/maestro/pkg/models"
	"github.com/maestrokit/maestro/pkg/routing"
)

// ClientFactory resolves provider names to model clients. *llm.Factory
// implements it.
type ClientFactory interface {
	Client(name string) (llm.Client, error)
}

// Deps bundles the services the orchestrator coordinates. LongTerm, UserCtx,
// Knowledge, and Extractor may be nil; the corresponding features degrade.
type Deps struct {
	LLM       ClientFactory
	Router    *routing.Router
	MCP       *mcp.Service
	Buffer    *buffer.Buffer
	LongTerm  *longterm.Memory
	UserCtx   *memobase.Store
	Knowledge *knowledge.Library
	Extractor *extractor.Extractor
}

// agentEntry pairs a built agent instance with its in-flight accounting so
// removal can drain.
type agentEntry struct {
	agent *agent.Agent

	mu       sync.Mutex
	inFlight int
	draining bool
	idle     chan struct{} // closed when draining and inFlight hits zero
}

// acquire admits one turn. Draining entries reject.
func (e *agentEntry) acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draining {
		return false
	}
	e.inFlight++
	return true
}

func (e *agentEntry) release() {
	e.mu.Lock()
	e.inFlight--
	if e.draining && e.inFlight == 0 && e.idle != nil {
		close(e.idle)
		e.idle = nil
	}
	e.mu.Unlock()
}

// drain rejects new turns and returns a channel closed once in-flight turns
// finish. Already-idle entries return a closed channel.
func (e *agentEntry) drain() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draining = true
	if e.inFlight == 0 {
		done := make(chan struct{})
		close(done)
		return done
	}
	if e.idle == nil {
		e.idle = make(chan struct{})
	}
	return e.idle
}

// Orchestrator is the runtime coordinator.
type Orchestrator struct {
	cfg   *config.Config
	deps  Deps
	convs *conversation.Manager

	mu        sync.RWMutex
	instances map[string]*agentEntry
	closed    bool
}

// New creates an orchestrator. Bootstrap registers the configured agents.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		convs:     conversation.NewManager(),
		instances: make(map[string]*agentEntry),
	}
}

// Bootstrap builds instances for the agents and MCP servers already present
// in configuration. MCP registration failures are logged and skipped; the
// service keeps reconnecting registered servers on its own.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	for serverID, serverCfg := range o.cfg.MCPServerRegistry.GetAll() {
		if err := o.deps.MCP.Register(ctx, serverID, serverCfg); err != nil {
			slog.Error("MCP server registration failed", "server_id", serverID, "error", err)
		}
	}

	for _, id := range o.cfg.AgentRegistry.IDs() {
		agentCfg, err := o.cfg.AgentRegistry.Get(id)
		if err != nil {
			return err
		}
		if err := o.register(id, agentCfg); err != nil {
			return fmt.Errorf("bootstrap agent %s: %w", id, err)
		}
	}

	if o.deps.Extractor != nil {
		o.deps.Extractor.Start()
	}
	return nil
}

// RegisterAgent validates the descriptor, builds the instance, and makes it
// routable. Replacing an existing id swaps the instance atomically; in-flight
// turns on the old instance run to completion.
func (o *Orchestrator) RegisterAgent(ctx context.Context, agentID string, agentCfg *config.AgentConfig) error {
	if agentID == "" || agentCfg == nil || agentCfg.Description == "" {
		return models.NewTurnError(models.ErrKindInvalidInput, "agent id and description are required")
	}
	for _, serverID := range agentCfg.MCPServers {
		if !o.deps.MCP.HasServer(serverID) {
			return models.NewTurnError(models.ErrKindInvalidInput,
				"agent %s references unknown MCP server %s", agentID, serverID)
		}
	}
	if o.deps.Knowledge != nil {
		for _, name := range agentCfg.KnowledgeSources {
			if _, err := o.deps.Knowledge.Get(name); err != nil {
				return models.WrapTurnError(models.ErrKindInvalidInput, err)
			}
		}
	}
	if err := o.register(agentID, agentCfg); err != nil {
		return err
	}
	o.cfg.AgentRegistry.Set(agentID, agentCfg)
	slog.Info("Agent registered", "agent_id", agentID)
	return nil
}

func (o *Orchestrator) register(agentID string, agentCfg *config.AgentConfig) error {
	name := agentCfg.LLMProvider
	if name == "" {
		name = o.cfg.Defaults.LLMProvider
	}
	client, err := o.deps.LLM.Client(name)
	if err != nil {
		return models.WrapTurnError(models.ErrKindInvalidInput, err)
	}

	instance := agent.New(agentID, agentCfg, agent.Deps{
		Client:    client,
		Tools:     o.deps.MCP,
		Buffer:    o.deps.Buffer,
		LongTerm:  o.deps.LongTerm,
		UserCtx:   o.deps.UserCtx,
		Knowledge: o.deps.Knowledge,
		Memory:    o.cfg.Memory,
		Defaults:  o.cfg.Defaults,
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("orchestrator is shut down")
	}
	o.instances[agentID] = &agentEntry{agent: instance}
	return nil
}

// RemoveAgent rejects new turns for the agent, waits for in-flight turns to
// drain, and releases it. Routing cache entries for the agent are dropped.
func (o *Orchestrator) RemoveAgent(ctx context.Context, agentID string) error {
	o.mu.Lock()
	entry, ok := o.instances[agentID]
	if !ok {
		o.mu.Unlock()
		return models.NewTurnError(models.ErrKindNotFound, "agent %s is not registered", agentID)
	}
	delete(o.instances, agentID)
	o.mu.Unlock()

	select {
	case <-entry.drain():
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := o.cfg.AgentRegistry.Remove(agentID); err != nil {
		slog.Warn("Agent missing from registry at removal", "agent_id", agentID, "error", err)
	}
	o.deps.Router.InvalidateAgent(agentID)
	slog.Info("Agent removed", "agent_id", agentID)
	return nil
}

// Agents returns the registered agent ids in registration order.
func (o *Orchestrator) Agents() []string {
	return o.cfg.AgentRegistry.IDs()
}

// AgentConfig returns one agent's descriptor.
func (o *Orchestrator) AgentConfig(agentID string) (*config.AgentConfig, error) {
	cfg, err := o.cfg.AgentRegistry.Get(agentID)
	if err != nil {
		return nil, models.WrapTurnError(models.ErrKindNotFound, err)
	}
	return cfg, nil
}

func (o *Orchestrator) entry(agentID string) (*agentEntry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return nil, fmt.Errorf("orchestrator is shut down")
	}
	entry, ok := o.instances[agentID]
	if !ok {
		return nil, models.NewTurnError(models.ErrKindNotFound, "agent %s is not registered", agentID)
	}
	return entry, nil
}

// SetMCPServer registers or replaces an MCP server at runtime. Replacement
// closes the old connection first; its in-flight invocations fail
// ConnectionLost.
func (o *Orchestrator) SetMCPServer(ctx context.Context, serverID string, serverCfg *config.MCPServerConfig) error {
	if o.deps.MCP.HasServer(serverID) {
		if err := o.deps.MCP.Close(serverID); err != nil {
			return err
		}
	}
	if err := o.deps.MCP.Register(ctx, serverID, serverCfg); err != nil {
		return err
	}
	o.cfg.MCPServerRegistry.Set(serverID, serverCfg)
	return nil
}

// RemoveMCPServer closes the server and drops it from configuration. Agents
// that declare it keep running; its tools just disappear from their scope.
func (o *Orchestrator) RemoveMCPServer(ctx context.Context, serverID string) error {
	if err := o.deps.MCP.Close(serverID); err != nil {
		return err
	}
	if err := o.cfg.MCPServerRegistry.Remove(serverID); err != nil {
		slog.Warn("MCP server missing from registry at removal", "server_id", serverID, "error", err)
	}
	return nil
}

// MCPStatuses returns the state of every registered MCP server.
func (o *Orchestrator) MCPStatuses() []models.MCPServerStatus {
	statuses := o.deps.MCP.Statuses()
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ServerID < statuses[j].ServerID })
	return statuses
}

// SearchMemory queries the requested memory tiers and merges hits best
// first. Long-term requires a user_id filter entry; scope "both" silently
// skips the tier without one.
func (o *Orchestrator) SearchMemory(ctx context.Context, query string, opts models.SearchOptions) ([]models.MemoryHit, error) {
	scope := opts.Scope
	if scope == "" {
		scope = models.ScopeBoth
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	var hits []models.MemoryHit
	if scope == models.ScopeBuffer || scope == models.ScopeBoth {
		hits = append(hits, o.deps.Buffer.Search(ctx, query, limit, opts.Filter, opts.RecencyBias)...)
	}

	if scope == models.ScopeLongTerm || scope == models.ScopeBoth {
		userID := models.UserIDFrom(opts.Filter)
		switch {
		case o.deps.LongTerm == nil || userID == 0:
			if scope == models.ScopeLongTerm {
				return nil, models.NewTurnError(models.ErrKindInvalidInput,
					"long-term search requires a user_id filter")
			}
		default:
			filter := longterm.Filter{UserID: userID}
			if agentID, ok := opts.Filter[models.MetaAgentID].(string); ok {
				filter.AgentID = agentID
			}
			ltHits, err := o.deps.LongTerm.Search(ctx, query, limit, filter)
			if err != nil {
				if scope == models.ScopeLongTerm {
					return nil, models.WrapTurnError(models.ErrKindMemoryUnavailable, err)
				}
				slog.Warn("Long-term search unavailable; returning buffer hits only", "error", err)
			} else {
				hits = append(hits, ltHits...)
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// AddUserContext stores one user fact. The importance gate applies; a write
// the gate holds back returns memobase.ErrSkipped.
func (o *Orchestrator) AddUserContext(ctx context.Context, userID int64, key string, value any, importance float64, source models.ContextSource) error {
	if o.deps.UserCtx == nil {
		return models.NewTurnError(models.ErrKindMemoryUnavailable, "user context store is not configured")
	}
	return o.deps.UserCtx.Put(ctx, userID, key, value, importance, source)
}

// GetUserContext returns the user's full context map. Anonymous users get an
// empty map.
func (o *Orchestrator) GetUserContext(ctx context.Context, userID int64) (map[string]models.ContextValue, error) {
	if o.deps.UserCtx == nil {
		return map[string]models.ContextValue{}, nil
	}
	return o.deps.UserCtx.Get(ctx, userID)
}

// UpdateUserContext changes a fact's value, keeping importance and source.
func (o *Orchestrator) UpdateUserContext(ctx context.Context, userID int64, key string, value any) error {
	if o.deps.UserCtx == nil {
		return models.NewTurnError(models.ErrKindMemoryUnavailable, "user context store is not configured")
	}
	return o.deps.UserCtx.Update(ctx, userID, key, value)
}

// DeleteUserContext removes one fact, or the user's whole context when key
// is empty.
func (o *Orchestrator) DeleteUserContext(ctx context.Context, userID int64, key string) error {
	if o.deps.UserCtx == nil {
		return models.NewTurnError(models.ErrKindMemoryUnavailable, "user context store is not configured")
	}
	return o.deps.UserCtx.Delete(ctx, userID, key)
}

// Conversations exposes the conversation manager for maintenance and the API.
func (o *Orchestrator) Conversations() *conversation.Manager {
	return o.convs
}

// Shutdown runs the ordered teardown: stop admitting turns, close MCP
// connections, then stop the extraction pool with the given grace.
func (o *Orchestrator) Shutdown(grace time.Duration) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.deps.MCP.CloseAll()
	if o.deps.Extractor != nil {
		o.deps.Extractor.Stop(grace)
	}
	slog.Info("Orchestrator shut down")
}
