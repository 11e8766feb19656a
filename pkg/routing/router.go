// Package routing selects the agent for an incoming message. Decisions come
// from a dedicated (usually small) model behind a fingerprint cache, so
// repeated or trivially reworded messages skip the model entirely.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/llm"
	"github.com/maestrokit/maestro/pkg/models"
)

// Router picks an agent id for a message.
type Router struct {
	cfg    *config.RoutingConfig
	agents *config.AgentRegistry
	client llm.Client
	cache  *decisionCache
}

// New creates a router over the agent registry. The client is the routing
// model; it may be nil only when at most one agent is ever registered.
func New(cfg *config.RoutingConfig, agents *config.AgentRegistry, client llm.Client) *Router {
	return &Router{
		cfg:    cfg,
		agents: agents,
		client: client,
		cache:  newDecisionCache(cfg.CacheTTL),
	}
}

// SelectAgent returns the agent id for the message. Single-agent
// deployments short-circuit; otherwise the fingerprint cache is consulted
// before the routing model. Model failures and unparseable answers fall
// back to the configured default agent when one exists.
func (r *Router) SelectAgent(ctx context.Context, message string) (string, error) {
	ids := r.agents.IDs()
	if len(ids) == 0 {
		return "", models.NewTurnError(models.ErrKindNoAgents, "no agents registered")
	}
	if len(ids) == 1 {
		return ids[0], nil
	}

	key := Fingerprint(message)
	if agentID, ok := r.cache.get(key); ok && r.agents.Has(agentID) {
		slog.Debug("Routing cache hit", "agent_id", agentID)
		return agentID, nil
	}

	agentID, err := r.selectByModel(ctx, message, ids)
	if err != nil {
		if fallback := r.fallback(); fallback != "" {
			slog.Warn("Routing model failed, using default agent",
				"default_agent", fallback, "error", err)
			return fallback, nil
		}
		return "", models.WrapTurnError(models.ErrKindRoutingFailed, err)
	}

	r.cache.put(key, agentID)
	return agentID, nil
}

// InvalidateAgent drops cached decisions for a removed agent.
func (r *Router) InvalidateAgent(agentID string) {
	r.cache.invalidate(agentID)
}

// Sweep evicts expired cache entries. Called from periodic maintenance.
func (r *Router) Sweep() int {
	return r.cache.sweep(time.Now())
}

// CacheLen returns the number of cached decisions.
func (r *Router) CacheLen() int {
	return r.cache.len()
}

func (r *Router) selectByModel(ctx context.Context, message string, ids []string) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("no routing model configured")
	}

	result, err := llm.Collect(ctx, r.client, &llm.GenerateInput{
		Messages: []llm.ConversationMessage{
			{Role: string(models.RoleSystem), Content: r.routingPrompt(ids)},
			{Role: string(models.RoleUser), Content: message},
		},
	})
	if err != nil {
		return "", fmt.Errorf("routing model call: %w", err)
	}

	agentID, ok := r.parseSelection(result.Text, ids)
	if !ok {
		return "", fmt.Errorf("routing model answered with no known agent id: %q", truncate(result.Text, 120))
	}
	return agentID, nil
}

// routingPrompt lists agents in registration order so the prompt is
// deterministic for a given registry state.
func (r *Router) routingPrompt(ids []string) string {
	var b strings.Builder
	b.WriteString("You route user messages to the best-suited agent.\n")
	b.WriteString("Answer with exactly one agent id from this list and nothing else.\n\nAgents:\n")
	for _, id := range ids {
		agent, err := r.agents.Get(id)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", id, agent.Description)
		if len(agent.RoutingHints) > 0 {
			fmt.Fprintf(&b, "  handles: %s\n", strings.Join(agent.RoutingHints, ", "))
		}
	}
	return b.String()
}

// parseSelection accepts an exact id answer, tolerating quoting and
// punctuation; failing that, the first registered id appearing anywhere in
// the answer wins.
func (r *Router) parseSelection(answer string, ids []string) (string, bool) {
	cleaned := strings.Trim(strings.TrimSpace(answer), "\"'`.")
	if r.agents.Has(cleaned) {
		return cleaned, true
	}
	for _, id := range ids {
		if strings.Contains(answer, id) {
			return id, true
		}
	}
	return "", false
}

func (r *Router) fallback() string {
	if r.cfg.DefaultAgent != "" && r.agents.Has(r.cfg.DefaultAgent) {
		return r.cfg.DefaultAgent
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
