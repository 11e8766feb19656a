// Package config provides configuration management for the Maestro system,
// including agent, MCP server, memory, routing, and LLM provider configurations.
package config

import (
	"fmt"
	"sync"
	"time"
)

// AgentConfig defines agent configuration (metadata only — instantiation lives in pkg/agent).
type AgentConfig struct {
	// Human-readable name shown in API listings; defaults to the agent id
	Name string `yaml:"name,omitempty"`

	// Description drives LLM routing; keep it one sentence and concrete
	Description string `yaml:"description" validate:"required"`

	// System prompt prepended to every turn
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// LLM provider for this agent (empty = defaults.llm_provider)
	LLMProvider string `yaml:"llm_provider,omitempty"`

	// MCP servers whose tools this agent may call
	MCPServers []string `yaml:"mcp_servers,omitempty"`

	// When true, a turn fails ToolUnavailable if any declared server is not
	// ready; default is to omit the missing server's tools silently
	MandatoryTools bool `yaml:"mandatory_tools,omitempty"`

	// Recency bias for buffer retrieval, 0..1 (nil = memory.buffer default)
	RecencyBias *float64 `yaml:"recency_bias,omitempty"`

	// Named knowledge sources attached to this agent
	KnowledgeSources []string `yaml:"knowledge_sources,omitempty"`

	// Per-agent tool invocation timeout (0 = defaults.tool_timeout)
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	// Example messages that should route here; appended to the routing prompt
	RoutingHints []string `yaml:"routing_hints,omitempty"`
}

// AgentRegistry stores agent configurations in memory with thread-safe access.
// Unlike the static registries, agents may be added and removed at runtime
// through the orchestrator.
type AgentRegistry struct {
	agents map[string]*AgentConfig
	order  []string // registration order, drives routing tie-breaks
	mu     sync.RWMutex
}

// NewAgentRegistry creates a new agent registry. Map iteration order is not
// deterministic, so initial agents are ordered by sorted id; runtime
// registrations append.
func NewAgentRegistry(agents map[string]*AgentConfig, order []string) *AgentRegistry {
	copied := make(map[string]*AgentConfig, len(agents))
	for k, v := range agents {
		copied[k] = v
	}
	orderCopy := make([]string, len(order))
	copy(orderCopy, order)
	return &AgentRegistry{
		agents: copied,
		order:  orderCopy,
	}
}

// Get retrieves an agent configuration by id (thread-safe)
func (r *AgentRegistry) Get(id string) (*AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.agents[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return agent, nil
}

// GetAll returns all agent configurations (thread-safe, returns copy)
func (r *AgentRegistry) GetAll() map[string]*AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*AgentConfig, len(r.agents))
	for k, v := range r.agents {
		result[k] = v
	}
	return result
}

// IDs returns agent ids in registration order (thread-safe, returns copy)
func (r *AgentRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// Set adds or replaces an agent configuration (thread-safe). New ids append
// to the registration order; replacements keep their position.
func (r *AgentRegistry) Set(id string, cfg *AgentConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; !exists {
		r.order = append(r.order, id)
	}
	r.agents[id] = cfg
}

// Remove deletes an agent configuration (thread-safe)
func (r *AgentRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; !exists {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	delete(r.agents, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Has checks if an agent exists in the registry (thread-safe)
func (r *AgentRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.agents[id]
	return exists
}

// Len returns the number of agents in the registry (thread-safe)
func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.agents)
}
