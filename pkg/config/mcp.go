package config

import (
	"fmt"
	"sync"
	"time"
)

// MCPServerConfig defines MCP server configuration
type MCPServerConfig struct {
	// Transport configuration (required)
	Transport TransportConfig `yaml:"transport" validate:"required"`

	// Per-invocation timeout for this server (0 = defaults.tool_timeout)
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	// When true a dead command-transport subprocess is not restarted
	DisableRestart bool `yaml:"disable_restart,omitempty"`

	// Data masking applied to tool results before they reach the model
	DataMasking *MaskingConfig `yaml:"data_masking,omitempty"`
}

// MCPServerRegistry stores MCP server configurations in memory with
// thread-safe access. Servers may be added and removed at runtime through
// the orchestrator.
type MCPServerRegistry struct {
	servers map[string]*MCPServerConfig
	mu      sync.RWMutex
}

// NewMCPServerRegistry creates a new MCP server registry
func NewMCPServerRegistry(servers map[string]*MCPServerConfig) *MCPServerRegistry {
	copied := make(map[string]*MCPServerConfig, len(servers))
	for k, v := range servers {
		copied[k] = v
	}
	return &MCPServerRegistry{
		servers: copied,
	}
}

// Get retrieves an MCP server configuration by ID (thread-safe)
func (r *MCPServerRegistry) Get(serverID string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, exists := r.servers[serverID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID)
	}
	return server, nil
}

// GetAll returns all MCP server configurations (thread-safe, returns copy)
func (r *MCPServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// Set adds or replaces an MCP server configuration (thread-safe)
func (r *MCPServerRegistry) Set(serverID string, cfg *MCPServerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.servers[serverID] = cfg
}

// Remove deletes an MCP server configuration (thread-safe)
func (r *MCPServerRegistry) Remove(serverID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.servers[serverID]; !exists {
		return fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID)
	}
	delete(r.servers, serverID)
	return nil
}

// Has checks if an MCP server exists in the registry (thread-safe)
func (r *MCPServerRegistry) Has(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.servers[serverID]
	return exists
}

// Len returns the number of MCP servers in the registry (thread-safe)
func (r *MCPServerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.servers)
}
