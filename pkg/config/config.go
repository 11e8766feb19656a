package config

// Config is the umbrella configuration object that encapsulates
// all registries, defaults, and configuration state.
// This is the primary object returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// System-wide defaults
	Defaults *Defaults

	// Memory subsystem configuration
	Memory *MemoryConfig

	// Routing engine configuration
	Routing *RoutingConfig

	// Static knowledge sources
	Knowledge *KnowledgeConfig

	// Retention and periodic maintenance
	Retention *RetentionConfig

	// Additional allowed WebSocket origin patterns
	AllowedWSOrigins []string

	// Component registries
	AgentRegistry       *AgentRegistry
	MCPServerRegistry   *MCPServerRegistry
	LLMProviderRegistry *LLMProviderRegistry
}

// Initialize is defined in loader.go

// Stats contains statistics about loaded configuration
type Stats struct {
	Agents           int
	MCPServers       int
	LLMProviders     int
	KnowledgeSources int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.AgentRegistry != nil {
		s.Agents = c.AgentRegistry.Len()
	}
	if c.MCPServerRegistry != nil {
		s.MCPServers = c.MCPServerRegistry.Len()
	}
	if c.LLMProviderRegistry != nil {
		s.LLMProviders = c.LLMProviderRegistry.Len()
	}
	if c.Knowledge != nil {
		s.KnowledgeSources = len(c.Knowledge.Sources)
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetAgent retrieves an agent configuration by id.
// This is a convenience method that wraps AgentRegistry.Get().
func (c *Config) GetAgent(id string) (*AgentConfig, error) {
	return c.AgentRegistry.Get(id)
}

// GetMCPServer retrieves an MCP server configuration by ID.
// This is a convenience method that wraps MCPServerRegistry.Get().
func (c *Config) GetMCPServer(serverID string) (*MCPServerConfig, error) {
	return c.MCPServerRegistry.Get(serverID)
}

// GetLLMProvider retrieves an LLM provider configuration by name.
// This is a convenience method that wraps LLMProviderRegistry.Get().
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}

// ProviderFor resolves the effective LLM provider for an agent: the agent's
// own binding when set, else the system default.
func (c *Config) ProviderFor(agent *AgentConfig) (*LLMProviderConfig, error) {
	name := agent.LLMProvider
	if name == "" {
		name = c.Defaults.LLMProvider
	}
	if name == "" {
		return nil, ErrLLMProviderNotFound
	}
	return c.LLMProviderRegistry.Get(name)
}
