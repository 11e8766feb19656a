package config

import (
	"fmt"
	"os"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: LLM providers → MCP servers → agents → subsystems.
	// This ensures dependencies are validated before dependents.

	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("MCP server validation failed: %w", err)
	}

	if err := v.validateAgents(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}

	if err := v.validateMemory(); err != nil {
		return fmt.Errorf("memory validation failed: %w", err)
	}

	if err := v.validateRouting(); err != nil {
		return fmt.Errorf("routing validation failed: %w", err)
	}

	if err := v.validateKnowledge(); err != nil {
		return fmt.Errorf("knowledge validation failed: %w", err)
	}

	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateLLMProviders() error {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("%w: %s", ErrInvalidValue, provider.Type))
		}
		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", ErrMissingRequiredField)
		}
		if provider.Temperature != nil && (*provider.Temperature < 0 || *provider.Temperature > 2) {
			return NewValidationError("llm_provider", name, "temperature", fmt.Errorf("%w: must be within [0, 2]", ErrInvalidValue))
		}
	}
	return nil
}

func (v *ConfigValidator) validateMCPServers() error {
	for serverID, server := range v.cfg.MCPServerRegistry.GetAll() {
		if err := ValidateMCPServer(serverID, server); err != nil {
			return err
		}
	}
	return nil
}

// ValidateMCPServer checks one server config. Exported because runtime
// registrations through the orchestrator go through the same checks.
func ValidateMCPServer(serverID string, server *MCPServerConfig) error {
	if !server.Transport.Type.IsValid() {
		return NewValidationError("mcp_server", serverID, "transport.type", fmt.Errorf("%w: %s", ErrInvalidValue, server.Transport.Type))
	}

	switch server.Transport.Type {
	case TransportTypeHTTPSSE:
		if server.Transport.Endpoint == "" {
			return NewValidationError("mcp_server", serverID, "transport.endpoint", ErrMissingRequiredField)
		}
	case TransportTypeCommand:
		if server.Transport.Command == "" {
			return NewValidationError("mcp_server", serverID, "transport.command", ErrMissingRequiredField)
		}
	}

	if server.RequestTimeout < 0 {
		return NewValidationError("mcp_server", serverID, "request_timeout", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateAgents() error {
	for id, agent := range v.cfg.AgentRegistry.GetAll() {
		if agent.Description == "" {
			// Routing selects agents by description; an agent without one
			// is unreachable except by explicit id
			return NewValidationError("agent", id, "description", ErrMissingRequiredField)
		}

		if agent.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(agent.LLMProvider) {
			return NewValidationError("agent", id, "llm_provider",
				fmt.Errorf("%w: LLM provider '%s' not found", ErrInvalidReference, agent.LLMProvider))
		}

		for _, serverID := range agent.MCPServers {
			if !v.cfg.MCPServerRegistry.Has(serverID) {
				return NewValidationError("agent", id, "mcp_servers",
					fmt.Errorf("%w: MCP server '%s' not found", ErrInvalidReference, serverID))
			}
		}

		for _, source := range agent.KnowledgeSources {
			if v.cfg.Knowledge == nil || v.cfg.Knowledge.Sources[source] == nil {
				return NewValidationError("agent", id, "knowledge_sources",
					fmt.Errorf("%w: knowledge source '%s' not found", ErrInvalidReference, source))
			}
		}

		if agent.RecencyBias != nil && (*agent.RecencyBias < 0 || *agent.RecencyBias > 1) {
			return NewValidationError("agent", id, "recency_bias", fmt.Errorf("%w: must be within [0, 1]", ErrInvalidValue))
		}

		if agent.RequestTimeout < 0 {
			return NewValidationError("agent", id, "request_timeout", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
		}
	}
	return nil
}

func (v *ConfigValidator) validateMemory() error {
	m := v.cfg.Memory

	if m.Embedding.Dimension <= 0 {
		return NewValidationError("memory", "embedding", "dimension", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if m.Embedding.Provider != "" {
		provider, err := v.cfg.LLMProviderRegistry.Get(m.Embedding.Provider)
		if err != nil {
			return NewValidationError("memory", "embedding", "provider",
				fmt.Errorf("%w: LLM provider '%s' not found", ErrInvalidReference, m.Embedding.Provider))
		}
		if provider.EmbeddingModel == "" {
			return NewValidationError("memory", "embedding", "provider",
				fmt.Errorf("%w: provider '%s' declares no embedding_model", ErrInvalidValue, m.Embedding.Provider))
		}
	}

	if m.Buffer.ContextWindow <= 0 {
		return NewValidationError("memory", "buffer", "context_window", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if m.Buffer.BufferMultiplier < 1 {
		return NewValidationError("memory", "buffer", "buffer_multiplier", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if m.Buffer.RebuildEvery <= 0 {
		return NewValidationError("memory", "buffer", "rebuild_every", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if !m.Buffer.Similarity.IsValid() {
		return NewValidationError("memory", "buffer", "similarity", fmt.Errorf("%w: %s", ErrInvalidValue, m.Buffer.Similarity))
	}
	if m.Buffer.DefaultRecencyBias < 0 || m.Buffer.DefaultRecencyBias > 1 {
		return NewValidationError("memory", "buffer", "default_recency_bias", fmt.Errorf("%w: must be within [0, 1]", ErrInvalidValue))
	}

	if !m.LongTerm.Driver.IsValid() {
		return NewValidationError("memory", "long_term", "driver", fmt.Errorf("%w: %s", ErrInvalidValue, m.LongTerm.Driver))
	}
	if m.LongTerm.DefaultImportance < 0 || m.LongTerm.DefaultImportance > 1 {
		return NewValidationError("memory", "long_term", "default_importance", fmt.Errorf("%w: must be within [0, 1]", ErrInvalidValue))
	}

	if m.Extraction.Enabled {
		if m.Extraction.Interval < 1 {
			return NewValidationError("memory", "extraction", "interval", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
		if m.Extraction.ConfidenceThreshold < 0 || m.Extraction.ConfidenceThreshold > 1 {
			return NewValidationError("memory", "extraction", "confidence_threshold", fmt.Errorf("%w: must be within [0, 1]", ErrInvalidValue))
		}
		if m.Extraction.Workers < 1 {
			return NewValidationError("memory", "extraction", "workers", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
		if m.Extraction.Provider != "" && !v.cfg.LLMProviderRegistry.Has(m.Extraction.Provider) {
			return NewValidationError("memory", "extraction", "provider",
				fmt.Errorf("%w: LLM provider '%s' not found", ErrInvalidReference, m.Extraction.Provider))
		}
	}

	return nil
}

func (v *ConfigValidator) validateRouting() error {
	r := v.cfg.Routing

	if r.CacheTTL <= 0 {
		return NewValidationError("routing", "routing", "cache_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.Provider != "" && !v.cfg.LLMProviderRegistry.Has(r.Provider) {
		return NewValidationError("routing", "routing", "provider",
			fmt.Errorf("%w: LLM provider '%s' not found", ErrInvalidReference, r.Provider))
	}
	if r.DefaultAgent != "" && !v.cfg.AgentRegistry.Has(r.DefaultAgent) {
		return NewValidationError("routing", "routing", "default_agent",
			fmt.Errorf("%w: agent '%s' not found", ErrInvalidReference, r.DefaultAgent))
	}
	return nil
}

func (v *ConfigValidator) validateKnowledge() error {
	if v.cfg.Knowledge == nil {
		return nil
	}
	for name, src := range v.cfg.Knowledge.Sources {
		if src.Path == "" {
			return NewValidationError("knowledge", name, "path", ErrMissingRequiredField)
		}
		if _, err := os.Stat(src.Path); err != nil {
			return NewValidationError("knowledge", name, "path", fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
		if src.ChunkSize <= 0 {
			return NewValidationError("knowledge", name, "chunk_size", fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
		if src.TopK <= 0 {
			return NewValidationError("knowledge", name, "top_k", fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
		if src.Threshold < 0 || src.Threshold > 1 {
			return NewValidationError("knowledge", name, "threshold", fmt.Errorf("%w: must be within [0, 1]", ErrInvalidValue))
		}
	}
	return nil
}

func (v *ConfigValidator) validateDefaults() error {
	d := v.cfg.Defaults

	if d.MaxToolRounds < 1 {
		return NewValidationError("defaults", "defaults", "max_tool_rounds", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if d.ToolTimeout <= 0 {
		return NewValidationError("defaults", "defaults", "tool_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if d.StallTimeout <= 0 {
		return NewValidationError("defaults", "defaults", "stall_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if d.ConsumerStallTimeout <= 0 {
		return NewValidationError("defaults", "defaults", "consumer_stall_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if d.SinkBuffer < 1 {
		return NewValidationError("defaults", "defaults", "sink_buffer", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if d.MCPBackoff != nil {
		if d.MCPBackoff.Base <= 0 {
			return NewValidationError("defaults", "defaults", "mcp_backoff.base", fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
		if d.MCPBackoff.Max < d.MCPBackoff.Base {
			return NewValidationError("defaults", "defaults", "mcp_backoff.max", fmt.Errorf("%w: must be at least mcp_backoff.base", ErrInvalidValue))
		}
	}
	if d.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(d.LLMProvider) {
		return NewValidationError("defaults", "defaults", "llm_provider",
			fmt.Errorf("%w: LLM provider '%s' not found", ErrInvalidReference, d.LLMProvider))
	}
	return nil
}
