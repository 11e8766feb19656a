package config

import "time"

// RoutingConfig controls message-to-agent selection.
type RoutingConfig struct {
	// Provider is the llm_providers entry used by the routing model;
	// typically a smaller/cheaper model (empty = defaults.llm_provider)
	Provider string `yaml:"provider,omitempty"`

	// CacheTTL bounds how long a fingerprint → agent decision is reused
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// DefaultAgent receives turns when routing fails or no agent matches
	DefaultAgent string `yaml:"default_agent,omitempty"`
}

// DefaultRoutingConfig returns the built-in routing defaults.
func DefaultRoutingConfig() *RoutingConfig {
	return &RoutingConfig{
		CacheTTL: 5 * time.Minute,
	}
}
