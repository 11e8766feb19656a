package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig() *Config {
	return &Config{
		configDir: "/etc/maestro",
		Defaults:  &Defaults{LLMProvider: "openai-default"},
		Memory:    DefaultMemoryConfig(),
		Routing:   DefaultRoutingConfig(),
		Knowledge: &KnowledgeConfig{
			Sources: map[string]*KnowledgeSourceConfig{
				"handbook": {Path: "/docs/handbook.md", ChunkSize: 1200, TopK: 3},
			},
		},
		AgentRegistry: NewAgentRegistry(map[string]*AgentConfig{
			"weather": {Description: "weather expert", LLMProvider: "openai-mini"},
			"python":  {Description: "python expert"},
		}, []string{"python", "weather"}),
		MCPServerRegistry: NewMCPServerRegistry(map[string]*MCPServerConfig{}),
		LLMProviderRegistry: NewLLMProviderRegistry(map[string]*LLMProviderConfig{
			"openai-default": {Type: LLMProviderTypeOpenAI, Model: "gpt-4o"},
			"openai-mini":    {Type: LLMProviderTypeOpenAI, Model: "gpt-4o-mini"},
		}),
	}
}

func TestConfigStats(t *testing.T) {
	cfg := newTestConfig()
	stats := cfg.Stats()

	assert.Equal(t, 2, stats.Agents)
	assert.Equal(t, 0, stats.MCPServers)
	assert.Equal(t, 2, stats.LLMProviders)
	assert.Equal(t, 1, stats.KnowledgeSources)
}

func TestConfigDir(t *testing.T) {
	assert.Equal(t, "/etc/maestro", newTestConfig().ConfigDir())
}

func TestProviderFor(t *testing.T) {
	cfg := newTestConfig()

	t.Run("agent binding wins", func(t *testing.T) {
		agent, err := cfg.GetAgent("weather")
		require.NoError(t, err)

		provider, err := cfg.ProviderFor(agent)
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o-mini", provider.Model)
	})

	t.Run("falls back to system default", func(t *testing.T) {
		agent, err := cfg.GetAgent("python")
		require.NoError(t, err)

		provider, err := cfg.ProviderFor(agent)
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", provider.Model)
	})

	t.Run("no binding and no default", func(t *testing.T) {
		cfg := newTestConfig()
		cfg.Defaults.LLMProvider = ""

		agent, err := cfg.GetAgent("python")
		require.NoError(t, err)

		_, err = cfg.ProviderFor(agent)
		assert.ErrorIs(t, err, ErrLLMProviderNotFound)
	})
}
