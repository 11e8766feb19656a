package config

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Agent Registry

func TestAgentRegistry(t *testing.T) {
	agents := map[string]*AgentConfig{
		"weather": {Description: "weather expert"},
		"python":  {Description: "python expert"},
	}

	registry := NewAgentRegistry(agents, []string{"python", "weather"})

	t.Run("Get existing agent", func(t *testing.T) {
		agent, err := registry.Get("weather")
		require.NoError(t, err)
		assert.Equal(t, "weather expert", agent.Description)
	})

	t.Run("Get nonexistent agent", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAgentNotFound)
	})

	t.Run("Has agent", func(t *testing.T) {
		assert.True(t, registry.Has("weather"))
		assert.False(t, registry.Has("nonexistent"))
	})

	t.Run("IDs preserve registration order", func(t *testing.T) {
		assert.Equal(t, []string{"python", "weather"}, registry.IDs())
	})

	t.Run("GetAll returns copy", func(t *testing.T) {
		all := registry.GetAll()
		assert.Len(t, all, 2)

		// Modify the returned map
		all["extra"] = &AgentConfig{Description: "extra"}

		// Original registry should be unchanged
		assert.False(t, registry.Has("extra"))
	})
}

func TestAgentRegistrySetAndRemove(t *testing.T) {
	registry := NewAgentRegistry(map[string]*AgentConfig{}, nil)

	registry.Set("first", &AgentConfig{Description: "first agent"})
	registry.Set("second", &AgentConfig{Description: "second agent"})
	assert.Equal(t, []string{"first", "second"}, registry.IDs())

	// Replacing keeps position
	registry.Set("first", &AgentConfig{Description: "first agent, updated"})
	assert.Equal(t, []string{"first", "second"}, registry.IDs())
	agent, err := registry.Get("first")
	require.NoError(t, err)
	assert.Equal(t, "first agent, updated", agent.Description)

	// Remove drops the id from the order too
	require.NoError(t, registry.Remove("first"))
	assert.Equal(t, []string{"second"}, registry.IDs())
	assert.ErrorIs(t, registry.Remove("first"), ErrAgentNotFound)
}

func TestAgentRegistryThreadSafety(_ *testing.T) {
	registry := NewAgentRegistry(map[string]*AgentConfig{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			registry.Set(fmt.Sprintf("agent-%d", n), &AgentConfig{Description: "d"})
		}(i)
		go func(n int) {
			defer wg.Done()
			_ = registry.IDs()
			_, _ = registry.Get(fmt.Sprintf("agent-%d", n))
		}(i)
	}
	wg.Wait()
}

// Test MCP Server Registry

func TestMCPServerRegistry(t *testing.T) {
	servers := map[string]*MCPServerConfig{
		"weather": {Transport: TransportConfig{Type: TransportTypeHTTPSSE, Endpoint: "http://localhost:9001/sse"}},
	}

	registry := NewMCPServerRegistry(servers)

	t.Run("Get existing server", func(t *testing.T) {
		server, err := registry.Get("weather")
		require.NoError(t, err)
		assert.Equal(t, TransportTypeHTTPSSE, server.Transport.Type)
	})

	t.Run("Get nonexistent server", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMCPServerNotFound)
	})

	t.Run("Set and Remove", func(t *testing.T) {
		registry.Set("files", &MCPServerConfig{
			Transport: TransportConfig{Type: TransportTypeCommand, Command: "mcp-files"},
		})
		assert.True(t, registry.Has("files"))
		assert.Equal(t, 2, registry.Len())

		require.NoError(t, registry.Remove("files"))
		assert.False(t, registry.Has("files"))
		assert.ErrorIs(t, registry.Remove("files"), ErrMCPServerNotFound)
	})
}

// Test LLM Provider Registry

func TestLLMProviderRegistry(t *testing.T) {
	providers := map[string]*LLMProviderConfig{
		"openai-default": {Type: LLMProviderTypeOpenAI, Model: "gpt-4o"},
	}

	registry := NewLLMProviderRegistry(providers)

	t.Run("Get existing provider", func(t *testing.T) {
		provider, err := registry.Get("openai-default")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", provider.Model)
	})

	t.Run("Get nonexistent provider", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrLLMProviderNotFound)
	})

	t.Run("GetAll returns copy", func(t *testing.T) {
		all := registry.GetAll()
		all["extra"] = &LLMProviderConfig{}
		assert.False(t, registry.Has("extra"))
	})
}
