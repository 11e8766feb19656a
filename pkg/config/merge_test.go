package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAgents(t *testing.T) {
	builtin := map[string]AgentConfig{
		"general-assistant": {Description: "built-in general agent"},
	}
	user := map[string]AgentConfig{
		"general-assistant": {Description: "overridden general agent"},
		"weather":           {Description: "weather expert", MCPServers: []string{"weather"}},
	}

	merged := mergeAgents(builtin, user)

	require.Len(t, merged, 2)
	assert.Equal(t, "overridden general agent", merged["general-assistant"].Description)
	assert.Equal(t, []string{"weather"}, merged["weather"].MCPServers)
}

func TestMergeAgentsCopiesSlices(t *testing.T) {
	builtin := map[string]AgentConfig{
		"a": {Description: "d", MCPServers: []string{"s1"}},
	}

	merged := mergeAgents(builtin, nil)
	merged["a"].MCPServers[0] = "mutated"

	assert.Equal(t, "s1", builtin["a"].MCPServers[0], "built-in config must not be mutated through merge result")
}

func TestMergeMCPServers(t *testing.T) {
	builtin := map[string]MCPServerConfig{}
	user := map[string]MCPServerConfig{
		"weather": {Transport: TransportConfig{Type: TransportTypeHTTPSSE, Endpoint: "http://w/sse"}},
	}

	merged := mergeMCPServers(builtin, user)

	require.Len(t, merged, 1)
	assert.Equal(t, "http://w/sse", merged["weather"].Transport.Endpoint)
}

func TestMergeLLMProviders(t *testing.T) {
	builtin := map[string]LLMProviderConfig{
		"openai-default": {Type: LLMProviderTypeOpenAI, Model: "gpt-4o"},
	}
	user := map[string]LLMProviderConfig{
		"openai-default": {Type: LLMProviderTypeOpenAI, Model: "gpt-4o-mini", BaseURL: "http://proxy"},
	}

	merged := mergeLLMProviders(builtin, user)

	require.Contains(t, merged, "openai-default")
	assert.Equal(t, "gpt-4o-mini", merged["openai-default"].Model)
	assert.Equal(t, "http://proxy", merged["openai-default"].BaseURL)
}
