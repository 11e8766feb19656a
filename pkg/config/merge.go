package config

// mergeAgents merges built-in and user-defined agent configurations.
// User-defined agents override built-in agents with the same id.
func mergeAgents(builtinAgents map[string]AgentConfig, userAgents map[string]AgentConfig) map[string]*AgentConfig {
	result := make(map[string]*AgentConfig)

	// First, add built-in agents
	for id, builtin := range builtinAgents {
		agentCopy := builtin
		// Defensive copy of slices to prevent shared state
		agentCopy.MCPServers = append([]string(nil), builtin.MCPServers...)
		agentCopy.KnowledgeSources = append([]string(nil), builtin.KnowledgeSources...)
		agentCopy.RoutingHints = append([]string(nil), builtin.RoutingHints...)
		result[id] = &agentCopy
	}

	// Then, override with user-defined agents (or add new ones)
	for id, userAgent := range userAgents {
		agentCopy := userAgent // Create a copy
		result[id] = &agentCopy
	}

	return result
}

// mergeMCPServers merges built-in and user-defined MCP server configurations.
// User-defined servers override built-in servers with the same ID.
func mergeMCPServers(builtinServers map[string]MCPServerConfig, userServers map[string]MCPServerConfig) map[string]*MCPServerConfig {
	result := make(map[string]*MCPServerConfig)

	// First, add built-in servers
	for id, server := range builtinServers {
		serverCopy := server
		result[id] = &serverCopy
	}

	// Then, override with user-defined servers (or add new ones)
	for id, userServer := range userServers {
		serverCopy := userServer
		result[id] = &serverCopy
	}

	return result
}

// mergeLLMProviders merges built-in and user-defined LLM provider configurations.
// User-defined providers override built-in providers with the same name.
func mergeLLMProviders(builtinProviders map[string]LLMProviderConfig, userProviders map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig)

	// First, add built-in providers
	for name, provider := range builtinProviders {
		providerCopy := provider
		result[name] = &providerCopy
	}

	// Then, override with user-defined providers (or add new ones)
	for name, userProvider := range userProviders {
		providerCopy := userProvider
		result[name] = &providerCopy
	}

	return result
}
