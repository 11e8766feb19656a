package models

// RegisterAgentRequest is the admin API payload for registering an agent at
// runtime. It mirrors the yaml agent block; RequestTimeout is a Go duration
// string.
type RegisterAgentRequest struct {
	AgentID          string   `json:"agent_id,omitempty"` // empty = generated
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	SystemPrompt     string   `json:"system_prompt,omitempty"`
	Provider         string   `json:"provider,omitempty"` // LLM provider name, empty = default
	MCPServers       []string `json:"mcp_servers,omitempty"`
	MandatoryTools   bool     `json:"mandatory_tools,omitempty"`
	RecencyBias      *float64 `json:"recency_bias,omitempty"`
	KnowledgeSources []string `json:"knowledge_sources,omitempty"`
	RequestTimeout   string   `json:"request_timeout,omitempty"`
}

// AgentSummary is the API view of one registered agent.
type AgentSummary struct {
	AgentID     string   `json:"agent_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Provider    string   `json:"provider"`
	MCPServers  []string `json:"mcp_servers,omitempty"`
	ActiveTurns int      `json:"active_turns"`
	Draining    bool     `json:"draining,omitempty"`
}
