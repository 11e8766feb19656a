package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/maestrokit/maestro/pkg/config"
)

// RegisterAgentRequest is the admin payload for POST /api/v1/agents.
type RegisterAgentRequest struct {
	AgentID          string   `json:"agent_id"`
	Name             string   `json:"name,omitempty"`
	Description      string   `json:"description"`
	SystemPrompt     string   `json:"system_prompt,omitempty"`
	LLMProvider      string   `json:"llm_provider,omitempty"`
	MCPServers       []string `json:"mcp_servers,omitempty"`
	MandatoryTools   bool     `json:"mandatory_tools,omitempty"`
	RecencyBias      *float64 `json:"recency_bias,omitempty"`
	KnowledgeSources []string `json:"knowledge_sources,omitempty"`
	RoutingHints     []string `json:"routing_hints,omitempty"`
}

// AgentSummary is one entry of GET /api/v1/agents.
type AgentSummary struct {
	AgentID     string   `json:"agent_id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description"`
	LLMProvider string   `json:"llm_provider,omitempty"`
	MCPServers  []string `json:"mcp_servers,omitempty"`
}

// registerAgentHandler handles POST /api/v1/agents (admin).
func (s *Server) registerAgentHandler(c *echo.Context) error {
	var req RegisterAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	agentCfg := &config.AgentConfig{
		Name:             req.Name,
		Description:      req.Description,
		SystemPrompt:     req.SystemPrompt,
		LLMProvider:      req.LLMProvider,
		MCPServers:       req.MCPServers,
		MandatoryTools:   req.MandatoryTools,
		RecencyBias:      req.RecencyBias,
		KnowledgeSources: req.KnowledgeSources,
		RoutingHints:     req.RoutingHints,
	}
	if err := s.orch.RegisterAgent(c.Request().Context(), req.AgentID, agentCfg); err != nil {
		return writeTurnError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"agent_id": req.AgentID})
}

// removeAgentHandler handles DELETE /api/v1/agents/:id (admin). Blocks
// until the agent's in-flight turns drain.
func (s *Server) removeAgentHandler(c *echo.Context) error {
	agentID := c.Param("id")
	if agentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent id is required")
	}

	if err := s.orch.RemoveAgent(c.Request().Context(), agentID); err != nil {
		return writeTurnError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// listAgentsHandler handles GET /api/v1/agents.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	ids := s.orch.Agents()
	summaries := make([]AgentSummary, 0, len(ids))
	for _, id := range ids {
		agentCfg, err := s.orch.AgentConfig(id)
		if err != nil {
			continue // removed between listing and lookup
		}
		summaries = append(summaries, AgentSummary{
			AgentID:     id,
			Name:        agentCfg.Name,
			Description: agentCfg.Description,
			LLMProvider: agentCfg.LLMProvider,
			MCPServers:  agentCfg.MCPServers,
		})
	}
	return c.JSON(http.StatusOK, summaries)
}
