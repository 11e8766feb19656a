package e2e

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maestrokit/maestro/pkg/api"
	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/llm"
	"github.com/maestrokit/maestro/pkg/mcp"
	"github.com/maestrokit/maestro/pkg/memory/buffer"
	"github.com/maestrokit/maestro/pkg/memory/extractor"
	"github.com/maestrokit/maestro/pkg/memory/longterm"
	"github.com/maestrokit/maestro/pkg/memory/memobase"
	"github.com/maestrokit/maestro/pkg/models"
	"github.com/maestrokit/maestro/pkg/orchestrator"
	"github.com/maestrokit/maestro/pkg/routing"
)

const (
	// API keys wired into every test instance.
	AdminKey  = "e2e-admin-key"
	ClientKey = "e2e-client-key"

	testProvider = "scripted"
)

// TestApp is a complete maestro instance: real orchestrator, memory tiers,
// MCP service, and HTTP/WS server, backed by a scripted model.
type TestApp struct {
	Config  *config.Config
	Orch    *orchestrator.Orchestrator
	LLM     *ScriptedLLMClient
	BaseURL string
	WSURL   string

	t *testing.T
}

type testAppConfig struct {
	agents     map[string]*config.AgentConfig
	agentOrder []string
	mcpServers map[string]*config.MCPServerConfig
	mutate     func(*config.Config)
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithAgents replaces the default single-agent registry. Order drives
// routing tie-breaks and the routing prompt.
func WithAgents(agents map[string]*config.AgentConfig, order ...string) TestAppOption {
	return func(c *testAppConfig) {
		c.agents = agents
		c.agentOrder = order
	}
}

// WithMCPServer registers an HTTP+SSE server before bootstrap.
func WithMCPServer(serverID, endpoint string) TestAppOption {
	return func(c *testAppConfig) {
		c.mcpServers[serverID] = &config.MCPServerConfig{
			Transport: config.TransportConfig{
				Type:     config.TransportTypeHTTPSSE,
				Endpoint: endpoint,
			},
		}
	}
}

// WithConfigMutation adjusts the config after defaults are applied.
func WithConfigMutation(fn func(*config.Config)) TestAppOption {
	return func(c *testAppConfig) { c.mutate = fn }
}

// scriptedFactory hands the scripted client to every provider name.
type scriptedFactory struct{ client llm.Client }

func (f *scriptedFactory) Client(string) (llm.Client, error) { return f.client, nil }

// NewTestApp boots a full instance. Shutdown runs via t.Cleanup.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{
		agents: map[string]*config.AgentConfig{
			"assistant": {Description: "general assistant", SystemPrompt: "Be helpful."},
		},
		agentOrder: []string{"assistant"},
		mcpServers: map[string]*config.MCPServerConfig{},
	}
	for _, opt := range opts {
		opt(tc)
	}

	cfg := &config.Config{
		Defaults:            config.DefaultDefaults(),
		Memory:              config.DefaultMemoryConfig(),
		Routing:             &config.RoutingConfig{CacheTTL: time.Minute},
		AgentRegistry:       config.NewAgentRegistry(tc.agents, tc.agentOrder),
		MCPServerRegistry:   config.NewMCPServerRegistry(tc.mcpServers),
		LLMProviderRegistry: config.NewLLMProviderRegistry(nil),
	}
	cfg.Defaults.LLMProvider = testProvider
	cfg.Defaults.ToolTimeout = 2 * time.Second
	cfg.Defaults.MCPBackoff = &config.BackoffDefaults{Base: 50 * time.Millisecond, Max: 500 * time.Millisecond}
	cfg.Memory.Embedding.Dimension = 3
	cfg.Memory.LongTerm.Driver = config.LongTermDriverInMemory
	cfg.Memory.Extraction = config.ExtractionConfig{
		Enabled:             true,
		Interval:            1,
		ConfidenceThreshold: 0.5,
		Workers:             1,
		Timeout:             5 * time.Second,
	}
	if tc.mutate != nil {
		tc.mutate(cfg)
	}

	client := NewScriptedLLMClient()
	embedder := &markerEmbedder{}
	userCtx := memobase.New(memobase.NewInMemoryDriver())

	deps := orchestrator.Deps{
		LLM:       &scriptedFactory{client: client},
		Router:    routing.New(cfg.Routing, cfg.AgentRegistry, client),
		MCP:       mcp.NewService(*cfg.Defaults.MCPBackoff, cfg.Defaults.ToolTimeout, nil),
		Buffer:    buffer.New(cfg.Memory.Buffer, embedder),
		LongTerm:  longterm.New(longterm.NewInMemoryDriver(), embedder, embedder.Dimension()),
		UserCtx:   userCtx,
		Extractor: extractor.New(cfg.Memory.Extraction, client, userCtx),
	}
	orch := orchestrator.New(cfg, deps)
	require.NoError(t, orch.Bootstrap(context.Background()))
	t.Cleanup(func() { orch.Shutdown(2 * time.Second) })

	keys, err := api.NewKeyring(AdminKey, ClientKey)
	require.NoError(t, err)
	server := api.NewServer(cfg, orch, nil, keys)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &TestApp{
		Config:  cfg,
		Orch:    orch,
		LLM:     client,
		BaseURL: ts.URL,
		WSURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		t:       t,
	}
}

// markerEmbedder maps text onto a deterministic 3-dim vector so retrieval
// tests can steer similarity by sharing marker words.
type markerEmbedder struct{}

func (markerEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		switch {
		case strings.Contains(in, "weather"):
			out[i] = []float32{1, 0, 0}
		case strings.Contains(in, "billing"):
			out[i] = []float32{0, 1, 0}
		default:
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func (markerEmbedder) Dimension() int { return 3 }

// singleAgent is a convenience registry for one-agent tests.
func singleAgent(id, description string, mcpServers ...string) TestAppOption {
	return WithAgents(map[string]*config.AgentConfig{
		id: {Description: description, MCPServers: mcpServers},
	}, id)
}

// toolCall builds a scripted tool-call response.
func toolCall(callID, qualified, args string) LLMScriptEntry {
	return LLMScriptEntry{Chunks: []llm.Chunk{
		&llm.ToolCallChunk{CallID: callID, Name: qualified, Arguments: args},
	}}
}

// WaitForMCPState polls the admin API until the server reaches the state.
func (a *TestApp) WaitForMCPState(serverID string, state models.ServerState) {
	a.t.Helper()
	require.Eventually(a.t, func() bool {
		for _, status := range a.MCPStatuses() {
			if status.ServerID == serverID && status.State == state {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "server %s did not reach %s", serverID, state)
}
