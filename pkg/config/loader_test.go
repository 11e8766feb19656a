package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigDir(t *testing.T, maestroYAML, providersYAML string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "maestro.yaml"), []byte(maestroYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llm-providers.yaml"), []byte(providersYAML), 0o600))
	return dir
}

const minimalProvidersYAML = `
llm_providers:
  test-llm:
    type: openai
    model: test-model
    embedding_model: test-embed
    api_key_env: TEST_API_KEY
`

func TestInitializeMinimal(t *testing.T) {
	dir := writeConfigDir(t, `
agents:
  weather:
    description: "weather expert"
defaults:
  llm_provider: test-llm
memory:
  embedding:
    provider: test-llm
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	// User agents merge over the built-ins
	assert.True(t, cfg.AgentRegistry.Has("weather"))
	assert.True(t, cfg.AgentRegistry.Has("general-assistant"))

	// Built-in defaults fill unset fields
	assert.Equal(t, 6, cfg.Defaults.MaxToolRounds)
	assert.Equal(t, 60*time.Second, cfg.Defaults.ToolTimeout)
	assert.Equal(t, "test-llm", cfg.Defaults.LLMProvider)

	// Memory defaults
	assert.Equal(t, 1536, cfg.Memory.Embedding.Dimension)
	assert.Equal(t, 200, cfg.Memory.Buffer.Capacity())
}

func TestInitializeMissingConfigFile(t *testing.T) {
	dir := t.TempDir()

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := writeConfigDir(t, "agents: [not a map", minimalProvidersYAML)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeEnvExpansion(t *testing.T) {
	t.Setenv("MAESTRO_TEST_ENDPOINT", "http://weather.internal/sse")

	dir := writeConfigDir(t, `
agents:
  weather:
    description: "weather expert"
    mcp_servers: ["weather"]
mcp_servers:
  weather:
    transport:
      type: http_sse
      endpoint: "{{.MAESTRO_TEST_ENDPOINT}}"
defaults:
  llm_provider: test-llm
memory:
  embedding:
    provider: test-llm
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	server, err := cfg.GetMCPServer("weather")
	require.NoError(t, err)
	assert.Equal(t, "http://weather.internal/sse", server.Transport.Endpoint)
}

func TestInitializeKnowledgeDefaults(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "handbook.md")
	require.NoError(t, os.WriteFile(docPath, []byte("# Handbook\n\nSome facts."), 0o600))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "maestro.yaml"), []byte(`
agents:
  helper:
    description: "helper"
    knowledge_sources: ["handbook"]
knowledge:
  sources:
    handbook:
      path: `+docPath+`
defaults:
  llm_provider: test-llm
memory:
  embedding:
    provider: test-llm
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llm-providers.yaml"), []byte(minimalProvidersYAML), 0o600))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	src := cfg.Knowledge.Sources["handbook"]
	require.NotNil(t, src)
	assert.Equal(t, DefaultKnowledgeChunkSize, src.ChunkSize)
	assert.Equal(t, DefaultKnowledgeTopK, src.TopK)
	assert.Equal(t, DefaultKnowledgeThreshold, src.Threshold)
	assert.Equal(t, filepath.Join(dir, ".knowledge-cache"), cfg.Knowledge.CacheDir)
}

func TestInitializeValidationFailure(t *testing.T) {
	dir := writeConfigDir(t, `
agents:
  broken:
    description: "references a missing server"
    mcp_servers: ["does-not-exist"]
defaults:
  llm_provider: test-llm
memory:
  embedding:
    provider: test-llm
`, minimalProvidersYAML)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)

	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Equal(t, "agent", vErr.Component)
}

func TestInitializeAgentOrderDeterministic(t *testing.T) {
	dir := writeConfigDir(t, `
agents:
  zeta:
    description: "z"
  alpha:
    description: "a"
defaults:
  llm_provider: test-llm
memory:
  embedding:
    provider: test-llm
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	// Initial order is sorted so routing tie-breaks survive restarts
	assert.Equal(t, []string{"alpha", "general-assistant", "zeta"}, cfg.AgentRegistry.IDs())
}
