package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/llm"
	"github.com/maestrokit/maestro/pkg/models"
)

type scriptedClient struct {
	reply string
	calls int
}

func (c *scriptedClient) Generate(_ context.Context, _ *llm.GenerateInput) (<-chan llm.Chunk, error) {
	c.calls++
	ch := make(chan llm.Chunk, 1)
	ch <- &llm.TextChunk{Content: c.reply}
	close(ch)
	return ch, nil
}

func twoAgentRegistry() *config.AgentRegistry {
	return config.NewAgentRegistry(map[string]*config.AgentConfig{
		"weather": {Name: "weather", Description: "forecasts and conditions", RoutingHints: []string{"rain", "temperature"}},
		"billing": {Name: "billing", Description: "invoices and payments"},
	}, []string{"billing", "weather"})
}

func newRouter(agents *config.AgentRegistry, client llm.Client, defaultAgent string) *Router {
	return New(&config.RoutingConfig{CacheTTL: time.Minute, DefaultAgent: defaultAgent}, agents, client)
}

func TestFingerprintNormalization(t *testing.T) {
	assert.Equal(t, Fingerprint("What's the Weather?"), Fingerprint("  what's   the\tweather?  "))
	assert.NotEqual(t, Fingerprint("what's the weather"), Fingerprint("what's the water"))
}

func TestSelectAgentNoAgents(t *testing.T) {
	r := newRouter(config.NewAgentRegistry(nil, nil), &scriptedClient{}, "")

	_, err := r.SelectAgent(context.Background(), "hello")
	assert.Equal(t, models.ErrKindNoAgents, models.KindOf(err))
}

func TestSelectAgentSingleAgentShortCircuit(t *testing.T) {
	agents := config.NewAgentRegistry(map[string]*config.AgentConfig{
		"only": {Name: "only"},
	}, []string{"only"})
	client := &scriptedClient{reply: "ignored"}
	r := newRouter(agents, client, "")

	got, err := r.SelectAgent(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "only", got)
	assert.Zero(t, client.calls, "single-agent routing never calls the model")
}

func TestSelectAgentModelAndCache(t *testing.T) {
	client := &scriptedClient{reply: "weather"}
	r := newRouter(twoAgentRegistry(), client, "")
	ctx := context.Background()

	got, err := r.SelectAgent(ctx, "will it rain tomorrow")
	require.NoError(t, err)
	assert.Equal(t, "weather", got)
	assert.Equal(t, 1, client.calls)

	// Same message modulo normalization hits the cache.
	got, err = r.SelectAgent(ctx, "Will it RAIN   tomorrow")
	require.NoError(t, err)
	assert.Equal(t, "weather", got)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, 1, r.CacheLen())
}

func TestSelectAgentParsesQuotedAnswer(t *testing.T) {
	r := newRouter(twoAgentRegistry(), &scriptedClient{reply: ` "billing". `}, "")

	got, err := r.SelectAgent(context.Background(), "where is my invoice")
	require.NoError(t, err)
	assert.Equal(t, "billing", got)
}

func TestSelectAgentParsesEmbeddedAnswer(t *testing.T) {
	r := newRouter(twoAgentRegistry(), &scriptedClient{reply: "The best agent is billing, clearly."}, "")

	got, err := r.SelectAgent(context.Background(), "where is my invoice")
	require.NoError(t, err)
	assert.Equal(t, "billing", got)
}

func TestSelectAgentFallsBackToDefault(t *testing.T) {
	r := newRouter(twoAgentRegistry(), &scriptedClient{reply: "no idea"}, "billing")

	got, err := r.SelectAgent(context.Background(), "gibberish")
	require.NoError(t, err)
	assert.Equal(t, "billing", got)
}

func TestSelectAgentFailsWithoutDefault(t *testing.T) {
	r := newRouter(twoAgentRegistry(), &scriptedClient{reply: "no idea"}, "")

	_, err := r.SelectAgent(context.Background(), "gibberish")
	assert.Equal(t, models.ErrKindRoutingFailed, models.KindOf(err))
}

func TestCachedAgentRemoval(t *testing.T) {
	agents := twoAgentRegistry()
	client := &scriptedClient{reply: "weather"}
	r := newRouter(agents, client, "billing")
	ctx := context.Background()

	_, err := r.SelectAgent(ctx, "will it rain")
	require.NoError(t, err)

	require.NoError(t, agents.Remove("weather"))
	r.InvalidateAgent("weather")
	assert.Zero(t, r.CacheLen())

	// Registry is down to one agent; short-circuit takes over.
	got, err := r.SelectAgent(ctx, "will it rain")
	require.NoError(t, err)
	assert.Equal(t, "billing", got)
}

func TestRoutingPromptIsDeterministic(t *testing.T) {
	r := newRouter(twoAgentRegistry(), nil, "")

	first := r.routingPrompt([]string{"billing", "weather"})
	second := r.routingPrompt([]string{"billing", "weather"})
	assert.Equal(t, first, second)
	assert.Contains(t, first, "- billing: invoices and payments")
	assert.Contains(t, first, "handles: rain, temperature")
}

func TestCacheExpiry(t *testing.T) {
	cache := newDecisionCache(10 * time.Millisecond)
	cache.put(1, "weather")

	got, ok := cache.get(1)
	require.True(t, ok)
	assert.Equal(t, "weather", got)

	time.Sleep(20 * time.Millisecond)
	_, ok = cache.get(1)
	assert.False(t, ok)

	assert.Equal(t, 1, cache.sweep(time.Now()))
	assert.Zero(t, cache.len())
}
