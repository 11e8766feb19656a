package e2e

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/models"
)

func TestSimpleChatWithExtraction(t *testing.T) {
	app := NewTestApp(t)
	app.LLM.ScriptTurn(LLMScriptEntry{Text: "Nice to meet you, Ada!"})
	app.LLM.ScriptExtraction(LLMScriptEntry{
		Text: `{"extracted_info":[{"key":"identity.name","value":"Ada","confidence":0.9,"importance":0.8}]}`,
	})

	result := app.ChatSync(models.ChatRequest{Message: "Hi, my name is Ada", UserID: 7})
	assert.Equal(t, "Nice to meet you, Ada!", result.Reply)
	assert.Equal(t, "assistant", result.AgentID)
	assert.Zero(t, result.ToolRounds)
	assert.NotEmpty(t, result.ConversationID)
	assert.NotEmpty(t, result.TraceID)

	// Extraction runs detached from the turn; the fact lands shortly after.
	fact := app.WaitForContextKey(7, "identity.name")
	assert.Equal(t, "Ada", fact.Value)
	assert.Equal(t, models.SourceExtraction, fact.Source)
	assert.InDelta(t, 0.8, fact.Importance, 1e-9)
}

func TestRoutedChatUsesDecisionCache(t *testing.T) {
	app := NewTestApp(t, WithAgents(map[string]*config.AgentConfig{
		"support": {Description: "handles product questions"},
		"billing": {Description: "handles invoices and payments"},
	}, "support", "billing"))

	app.LLM.ScriptRouting(LLMScriptEntry{Text: "billing"})
	app.LLM.ScriptTurn(
		LLMScriptEntry{Text: "Your invoice is settled."},
		LLMScriptEntry{Text: "Still settled."},
	)

	first := app.ChatSync(models.ChatRequest{Message: "Is my billing invoice paid?"})
	assert.Equal(t, "billing", first.AgentID)
	assert.Equal(t, "Your invoice is settled.", first.Reply)

	// The identical message fingerprints to the cached decision; the routing
	// model is not consulted again.
	second := app.ChatSync(models.ChatRequest{Message: "Is my billing invoice paid?"})
	assert.Equal(t, "billing", second.AgentID)
	assert.Equal(t, 1, app.LLM.RoutingCalls())
}

func TestToolCallingTurnStreamsEvents(t *testing.T) {
	fake := NewFakeToolServer(t, map[string]ToolFunc{
		"lookup": func(args map[string]any) (string, bool) { return "sunny, 21C", false },
	})
	app := NewTestApp(t,
		singleAgent("forecaster", "answers weather questions", "weather"),
		WithMCPServer("weather", fake.Endpoint()),
	)
	app.WaitForMCPState("weather", models.ServerReady)

	app.LLM.ScriptTurn(
		toolCall("call_1", "weather.lookup", `{"city":"Oslo"}`),
		LLMScriptEntry{Text: "It is sunny in Oslo."},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ws := app.DialWS(ctx)
	ws.Subscribe(ctx, "conversation:conv_tools")

	accepted := app.ChatStream(models.ChatRequest{Message: "weather in Oslo?", ConversationID: "conv_tools"})
	require.Equal(t, "conversation:conv_tools", accepted.Channel)

	events := ws.CollectTurn(ctx)
	require.GreaterOrEqual(t, len(events), 4)

	assert.Equal(t, models.StreamEventToolCallStart, events[0].Type)
	assert.Equal(t, "weather", events[0].ServerID)
	assert.Equal(t, "lookup", events[0].ToolName)
	assert.Equal(t, "call_1", events[0].ToolCallID)

	assert.Equal(t, models.StreamEventToolCallResult, events[1].Type)
	assert.Equal(t, "sunny, 21C", events[1].Result)
	assert.False(t, events[1].IsError)

	assert.Equal(t, models.StreamEventToken, events[2].Type)
	assert.Equal(t, "It is sunny in Oslo.", events[2].Token)

	done := events[len(events)-1]
	require.Equal(t, models.StreamEventDone, done.Type)
	assert.Equal(t, "It is sunny in Oslo.", done.Reply)
	assert.Equal(t, 1, done.ToolRounds)

	// Seq is strictly increasing within the turn.
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "lookup", calls[0].Name)
	assert.Equal(t, "Oslo", calls[0].Args["city"])
}

func TestToolLoopGuard(t *testing.T) {
	fake := NewFakeToolServer(t, map[string]ToolFunc{
		"probe": func(args map[string]any) (string, bool) { return "ok", false },
	})
	app := NewTestApp(t,
		singleAgent("prober", "probes things", "diag"),
		WithMCPServer("diag", fake.Endpoint()),
		WithConfigMutation(func(cfg *config.Config) { cfg.Defaults.MaxToolRounds = 2 }),
	)
	app.WaitForMCPState("diag", models.ServerReady)

	// The model never stops asking for tools; the guard cuts the turn after
	// the configured rounds.
	app.LLM.ScriptTurn(
		toolCall("c1", "diag.probe", `{}`),
		toolCall("c2", "diag.probe", `{}`),
		toolCall("c3", "diag.probe", `{}`),
	)

	status, envelope := app.ChatSyncError(models.ChatRequest{Message: "probe forever"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, models.ErrKindToolLoopExceeded, envelope.ErrorKind)
	assert.False(t, envelope.Retryable)
	assert.Len(t, fake.Calls(), 2, "dispatch stops at the round limit")
}

func TestMCPServerReconnect(t *testing.T) {
	fake := NewFakeToolServer(t, map[string]ToolFunc{
		"lookup": func(args map[string]any) (string, bool) { return "sunny, 21C", false },
	})
	app := NewTestApp(t,
		singleAgent("forecaster", "answers weather questions", "weather"),
		WithMCPServer("weather", fake.Endpoint()),
		// Slow the reconnect loop down so the outage window is observable.
		WithConfigMutation(func(cfg *config.Config) {
			cfg.Defaults.MCPBackoff = &config.BackoffDefaults{
				Base: 500 * time.Millisecond,
				Max:  time.Second,
			}
		}),
	)
	app.WaitForMCPState("weather", models.ServerReady)

	fake.DropConnections()

	// A turn during the outage: the invocation fails in-band and the model
	// recovers with a plain answer instead of failing the turn.
	app.LLM.ScriptTurn(
		toolCall("c1", "weather.lookup", `{"city":"Oslo"}`),
		LLMScriptEntry{Text: "The weather service is unavailable right now."},
	)
	result := app.ChatSync(models.ChatRequest{Message: "weather in Oslo?"})
	assert.Equal(t, "The weather service is unavailable right now.", result.Reply)

	inputs := app.LLM.TurnInputs()
	require.Len(t, inputs, 2)
	last := inputs[1].Messages[len(inputs[1].Messages)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Contains(t, last.Content, "tool error", "mid-outage invocation surfaces in-band")

	// The service reconnects on its own and the next turn uses the tool.
	app.WaitForMCPState("weather", models.ServerReady)
	assert.GreaterOrEqual(t, fake.Connects(), 2)

	app.LLM.ScriptTurn(
		toolCall("c2", "weather.lookup", `{"city":"Oslo"}`),
		LLMScriptEntry{Text: "It is sunny in Oslo."},
	)
	result = app.ChatSync(models.ChatRequest{Message: "weather in Oslo?"})
	assert.Equal(t, "It is sunny in Oslo.", result.Reply)
	assert.Equal(t, 1, result.ToolRounds)
	require.NotEmpty(t, fake.Calls())
}

func TestMultiUserIsolation(t *testing.T) {
	app := NewTestApp(t)
	app.LLM.ScriptTurn(
		LLMScriptEntry{Text: "The weather is sunny today."},
		LLMScriptEntry{Text: "Your billing is settled."},
	)

	app.ChatSync(models.ChatRequest{Message: "how is the weather?", UserID: 21})
	app.ChatSync(models.ChatRequest{Message: "billing question", UserID: 22})

	// Buffer and long-term hits stay inside the requesting user's partition.
	for _, scope := range []string{"buffer", "long_term"} {
		mine := app.SearchMemory("q=weather&scope=" + scope + "&user_id=21")
		assert.GreaterOrEqual(t, mine.Count, 1, scope)

		theirs := app.SearchMemory("q=weather&scope=" + scope + "&user_id=22")
		for _, hit := range theirs.Hits {
			assert.NotContains(t, hit.Content, "weather",
				"user 22 must not see user 21's %s memory", scope)
		}
	}

	// User context is partitioned the same way.
	resp, _ := app.do(http.MethodPut, "/api/v1/users/21/context/home.city", ClientKey,
		map[string]any{"value": "Oslo"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Contains(t, app.UserContext(21), "home.city")
	assert.NotContains(t, app.UserContext(22), "home.city")
}
