package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/llm"
	"github.com/maestrokit/maestro/pkg/mcp"
	"github.com/maestrokit/maestro/pkg/memory/buffer"
	"github.com/maestrokit/maestro/pkg/models"
	"github.com/maestrokit/maestro/pkg/stream"
)

// scriptClient replays one chunk script per Generate call and records the
// inputs it was given.
type scriptClient struct {
	mu      sync.Mutex
	scripts [][]llm.Chunk
	inputs  []*llm.GenerateInput
	err     error
}

func (c *scriptClient) Generate(_ context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.inputs = append(c.inputs, input)

	var script []llm.Chunk
	if len(c.scripts) > 0 {
		script = c.scripts[0]
		c.scripts = c.scripts[1:]
	}
	out := make(chan llm.Chunk, len(script))
	for _, chunk := range script {
		out <- chunk
	}
	close(out)
	return out, nil
}

func (c *scriptClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inputs)
}

// fakeTooling simulates the MCP service for one server.
type fakeTooling struct {
	mu      sync.Mutex
	states  map[string]models.ServerState
	tools   map[string][]models.Tool
	invoked []string
	result  func(serverID, tool string, params map[string]any) (*mcp.InvokeResult, error)
}

func (f *fakeTooling) ListTools(serverID string) []models.Tool {
	return f.tools[serverID]
}

func (f *fakeTooling) State(serverID string) (models.ServerState, error) {
	state, ok := f.states[serverID]
	if !ok {
		return "", models.NewTurnError(models.ErrKindNotFound, "server %s is not registered", serverID)
	}
	return state, nil
}

func (f *fakeTooling) Invoke(ctx context.Context, serverID, tool string, params map[string]any) (*mcp.InvokeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.NewTurnError(models.ErrKindCancelled, "request to %s cancelled", serverID)
	}
	f.mu.Lock()
	f.invoked = append(f.invoked, serverID+"."+tool)
	f.mu.Unlock()
	if f.result != nil {
		return f.result(serverID, tool, params)
	}
	return &mcp.InvokeResult{Text: "ok"}, nil
}

func (f *fakeTooling) invocations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invoked...)
}

func readyTooling() *fakeTooling {
	return &fakeTooling{
		states: map[string]models.ServerState{"weather": models.ServerReady},
		tools: map[string][]models.Tool{
			"weather": {{ServerID: "weather", Name: "forecast", Description: "forecast", InputSchema: json.RawMessage(`{}`)}},
		},
	}
}

func testDeps(client llm.Client, tools Tooling) Deps {
	memCfg := config.DefaultMemoryConfig()
	return Deps{
		Client:   client,
		Tools:    tools,
		Buffer:   buffer.New(memCfg.Buffer, nil),
		Memory:   memCfg,
		Defaults: config.DefaultDefaults(),
	}
}

func testAgent(t *testing.T, client llm.Client, tools Tooling, cfg *config.AgentConfig) *Agent {
	t.Helper()
	if cfg == nil {
		cfg = &config.AgentConfig{
			Description:  "answers weather questions",
			SystemPrompt: "You are a weather assistant.",
			MCPServers:   []string{"weather"},
		}
	}
	return New("weather", cfg, testDeps(client, tools))
}

func turnInput(message string) TurnInput {
	return TurnInput{
		TraceID:        "trace-1",
		TurnID:         "turn-1",
		ConversationID: "conv-1",
		UserID:         42,
		Message:        message,
	}
}

func toolCallScript(callID, name, args string) []llm.Chunk {
	return []llm.Chunk{&llm.ToolCallChunk{CallID: callID, Name: name, Arguments: args}}
}

func textScript(parts ...string) []llm.Chunk {
	chunks := make([]llm.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = &llm.TextChunk{Content: p}
	}
	return chunks
}

func collectEvents(sink *stream.ChannelSink) []models.StreamEvent {
	var events []models.StreamEvent
	for ev := range sink.Events() {
		events = append(events, ev)
	}
	return events
}

func TestRunTurnPlainReply(t *testing.T) {
	client := &scriptClient{scripts: [][]llm.Chunk{textScript("It is ", "sunny.")}}
	tools := readyTooling()
	a := testAgent(t, client, tools, nil)
	sink := stream.NewChannelSink(64, time.Second)

	result, err := a.RunTurn(context.Background(), turnInput("weather in Berlin?"), sink)
	require.NoError(t, err)
	sink.Close()

	assert.Equal(t, "It is sunny.", result.Reply)
	assert.Equal(t, 0, result.ToolRounds)
	assert.Equal(t, "weather", result.AgentID)
	assert.Empty(t, tools.invocations())

	events := collectEvents(sink)
	require.Len(t, events, 3)
	assert.Equal(t, models.StreamEventToken, events[0].Type)
	assert.Equal(t, "It is ", events[0].Token)
	assert.Equal(t, models.StreamEventToken, events[1].Type)
	assert.Equal(t, models.StreamEventDone, events[2].Type)
	assert.Equal(t, "It is sunny.", events[2].Reply)

	// user message and reply both buffered
	assert.Equal(t, 2, a.deps.Buffer.Len())
}

func TestRunTurnToolRound(t *testing.T) {
	client := &scriptClient{scripts: [][]llm.Chunk{
		toolCallScript("call-1", "weather.forecast", `{"city":"Berlin"}`),
		textScript("Sunny, 24C."),
	}}
	tools := readyTooling()
	tools.result = func(_, _ string, params map[string]any) (*mcp.InvokeResult, error) {
		return &mcp.InvokeResult{Text: fmt.Sprintf("forecast for %v: sunny", params["city"])}, nil
	}
	a := testAgent(t, client, tools, nil)
	sink := stream.NewChannelSink(64, time.Second)

	result, err := a.RunTurn(context.Background(), turnInput("weather in Berlin?"), sink)
	require.NoError(t, err)
	sink.Close()

	assert.Equal(t, "Sunny, 24C.", result.Reply)
	assert.Equal(t, 1, result.ToolRounds)
	assert.Equal(t, []string{"weather.forecast"}, tools.invocations())

	// second model call carries the tool result message
	require.Equal(t, 2, client.callCount())
	second := client.inputs[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, string(models.RoleTool), last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	assert.Contains(t, last.Content, "forecast for Berlin")

	events := collectEvents(sink)
	types := make([]models.StreamEventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	assert.Equal(t, []models.StreamEventType{
		models.StreamEventToolCallStart,
		models.StreamEventToolCallResult,
		models.StreamEventToken,
		models.StreamEventDone,
	}, types)
	assert.Equal(t, "forecast", events[0].ToolName)
	assert.Equal(t, "weather", events[0].ServerID)
}

func TestRunTurnConcurrentToolCalls(t *testing.T) {
	client := &scriptClient{scripts: [][]llm.Chunk{
		{
			&llm.ToolCallChunk{CallID: "call-1", Name: "weather.forecast", Arguments: `{"city":"Berlin"}`},
			&llm.ToolCallChunk{CallID: "call-2", Name: "weather.forecast", Arguments: `{"city":"Oslo"}`},
		},
		textScript("Both sunny."),
	}}
	tools := readyTooling()
	a := testAgent(t, client, tools, nil)
	sink := stream.NewChannelSink(64, time.Second)

	result, err := a.RunTurn(context.Background(), turnInput("compare Berlin and Oslo"), sink)
	require.NoError(t, err)
	sink.Close()

	assert.Equal(t, 1, result.ToolRounds)
	assert.Len(t, tools.invocations(), 2)

	// tool messages keep call order regardless of completion order
	second := client.inputs[1].Messages
	require.GreaterOrEqual(t, len(second), 2)
	assert.Equal(t, "call-1", second[len(second)-2].ToolCallID)
	assert.Equal(t, "call-2", second[len(second)-1].ToolCallID)
}

func TestRunTurnToolFailureFedBack(t *testing.T) {
	client := &scriptClient{scripts: [][]llm.Chunk{
		toolCallScript("call-1", "weather.forecast", `{}`),
		textScript("I could not retrieve the forecast."),
	}}
	tools := readyTooling()
	tools.result = func(string, string, map[string]any) (*mcp.InvokeResult, error) {
		return nil, models.NewTurnError(models.ErrKindTimeout, "request to weather timed out")
	}
	a := testAgent(t, client, tools, nil)
	sink := stream.NewChannelSink(64, time.Second)

	result, err := a.RunTurn(context.Background(), turnInput("forecast please"), sink)
	require.NoError(t, err, "invocation failures never fail the turn")
	sink.Close()

	assert.Equal(t, "I could not retrieve the forecast.", result.Reply)

	second := client.inputs[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, string(models.RoleTool), last.Role)
	assert.Contains(t, last.Content, "tool error")

	for _, ev := range collectEvents(sink) {
		if ev.Type == models.StreamEventToolCallResult {
			assert.True(t, ev.IsError)
		}
	}
}

func TestRunTurnUnknownToolFedBack(t *testing.T) {
	client := &scriptClient{scripts: [][]llm.Chunk{
		toolCallScript("call-1", "nonsense", `{}`),
		textScript("Sorry."),
	}}
	tools := readyTooling()
	a := testAgent(t, client, tools, nil)
	sink := stream.NewChannelSink(64, time.Second)

	_, err := a.RunTurn(context.Background(), turnInput("hm"), sink)
	require.NoError(t, err)
	sink.Close()

	assert.Empty(t, tools.invocations())
	second := client.inputs[1].Messages
	assert.Contains(t, second[len(second)-1].Content, "not a known tool")
}

func TestRunTurnToolLoopExceeded(t *testing.T) {
	maxRounds := 6
	scripts := make([][]llm.Chunk, maxRounds+1)
	for i := range scripts {
		scripts[i] = toolCallScript(fmt.Sprintf("call-%d", i), "weather.forecast", `{}`)
	}
	client := &scriptClient{scripts: scripts}
	tools := readyTooling()
	a := testAgent(t, client, tools, nil)
	sink := stream.NewChannelSink(256, time.Second)

	_, err := a.RunTurn(context.Background(), turnInput("loop forever"), sink)
	require.Error(t, err)
	sink.Close()

	assert.Equal(t, models.ErrKindToolLoopExceeded, models.KindOf(err))
	assert.Len(t, tools.invocations(), maxRounds)

	// user message buffered, no assistant reply persisted
	assert.Equal(t, 1, a.deps.Buffer.Len())
}

func TestRunTurnMandatoryToolsNotReady(t *testing.T) {
	client := &scriptClient{}
	tools := &fakeTooling{states: map[string]models.ServerState{"weather": models.ServerDegraded}}
	cfg := &config.AgentConfig{
		Description:    "weather",
		MCPServers:     []string{"weather"},
		MandatoryTools: true,
	}
	a := testAgent(t, client, tools, cfg)

	_, err := a.RunTurn(context.Background(), turnInput("hi"), stream.Discard{})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindToolUnavailable, models.KindOf(err))
	assert.Zero(t, client.callCount(), "no model call when mandatory tools are missing")
}

func TestRunTurnOptionalServerOmitted(t *testing.T) {
	client := &scriptClient{scripts: [][]llm.Chunk{textScript("hello")}}
	tools := &fakeTooling{states: map[string]models.ServerState{"weather": models.ServerDegraded}}
	a := testAgent(t, client, tools, nil)

	_, err := a.RunTurn(context.Background(), turnInput("hi"), stream.Discard{})
	require.NoError(t, err)
	assert.Empty(t, client.inputs[0].Tools, "degraded server's tools omitted")
}

func TestRunTurnModelError(t *testing.T) {
	for name, tc := range map[string]struct {
		chunk *llm.ErrorChunk
		kind  models.ErrorKind
	}{
		"failed":  {&llm.ErrorChunk{Message: "upstream 500"}, models.ErrKindModelFailed},
		"stalled": {&llm.ErrorChunk{Message: "no chunk for 30s", Stalled: true}, models.ErrKindModelStalled},
	} {
		t.Run(name, func(t *testing.T) {
			client := &scriptClient{scripts: [][]llm.Chunk{{tc.chunk}}}
			a := testAgent(t, client, readyTooling(), nil)

			_, err := a.RunTurn(context.Background(), turnInput("hi"), stream.Discard{})
			require.Error(t, err)
			assert.Equal(t, tc.kind, models.KindOf(err))
		})
	}
}

func TestRunTurnCancelledMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &scriptClient{scripts: [][]llm.Chunk{
		toolCallScript("call-1", "weather.forecast", `{}`),
	}}
	tools := readyTooling()
	tools.result = func(string, string, map[string]any) (*mcp.InvokeResult, error) {
		cancel()
		return nil, models.NewTurnError(models.ErrKindCancelled, "request to weather cancelled")
	}
	a := testAgent(t, client, tools, nil)
	sink := stream.NewChannelSink(64, time.Second)

	_, err := a.RunTurn(ctx, turnInput("forecast"), sink)
	require.Error(t, err)
	sink.Close()

	assert.Equal(t, models.ErrKindCancelled, models.KindOf(err))
	// user message buffered, partial reply not persisted
	assert.Equal(t, 1, a.deps.Buffer.Len())
}

func TestRunTurnConsumerSlow(t *testing.T) {
	client := &scriptClient{scripts: [][]llm.Chunk{textScript("a", "b", "c")}}
	a := testAgent(t, client, readyTooling(), nil)
	// capacity 1 and an immediate stall; nobody drains the sink
	sink := stream.NewChannelSink(1, time.Millisecond)

	_, err := a.RunTurn(context.Background(), turnInput("hi"), sink)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindConsumerSlow, models.KindOf(err))
}

func TestRunTurnStreamOrdering(t *testing.T) {
	client := &scriptClient{scripts: [][]llm.Chunk{
		{
			&llm.TextChunk{Content: "Checking... "},
			&llm.ToolCallChunk{CallID: "call-1", Name: "weather.forecast", Arguments: `{}`},
		},
		textScript("Sunny."),
	}}
	a := testAgent(t, client, readyTooling(), nil)
	sink := stream.NewChannelSink(64, time.Second)

	_, err := a.RunTurn(context.Background(), turnInput("weather?"), sink)
	require.NoError(t, err)
	sink.Close()

	events := collectEvents(sink)
	var seq []models.StreamEventType
	for _, ev := range events {
		seq = append(seq, ev.Type)
		assert.Equal(t, int64(len(seq)-1), ev.Seq)
	}
	// round-1 tokens precede the tool events, which precede round-2 tokens
	assert.Equal(t, []models.StreamEventType{
		models.StreamEventToken,
		models.StreamEventToolCallStart,
		models.StreamEventToolCallResult,
		models.StreamEventToken,
		models.StreamEventDone,
	}, seq)
}
