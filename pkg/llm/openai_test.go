package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestrokit/maestro/pkg/config"
)

// sseHandler writes pre-baked SSE data frames with optional delay between them.
func sseHandler(t *testing.T, frames []string, delay time.Duration) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		for _, frame := range frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
			if delay > 0 {
				time.Sleep(delay)
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func newTestClient(t *testing.T, server *httptest.Server, stallTimeout time.Duration) *OpenAIClient {
	t.Helper()
	t.Setenv("TEST_LLM_KEY", "test-key")

	client, err := NewOpenAIClient(&config.LLMProviderConfig{
		Type:      config.LLMProviderTypeOpenAI,
		Model:     "test-model",
		APIKeyEnv: "TEST_LLM_KEY",
		BaseURL:   server.URL + "/v1",
	}, stallTimeout)
	require.NoError(t, err)
	return client
}

func TestGenerateStreamsTextInOrder(t *testing.T) {
	frames := []string{
		`{"choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":", "}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"world"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	}
	server := httptest.NewServer(sseHandler(t, frames, 0))
	defer server.Close()

	client := newTestClient(t, server, 5*time.Second)
	chunks, err := client.Generate(context.Background(), &GenerateInput{
		Messages: []ConversationMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	var got []string
	for chunk := range chunks {
		if text, ok := chunk.(*TextChunk); ok {
			got = append(got, text.Content)
		}
	}
	assert.Equal(t, []string{"Hello", ", ", "world"}, got)
}

func TestGenerateAccumulatesToolCallDeltas(t *testing.T) {
	frames := []string{
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_forecast","arguments":""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Paris\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	}
	server := httptest.NewServer(sseHandler(t, frames, 0))
	defer server.Close()

	client := newTestClient(t, server, 5*time.Second)
	chunks, err := client.Generate(context.Background(), &GenerateInput{
		Messages: []ConversationMessage{{Role: "user", Content: "forecast in Paris?"}},
		Tools:    []ToolDefinition{{Name: "get_forecast", ParametersSchema: `{"type":"object"}`}},
	})
	require.NoError(t, err)

	var calls []*ToolCallChunk
	for chunk := range chunks {
		if call, ok := chunk.(*ToolCallChunk); ok {
			calls = append(calls, call)
		}
	}
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].CallID)
	assert.Equal(t, "get_forecast", calls[0].Name)
	assert.JSONEq(t, `{"city":"Paris"}`, calls[0].Arguments)
}

func TestGenerateStallWatchdog(t *testing.T) {
	frames := []string{
		`{"choices":[{"index":0,"delta":{"content":"start"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"never delivered in time"}}]}`,
	}
	server := httptest.NewServer(sseHandler(t, frames, 500*time.Millisecond))
	defer server.Close()

	client := newTestClient(t, server, 100*time.Millisecond)
	chunks, err := client.Generate(context.Background(), &GenerateInput{
		Messages: []ConversationMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	var stalled bool
	for chunk := range chunks {
		if errChunk, ok := chunk.(*ErrorChunk); ok {
			stalled = errChunk.Stalled
		}
	}
	assert.True(t, stalled, "expected a stalled ErrorChunk")
}

func TestNewOpenAIClientMissingAPIKey(t *testing.T) {
	_, err := NewOpenAIClient(&config.LLMProviderConfig{
		Type:      config.LLMProviderTypeOpenAI,
		Model:     "m",
		APIKeyEnv: "DEFINITELY_NOT_SET_VAR",
	}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEFINITELY_NOT_SET_VAR")
}

func TestAccumulateToolCalls(t *testing.T) {
	idx0, idx1 := 0, 1

	var calls []openai.ToolCall
	calls = accumulateToolCalls(calls, []openai.ToolCall{
		{Index: &idx0, ID: "call_a", Function: openai.FunctionCall{Name: "first"}},
	})
	calls = accumulateToolCalls(calls, []openai.ToolCall{
		{Index: &idx1, ID: "call_b", Function: openai.FunctionCall{Name: "second"}},
	})
	calls = accumulateToolCalls(calls, []openai.ToolCall{
		{Index: &idx0, Function: openai.FunctionCall{Arguments: `{"a":`}},
		{Index: &idx1, Function: openai.FunctionCall{Arguments: `{}`}},
	})
	calls = accumulateToolCalls(calls, []openai.ToolCall{
		{Index: &idx0, Function: openai.FunctionCall{Arguments: `1}`}},
	})

	require.Len(t, calls, 2)
	assert.Equal(t, "call_a", calls[0].ID)
	assert.Equal(t, `{"a":1}`, calls[0].Function.Arguments)
	assert.Equal(t, "call_b", calls[1].ID)
	assert.Equal(t, `{}`, calls[1].Function.Arguments)
}

func TestCollect(t *testing.T) {
	frames := []string{
		`{"choices":[{"index":0,"delta":{"content":"routed: "}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"weather"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	}
	server := httptest.NewServer(sseHandler(t, frames, 0))
	defer server.Close()

	client := newTestClient(t, server, 5*time.Second)
	result, err := Collect(context.Background(), client, &GenerateInput{
		Messages: []ConversationMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "routed: weather", result.Text)
	assert.Empty(t, result.ToolCalls)
}
