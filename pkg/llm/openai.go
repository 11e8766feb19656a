package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maestrokit/maestro/pkg/config"
)

var tracer = otel.GetTracerProvider().Tracer("pkg/llm")

// OpenAIClient streams chat completions from any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client       *openai.Client
	model        string
	temperature  *float32
	maxTokens    int
	stallTimeout time.Duration
}

// NewOpenAIClient builds a streaming client from provider configuration.
// The API key is read from the environment variable the provider names.
func NewOpenAIClient(provider *config.LLMProviderConfig, stallTimeout time.Duration) (*OpenAIClient, error) {
	if !provider.Type.IsValid() {
		return nil, fmt.Errorf("unsupported LLM provider type: %s", provider.Type)
	}

	apiKey := ""
	if provider.APIKeyEnv != "" {
		apiKey = os.Getenv(provider.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv)
		}
	}

	cfg := openai.DefaultConfig(apiKey)
	if provider.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(provider.BaseURL, "/")
	}
	// No overall request timeout: streams are long-lived and guarded by the
	// per-chunk stall watchdog instead.
	cfg.HTTPClient = &http.Client{}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(cfg),
		model:        provider.Model,
		temperature:  provider.Temperature,
		maxTokens:    provider.MaxTokens,
		stallTimeout: stallTimeout,
	}, nil
}

// Generate implements Client. The returned channel delivers chunks in model
// emission order; tool calls are emitted after their argument deltas have
// been fully assembled, at end of stream.
func (c *OpenAIClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(input.Messages),
		Tools:    toOpenAITools(input.Tools),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if c.temperature != nil {
		req.Temperature = *c.temperature
	}
	if c.maxTokens > 0 {
		req.MaxTokens = c.maxTokens
	}

	ctx, span := tracer.Start(ctx, "llm.generate", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.request.messages", len(req.Messages)),
		attribute.Int("llm.request.tools", len(req.Tools)),
	)

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}

	out := make(chan Chunk)
	go c.pump(ctx, span, stream, out)
	return out, nil
}

// pump reads raw stream deltas on a side goroutine and forwards assembled
// chunks, enforcing the per-chunk stall timeout between deltas.
func (c *OpenAIClient) pump(ctx context.Context, span trace.Span, stream *openai.ChatCompletionStream, out chan<- Chunk) {
	defer close(out)
	defer span.End()
	defer stream.Close()

	type recvResult struct {
		resp openai.ChatCompletionStreamResponse
		err  error
	}
	recvCh := make(chan recvResult)
	go func() {
		defer close(recvCh)
		for {
			resp, err := stream.Recv()
			select {
			case recvCh <- recvResult{resp, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var calls []openai.ToolCall
	stall := time.NewTimer(c.stallTimeout)
	defer stall.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-stall.C:
			span.SetStatus(codes.Error, "stream stalled")
			c.send(ctx, out, &ErrorChunk{
				Message: fmt.Sprintf("no chunk received for %s", c.stallTimeout),
				Stalled: true,
			})
			return

		case r, ok := <-recvCh:
			if !ok {
				return
			}
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					c.flushToolCalls(ctx, out, calls)
					return
				}
				span.RecordError(r.err)
				span.SetStatus(codes.Error, r.err.Error())
				c.send(ctx, out, &ErrorChunk{Message: r.err.Error(), Retryable: isRetryable(r.err)})
				return
			}

			if !stall.Stop() {
				<-stall.C
			}
			stall.Reset(c.stallTimeout)

			if r.resp.Usage != nil {
				c.send(ctx, out, &UsageChunk{
					InputTokens:  r.resp.Usage.PromptTokens,
					OutputTokens: r.resp.Usage.CompletionTokens,
					TotalTokens:  r.resp.Usage.TotalTokens,
				})
			}
			if len(r.resp.Choices) == 0 {
				continue
			}
			delta := r.resp.Choices[0].Delta
			if delta.Content != "" {
				if !c.send(ctx, out, &TextChunk{Content: delta.Content}) {
					return
				}
			}
			calls = accumulateToolCalls(calls, delta.ToolCalls)

			if r.resp.Choices[0].FinishReason == openai.FinishReasonToolCalls {
				c.flushToolCalls(ctx, out, calls)
				calls = nil
			}
		}
	}
}

func (c *OpenAIClient) flushToolCalls(ctx context.Context, out chan<- Chunk, calls []openai.ToolCall) {
	for _, call := range calls {
		if call.Function.Name == "" {
			slog.Warn("Dropping tool call delta without a function name", "call_id", call.ID)
			continue
		}
		args := call.Function.Arguments
		if args == "" {
			args = "{}"
		}
		if !c.send(ctx, out, &ToolCallChunk{CallID: call.ID, Name: call.Function.Name, Arguments: args}) {
			return
		}
	}
}

func (c *OpenAIClient) send(ctx context.Context, out chan<- Chunk, chunk Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// accumulateToolCalls merges streaming tool-call deltas. The wire format
// sends the id and name first, then argument fragments keyed by index.
func accumulateToolCalls(calls []openai.ToolCall, deltas []openai.ToolCall) []openai.ToolCall {
	for _, d := range deltas {
		idx := len(calls) - 1
		if d.Index != nil {
			idx = *d.Index
		}
		for idx >= len(calls) {
			calls = append(calls, openai.ToolCall{Type: openai.ToolTypeFunction})
		}
		if idx < 0 {
			continue
		}
		if d.ID != "" {
			calls[idx].ID = d.ID
		}
		if d.Function.Name != "" {
			calls[idx].Function.Name += d.Function.Name
		}
		calls[idx].Function.Arguments += d.Function.Arguments
	}
	return calls
}

func toOpenAIMessages(messages []ConversationMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
		if m.ToolCallID != "" {
			msg.ToolCallID = m.ToolCallID
			msg.Name = m.ToolName
		}
		if len(m.ToolCalls) > 0 {
			msg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				msg.ToolCalls[j] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
		}
		result[i] = msg
	}
	return result
}

func toOpenAITools(tools []ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		schema := json.RawMessage(t.ParametersSchema)
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

// isRetryable classifies provider errors: rate limits and 5xx responses are
// worth one retry, auth and validation errors are not.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return false
}
