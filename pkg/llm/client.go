// Package llm provides the chat-completion and embedding client layer.
// All providers speak the OpenAI-compatible HTTP dialect; the rest of the
// system only sees the channel-based Chunk stream defined here.
package llm

import (
	"context"
)

// Client is the interface agents use to call a language model.
type Client interface {
	// Generate sends a conversation to the model and returns a stream of
	// chunks. The returned channel is closed when the stream completes.
	// Errors are delivered as ErrorChunk values in the channel.
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)
}

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	// Embed returns one vector per input, each of length Dimension().
	Embed(ctx context.Context, inputs []string) ([][]float32, error)

	// Dimension is the vector length this embedder produces.
	Dimension() int
}

// GenerateInput is one model invocation.
type GenerateInput struct {
	Messages []ConversationMessage
	Tools    []ToolDefinition // nil = no tools offered
}

// ConversationMessage is the provider-neutral message type.
type ConversationMessage struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCallRequest // for assistant messages
	ToolCallID string            // for tool result messages
	ToolName   string            // for tool result messages
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON Schema
}

// ToolCallRequest is the model's request to call a tool.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments string // raw JSON object
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is a chunk of the model's text response.
type TextChunk struct{ Content string }

// ToolCallChunk signals the model wants to call a tool. Emitted once per
// call, after its argument deltas have been fully accumulated.
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports token consumption for this model call.
type UsageChunk struct{ InputTokens, OutputTokens, TotalTokens int }

// ErrorChunk signals an error from the model provider. Stalled streams are
// reported with Stalled set so the pipeline can map them to model_stalled.
type ErrorChunk struct {
	Message   string
	Retryable bool
	Stalled   bool
}

func (c *TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (c *ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }
