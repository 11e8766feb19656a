package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maestrokit/maestro/pkg/config"
)

// Factory builds and caches one client per provider name. Agents that share
// a provider share the underlying HTTP client and connection pool.
type Factory struct {
	registry     *config.LLMProviderRegistry
	stallTimeout time.Duration

	mu      sync.Mutex
	clients map[string]Client
}

// NewFactory creates a client factory over the provider registry.
func NewFactory(registry *config.LLMProviderRegistry, stallTimeout time.Duration) *Factory {
	return &Factory{
		registry:     registry,
		stallTimeout: stallTimeout,
		clients:      make(map[string]Client),
	}
}

// Client returns the cached client for a provider name, building it on first
// use.
func (f *Factory) Client(name string) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[name]; ok {
		return client, nil
	}

	provider, err := f.registry.Get(name)
	if err != nil {
		return nil, err
	}
	client, err := NewOpenAIClient(provider, f.stallTimeout)
	if err != nil {
		return nil, fmt.Errorf("building client for provider %s: %w", name, err)
	}
	f.clients[name] = client
	return client, nil
}

// Result is a fully-collected model response for non-streaming callers.
type Result struct {
	Text      string
	ToolCalls []ToolCallRequest
	Stalled   bool
}

// Collect drains a Generate stream into a Result. Used by callers that have
// no streaming consumer: routing, extraction, tool-round continuations.
func Collect(ctx context.Context, client Client, input *GenerateInput) (*Result, error) {
	chunks, err := client.Generate(ctx, input)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	result := &Result{}
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *TextChunk:
			text.WriteString(c.Content)
		case *ToolCallChunk:
			result.ToolCalls = append(result.ToolCalls, ToolCallRequest{
				ID:        c.CallID,
				Name:      c.Name,
				Arguments: c.Arguments,
			})
		case *ErrorChunk:
			result.Stalled = c.Stalled
			return result, fmt.Errorf("model error: %s", c.Message)
		}
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	result.Text = text.String()
	return result, nil
}
