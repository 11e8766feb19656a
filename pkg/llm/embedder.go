package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maestrokit/maestro/pkg/config"
)

// OpenAIEmbedder produces embeddings through an OpenAI-compatible endpoint.
// The dimension is fixed at construction and enforced on every response, so
// a misconfigured endpoint fails loudly instead of poisoning the stores.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
}

// NewOpenAIEmbedder builds an embedder from provider configuration.
func NewOpenAIEmbedder(provider *config.LLMProviderConfig, dimension int) (*OpenAIEmbedder, error) {
	if provider.EmbeddingModel == "" {
		return nil, fmt.Errorf("provider declares no embedding_model")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dimension)
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
	cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     provider.EmbeddingModel,
		dimension: dimension,
	}, nil
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "llm.embed", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.embedding_model", e.model),
		attribute.Int("llm.request.inputs", len(inputs)),
	)

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.model),
		Input:      inputs,
		Dimensions: e.dimension,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(inputs))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		if len(d.Embedding) != e.dimension {
			return nil, fmt.Errorf("embedding has dimension %d, want %d", len(d.Embedding), e.dimension)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Dimension implements Embedder.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}
