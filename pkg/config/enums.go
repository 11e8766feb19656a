package config

// TransportType defines MCP server transport types
type TransportType string

const (
	// TransportTypeHTTPSSE uses HTTP POST for requests and an SSE stream for responses
	TransportTypeHTTPSSE TransportType = "http_sse"
	// TransportTypeCommand uses a subprocess with line-delimited JSON-RPC on stdin/stdout
	TransportTypeCommand TransportType = "command"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	return t == TransportTypeHTTPSSE || t == TransportTypeCommand
}

// SimilarityMetric defines the vector similarity used by the buffer index
type SimilarityMetric string

const (
	// SimilarityInnerProduct ranks by negative dot product (normalized embeddings)
	SimilarityInnerProduct SimilarityMetric = "inner_product"
	// SimilarityL2 ranks by Euclidean distance
	SimilarityL2 SimilarityMetric = "l2"
)

// IsValid checks if the similarity metric is valid
func (m SimilarityMetric) IsValid() bool {
	return m == SimilarityInnerProduct || m == SimilarityL2
}

// LLMProviderType defines supported LLM provider dialects
type LLMProviderType string

const (
	// LLMProviderTypeOpenAI is any OpenAI-compatible chat/embeddings endpoint
	LLMProviderTypeOpenAI LLMProviderType = "openai"
)

// IsValid checks if the LLM provider type is valid
func (t LLMProviderType) IsValid() bool {
	return t == LLMProviderTypeOpenAI
}

// LongTermDriver defines the long-term memory store implementations
type LongTermDriver string

const (
	// LongTermDriverPgvector stores vectors in PostgreSQL with the pgvector extension
	LongTermDriverPgvector LongTermDriver = "pgvector"
	// LongTermDriverInMemory stores vectors in process memory (tests, embedded runs)
	LongTermDriverInMemory LongTermDriver = "inmem"
)

// IsValid checks if the long-term driver is valid
func (d LongTermDriver) IsValid() bool {
	return d == LongTermDriverPgvector || d == LongTermDriverInMemory
}
