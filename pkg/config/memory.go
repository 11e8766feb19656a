package config

import "time"

// MemoryConfig groups the memory subsystem settings.
type MemoryConfig struct {
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Buffer     BufferConfig     `yaml:"buffer"`
	LongTerm   LongTermConfig   `yaml:"long_term"`
	Extraction ExtractionConfig `yaml:"extraction"`
}

// EmbeddingConfig binds the memory subsystem to an embedding endpoint.
type EmbeddingConfig struct {
	// Provider is an llm_providers entry carrying embedding_model
	Provider string `yaml:"provider"`

	// Dimension is fixed at startup; inserts of any other length fail
	Dimension int `yaml:"dimension"`
}

// BufferConfig controls the hybrid conversation buffer.
type BufferConfig struct {
	// ContextWindow is the base number of messages composed into a prompt
	ContextWindow int `yaml:"context_window"`

	// BufferMultiplier scales capacity: N = context_window * buffer_multiplier
	BufferMultiplier int `yaml:"buffer_multiplier"`

	// RebuildEvery is the insertion count between vector index rebuilds;
	// between rebuilds the unindexed tail is covered by linear scan
	RebuildEvery int `yaml:"rebuild_every"`

	// Similarity is the index metric (inner_product or l2)
	Similarity SimilarityMetric `yaml:"similarity"`

	// DefaultRecencyBias is used when an agent does not set its own, 0..1
	DefaultRecencyBias float64 `yaml:"default_recency_bias"`
}

// Capacity returns the ring size N.
func (c BufferConfig) Capacity() int {
	return c.ContextWindow * c.BufferMultiplier
}

// LongTermConfig controls the persistent vector store.
type LongTermConfig struct {
	// Driver selects the store implementation (pgvector or inmem)
	Driver LongTermDriver `yaml:"driver"`

	// DefaultImportance assigned to turn-completion writes
	DefaultImportance float64 `yaml:"default_importance"`
}

// ExtractionConfig controls post-turn user-context extraction.
type ExtractionConfig struct {
	// Enabled toggles automatic extraction entirely
	Enabled bool `yaml:"enabled"`

	// Interval runs extraction every N-th turn per user (1 = every turn)
	Interval int `yaml:"interval"`

	// ConfidenceThreshold drops extracted facts below this confidence
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// Provider is the llm_providers entry used for extraction
	// (empty = defaults.llm_provider)
	Provider string `yaml:"provider,omitempty"`

	// Workers is the size of the background extraction pool
	Workers int `yaml:"workers"`

	// Timeout bounds one extraction run
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultMemoryConfig returns the built-in memory defaults.
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		Embedding: EmbeddingConfig{
			Provider:  "openai-embed",
			Dimension: 1536,
		},
		Buffer: BufferConfig{
			ContextWindow:      50,
			BufferMultiplier:   4,
			RebuildEvery:       32,
			Similarity:         SimilarityInnerProduct,
			DefaultRecencyBias: 0.3,
		},
		LongTerm: LongTermConfig{
			Driver:            LongTermDriverPgvector,
			DefaultImportance: 0.5,
		},
		Extraction: ExtractionConfig{
			Enabled:             true,
			Interval:            1,
			ConfidenceThreshold: 0.5,
			Workers:             2,
			Timeout:             30 * time.Second,
		},
	}
}
