package config

// KnowledgeConfig groups static knowledge source settings.
type KnowledgeConfig struct {
	// CacheDir holds msgpack embedding caches keyed by content hash
	CacheDir string `yaml:"cache_dir,omitempty"`

	// Sources maps source name → file-backed corpus
	Sources map[string]*KnowledgeSourceConfig `yaml:"sources,omitempty"`
}

// KnowledgeSourceConfig defines one file-backed knowledge corpus.
type KnowledgeSourceConfig struct {
	// Path to the source document (plain text / markdown)
	Path string `yaml:"path" validate:"required"`

	// ChunkSize is the max chunk length in bytes; 0 = default
	ChunkSize int `yaml:"chunk_size,omitempty"`

	// TopK chunks retrieved per query; 0 = default
	TopK int `yaml:"top_k,omitempty"`

	// Threshold drops chunks below this relevance, 0..1
	Threshold float64 `yaml:"threshold,omitempty"`
}

// Knowledge source defaults applied at load time.
const (
	DefaultKnowledgeChunkSize = 1200
	DefaultKnowledgeTopK      = 3
	DefaultKnowledgeThreshold = 0.35
)
