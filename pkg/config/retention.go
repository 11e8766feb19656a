package config

import "time"

// RetentionConfig controls data retention and periodic maintenance.
type RetentionConfig struct {
	// MemoryRetentionDays is how many days to keep long-term memory records
	// before deletion. 0 disables age-based deletion.
	MemoryRetentionDays int `yaml:"memory_retention_days"`

	// MemoryPruneMaxImportance caps which records age-based deletion may
	// touch; records above it are kept regardless of age.
	MemoryPruneMaxImportance float64 `yaml:"memory_prune_max_importance"`

	// RoutingSweepInterval is how often expired routing-cache entries are
	// evicted. Lookups already skip expired entries; the sweep bounds memory.
	RoutingSweepInterval time.Duration `yaml:"routing_sweep_interval"`

	// KnowledgeCacheTTL is the maximum age of orphaned embedding cache files
	// before deletion. Cache hits never expire; this is a safety net.
	KnowledgeCacheTTL time.Duration `yaml:"knowledge_cache_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		MemoryRetentionDays:      0,
		MemoryPruneMaxImportance: 0.75,
		RoutingSweepInterval:     1 * time.Minute,
		KnowledgeCacheTTL:        30 * 24 * time.Hour,
		CleanupInterval:          12 * time.Hour,
	}
}
