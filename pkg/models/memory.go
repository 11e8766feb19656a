package models

import (
	"reflect"
	"time"
)

// SearchScope selects which memory tier a search covers.
type SearchScope string

const (
	ScopeBuffer   SearchScope = "buffer"
	ScopeLongTerm SearchScope = "long_term"
	ScopeBoth     SearchScope = "both"
)

// SearchOptions parameterizes Orchestrator.SearchMemory.
type SearchOptions struct {
	Scope       SearchScope    `json:"scope,omitempty"` // default: both
	Filter      map[string]any `json:"filter,omitempty"`
	Limit       int            `json:"limit,omitempty"`
	RecencyBias float64        `json:"recency_bias,omitempty"` // buffer tier only
}

// MemoryHit is one search result across memory tiers.
type MemoryHit struct {
	Content   string         `json:"content"`
	Score     float64        `json:"score"`
	Source    SearchScope    `json:"source"` // buffer or long_term
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ContextSource records how a user-context entry was produced.
type ContextSource string

const (
	SourceManual     ContextSource = "manual"
	SourceExtraction ContextSource = "extraction"
)

// ContextValue is one user-context fact with its provenance.
type ContextValue struct {
	Value      any           `json:"value"`
	Importance float64       `json:"importance"`
	Source     ContextSource `json:"source"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Extraction is one fact the extractor pulled out of a completed turn.
type Extraction struct {
	Key        string  `json:"key"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Importance float64 `json:"importance"`
}

// MetadataMatches reports whether every filter key is present in metadata
// with a deeply-equal value. An empty filter matches everything. Integer
// values are compared numerically so int and int64 user ids match.
func MetadataMatches(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok {
			return false
		}
		if wi, wok := asInt64(want); wok {
			if gi, gok := asInt64(got); gok {
				if wi != gi {
					return false
				}
				continue
			}
			return false
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
