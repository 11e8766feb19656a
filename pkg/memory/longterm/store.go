// Package longterm implements persistent, user-partitioned vector memory.
// A thin service embeds text and enforces the isolation and dimension
// invariants; concrete storage lives behind the Driver interface.
package longterm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maestrokit/maestro/pkg/ids"
	"github.com/maestrokit/maestro/pkg/llm"
	"github.com/maestrokit/maestro/pkg/models"
)

var (
	// ErrDimensionMismatch is returned for vectors whose length differs from
	// the dimension fixed at construction.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrAnonymousWrite is returned for writes carrying user id 0. Anonymous
	// turns must never produce persistent records.
	ErrAnonymousWrite = errors.New("anonymous user records are never persisted")

	// ErrMissingUserID is returned for searches whose filter carries no user
	// partition. Every query must be user-scoped.
	ErrMissingUserID = errors.New("long-term queries must filter by user_id")

	// ErrNotFound is returned when a targeted delete matches nothing.
	ErrNotFound = errors.New("record not found")
)

// Record is one persistent memory entry. Append or delete only, never
// mutated in place.
type Record struct {
	ID         string
	UserID     int64
	AgentID    string
	Content    string
	Embedding  []float32
	Metadata   map[string]any
	Importance float64
	CreatedAt  time.Time
}

// Filter scopes queries and deletes. UserID is mandatory for searches.
type Filter struct {
	ID      string
	UserID  int64
	AgentID string
}

// Hit is one driver search result with similarity score in [0,1].
type Hit struct {
	Record Record
	Score  float64
}

// Driver is the abstract key/value + ANN backend contract.
type Driver interface {
	Upsert(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, filter Filter) (int64, error)
	SearchByVector(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error)

	// PruneBefore removes records created before the cutoff whose importance
	// is at most maxImportance. Used by retention maintenance.
	PruneBefore(ctx context.Context, cutoff time.Time, maxImportance float64) (int64, error)
}

// Memory is the long-term store service.
type Memory struct {
	driver    Driver
	embedder  llm.Embedder
	dimension int
}

// New creates the service. The embedder may be nil only if every Add call
// supplies its own embedding and Search is never used.
func New(driver Driver, embedder llm.Embedder, dimension int) *Memory {
	return &Memory{driver: driver, embedder: embedder, dimension: dimension}
}

// Add persists one record. A nil embedding is computed from the content.
// Returns the generated record id.
func (m *Memory) Add(ctx context.Context, content string, embedding []float32, metadata map[string]any, importance float64, userID int64) (string, error) {
	if userID == 0 {
		return "", ErrAnonymousWrite
	}

	if embedding == nil {
		if m.embedder == nil {
			return "", fmt.Errorf("no embedder configured and no embedding supplied")
		}
		vectors, err := m.embedder.Embed(ctx, []string{content})
		if err != nil {
			return "", fmt.Errorf("embedding content: %w", err)
		}
		embedding = vectors[0]
	}
	if len(embedding) != m.dimension {
		return "", fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), m.dimension)
	}

	rec := &Record{
		ID:         ids.NewMemory(),
		UserID:     userID,
		AgentID:    agentIDFrom(metadata),
		Content:    content,
		Embedding:  embedding,
		Metadata:   metadata,
		Importance: importance,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.driver.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("upsert record: %w", err)
	}
	return rec.ID, nil
}

// Search embeds the query and returns matches within the user partition,
// best first.
func (m *Memory) Search(ctx context.Context, queryText string, limit int, filter Filter) ([]models.MemoryHit, error) {
	if filter.UserID == 0 {
		return nil, ErrMissingUserID
	}
	if limit <= 0 {
		return nil, nil
	}
	if m.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}

	vectors, err := m.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := m.driver.SearchByVector(ctx, vectors[0], limit, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]models.MemoryHit, len(hits))
	for i, h := range hits {
		results[i] = models.MemoryHit{
			Content:   h.Record.Content,
			Score:     h.Score,
			Source:    models.ScopeLongTerm,
			Metadata:  h.Record.Metadata,
			CreatedAt: h.Record.CreatedAt,
		}
	}
	return results, nil
}

// Delete removes records matching the filter and reports how many went.
func (m *Memory) Delete(ctx context.Context, filter Filter) (int64, error) {
	if filter.ID == "" && filter.UserID == 0 {
		return 0, ErrMissingUserID
	}
	return m.driver.Delete(ctx, filter)
}

// Prune applies age-based retention, keeping high-importance records.
func (m *Memory) Prune(ctx context.Context, cutoff time.Time, maxImportance float64) (int64, error) {
	return m.driver.PruneBefore(ctx, cutoff, maxImportance)
}

func agentIDFrom(metadata map[string]any) string {
	if v, ok := metadata[models.MetaAgentID].(string); ok {
		return v
	}
	return ""
}
