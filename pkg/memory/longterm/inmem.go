package longterm

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// InMemoryDriver keeps records in process memory. Used by tests and
// embedded deployments that run without PostgreSQL.
type InMemoryDriver struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewInMemoryDriver creates an empty in-memory store.
func NewInMemoryDriver() *InMemoryDriver {
	return &InMemoryDriver{records: make(map[string]*Record)}
}

// Upsert implements Driver.
func (d *InMemoryDriver) Upsert(_ context.Context, rec *Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := *rec
	cp.Embedding = append([]float32(nil), rec.Embedding...)
	d.records[rec.ID] = &cp
	return nil
}

// SearchByVector implements Driver using exact cosine similarity.
func (d *InMemoryDriver) SearchByVector(_ context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var hits []Hit
	for _, rec := range d.records {
		if !matches(rec, filter) || len(rec.Embedding) != len(vector) {
			continue
		}
		hits = append(hits, Hit{Record: *rec, Score: cosine(vector, rec.Embedding)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Delete implements Driver.
func (d *InMemoryDriver) Delete(_ context.Context, filter Filter) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var removed int64
	for id, rec := range d.records {
		if filter.ID != "" && id != filter.ID {
			continue
		}
		if filter.ID == "" && !matches(rec, filter) {
			continue
		}
		delete(d.records, id)
		removed++
	}
	return removed, nil
}

// PruneBefore implements Driver.
func (d *InMemoryDriver) PruneBefore(_ context.Context, cutoff time.Time, maxImportance float64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var removed int64
	for id, rec := range d.records {
		if rec.CreatedAt.Before(cutoff) && rec.Importance <= maxImportance {
			delete(d.records, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the record count. Test helper.
func (d *InMemoryDriver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

func matches(rec *Record, filter Filter) bool {
	if filter.UserID != 0 && rec.UserID != filter.UserID {
		return false
	}
	if filter.AgentID != "" && rec.AgentID != filter.AgentID {
		return false
	}
	return true
}

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
