// Package buffer implements short-term conversational memory: a bounded
// ring of recent items with hybrid semantic/recency retrieval. Eviction
// drops the oldest item; search blends vector similarity with ring position.
package buffer

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/llm"
	"github.com/maestrokit/maestro/pkg/models"
)

// Item is one buffered entry. Embedding is nil when the embedder was absent
// or failed at add time; such items are reachable by recency only.
type Item struct {
	Content   string
	Embedding []float32
	Timestamp time.Time
	Metadata  map[string]any
}

// Buffer is the bounded hybrid ring. Safe for concurrent use; readers see
// either the pre- or post-eviction state, never a partial update.
type Buffer struct {
	capacity     int
	metric       config.SimilarityMetric
	rebuildEvery int
	embedder     llm.Embedder // nil = recency-only mode

	mu      sync.RWMutex
	items   []Item      // ring order: items[0] oldest
	vectors [][]float32 // aligned with items; nil entries for unembedded items

	// index holds unit-normalized copies of vectors[:indexed] (inner product
	// metric only); the tail vectors[indexed:] is linear-scanned until the
	// next rebuild
	index        [][]float32
	indexed      int
	sinceRebuild int
}

// New creates a buffer with capacity cfg.Capacity(). The embedder may be nil.
func New(cfg config.BufferConfig, embedder llm.Embedder) *Buffer {
	return &Buffer{
		capacity:     cfg.Capacity(),
		metric:       cfg.Similarity,
		rebuildEvery: cfg.RebuildEvery,
		embedder:     embedder,
	}
}

// Add embeds and stores one item. The item is visible to readers when Add
// returns. Embedding failures degrade to a recency-only item, never an error.
func (b *Buffer) Add(ctx context.Context, content string, metadata map[string]any) {
	var embedding []float32
	if b.embedder != nil {
		vectors, err := b.embedder.Embed(ctx, []string{content})
		if err != nil {
			slog.Warn("Buffer embedding failed; item stored recency-only", "error", err)
		} else if len(vectors) == 1 {
			embedding = vectors[0]
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, Item{
		Content:   content,
		Embedding: embedding,
		Timestamp: time.Now(),
		Metadata:  metadata,
	})
	b.vectors = append(b.vectors, embedding)

	if len(b.items) > b.capacity {
		evict := len(b.items) - b.capacity
		b.items = b.items[evict:]
		b.vectors = b.vectors[evict:]
		// Ring positions shifted; the prefix index no longer lines up
		b.rebuildIndexLocked()
		b.sinceRebuild = 0
		return
	}

	b.sinceRebuild++
	if b.sinceRebuild >= b.rebuildEvery {
		b.rebuildIndexLocked()
		b.sinceRebuild = 0
	}
}

// rebuildIndexLocked recomputes the normalized prefix index. Caller holds mu.
func (b *Buffer) rebuildIndexLocked() {
	b.index = make([][]float32, len(b.vectors))
	for i, v := range b.vectors {
		if v != nil && b.metric == config.SimilarityInnerProduct {
			b.index[i] = normalize(v)
		} else {
			b.index[i] = v
		}
	}
	b.indexed = len(b.vectors)
}

// Len returns the current item count.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Search returns up to limit hits for the query. recencyBias in [0,1] blends
// ring recency into the semantic ranking; 1 means pure recency. When no
// query vector can be produced the search falls back to pure recency.
func (b *Buffer) Search(ctx context.Context, query string, limit int, filter map[string]any, recencyBias float64) []models.MemoryHit {
	if limit <= 0 {
		return nil
	}

	var queryVec []float32
	if b.embedder != nil && recencyBias < 1 {
		vectors, err := b.embedder.Embed(ctx, []string{query})
		if err != nil {
			slog.Warn("Buffer query embedding failed; falling back to recency", "error", err)
		} else if len(vectors) == 1 {
			queryVec = vectors[0]
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if queryVec == nil {
		return b.recentLocked(limit, filter)
	}
	return b.hybridLocked(queryVec, limit, filter, recencyBias)
}

// recentLocked returns the limit most recent matching items, newest first.
func (b *Buffer) recentLocked(limit int, filter map[string]any) []models.MemoryHit {
	hits := make([]models.MemoryHit, 0, limit)
	for i := len(b.items) - 1; i >= 0 && len(hits) < limit; i-- {
		item := b.items[i]
		if !models.MetadataMatches(item.Metadata, filter) {
			continue
		}
		hits = append(hits, models.MemoryHit{
			Content:   item.Content,
			Score:     b.recencyScore(i),
			Source:    models.ScopeBuffer,
			Metadata:  item.Metadata,
			CreatedAt: item.Timestamp,
		})
	}
	return hits
}

// hybridLocked retrieves 2×limit candidates by vector score, filters, then
// rescores with the recency blend.
func (b *Buffer) hybridLocked(queryVec []float32, limit int, filter map[string]any, recencyBias float64) []models.MemoryHit {
	normQuery := queryVec
	if b.metric == config.SimilarityInnerProduct {
		normQuery = normalize(queryVec)
	}

	type candidate struct {
		pos      int
		distance float64
	}
	candidates := make([]candidate, 0, len(b.items))
	for i := range b.items {
		vec := b.vectorAt(i)
		if vec == nil || len(vec) != len(normQuery) {
			continue
		}
		candidates = append(candidates, candidate{pos: i, distance: b.distance(normQuery, vec)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })
	if len(candidates) > 2*limit {
		candidates = candidates[:2*limit]
	}

	hits := make([]models.MemoryHit, 0, len(candidates))
	for _, c := range candidates {
		item := b.items[c.pos]
		if !models.MetadataMatches(item.Metadata, filter) {
			continue
		}
		semantic := 1 / (1 + c.distance)
		score := (1-recencyBias)*semantic + recencyBias*b.recencyScore(c.pos)
		hits = append(hits, models.MemoryHit{
			Content:   item.Content,
			Score:     score,
			Source:    models.ScopeBuffer,
			Metadata:  item.Metadata,
			CreatedAt: item.Timestamp,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// vectorAt returns the comparison vector for ring position i: the prefix
// index where available, the raw (normalized on the fly) tail otherwise.
func (b *Buffer) vectorAt(i int) []float32 {
	if i < b.indexed && i < len(b.index) {
		return b.index[i]
	}
	v := b.vectors[i]
	if v != nil && b.metric == config.SimilarityInnerProduct {
		return normalize(v)
	}
	return v
}

// recencyScore is 1 for the newest ring position, decreasing by 1/capacity
// per step toward the oldest.
func (b *Buffer) recencyScore(pos int) float64 {
	fromNewest := len(b.items) - 1 - pos
	return 1 - float64(fromNewest)/float64(b.capacity)
}

func (b *Buffer) distance(query, vec []float32) float64 {
	if b.metric == config.SimilarityL2 {
		var sum float64
		for i := range query {
			d := float64(query[i]) - float64(vec[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	}
	// Cosine distance over unit vectors
	var dot float64
	for i := range query {
		dot += float64(query[i]) * float64(vec[i])
	}
	return 1 - dot
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
