// Package knowledge serves file-backed reference corpora to agents. Each
// source is chunked and embedded once at load; queries run an exact cosine
// scan over the chunk vectors. Sources never change after loading.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/llm"
)

// Hit is one retrieved chunk with its provenance.
type Hit struct {
	Content   string  `json:"content"`
	Source    string  `json:"source"`
	Relevance float64 `json:"relevance"`
}

// Source is one loaded corpus.
type Source struct {
	name      string
	topK      int
	threshold float64
	chunks    []string
	vectors   [][]float32
	embedder  llm.Embedder
}

// NewSource loads, chunks, and embeds one document. The embedding cache is
// consulted first; a miss embeds every chunk in one batch and writes the
// cache back. Cache write failures are logged, not fatal.
func NewSource(ctx context.Context, name string, cfg *config.KnowledgeSourceConfig, cacheDir string, embedder llm.Embedder) (*Source, error) {
	content, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge source %s: %w", name, err)
	}

	src := &Source{
		name:      name,
		topK:      cfg.TopK,
		threshold: cfg.Threshold,
		embedder:  embedder,
	}

	path := cachePath(cacheDir, content, embedder.Dimension())
	if cached, ok := loadCache(path); ok {
		src.chunks = cached.Chunks
		src.vectors = cached.Vectors
		slog.Debug("Knowledge embeddings loaded from cache",
			"source", name, "chunks", len(src.chunks))
		return src, nil
	}

	src.chunks = splitChunks(string(content), cfg.ChunkSize)
	if len(src.chunks) == 0 {
		return src, nil
	}

	src.vectors, err = embedder.Embed(ctx, src.chunks)
	if err != nil {
		return nil, fmt.Errorf("embed knowledge source %s: %w", name, err)
	}

	if err := storeCache(path, &cachedEmbeddings{Chunks: src.chunks, Vectors: src.vectors}); err != nil {
		slog.Warn("Failed to write knowledge embedding cache",
			"source", name, "path", path, "error", err)
	}
	slog.Info("Knowledge source loaded",
		"source", name, "chunks", len(src.chunks))
	return src, nil
}

// Name returns the source name.
func (s *Source) Name() string { return s.name }

// Len returns the chunk count.
func (s *Source) Len() int { return len(s.chunks) }

// Search returns the most relevant chunks for the query, best first.
// Chunks scoring below the source threshold are dropped.
func (s *Source) Search(ctx context.Context, query string) ([]Hit, error) {
	if len(s.chunks) == 0 {
		return nil, nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed knowledge query: %w", err)
	}
	queryVec := vectors[0]

	hits := make([]Hit, 0, len(s.chunks))
	for i, vec := range s.vectors {
		score := cosine(queryVec, vec)
		if score < s.threshold {
			continue
		}
		hits = append(hits, Hit{Content: s.chunks[i], Source: s.name, Relevance: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Relevance > hits[j].Relevance })
	if len(hits) > s.topK {
		hits = hits[:s.topK]
	}
	return hits, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
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
