package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestrokit/maestro/pkg/config"
)

// hashEmbedder maps text deterministically onto a 3-dim vector so tests can
// steer similarity: texts sharing a marker word share an axis.
type hashEmbedder struct {
	calls int
}

func (e *hashEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		switch {
		case strings.Contains(in, "weather"):
			out[i] = []float32{1, 0, 0}
		case strings.Contains(in, "billing"):
			out[i] = []float32{0, 1, 0}
		default:
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func (e *hashEmbedder) Dimension() int { return 3 }

func writeSource(t *testing.T, content string) *config.KnowledgeSourceConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return &config.KnowledgeSourceConfig{
		Path:      path,
		ChunkSize: 40, // one paragraph per chunk in these fixtures
		TopK:      2,
		Threshold: 0.3,
	}
}

func TestSplitChunks(t *testing.T) {
	t.Run("paragraphs pack up to the limit", func(t *testing.T) {
		chunks := splitChunks("one\n\ntwo\n\nthree", 9)
		assert.Equal(t, []string{"one\n\ntwo", "three"}, chunks)
	})

	t.Run("oversized paragraph is hard split", func(t *testing.T) {
		long := strings.Repeat("word ", 100)
		chunks := splitChunks(long, 120)
		require.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 120)
		}
	})

	t.Run("blank input", func(t *testing.T) {
		assert.Empty(t, splitChunks("\n\n  \n\n", 100))
	})
}

func TestSourceSearch(t *testing.T) {
	cfg := writeSource(t, "The weather API returns forecasts.\n\nThe billing API returns invoices.")
	emb := &hashEmbedder{}

	src, err := NewSource(context.Background(), "docs", cfg, t.TempDir(), emb)
	require.NoError(t, err)
	require.Equal(t, 2, src.Len())

	hits, err := src.Search(context.Background(), "how is the weather")
	require.NoError(t, err)
	require.Len(t, hits, 1, "billing chunk falls below the threshold")
	assert.Contains(t, hits[0].Content, "weather")
	assert.Equal(t, "docs", hits[0].Source)
	assert.InDelta(t, 1.0, hits[0].Relevance, 1e-6)
}

func TestEmbeddingCacheRoundTrip(t *testing.T) {
	cfg := writeSource(t, "The weather API returns forecasts.")
	cacheDir := t.TempDir()
	ctx := context.Background()

	first := &hashEmbedder{}
	_, err := NewSource(ctx, "docs", cfg, cacheDir, first)
	require.NoError(t, err)
	assert.Equal(t, 1, first.calls)

	// Second load must come from disk.
	second := &hashEmbedder{}
	src, err := NewSource(ctx, "docs", cfg, cacheDir, second)
	require.NoError(t, err)
	assert.Zero(t, second.calls)
	assert.Equal(t, 1, src.Len())

	// Content change invalidates the cache.
	require.NoError(t, os.WriteFile(cfg.Path, []byte("The billing API returns invoices."), 0o644))
	third := &hashEmbedder{}
	_, err = NewSource(ctx, "docs", cfg, cacheDir, third)
	require.NoError(t, err)
	assert.Equal(t, 1, third.calls)
}

func TestCorruptCacheIsIgnored(t *testing.T) {
	cfg := writeSource(t, "The weather API returns forecasts.")
	cacheDir := t.TempDir()

	content, err := os.ReadFile(cfg.Path)
	require.NoError(t, err)
	path := cachePath(cacheDir, content, 3)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("not msgpack"), 0o644))

	emb := &hashEmbedder{}
	src, err := NewSource(context.Background(), "docs", cfg, cacheDir, emb)
	require.NoError(t, err)
	assert.Equal(t, 1, emb.calls, "corrupt cache falls back to embedding")
	assert.Equal(t, 1, src.Len())
}

func TestLibrary(t *testing.T) {
	ctx := context.Background()
	cacheDir := t.TempDir()
	emb := &hashEmbedder{}

	weather, err := NewSource(ctx, "weather-docs",
		writeSource(t, "The weather API returns forecasts."), cacheDir, emb)
	require.NoError(t, err)
	billing, err := NewSource(ctx, "billing-docs",
		writeSource(t, "The billing API returns invoices."), cacheDir, emb)
	require.NoError(t, err)

	lib := NewLibrary(cacheDir)
	lib.Add(weather)
	lib.Add(billing)

	t.Run("merged search", func(t *testing.T) {
		hits, err := lib.Search(ctx, []string{"weather-docs", "billing-docs"}, "weather today")
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "weather-docs", hits[0].Source, "best hit first")
	})

	t.Run("unknown source", func(t *testing.T) {
		_, err := lib.Search(ctx, []string{"missing"}, "q")
		assert.ErrorIs(t, err, ErrSourceNotFound)
	})

	t.Run("lookup", func(t *testing.T) {
		src, err := lib.Get("weather-docs")
		require.NoError(t, err)
		assert.Equal(t, "weather-docs", src.Name())
	})
}
