package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// cachedEmbeddings is the on-disk cache record. The chunk list is stored
// alongside the vectors so a cache hit skips re-chunking too.
type cachedEmbeddings struct {
	Chunks  []string    `msgpack:"chunks"`
	Vectors [][]float32 `msgpack:"vectors"`
}

// cachePath derives the cache file name from the source content hash and
// the embedding dimension. Content changes produce a new hash, so stale
// caches are simply never read again; cleanup prunes them by age.
func cachePath(cacheDir string, content []byte, dimension int) string {
	sum := sha256.Sum256(content)
	return filepath.Join(cacheDir, fmt.Sprintf("%s-%d.msgpack", hex.EncodeToString(sum[:16]), dimension))
}

func loadCache(path string) (*cachedEmbeddings, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var cached cachedEmbeddings
	if err := msgpack.Unmarshal(raw, &cached); err != nil {
		return nil, false
	}
	if len(cached.Chunks) != len(cached.Vectors) {
		return nil, false
	}
	return &cached, true
}

func storeCache(path string, cached *cachedEmbeddings) error {
	raw, err := msgpack.Marshal(cached)
	if err != nil {
		return fmt.Errorf("encode embedding cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	// Write-then-rename keeps partial writes out of the cache.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write embedding cache: %w", err)
	}
	return os.Rename(tmp, path)
}
