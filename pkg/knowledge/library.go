package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrSourceNotFound is returned for unknown source names.
var ErrSourceNotFound = errors.New("knowledge source not found")

// Library holds loaded sources by name. Agents reference sources by name
// in their configuration; the library is populated at startup and on agent
// registration.
type Library struct {
	mu       sync.RWMutex
	sources  map[string]*Source
	cacheDir string
}

// NewLibrary creates an empty library writing caches under cacheDir.
func NewLibrary(cacheDir string) *Library {
	return &Library{
		sources:  make(map[string]*Source),
		cacheDir: cacheDir,
	}
}

// CacheDir returns the embedding cache directory.
func (l *Library) CacheDir() string { return l.cacheDir }

// Add registers a loaded source, replacing any previous one of that name.
func (l *Library) Add(src *Source) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources[src.Name()] = src
}

// Get looks up a source by name.
func (l *Library) Get(name string) (*Source, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	src, ok := l.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	return src, nil
}

// Search queries the named sources and merges the hits, best first. Unknown
// names are an error; a failing source aborts the whole search.
func (l *Library) Search(ctx context.Context, names []string, query string) ([]Hit, error) {
	var merged []Hit
	for _, name := range names {
		src, err := l.Get(name)
		if err != nil {
			return nil, err
		}
		hits, err := src.Search(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("searching %s: %w", name, err)
		}
		merged = append(merged, hits...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Relevance > merged[j].Relevance })
	return merged, nil
}
