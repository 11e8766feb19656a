// Package memobase stores structured per-user facts keyed by dotted paths.
// Reads happen on every turn; writes pass an importance gate so low-value
// extractions never clobber facts the user stated explicitly.
package memobase

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/maestrokit/maestro/pkg/models"
)

var (
	// ErrSkipped is returned when the importance gate rejects a Put. Callers
	// that treat the gate as best-effort (the extractor does) ignore it.
	ErrSkipped = errors.New("existing entry outranks the write")

	// ErrAnonymousWrite is returned for writes carrying user id 0.
	ErrAnonymousWrite = errors.New("anonymous user context is never persisted")

	// ErrNotFound is returned by Update and keyed Delete when no entry exists.
	ErrNotFound = errors.New("context entry not found")

	// ErrInvalidKey is returned for empty or malformed dotted keys.
	ErrInvalidKey = errors.New("invalid context key")
)

// Entry is one stored fact.
type Entry struct {
	UserID     int64
	Key        string
	Value      any
	Importance float64
	Source     models.ContextSource
	UpdatedAt  time.Time
}

// Driver is the storage contract. Put reports whether the write was applied;
// false means the gate held and the existing entry stayed.
type Driver interface {
	Put(ctx context.Context, entry *Entry) (bool, error)
	Get(ctx context.Context, userID int64) (map[string]models.ContextValue, error)
	Update(ctx context.Context, userID int64, key string, value any) error
	Delete(ctx context.Context, userID int64, key string) (int64, error)
}

const lockStripes = 64

// Store is the memobase service. Writes to the same (user, key) pair are
// linearized through striped in-process locks; the pgx driver additionally
// enforces the gate in SQL so concurrent processes agree.
type Store struct {
	driver Driver
	locks  [lockStripes]sync.Mutex
}

// New wraps a driver.
func New(driver Driver) *Store {
	return &Store{driver: driver}
}

// Put upserts one fact. The gate: an existing entry with strictly higher
// importance wins; on equal importance a manual write displaces anything,
// while an extraction write never displaces a manual entry. Rejected writes
// return ErrSkipped.
func (s *Store) Put(ctx context.Context, userID int64, key string, value any, importance float64, source models.ContextSource) error {
	if userID == 0 {
		return ErrAnonymousWrite
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if importance < 0 || importance > 1 {
		return fmt.Errorf("importance %v out of range [0,1]", importance)
	}

	lock := s.lockFor(userID, key)
	lock.Lock()
	defer lock.Unlock()

	applied, err := s.driver.Put(ctx, &Entry{
		UserID:     userID,
		Key:        key,
		Value:      value,
		Importance: importance,
		Source:     source,
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("put context entry: %w", err)
	}
	if !applied {
		return ErrSkipped
	}
	return nil
}

// Get returns the user's full context map keyed by dotted path. Budget
// fitting happens at prompt-render time, not here.
func (s *Store) Get(ctx context.Context, userID int64) (map[string]models.ContextValue, error) {
	if userID == 0 {
		return map[string]models.ContextValue{}, nil
	}
	out, err := s.driver.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read user context: %w", err)
	}
	return out, nil
}

// Update changes the value in place. Importance and source are untouched,
// so the gate is not consulted.
func (s *Store) Update(ctx context.Context, userID int64, key string, value any) error {
	if userID == 0 {
		return ErrAnonymousWrite
	}
	if err := validateKey(key); err != nil {
		return err
	}

	lock := s.lockFor(userID, key)
	lock.Lock()
	defer lock.Unlock()

	return s.driver.Update(ctx, userID, key, value)
}

// Delete removes one key, or the user's entire context when key is empty.
func (s *Store) Delete(ctx context.Context, userID int64, key string) error {
	if userID == 0 {
		return ErrAnonymousWrite
	}

	removed, err := s.driver.Delete(ctx, userID, key)
	if err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	if key != "" && removed == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return nil
}

func (s *Store) lockFor(userID int64, key string) *sync.Mutex {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d\x00%s", userID, key)
	return &s.locks[h.Sum64()%lockStripes]
}

// validateKey accepts dotted paths of non-empty segments. Intermediate path
// nodes are implied, only leaves are stored.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	for _, segment := range strings.Split(key, ".") {
		if segment == "" {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// gateAllows reports whether a new write displaces the existing entry.
// Shared by the in-memory driver; the pgx driver encodes the same rule in
// its ON CONFLICT clause.
func gateAllows(existing *Entry, incoming *Entry) bool {
	if existing == nil {
		return true
	}
	if incoming.Importance > existing.Importance {
		return true
	}
	if incoming.Importance < existing.Importance {
		return false
	}
	// Equal importance: manual displaces anything, extraction only
	// displaces extraction.
	return incoming.Source == models.SourceManual || existing.Source == models.SourceExtraction
}
