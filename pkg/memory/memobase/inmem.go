package memobase

import (
	"context"
	"sync"
	"time"

	"github.com/maestrokit/maestro/pkg/models"
)

type userKey struct {
	userID int64
	key    string
}

// InMemoryDriver keeps user context in process memory. Used by tests and
// embedded deployments that run without PostgreSQL.
type InMemoryDriver struct {
	mu      sync.RWMutex
	entries map[userKey]*Entry
}

// NewInMemoryDriver creates an empty in-memory store.
func NewInMemoryDriver() *InMemoryDriver {
	return &InMemoryDriver{entries: make(map[userKey]*Entry)}
}

// Put implements Driver, applying the same gate the SQL upsert carries.
func (d *InMemoryDriver) Put(_ context.Context, entry *Entry) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := userKey{entry.UserID, entry.Key}
	if !gateAllows(d.entries[k], entry) {
		return false, nil
	}
	cp := *entry
	d.entries[k] = &cp
	return true, nil
}

// Get implements Driver.
func (d *InMemoryDriver) Get(_ context.Context, userID int64) (map[string]models.ContextValue, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]models.ContextValue)
	for k, e := range d.entries {
		if k.userID != userID {
			continue
		}
		out[k.key] = models.ContextValue{
			Value:      e.Value,
			Importance: e.Importance,
			Source:     e.Source,
			UpdatedAt:  e.UpdatedAt,
		}
	}
	return out, nil
}

// Update implements Driver.
func (d *InMemoryDriver) Update(_ context.Context, userID int64, key string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[userKey{userID, key}]
	if !ok {
		return ErrNotFound
	}
	e.Value = value
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete implements Driver.
func (d *InMemoryDriver) Delete(_ context.Context, userID int64, key string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var removed int64
	for k := range d.entries {
		if k.userID != userID {
			continue
		}
		if key != "" && k.key != key {
			continue
		}
		delete(d.entries, k)
		removed++
	}
	return removed, nil
}

// Len returns the entry count. Test helper.
func (d *InMemoryDriver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
