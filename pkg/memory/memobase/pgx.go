package memobase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/maestrokit/maestro/pkg/models"
)

// DB is the subset of pgxpool.Pool the driver needs; pgxmock satisfies it
// in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxDriver stores user context in the user_context table. The importance
// gate lives in the upsert's WHERE clause, so concurrent writers in other
// processes observe the same outcome as in-process callers.
type PgxDriver struct {
	db DB
}

// NewPgxDriver wraps an existing connection pool.
func NewPgxDriver(db DB) *PgxDriver {
	return &PgxDriver{db: db}
}

// Put implements Driver. A zero-row result means the gate held.
func (d *PgxDriver) Put(ctx context.Context, entry *Entry) (bool, error) {
	value, err := json.Marshal(entry.Value)
	if err != nil {
		return false, fmt.Errorf("marshal value: %w", err)
	}

	query := `
		INSERT INTO user_context (user_id, key, value, importance, source, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, key) DO UPDATE
		SET value = EXCLUDED.value, importance = EXCLUDED.importance,
		    source = EXCLUDED.source, updated_at = EXCLUDED.updated_at
		WHERE user_context.importance < EXCLUDED.importance
		   OR (user_context.importance = EXCLUDED.importance
		       AND (EXCLUDED.source = 'manual' OR user_context.source = 'extraction'))`

	tag, err := d.db.Exec(ctx, query,
		entry.UserID, entry.Key, value, entry.Importance, string(entry.Source), entry.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("upsert user_context: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get implements Driver.
func (d *PgxDriver) Get(ctx context.Context, userID int64) (map[string]models.ContextValue, error) {
	rows, err := d.db.Query(ctx,
		`SELECT key, value, importance, source, updated_at FROM user_context WHERE user_id = $1`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query user_context: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.ContextValue)
	for rows.Next() {
		var (
			key    string
			raw    []byte
			cv     models.ContextValue
			source string
		)
		if err := rows.Scan(&key, &raw, &cv.Importance, &source, &cv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user_context row: %w", err)
		}
		if err := json.Unmarshal(raw, &cv.Value); err != nil {
			return nil, fmt.Errorf("unmarshal value for %q: %w", key, err)
		}
		cv.Source = models.ContextSource(source)
		out[key] = cv
	}
	return out, rows.Err()
}

// Update implements Driver.
func (d *PgxDriver) Update(ctx context.Context, userID int64, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}

	tag, err := d.db.Exec(ctx,
		`UPDATE user_context SET value = $3, updated_at = now() WHERE user_id = $1 AND key = $2`,
		userID, key, raw)
	if err != nil {
		return fmt.Errorf("update user_context: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return nil
}

// Delete implements Driver. An empty key removes the whole user partition.
func (d *PgxDriver) Delete(ctx context.Context, userID int64, key string) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if key == "" {
		tag, err = d.db.Exec(ctx, `DELETE FROM user_context WHERE user_id = $1`, userID)
	} else {
		tag, err = d.db.Exec(ctx, `DELETE FROM user_context WHERE user_id = $1 AND key = $2`, userID, key)
	}
	if err != nil {
		return 0, fmt.Errorf("delete user_context: %w", err)
	}
	return tag.RowsAffected(), nil
}
