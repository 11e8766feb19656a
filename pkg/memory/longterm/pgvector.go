package longterm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// DB is the subset of pgxpool.Pool the driver needs; pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgvectorDriver stores records in PostgreSQL with the pgvector extension.
// Ordering uses the cosine distance operator; scores are 1 − distance.
type PgvectorDriver struct {
	db DB
}

// NewPgvectorDriver wraps an existing connection pool.
func NewPgvectorDriver(db DB) *PgvectorDriver {
	return &PgvectorDriver{db: db}
}

// Upsert implements Driver.
func (d *PgvectorDriver) Upsert(ctx context.Context, rec *Record) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO long_term (id, user_id, agent_id, content, embedding, metadata, importance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content, embedding = EXCLUDED.embedding,
		    metadata = EXCLUDED.metadata, importance = EXCLUDED.importance`

	_, err = d.db.Exec(ctx, query,
		rec.ID, rec.UserID, nullable(rec.AgentID), rec.Content,
		pgvector.NewVector(rec.Embedding), metadata, rec.Importance, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert long_term record: %w", err)
	}
	return nil
}

// SearchByVector implements Driver. The filter's user partition is applied
// in SQL so cross-user rows never leave the database.
func (d *PgvectorDriver) SearchByVector(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	query := `
		SELECT id, user_id, agent_id, content, metadata, importance, created_at,
		       1 - (embedding <=> $1) AS score
		FROM long_term
		WHERE user_id = $2 AND ($3::text IS NULL OR agent_id = $3)
		ORDER BY embedding <=> $1
		LIMIT $4`

	rows, err := d.db.Query(ctx, query, pgvector.NewVector(vector), filter.UserID, nullable(filter.AgentID), k)
	if err != nil {
		return nil, fmt.Errorf("search long_term: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			hit      Hit
			agentID  *string
			metadata []byte
		)
		if err := rows.Scan(&hit.Record.ID, &hit.Record.UserID, &agentID, &hit.Record.Content,
			&metadata, &hit.Record.Importance, &hit.Record.CreatedAt, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan long_term row: %w", err)
		}
		if agentID != nil {
			hit.Record.AgentID = *agentID
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &hit.Record.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// Delete implements Driver.
func (d *PgvectorDriver) Delete(ctx context.Context, filter Filter) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	switch {
	case filter.ID != "":
		tag, err = d.db.Exec(ctx, `DELETE FROM long_term WHERE id = $1`, filter.ID)
	case filter.AgentID != "":
		tag, err = d.db.Exec(ctx, `DELETE FROM long_term WHERE user_id = $1 AND agent_id = $2`,
			filter.UserID, filter.AgentID)
	default:
		tag, err = d.db.Exec(ctx, `DELETE FROM long_term WHERE user_id = $1`, filter.UserID)
	}
	if err != nil {
		return 0, fmt.Errorf("delete long_term records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PruneBefore implements Driver.
func (d *PgvectorDriver) PruneBefore(ctx context.Context, cutoff time.Time, maxImportance float64) (int64, error) {
	tag, err := d.db.Exec(ctx,
		`DELETE FROM long_term WHERE created_at < $1 AND importance <= $2`, cutoff, maxImportance)
	if err != nil {
		return 0, fmt.Errorf("prune long_term records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
