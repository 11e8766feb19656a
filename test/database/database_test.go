// Package database_test runs the persistence layer against a real
// pgvector-enabled PostgreSQL: embedded migrations, the long-term vector
// driver, and the user-context driver. A testcontainer is started per test;
// CI can point CI_DATABASE_URL at an external service container instead.
package database_test

import (
	"context"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/maestrokit/maestro/pkg/database"
	"github.com/maestrokit/maestro/pkg/memory/longterm"
	"github.com/maestrokit/maestro/pkg/memory/memobase"
	"github.com/maestrokit/maestro/pkg/models"
)

const embeddingDim = 1536

// newTestClient provisions a database and returns a migrated client.
func newTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	var connStr string
	if ciURL := os.Getenv("CI_DATABASE_URL"); ciURL != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
		connStr = ciURL
	} else {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		t.Log("Using testcontainers for PostgreSQL")
		// The stock postgres image has no vector extension; the migration's
		// CREATE EXTENSION needs the pgvector build.
		pgContainer, err := postgres.Run(ctx,
			"pgvector/pgvector:pg16",
			postgres.WithDatabase("maestro_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	cfg, err := configFromURL(connStr)
	require.NoError(t, err)

	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

// configFromURL converts a postgres:// URL into a database.Config.
func configFromURL(raw string) (database.Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return database.Config{}, err
	}

	port := 5432
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return database.Config{}, err
		}
	}
	password, _ := u.User.Password()

	cfg := database.Config{
		Host:            u.Hostname(),
		Port:            port,
		User:            u.User.Username(),
		Password:        password,
		Database:        u.Path[1:],
		SSLMode:         u.Query().Get("sslmode"),
		MaxConns:        5,
		MinConns:        1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	return cfg, nil
}

// vec builds a unit-ish embedding whose first component carries the value,
// so cosine distance orders records by how close that component is to 1.
func vec(first float32) []float32 {
	v := make([]float32, embeddingDim)
	v[0] = first
	v[1] = 1 - first
	return v
}

func TestMigrationsAndHealth(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	health, err := database.Health(ctx, client.Pool())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxConns, int32(0))

	// Migrations are idempotent: a second client against the same database
	// sees ErrNoChange and comes up clean.
	var count int
	require.NoError(t, client.Pool().
		QueryRow(ctx, `SELECT count(*) FROM schema_migrations WHERE dirty = false`).
		Scan(&count))
	assert.Equal(t, 1, count)
}

func TestLongTermPgvectorRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	driver := longterm.NewPgvectorDriver(client.Pool())

	now := time.Now().UTC().Truncate(time.Microsecond)
	records := []*longterm.Record{
		{ID: "mem_1", UserID: 1, AgentID: "assistant", Content: "likes tea",
			Embedding: vec(1.0), Importance: 0.9, CreatedAt: now,
			Metadata: map[string]any{"topic": "preferences"}},
		{ID: "mem_2", UserID: 1, Content: "visited Oslo",
			Embedding: vec(0.6), Importance: 0.2, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "mem_3", UserID: 2, Content: "other user's secret",
			Embedding: vec(1.0), Importance: 0.9, CreatedAt: now},
	}
	for _, rec := range records {
		require.NoError(t, driver.Upsert(ctx, rec))
	}

	t.Run("search is user partitioned and distance ordered", func(t *testing.T) {
		hits, err := driver.SearchByVector(ctx, vec(1.0), 10, longterm.Filter{UserID: 1})
		require.NoError(t, err)
		require.Len(t, hits, 2, "user 2's record must not appear")

		assert.Equal(t, "mem_1", hits[0].Record.ID)
		assert.Equal(t, "mem_2", hits[1].Record.ID)
		assert.Greater(t, hits[0].Score, hits[1].Score)
		assert.Equal(t, "preferences", hits[0].Record.Metadata["topic"])
		assert.Equal(t, "assistant", hits[0].Record.AgentID)
	})

	t.Run("agent filter narrows the partition", func(t *testing.T) {
		hits, err := driver.SearchByVector(ctx, vec(1.0), 10,
			longterm.Filter{UserID: 1, AgentID: "assistant"})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "mem_1", hits[0].Record.ID)
	})

	t.Run("upsert replaces in place", func(t *testing.T) {
		updated := *records[0]
		updated.Content = "prefers green tea"
		updated.Importance = 0.95
		require.NoError(t, driver.Upsert(ctx, &updated))

		hits, err := driver.SearchByVector(ctx, vec(1.0), 1, longterm.Filter{UserID: 1})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "prefers green tea", hits[0].Record.Content)
	})

	t.Run("prune honors cutoff and importance ceiling", func(t *testing.T) {
		removed, err := driver.PruneBefore(ctx, now.Add(-time.Hour), 0.5)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed, "only the old low-importance record goes")

		hits, err := driver.SearchByVector(ctx, vec(1.0), 10, longterm.Filter{UserID: 1})
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("delete by user clears the partition", func(t *testing.T) {
		removed, err := driver.Delete(ctx, longterm.Filter{UserID: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		hits, err := driver.SearchByVector(ctx, vec(1.0), 10, longterm.Filter{UserID: 2})
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestUserContextPgxRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	driver := memobase.NewPgxDriver(client.Pool())

	entry := func(userID int64, key string, value any, importance float64, source models.ContextSource) *memobase.Entry {
		return &memobase.Entry{
			UserID: userID, Key: key, Value: value,
			Importance: importance, Source: source,
			UpdatedAt: time.Now().UTC(),
		}
	}

	t.Run("put and get", func(t *testing.T) {
		applied, err := driver.Put(ctx, entry(1, "identity.name", "Ada", 0.8, models.SourceExtraction))
		require.NoError(t, err)
		assert.True(t, applied)

		facts, err := driver.Get(ctx, 1)
		require.NoError(t, err)
		require.Contains(t, facts, "identity.name")
		assert.Equal(t, "Ada", facts["identity.name"].Value)
		assert.Equal(t, models.SourceExtraction, facts["identity.name"].Source)
	})

	t.Run("importance gate holds in SQL", func(t *testing.T) {
		applied, err := driver.Put(ctx, entry(1, "identity.name", "Bob", 0.3, models.SourceExtraction))
		require.NoError(t, err)
		assert.False(t, applied, "lower-importance extraction must not displace")

		// Equal importance: manual displaces, extraction does not displace manual.
		applied, err = driver.Put(ctx, entry(1, "identity.name", "Ada L.", 0.8, models.SourceManual))
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = driver.Put(ctx, entry(1, "identity.name", "Grace", 0.8, models.SourceExtraction))
		require.NoError(t, err)
		assert.False(t, applied)

		facts, err := driver.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Ada L.", facts["identity.name"].Value)
	})

	t.Run("update keeps importance and source", func(t *testing.T) {
		require.NoError(t, driver.Update(ctx, 1, "identity.name", "Ada Lovelace"))

		facts, err := driver.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", facts["identity.name"].Value)
		assert.InDelta(t, 0.8, facts["identity.name"].Importance, 1e-9)
		assert.Equal(t, models.SourceManual, facts["identity.name"].Source)

		err = driver.Update(ctx, 1, "identity.missing", "x")
		assert.ErrorIs(t, err, memobase.ErrNotFound)
	})

	t.Run("users are isolated", func(t *testing.T) {
		facts, err := driver.Get(ctx, 2)
		require.NoError(t, err)
		assert.Empty(t, facts)
	})

	t.Run("delete key and partition", func(t *testing.T) {
		_, err := driver.Put(ctx, entry(1, "home.city", "Oslo", 0.5, models.SourceManual))
		require.NoError(t, err)

		removed, err := driver.Delete(ctx, 1, "home.city")
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		removed, err = driver.Delete(ctx, 1, "")
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed, "whole partition delete removes the rest")

		facts, err := driver.Get(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, facts)
	})
}
