package database

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestPool starts a pgvector-enabled PostgreSQL container, applies
// migrations, and returns a pool against it.
func newTestPool(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, RunMigrations(dsn))

	pool, err := NewPool(ctx, Config{DSN: dsn, MaxConns: 5})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool, dsn
}

func TestNewPool_ConnectsAndMigrates(t *testing.T) {
	pool, _ := newTestPool(t)
	ctx := context.Background()

	initialized, err := IsInitialized(ctx, pool)
	require.NoError(t, err)
	assert.True(t, initialized)
}

func TestHealth_ReportsConnectionStats(t *testing.T) {
	pool, _ := newTestPool(t)
	ctx := context.Background()

	status := Health(ctx, pool)
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Error)
}

func TestWipe_TruncatesAllTables(t *testing.T) {
	pool, _ := newTestPool(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `INSERT INTO users (slack_id, pfp_url) VALUES ('U1', 'notfound')`)
	require.NoError(t, err)

	require.NoError(t, Wipe(ctx, pool))

	var count int64
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count))
	assert.Equal(t, int64(0), count)
}
