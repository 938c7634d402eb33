package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/alttext/internal/store"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres spins up a Postgres container, runs migrations, and returns its URL.
func setupPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("alttext_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, store.RunMigrations(connStr))
	return connStr
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	connStr := setupPostgres(t)

	runStoreSuite(t, func(t *testing.T) store.Store {
		pool, err := pgxpool.New(context.Background(), connStr)
		require.NoError(t, err)
		t.Cleanup(pool.Close)

		// Each subtest starts from empty tables.
		_, err = pool.Exec(context.Background(), `TRUNCATE jobs, batches, api_keys RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
		return store.NewPostgresStore(pool)
	})
}

func TestRunMigrations_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	connStr := setupPostgres(t)

	// A second run finds nothing to do.
	require.NoError(t, store.RunMigrations(connStr))
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) store.Store {
		s, err := store.OpenSQLite(":memory:")
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}

func TestOpenSQLite_File(t *testing.T) {
	path := t.TempDir() + "/alttext.db"

	s, err := store.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	s.Close()

	// Reopening an already-migrated file works.
	s, err = store.OpenSQLite(path)
	require.NoError(t, err)
	s.Close()
}
