package database

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TEST_DATABASE_URL, applies the schema and clears
// both tables. Tests are skipped when the variable is unset.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))

	db := &DB{pool: pool}
	require.NoError(t, db.EnsureSchema(ctx))

	_, err = pool.Exec(ctx, "TRUNCATE products, outbox_event")
	require.NoError(t, err)

	return db
}
