//go:build postgres

package directory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamhook/internal/database"
	"streamhook/internal/models"
)

func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("STREAMHOOK_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("STREAMHOOK_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := database.Open(ctx, database.Config{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(database.Tables(), ", ")))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresDirectoryRoundTrip(t *testing.T) {
	pool := openTestPool(t)
	dir, err := NewPostgresDirectory(pool)
	require.NoError(t, err)
	ctx := context.Background()

	for _, streamer := range sampleStreamers() {
		_, err := dir.Save(ctx, streamer)
		require.NoError(t, err)
	}

	found, err := dir.FindByUsername(ctx, models.ServiceTwitch, "fOo")
	require.NoError(t, err)
	assert.Equal(t, int64(7), found.ID)
	assert.Len(t, found.Services, 2)

	_, err = dir.FindByUsername(ctx, models.ServiceKick, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := dir.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	created, err := dir.Save(ctx, models.Streamer{Name: "Fresh"})
	require.NoError(t, err)
	assert.Greater(t, created.ID, int64(8))

	one, err := dir.FindOne(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, one.Services)
}
