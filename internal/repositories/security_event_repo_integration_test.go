//go:build integration

package repositories

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
)

func setupTestDatabase(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("sentinel"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := database.FromPool(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestSecurityEventRepository(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewSecurityEventRepository(db)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	events := []models.SecurityEvent{
		models.NewSecurityEvent(models.EventAccountLocked, "alice", base, map[string]interface{}{"attempts": 5}),
		models.NewSecurityEvent(models.EventIPBlocked, "10.0.0.1", base.Add(time.Minute), map[string]interface{}{"reason": "manual"}),
		models.NewSecurityEvent(models.EventIPUnblocked, "10.0.0.1", base.Add(2*time.Minute), nil),
	}

	require.NoError(t, repo.Write(ctx, events))
	require.NoError(t, repo.Write(ctx, events[:1]), "rewriting a stored event is a no-op")

	t.Run("all newest first", func(t *testing.T) {
		got, err := repo.List(ctx, EventFilter{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, events[2].ID, got[0].ID)
		assert.Equal(t, float64(5), got[2].Details["attempts"])
	})

	t.Run("by subject", func(t *testing.T) {
		got, err := repo.List(ctx, EventFilter{Subjects: []string{"10.0.0.1"}})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("by type and time", func(t *testing.T) {
		got, err := repo.List(ctx, EventFilter{
			Types: []string{models.EventIPBlocked, models.EventAccountLocked},
			Since: base,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, models.EventIPBlocked, got[0].Type)
	})

	t.Run("retention", func(t *testing.T) {
		deleted, err := repo.DeleteBefore(ctx, base.Add(90*time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		got, err := repo.List(ctx, EventFilter{Limit: 10})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}
