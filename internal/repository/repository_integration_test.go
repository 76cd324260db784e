package repository_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"scholargate/internal/models"
	"scholargate/internal/repository"
)

// setupPostgres spins up a disposable Postgres container the way the
// teacher's testutil.SetupTestDatabase did, migrates the Graph Tier and
// Identifier Index tables, and tears the container down on cleanup.
func setupPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("scholargate_test"),
		postgres.WithUsername("scholargate"),
		postgres.WithPassword("scholargate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(ctx)
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(pgdriver.Open(connStr), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Author{},
		&models.Paper{},
		&models.ExternalIDMapping{},
		&models.CitationEdge{},
		&models.DataChunk{},
	))
	return db
}

// TestIdentifierRepository_ResolveUpsert exercises the Identifier
// Index (C2) against a real Postgres instance: an unresolved identifier
// comes back empty, an upsert makes it resolvable, and a second upsert
// of the same (external_type, external_value) pair onto another paper
// re-points the existing row rather than duplicating it.
func TestIdentifierRepository_ResolveUpsert(t *testing.T) {
	if os.Getenv("SCHOLARGATE_INTEGRATION") == "" {
		t.Skip("set SCHOLARGATE_INTEGRATION=1 to run Postgres-backed integration tests")
	}

	db := setupPostgres(t)
	repo := repository.NewIdentifierRepository(db, slog.Default())
	ctx := context.Background()

	got, err := repo.Resolve(ctx, "doi", "10.1000/xyz123")
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, repo.Upsert(ctx, "doi", "10.1000/xyz123", "paper-1"))

	got, err = repo.Resolve(ctx, "doi", "10.1000/xyz123")
	require.NoError(t, err)
	require.Equal(t, "paper-1", got)

	require.NoError(t, repo.Upsert(ctx, "doi", "10.1000/xyz123", "paper-2"))
	got, err = repo.Resolve(ctx, "doi", "10.1000/xyz123")
	require.NoError(t, err)
	require.Equal(t, "paper-2", got)

	mappings, err := repo.ListForPaper(ctx, "paper-2")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	require.Equal(t, "10.1000/xyz123", mappings[0].ExternalValue)
}
