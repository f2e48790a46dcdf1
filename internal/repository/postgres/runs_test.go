package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/RMahshie/plcsweep/internal/repository"
	"github.com/RMahshie/plcsweep/pkg/models"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgContainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupDatabase starts PostgreSQL and applies the schema
func setupDatabase(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := pgContainer.Run(ctx,
		"postgres:15-alpine",
		pgContainer.WithDatabase("plcsweep_test"),
		pgContainer.WithUsername("testuser"),
		pgContainer.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	dbURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(ctx, db))
	// applying twice is harmless
	require.NoError(t, Migrate(ctx, db))
	return db
}

func TestRunRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupDatabase(t)
	repo := NewPostgresRunRepository(db)
	ctx := context.Background()

	id := uuid.New()
	run := &models.SweepRun{
		ID:     id.String(),
		Kind:   models.SweepKindDevice,
		Label:  "wafer-3 die-12",
		Status: models.StatusPending,
	}
	require.NoError(t, repo.Create(ctx, run))

	require.NoError(t, repo.UpdateStatus(ctx, id, models.StatusRunning, 55))
	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.SweepKindDevice, got.Kind)
	assert.Equal(t, "wafer-3 die-12", got.Label)
	assert.Equal(t, 55, got.Progress)
	assert.Nil(t, got.CompletedAt)

	msr, nx := 1310.25, -16.02
	results := []models.ChannelResult{
		{
			Channel: 0, Label: "Channel1", ITU: 1310, Points: 801,
			MSR:     &msr,
			LossMin: &models.WavelengthPoint{Wavelength: 1310.1, Value: 1.52},
			NX:      &nx,
		},
		{Channel: 1, Label: "Channel2", ITU: 1330, Points: 801},
	}
	require.NoError(t, repo.StoreResults(ctx, id, results))
	// storing again replaces rather than duplicates
	require.NoError(t, repo.StoreResults(ctx, id, results))

	stored, err := repo.GetResults(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 1310.25, *stored[0].MSR)
	assert.Equal(t, -16.02, *stored[0].NX)
	require.NotNil(t, stored[0].LossMin)
	assert.Equal(t, 1310.1, stored[0].LossMin.Wavelength)
	assert.Nil(t, stored[0].AxN)
	assert.Nil(t, stored[1].MSR)

	require.NoError(t, repo.SetArchiveKey(ctx, id, "archive/"+id.String()+".json"))
	require.NoError(t, repo.UpdateStatus(ctx, id, models.StatusCompleted, 100))
	got, err = repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.ArchiveKey)

	runs, err := repo.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunRepositoryErrors_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupDatabase(t)
	repo := NewPostgresRunRepository(db)
	ctx := context.Background()

	missing := uuid.New()
	_, err := repo.GetByID(ctx, missing)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateError(ctx, missing, "boom"), repository.ErrNotFound)

	id := uuid.New()
	require.NoError(t, repo.Create(ctx, &models.SweepRun{ID: id.String(), Kind: models.SweepKindReference, Status: models.StatusRunning}))
	require.NoError(t, repo.UpdateError(ctx, id, "read channel 2 at 1350.000nm: instrument read timed out"))

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMsg)
	assert.Contains(t, *got.ErrorMsg, "timed out")
}
