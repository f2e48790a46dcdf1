package repository

import (
	"context"
	"errors"

	"github.com/RMahshie/plcsweep/pkg/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("sweep run not found")

// RunRepository defines the interface for sweep run data operations
type RunRepository interface {
	Create(ctx context.Context, run *models.SweepRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SweepRun, error)
	List(ctx context.Context, limit int) ([]*models.SweepRun, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, progress int) error
	UpdateError(ctx context.Context, id uuid.UUID, errorMsg string) error
	SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error
	StoreResults(ctx context.Context, runID uuid.UUID, results []models.ChannelResult) error
	GetResults(ctx context.Context, runID uuid.UUID) ([]models.ChannelResult, error)
}

// IsTerminal reports whether a run in this status will not change again
func IsTerminal(status string) bool {
	switch status {
	case models.StatusCompleted, models.StatusCanceled, models.StatusFailed:
		return true
	}
	return false
}
