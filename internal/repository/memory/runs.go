// Package memory keeps sweep runs in process memory. It backs the service
// when no database is configured, and the tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RMahshie/plcsweep/internal/repository"
	"github.com/RMahshie/plcsweep/pkg/models"
	"github.com/google/uuid"
)

// RunRepository implements repository.RunRepository in memory
type RunRepository struct {
	mu      sync.RWMutex
	runs    map[string]*models.SweepRun
	results map[string][]models.ChannelResult
}

// NewRunRepository creates an empty in-memory repository
func NewRunRepository() *RunRepository {
	return &RunRepository{
		runs:    make(map[string]*models.SweepRun),
		results: make(map[string][]models.ChannelResult),
	}
}

var _ repository.RunRepository = (*RunRepository)(nil)

func (r *RunRepository) Create(ctx context.Context, run *models.SweepRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.ID]; exists {
		return fmt.Errorf("sweep run %s already exists", run.ID)
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SweepRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	cp := *run
	return &cp, nil
}

func (r *RunRepository) List(ctx context.Context, limit int) ([]*models.SweepRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]*models.SweepRun, 0, len(r.runs))
	for _, run := range r.runs {
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (r *RunRepository) update(id uuid.UUID, fn func(*models.SweepRun)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id.String()]
	if !ok {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	fn(run)
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *RunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, progress int) error {
	return r.update(id, func(run *models.SweepRun) {
		run.Status = status
		run.Progress = progress
		if status == models.StatusCompleted || status == models.StatusCanceled {
			now := time.Now().UTC()
			run.CompletedAt = &now
		}
	})
}

func (r *RunRepository) UpdateError(ctx context.Context, id uuid.UUID, errorMsg string) error {
	return r.update(id, func(run *models.SweepRun) {
		now := time.Now().UTC()
		run.Status = models.StatusFailed
		run.ErrorMsg = &errorMsg
		run.CompletedAt = &now
	})
}

func (r *RunRepository) SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error {
	return r.update(id, func(run *models.SweepRun) {
		run.ArchiveKey = &key
	})
}

func (r *RunRepository) StoreResults(ctx context.Context, runID uuid.UUID, results []models.ChannelResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[runID.String()]; !ok {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, runID)
	}
	r.results[runID.String()] = append([]models.ChannelResult(nil), results...)
	return nil
}

func (r *RunRepository) GetResults(ctx context.Context, runID uuid.UUID) ([]models.ChannelResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]models.ChannelResult(nil), r.results[runID.String()]...), nil
}
