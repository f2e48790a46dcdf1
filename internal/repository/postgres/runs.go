package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RMahshie/plcsweep/internal/repository"
	"github.com/RMahshie/plcsweep/pkg/models"
	"github.com/google/uuid"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables if they do not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// PostgresRunRepository implements RunRepository for PostgreSQL
type PostgresRunRepository struct {
	db *sql.DB
}

// NewPostgresRunRepository creates a new PostgreSQL run repository
func NewPostgresRunRepository(db *sql.DB) repository.RunRepository {
	return &PostgresRunRepository{db: db}
}

// Create inserts a new sweep run
func (r *PostgresRunRepository) Create(ctx context.Context, run *models.SweepRun) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}

	query := `
		INSERT INTO sweep_runs (id, kind, label, status, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.Kind,
		run.Label,
		run.Status,
		run.Progress,
		run.CreatedAt,
		run.UpdatedAt)

	return err
}

const runColumns = `id, kind, label, status, progress, error_message, archive_key, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.SweepRun, error) {
	var run models.SweepRun
	var errorMsg, archiveKey sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.Label,
		&run.Status,
		&run.Progress,
		&errorMsg,
		&archiveKey,
		&run.CreatedAt,
		&run.UpdatedAt,
		&completedAt)
	if err != nil {
		return nil, err
	}

	if errorMsg.Valid {
		run.ErrorMsg = &errorMsg.String
	}
	if archiveKey.Valid {
		run.ArchiveKey = &archiveKey.String
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// GetByID retrieves a sweep run by ID
func (r *PostgresRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SweepRun, error) {
	query := `SELECT ` + runColumns + ` FROM sweep_runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	return run, err
}

// List returns the most recent runs first
func (r *PostgresRunRepository) List(ctx context.Context, limit int) ([]*models.SweepRun, error) {
	query := `SELECT ` + runColumns + ` FROM sweep_runs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.SweepRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateStatus updates the status and progress of a run
func (r *PostgresRunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, progress int) error {
	query := `
		UPDATE sweep_runs
		SET status = $1, progress = $2, updated_at = NOW(),
		    completed_at = CASE WHEN $1 IN ('completed', 'canceled') THEN NOW() ELSE completed_at END
		WHERE id = $3`

	return r.execOne(ctx, id, query, status, progress, id)
}

// UpdateError marks a run as failed with the given reason
func (r *PostgresRunRepository) UpdateError(ctx context.Context, id uuid.UUID, errorMsg string) error {
	query := `
		UPDATE sweep_runs
		SET status = 'failed', error_message = $1, updated_at = NOW(), completed_at = NOW()
		WHERE id = $2`

	return r.execOne(ctx, id, query, errorMsg, id)
}

// SetArchiveKey records where the raw data of a run was archived
func (r *PostgresRunRepository) SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error {
	query := `UPDATE sweep_runs SET archive_key = $1, updated_at = NOW() WHERE id = $2`

	return r.execOne(ctx, id, query, key, id)
}

func (r *PostgresRunRepository) execOne(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	return nil
}

// StoreResults replaces the channel results of a run
func (r *PostgresRunRepository) StoreResults(ctx context.Context, runID uuid.UUID, results []models.ChannelResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_results WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("failed to clear previous results: %w", err)
	}

	query := `
		INSERT INTO channel_results (run_id, channel, label, itu, points, msr, delta_lambda, loss_min, loss_max,
		                             loss_ripple, passband_1db, passband_3db, ax_n, ax_p, nx)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	for _, cr := range results {
		points := make([]any, 4)
		for i, p := range []*models.WavelengthPoint{cr.LossMin, cr.LossMax, cr.AxN, cr.AxP} {
			if points[i], err = pointJSON(p); err != nil {
				return fmt.Errorf("failed to marshal %s point: %w", cr.Label, err)
			}
		}

		_, err := tx.ExecContext(ctx, query,
			runID,
			cr.Channel,
			cr.Label,
			cr.ITU,
			cr.Points,
			cr.MSR,
			cr.DeltaLambda,
			points[0],
			points[1],
			cr.LossRipple,
			cr.PassBand1dB,
			cr.PassBand3dB,
			points[2],
			points[3],
			cr.NX)
		if err != nil {
			return fmt.Errorf("failed to store %s: %w", cr.Label, err)
		}
	}

	return tx.Commit()
}

// GetResults retrieves the channel results of a run in channel order
func (r *PostgresRunRepository) GetResults(ctx context.Context, runID uuid.UUID) ([]models.ChannelResult, error) {
	query := `
		SELECT channel, label, itu, points, msr, delta_lambda, loss_min, loss_max,
		       loss_ripple, passband_1db, passband_3db, ax_n, ax_p, nx
		FROM channel_results
		WHERE run_id = $1
		ORDER BY channel`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.ChannelResult
	for rows.Next() {
		var cr models.ChannelResult
		var msr, delta, ripple, pb1, pb3, nx sql.NullFloat64
		var lossMin, lossMax, axN, axP []byte

		err := rows.Scan(
			&cr.Channel,
			&cr.Label,
			&cr.ITU,
			&cr.Points,
			&msr,
			&delta,
			&lossMin,
			&lossMax,
			&ripple,
			&pb1,
			&pb3,
			&axN,
			&axP,
			&nx)
		if err != nil {
			return nil, err
		}

		cr.MSR = nullFloat(msr)
		cr.DeltaLambda = nullFloat(delta)
		cr.LossRipple = nullFloat(ripple)
		cr.PassBand1dB = nullFloat(pb1)
		cr.PassBand3dB = nullFloat(pb3)
		cr.NX = nullFloat(nx)

		for dst, raw := range map[**models.WavelengthPoint][]byte{
			&cr.LossMin: lossMin,
			&cr.LossMax: lossMax,
			&cr.AxN:     axN,
			&cr.AxP:     axP,
		} {
			if *dst, err = parsePoint(raw); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s point: %w", cr.Label, err)
			}
		}

		results = append(results, cr)
	}
	return results, rows.Err()
}

func pointJSON(p *models.WavelengthPoint) (any, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func parsePoint(raw []byte) (*models.WavelengthPoint, error) {
	if raw == nil {
		return nil, nil
	}
	var p models.WavelengthPoint
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
