package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wut-feedback/feedback-engine/pkg/apperrors"
	"github.com/wut-feedback/feedback-engine/pkg/database"
	"github.com/wut-feedback/feedback-engine/pkg/models"
)

// BulkImportRepository tracks historical import runs.
type BulkImportRepository interface {
	Create(ctx context.Context, log *models.BulkImportLog) error
	// UpdateProgress persists counters and the watermark mid-run.
	UpdateProgress(ctx context.Context, log *models.BulkImportLog) error
	// Complete marks the run completed or failed and sets completed_at.
	Complete(ctx context.Context, log *models.BulkImportLog) error
	// Latest returns the most recently started run for a platform.
	Latest(ctx context.Context, platform string) (*models.BulkImportLog, error)
}

type bulkImportRepository struct {
	db database.Querier
}

// NewBulkImportRepository creates a new BulkImportRepository.
func NewBulkImportRepository(db database.Querier) BulkImportRepository {
	return &bulkImportRepository{db: db}
}

var _ BulkImportRepository = (*bulkImportRepository)(nil)

func (r *bulkImportRepository) Create(ctx context.Context, log *models.BulkImportLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.Status == "" {
		log.Status = models.BulkImportRunning
	}

	query := `
		INSERT INTO bulk_import_logs (id, platform, status, scanned, accepted, rejected, failed, watermark, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING started_at`

	err := r.db.QueryRow(ctx, query,
		log.ID,
		log.Platform,
		log.Status,
		log.Scanned,
		log.Accepted,
		log.Rejected,
		log.Failed,
		log.Watermark,
		log.Error,
	).Scan(&log.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create bulk import log: %w", err)
	}

	return nil
}

func (r *bulkImportRepository) UpdateProgress(ctx context.Context, log *models.BulkImportLog) error {
	query := `
		UPDATE bulk_import_logs
		SET scanned = $2, accepted = $3, rejected = $4, failed = $5, watermark = $6
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		log.ID, log.Scanned, log.Accepted, log.Rejected, log.Failed, log.Watermark)
	if err != nil {
		return fmt.Errorf("failed to update bulk import progress: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *bulkImportRepository) Complete(ctx context.Context, log *models.BulkImportLog) error {
	query := `
		UPDATE bulk_import_logs
		SET status = $2, scanned = $3, accepted = $4, rejected = $5, failed = $6,
		    watermark = $7, error = $8, completed_at = now()
		WHERE id = $1
		RETURNING completed_at`

	err := r.db.QueryRow(ctx, query,
		log.ID, log.Status, log.Scanned, log.Accepted, log.Rejected,
		log.Failed, log.Watermark, log.Error,
	).Scan(&log.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to complete bulk import log: %w", err)
	}

	return nil
}

func (r *bulkImportRepository) Latest(ctx context.Context, platform string) (*models.BulkImportLog, error) {
	query := `
		SELECT id, platform, status, scanned, accepted, rejected, failed,
		       watermark, error, started_at, completed_at
		FROM bulk_import_logs
		WHERE platform = $1
		ORDER BY started_at DESC
		LIMIT 1`

	var log models.BulkImportLog
	err := r.db.QueryRow(ctx, query, platform).Scan(
		&log.ID,
		&log.Platform,
		&log.Status,
		&log.Scanned,
		&log.Accepted,
		&log.Rejected,
		&log.Failed,
		&log.Watermark,
		&log.Error,
		&log.StartedAt,
		&log.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest bulk import log: %w", err)
	}

	return &log, nil
}
