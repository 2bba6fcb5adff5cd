package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wut-feedback/feedback-engine/pkg/apperrors"
	"github.com/wut-feedback/feedback-engine/pkg/database"
	"github.com/wut-feedback/feedback-engine/pkg/models"
)

// ProcessedMessageRepository is the dedup ledger. A message is claimed
// once with outcome pending and finalized exactly once.
type ProcessedMessageRepository interface {
	WithTx(q database.Querier) ProcessedMessageRepository

	// TryClaim inserts a pending marker for the message. Returns false
	// when a marker already exists, meaning the message was or is being
	// processed elsewhere.
	TryClaim(ctx context.Context, platform string, sourceMessageID int64) (bool, error)
	// Finalize moves a pending marker to its terminal outcome. Returns
	// apperrors.ErrAlreadyProcessed if the marker is not pending.
	Finalize(ctx context.Context, platform string, sourceMessageID int64, outcome string, feedbackID *int64, errMsg string) error
	Get(ctx context.Context, platform string, sourceMessageID int64) (*models.ProcessedMessage, error)
	// MaxSourceMessageID returns the highest finalized source message id
	// for a platform, 0 when none exist. Used as the reconciliation
	// sweep's lower bound.
	MaxSourceMessageID(ctx context.Context, platform string) (int64, error)
	CountByOutcome(ctx context.Context) (map[string]int64, error)
}

type processedMessageRepository struct {
	db database.Querier
}

// NewProcessedMessageRepository creates a new ProcessedMessageRepository.
func NewProcessedMessageRepository(db database.Querier) ProcessedMessageRepository {
	return &processedMessageRepository{db: db}
}

var _ ProcessedMessageRepository = (*processedMessageRepository)(nil)

func (r *processedMessageRepository) WithTx(q database.Querier) ProcessedMessageRepository {
	return &processedMessageRepository{db: q}
}

func (r *processedMessageRepository) TryClaim(ctx context.Context, platform string, sourceMessageID int64) (bool, error) {
	query := `
		INSERT INTO processed_messages (platform, source_message_id, outcome)
		VALUES ($1, $2, 'pending')
		ON CONFLICT (platform, source_message_id) DO NOTHING`

	result, err := r.db.Exec(ctx, query, platform, sourceMessageID)
	if err != nil {
		return false, fmt.Errorf("failed to claim message: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *processedMessageRepository) Finalize(ctx context.Context, platform string, sourceMessageID int64, outcome string, feedbackID *int64, errMsg string) error {
	query := `
		UPDATE processed_messages
		SET outcome = $3, feedback_id = $4, error = $5, processed_at = now()
		WHERE platform = $1 AND source_message_id = $2 AND outcome = 'pending'`

	result, err := r.db.Exec(ctx, query, platform, sourceMessageID, outcome, feedbackID, errMsg)
	if err != nil {
		return fmt.Errorf("failed to finalize message: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrAlreadyProcessed
	}

	return nil
}

func (r *processedMessageRepository) Get(ctx context.Context, platform string, sourceMessageID int64) (*models.ProcessedMessage, error) {
	query := `
		SELECT id, platform, source_message_id, outcome, feedback_id, error, processed_at
		FROM processed_messages
		WHERE platform = $1 AND source_message_id = $2`

	var pm models.ProcessedMessage
	err := r.db.QueryRow(ctx, query, platform, sourceMessageID).Scan(
		&pm.ID,
		&pm.Platform,
		&pm.SourceMessageID,
		&pm.Outcome,
		&pm.FeedbackID,
		&pm.Error,
		&pm.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get processed message: %w", err)
	}

	return &pm, nil
}

func (r *processedMessageRepository) MaxSourceMessageID(ctx context.Context, platform string) (int64, error) {
	var max int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(source_message_id), 0)
		 FROM processed_messages
		 WHERE platform = $1 AND outcome <> 'pending'`,
		platform,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to get max source message id: %w", err)
	}
	return max, nil
}

func (r *processedMessageRepository) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT outcome, COUNT(*) FROM processed_messages GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outcome counts: %w", err)
	}

	return counts, nil
}
