package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/wut-feedback/feedback-engine/pkg/database"
	"github.com/wut-feedback/feedback-engine/pkg/models"
)

// UserQueryRepository logs retrieval requests for analytics.
type UserQueryRepository interface {
	Create(ctx context.Context, uq *models.UserQuery) error
	Recent(ctx context.Context, limit int) ([]*models.UserQuery, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

type userQueryRepository struct {
	db database.Querier
}

// NewUserQueryRepository creates a new UserQueryRepository.
func NewUserQueryRepository(db database.Querier) UserQueryRepository {
	return &userQueryRepository{db: db}
}

var _ UserQueryRepository = (*userQueryRepository)(nil)

func (r *userQueryRepository) Create(ctx context.Context, uq *models.UserQuery) error {
	query := `
		INSERT INTO user_queries (query, intent, professors, response_time_ms)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		uq.Query,
		uq.Intent,
		textArray(uq.Professors),
		uq.ResponseTimeMs,
	).Scan(&uq.ID, &uq.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log user query: %w", err)
	}

	return nil
}

func (r *userQueryRepository) Recent(ctx context.Context, limit int) ([]*models.UserQuery, error) {
	query := `
		SELECT id, query, intent, professors, response_time_ms, created_at
		FROM user_queries
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent queries: %w", err)
	}
	defer rows.Close()

	var queries []*models.UserQuery
	for rows.Next() {
		var uq models.UserQuery
		if err := rows.Scan(&uq.ID, &uq.Query, &uq.Intent, &uq.Professors, &uq.ResponseTimeMs, &uq.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user query: %w", err)
		}
		queries = append(queries, &uq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user queries: %w", err)
	}

	return queries, nil
}

func (r *userQueryRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_queries WHERE created_at >= $1`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count user queries: %w", err)
	}
	return count, nil
}
