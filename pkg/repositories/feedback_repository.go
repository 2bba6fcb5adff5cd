package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wut-feedback/feedback-engine/pkg/apperrors"
	"github.com/wut-feedback/feedback-engine/pkg/database"
	"github.com/wut-feedback/feedback-engine/pkg/models"
)

// CourseProfessorRating is one row of a per-course professor ranking.
type CourseProfessorRating struct {
	ProfessorID   int64
	ProfessorName string
	MeanRating    float64
	FeedbackCount int64
}

// OverallStats summarizes the whole feedback corpus.
type OverallStats struct {
	TotalFeedbacks int64
	RatedFeedbacks int64
	AverageRating  float64
	Positive       int64
	Negative       int64
	Neutral        int64
	Mixed          int64
}

// FeedbackRepository provides data access for extracted feedbacks.
type FeedbackRepository interface {
	WithTx(q database.Querier) FeedbackRepository

	Create(ctx context.Context, fb *models.Feedback) error
	GetByID(ctx context.Context, id int64) (*models.Feedback, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*models.Feedback, error)
	// ListByProfessor returns non-deleted feedbacks for a professor,
	// newest first. limit <= 0 means no limit.
	ListByProfessor(ctx context.Context, professorID int64, limit int) ([]*models.Feedback, error)
	// SoftDelete marks a feedback deleted; aggregates must be rebuilt
	// afterwards.
	SoftDelete(ctx context.Context, id int64) error
	// RankByCourse ranks professors by mean rating over non-deleted,
	// rated feedbacks for one course, keeping professors with at least
	// minFeedbacks course feedbacks.
	RankByCourse(ctx context.Context, courseID int64, minFeedbacks int64) ([]CourseProfessorRating, error)
	Stats(ctx context.Context) (*OverallStats, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	// RecentTraits returns the strengths and weaknesses lists of the most
	// recent non-deleted feedbacks.
	RecentTraits(ctx context.Context, limit int) (strengths [][]string, weaknesses [][]string, err error)
}

type feedbackRepository struct {
	db database.Querier
}

// NewFeedbackRepository creates a new FeedbackRepository.
func NewFeedbackRepository(db database.Querier) FeedbackRepository {
	return &feedbackRepository{db: db}
}

var _ FeedbackRepository = (*feedbackRepository)(nil)

func (r *feedbackRepository) WithTx(q database.Querier) FeedbackRepository {
	return &feedbackRepository{db: q}
}

const feedbackColumns = `
	id, professor_id, course_id, platform, source_message_id, author_id,
	message_date, text, summary, explicit_rating, inferred_rating, rating,
	sentiment, aspects, strengths, weaknesses, confidence, language,
	deleted, created_at`

func (r *feedbackRepository) Create(ctx context.Context, fb *models.Feedback) error {
	aspects, err := json.Marshal(fb.Aspects)
	if err != nil {
		return fmt.Errorf("failed to marshal aspects: %w", err)
	}
	if fb.Aspects == nil {
		aspects = []byte("{}")
	}
	strengths, err := json.Marshal(textArray(fb.Strengths))
	if err != nil {
		return fmt.Errorf("failed to marshal strengths: %w", err)
	}
	weaknesses, err := json.Marshal(textArray(fb.Weaknesses))
	if err != nil {
		return fmt.Errorf("failed to marshal weaknesses: %w", err)
	}

	query := `
		INSERT INTO feedbacks (
			professor_id, course_id, platform, source_message_id, author_id,
			message_date, text, summary, explicit_rating, inferred_rating,
			rating, sentiment, aspects, strengths, weaknesses, confidence,
			language
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at`

	err = r.db.QueryRow(ctx, query,
		fb.ProfessorID,
		fb.CourseID,
		fb.Platform,
		fb.SourceMessageID,
		fb.AuthorID,
		fb.MessageDate,
		fb.Text,
		fb.Summary,
		fb.ExplicitRating,
		fb.InferredRating,
		fb.Rating,
		fb.Sentiment,
		aspects,
		strengths,
		weaknesses,
		fb.Confidence,
		fb.Language,
	).Scan(&fb.ID, &fb.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrAlreadyProcessed
		}
		return fmt.Errorf("failed to create feedback: %w", err)
	}

	return nil
}

func (r *feedbackRepository) GetByID(ctx context.Context, id int64) (*models.Feedback, error) {
	query := `SELECT ` + feedbackColumns + ` FROM feedbacks WHERE id = $1`

	fb, err := scanFeedback(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	return fb, nil
}

func (r *feedbackRepository) GetByIDs(ctx context.Context, ids []int64) ([]*models.Feedback, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + feedbackColumns + ` FROM feedbacks WHERE id = ANY($1) AND NOT deleted`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get feedbacks by ids: %w", err)
	}
	defer rows.Close()

	return collectFeedbacks(rows)
}

func (r *feedbackRepository) ListByProfessor(ctx context.Context, professorID int64, limit int) ([]*models.Feedback, error) {
	query := `
		SELECT ` + feedbackColumns + `
		FROM feedbacks
		WHERE professor_id = $1 AND NOT deleted
		ORDER BY message_date DESC, id DESC`
	args := []any{professorID}

	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedbacks: %w", err)
	}
	defer rows.Close()

	return collectFeedbacks(rows)
}

func (r *feedbackRepository) SoftDelete(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `UPDATE feedbacks SET deleted = TRUE WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete feedback: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *feedbackRepository) RankByCourse(ctx context.Context, courseID int64, minFeedbacks int64) ([]CourseProfessorRating, error) {
	query := `
		SELECT f.professor_id, p.name, AVG(f.rating), COUNT(*)
		FROM feedbacks f
		JOIN professors p ON p.id = f.professor_id
		WHERE f.course_id = $1 AND NOT f.deleted AND f.rating IS NOT NULL
		GROUP BY f.professor_id, p.name
		HAVING COUNT(*) >= $2
		ORDER BY AVG(f.rating) DESC, COUNT(*) DESC, p.name ASC`

	rows, err := r.db.Query(ctx, query, courseID, minFeedbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to rank professors by course: %w", err)
	}
	defer rows.Close()

	var rankings []CourseProfessorRating
	for rows.Next() {
		var row CourseProfessorRating
		if err := rows.Scan(&row.ProfessorID, &row.ProfessorName, &row.MeanRating, &row.FeedbackCount); err != nil {
			return nil, fmt.Errorf("failed to scan course ranking: %w", err)
		}
		rankings = append(rankings, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate course rankings: %w", err)
	}

	return rankings, nil
}

func (r *feedbackRepository) Stats(ctx context.Context) (*OverallStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(rating),
		       COALESCE(AVG(rating), 0),
		       COUNT(*) FILTER (WHERE sentiment = 'positive'),
		       COUNT(*) FILTER (WHERE sentiment = 'negative'),
		       COUNT(*) FILTER (WHERE sentiment = 'neutral'),
		       COUNT(*) FILTER (WHERE sentiment = 'mixed')
		FROM feedbacks
		WHERE NOT deleted`

	var stats OverallStats
	err := r.db.QueryRow(ctx, query).Scan(
		&stats.TotalFeedbacks,
		&stats.RatedFeedbacks,
		&stats.AverageRating,
		&stats.Positive,
		&stats.Negative,
		&stats.Neutral,
		&stats.Mixed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute feedback stats: %w", err)
	}

	return &stats, nil
}

func (r *feedbackRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM feedbacks WHERE NOT deleted AND created_at >= $1`,
		since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent feedbacks: %w", err)
	}
	return count, nil
}

func (r *feedbackRepository) RecentTraits(ctx context.Context, limit int) ([][]string, [][]string, error) {
	query := `
		SELECT strengths, weaknesses
		FROM feedbacks
		WHERE NOT deleted
		ORDER BY message_date DESC, id DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load recent traits: %w", err)
	}
	defer rows.Close()

	var strengths, weaknesses [][]string
	for rows.Next() {
		var sRaw, wRaw []byte
		if err := rows.Scan(&sRaw, &wRaw); err != nil {
			return nil, nil, fmt.Errorf("failed to scan traits: %w", err)
		}

		var s, w []string
		if len(sRaw) > 0 {
			if err := json.Unmarshal(sRaw, &s); err != nil {
				return nil, nil, fmt.Errorf("failed to unmarshal strengths: %w", err)
			}
		}
		if len(wRaw) > 0 {
			if err := json.Unmarshal(wRaw, &w); err != nil {
				return nil, nil, fmt.Errorf("failed to unmarshal weaknesses: %w", err)
			}
		}
		strengths = append(strengths, s)
		weaknesses = append(weaknesses, w)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate traits: %w", err)
	}

	return strengths, weaknesses, nil
}

func scanFeedback(row pgx.Row) (*models.Feedback, error) {
	var fb models.Feedback
	var aspects, strengths, weaknesses []byte

	err := row.Scan(
		&fb.ID,
		&fb.ProfessorID,
		&fb.CourseID,
		&fb.Platform,
		&fb.SourceMessageID,
		&fb.AuthorID,
		&fb.MessageDate,
		&fb.Text,
		&fb.Summary,
		&fb.ExplicitRating,
		&fb.InferredRating,
		&fb.Rating,
		&fb.Sentiment,
		&aspects,
		&strengths,
		&weaknesses,
		&fb.Confidence,
		&fb.Language,
		&fb.Deleted,
		&fb.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(aspects) > 0 {
		if err := json.Unmarshal(aspects, &fb.Aspects); err != nil {
			return nil, fmt.Errorf("failed to unmarshal aspects: %w", err)
		}
	}
	if len(fb.Aspects) == 0 {
		fb.Aspects = nil
	}
	if len(strengths) > 0 {
		if err := json.Unmarshal(strengths, &fb.Strengths); err != nil {
			return nil, fmt.Errorf("failed to unmarshal strengths: %w", err)
		}
	}
	if len(weaknesses) > 0 {
		if err := json.Unmarshal(weaknesses, &fb.Weaknesses); err != nil {
			return nil, fmt.Errorf("failed to unmarshal weaknesses: %w", err)
		}
	}

	return &fb, nil
}

func collectFeedbacks(rows pgx.Rows) ([]*models.Feedback, error) {
	var fbs []*models.Feedback
	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		fbs = append(fbs, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedbacks: %w", err)
	}
	return fbs, nil
}
