package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wut-feedback/feedback-engine/pkg/apperrors"
	"github.com/wut-feedback/feedback-engine/pkg/database"
	"github.com/wut-feedback/feedback-engine/pkg/models"
)

// CourseRepository provides data access for course entities.
type CourseRepository interface {
	WithTx(q database.Querier) CourseRepository

	Create(ctx context.Context, course *models.Course) error
	GetByID(ctx context.Context, id int64) (*models.Course, error)
	GetByCode(ctx context.Context, code string) (*models.Course, error)
	List(ctx context.Context) ([]*models.Course, error)
	AddAlias(ctx context.Context, id int64, alias string) error
	IncrementFeedbackCount(ctx context.Context, id int64) error
}

type courseRepository struct {
	db database.Querier
}

// NewCourseRepository creates a new CourseRepository.
func NewCourseRepository(db database.Querier) CourseRepository {
	return &courseRepository{db: db}
}

var _ CourseRepository = (*courseRepository)(nil)

func (r *courseRepository) WithTx(q database.Querier) CourseRepository {
	return &courseRepository{db: q}
}

const courseColumns = `
	id, code, title, normalized_title, aliases, feedback_count, created_at, updated_at`

func (r *courseRepository) Create(ctx context.Context, course *models.Course) error {
	now := time.Now()

	query := `
		INSERT INTO courses (code, title, normalized_title, aliases, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		course.Code,
		course.Title,
		course.NormalizedTitle,
		textArray(course.Aliases),
		now,
	).Scan(&course.ID, &course.CreatedAt, &course.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create course: %w", err)
	}

	return nil
}

func (r *courseRepository) GetByID(ctx context.Context, id int64) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`

	course, err := scanCourse(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return course, nil
}

func (r *courseRepository) GetByCode(ctx context.Context, code string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE code = $1`

	course, err := scanCourse(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get course by code: %w", err)
	}
	return course, nil
}

func (r *courseRepository) List(ctx context.Context) ([]*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	var courses []*models.Course
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, course)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate courses: %w", err)
	}

	return courses, nil
}

func (r *courseRepository) AddAlias(ctx context.Context, id int64, alias string) error {
	query := `
		UPDATE courses
		SET aliases = array_append(aliases, $2), updated_at = now()
		WHERE id = $1 AND NOT ($2 = ANY(aliases))`

	if _, err := r.db.Exec(ctx, query, id, alias); err != nil {
		return fmt.Errorf("failed to add course alias: %w", err)
	}
	return nil
}

func (r *courseRepository) IncrementFeedbackCount(ctx context.Context, id int64) error {
	query := `
		UPDATE courses
		SET feedback_count = feedback_count + 1, updated_at = now()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment course feedback count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanCourse(row pgx.Row) (*models.Course, error) {
	var course models.Course
	var code, title, normalizedTitle *string

	err := row.Scan(
		&course.ID,
		&code,
		&title,
		&normalizedTitle,
		&course.Aliases,
		&course.FeedbackCount,
		&course.CreatedAt,
		&course.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if code != nil {
		course.Code = *code
	}
	if title != nil {
		course.Title = *title
	}
	if normalizedTitle != nil {
		course.NormalizedTitle = *normalizedTitle
	}

	return &course, nil
}
