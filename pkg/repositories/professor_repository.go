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

// ProfessorRepository provides data access for professor entities and
// their cached aggregates.
type ProfessorRepository interface {
	// WithTx returns a copy of the repository bound to the given querier,
	// typically a transaction.
	WithTx(q database.Querier) ProfessorRepository

	Create(ctx context.Context, prof *models.Professor) error
	GetByID(ctx context.Context, id int64) (*models.Professor, error)
	// LockForUpdate reads a professor with a row lock. Concurrent
	// transactions folding feedback into the same professor serialize on
	// this so aggregate updates are never lost.
	LockForUpdate(ctx context.Context, id int64) (*models.Professor, error)
	GetByNormalizedName(ctx context.Context, normalizedName string) (*models.Professor, error)
	// List returns every professor. The resolver's fuzzy pass scans the
	// full set; the population is small (one university's faculty).
	List(ctx context.Context) ([]*models.Professor, error)
	AddAlias(ctx context.Context, id int64, alias string) error
	// UpdateAggregates overwrites the cached aggregate columns.
	UpdateAggregates(ctx context.Context, prof *models.Professor) error
	// Ranked returns professors with at least minFeedbacks feedbacks,
	// ordered by rating mean (descending unless ascending is set), ties
	// broken by feedback count then name.
	Ranked(ctx context.Context, minFeedbacks int64, limit int, ascending bool) ([]*models.Professor, error)
	Count(ctx context.Context) (int64, error)
}

type professorRepository struct {
	db database.Querier
}

// NewProfessorRepository creates a new ProfessorRepository.
func NewProfessorRepository(db database.Querier) ProfessorRepository {
	return &professorRepository{db: db}
}

var _ ProfessorRepository = (*professorRepository)(nil)

func (r *professorRepository) WithTx(q database.Querier) ProfessorRepository {
	return &professorRepository{db: q}
}

const professorColumns = `
	id, name, normalized_name, department, aliases,
	feedback_count, rating_count, rating_mean, rating_m2,
	sentiment_positive, sentiment_negative, sentiment_neutral, sentiment_mixed,
	aspect_aggregates, created_at, updated_at`

func (r *professorRepository) Create(ctx context.Context, prof *models.Professor) error {
	now := time.Now()

	aspects, err := json.Marshal(prof.AspectAgg)
	if err != nil {
		return fmt.Errorf("failed to marshal aspect aggregates: %w", err)
	}
	if prof.AspectAgg == nil {
		aspects = []byte("{}")
	}

	query := `
		INSERT INTO professors (
			name, normalized_name, department, aliases, aspect_aggregates,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id, created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		prof.Name,
		prof.NormalizedName,
		prof.Department,
		textArray(prof.Aliases),
		aspects,
		now,
	).Scan(&prof.ID, &prof.CreatedAt, &prof.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create professor: %w", err)
	}

	return nil
}

func (r *professorRepository) GetByID(ctx context.Context, id int64) (*models.Professor, error) {
	query := `SELECT ` + professorColumns + ` FROM professors WHERE id = $1`

	prof, err := scanProfessor(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get professor: %w", err)
	}
	return prof, nil
}

func (r *professorRepository) LockForUpdate(ctx context.Context, id int64) (*models.Professor, error) {
	query := `SELECT ` + professorColumns + ` FROM professors WHERE id = $1 FOR UPDATE`

	prof, err := scanProfessor(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock professor: %w", err)
	}
	return prof, nil
}

func (r *professorRepository) GetByNormalizedName(ctx context.Context, normalizedName string) (*models.Professor, error) {
	query := `SELECT ` + professorColumns + ` FROM professors WHERE normalized_name = $1`

	prof, err := scanProfessor(r.db.QueryRow(ctx, query, normalizedName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get professor by normalized name: %w", err)
	}
	return prof, nil
}

func (r *professorRepository) List(ctx context.Context) ([]*models.Professor, error) {
	query := `SELECT ` + professorColumns + ` FROM professors ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list professors: %w", err)
	}
	defer rows.Close()

	return collectProfessors(rows)
}

func (r *professorRepository) AddAlias(ctx context.Context, id int64, alias string) error {
	query := `
		UPDATE professors
		SET aliases = array_append(aliases, $2), updated_at = now()
		WHERE id = $1 AND NOT ($2 = ANY(aliases))`

	if _, err := r.db.Exec(ctx, query, id, alias); err != nil {
		return fmt.Errorf("failed to add alias: %w", err)
	}
	return nil
}

func (r *professorRepository) UpdateAggregates(ctx context.Context, prof *models.Professor) error {
	aspects, err := json.Marshal(prof.AspectAgg)
	if err != nil {
		return fmt.Errorf("failed to marshal aspect aggregates: %w", err)
	}
	if prof.AspectAgg == nil {
		aspects = []byte("{}")
	}

	query := `
		UPDATE professors
		SET feedback_count = $2, rating_count = $3, rating_mean = $4, rating_m2 = $5,
		    sentiment_positive = $6, sentiment_negative = $7,
		    sentiment_neutral = $8, sentiment_mixed = $9,
		    aspect_aggregates = $10, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = r.db.QueryRow(ctx, query,
		prof.ID,
		prof.FeedbackCount,
		prof.RatingCount,
		prof.RatingMean,
		prof.RatingM2,
		prof.Sentiment.Positive,
		prof.Sentiment.Negative,
		prof.Sentiment.Neutral,
		prof.Sentiment.Mixed,
		aspects,
	).Scan(&prof.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update aggregates: %w", err)
	}

	return nil
}

func (r *professorRepository) Ranked(ctx context.Context, minFeedbacks int64, limit int, ascending bool) ([]*models.Professor, error) {
	direction := "DESC"
	if ascending {
		direction = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s FROM professors
		WHERE feedback_count >= $1 AND rating_count > 0
		ORDER BY rating_mean %s, feedback_count DESC, name ASC
		LIMIT $2`, professorColumns, direction)

	rows, err := r.db.Query(ctx, query, minFeedbacks, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank professors: %w", err)
	}
	defer rows.Close()

	return collectProfessors(rows)
}

func (r *professorRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM professors`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count professors: %w", err)
	}
	return count, nil
}

func scanProfessor(row pgx.Row) (*models.Professor, error) {
	var prof models.Professor
	var aspects []byte

	err := row.Scan(
		&prof.ID,
		&prof.Name,
		&prof.NormalizedName,
		&prof.Department,
		&prof.Aliases,
		&prof.FeedbackCount,
		&prof.RatingCount,
		&prof.RatingMean,
		&prof.RatingM2,
		&prof.Sentiment.Positive,
		&prof.Sentiment.Negative,
		&prof.Sentiment.Neutral,
		&prof.Sentiment.Mixed,
		&aspects,
		&prof.CreatedAt,
		&prof.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(aspects) > 0 {
		if err := json.Unmarshal(aspects, &prof.AspectAgg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal aspect aggregates: %w", err)
		}
	}
	if len(prof.AspectAgg) == 0 {
		prof.AspectAgg = nil
	}

	return &prof, nil
}

func collectProfessors(rows pgx.Rows) ([]*models.Professor, error) {
	var profs []*models.Professor
	for rows.Next() {
		prof, err := scanProfessor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan professor: %w", err)
		}
		profs = append(profs, prof)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate professors: %w", err)
	}
	return profs, nil
}

// textArray converts a string slice for TEXT[] insertion, defaulting to
// an empty array rather than NULL.
func textArray(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
