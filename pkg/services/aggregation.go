package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wut-feedback/feedback-engine/pkg/cache"
	"github.com/wut-feedback/feedback-engine/pkg/database"
	"github.com/wut-feedback/feedback-engine/pkg/models"
	"github.com/wut-feedback/feedback-engine/pkg/repositories"
)

// AggregationService maintains the cached aggregate columns on
// professors: Welford running mean/variance for ratings, sentiment
// tallies, and per-aspect running means.
type AggregationService interface {
	// WithTx returns a copy bound to q so Apply runs inside the same
	// transaction as the feedback insert.
	WithTx(q database.Querier) AggregationService

	// Apply folds one new feedback into the professor's aggregates and
	// persists them. The professor struct is updated in place.
	Apply(ctx context.Context, prof *models.Professor, fb *models.Feedback) error

	// Rebuild recomputes a professor's aggregates from its non-deleted
	// feedbacks and overwrites the cached columns. The incremental path
	// must land on the same values.
	Rebuild(ctx context.Context, professorID int64) (*models.Professor, error)

	// RebuildAll rebuilds every professor. Offline repair tool.
	RebuildAll(ctx context.Context) error

	// InvalidateSnapshots drops cached ranking snapshots. Called by the
	// ingestion pipeline after the message transaction commits.
	InvalidateSnapshots(ctx context.Context)
}

type aggregationService struct {
	professors repositories.ProfessorRepository
	feedbacks  repositories.FeedbackRepository
	snapshots  cache.SnapshotCache
	logger     *zap.Logger
}

// NewAggregationService creates the aggregation engine.
func NewAggregationService(professors repositories.ProfessorRepository, feedbacks repositories.FeedbackRepository, snapshots cache.SnapshotCache, logger *zap.Logger) AggregationService {
	return &aggregationService{
		professors: professors,
		feedbacks:  feedbacks,
		snapshots:  snapshots,
		logger:     logger.Named("aggregation"),
	}
}

var _ AggregationService = (*aggregationService)(nil)

func (s *aggregationService) WithTx(q database.Querier) AggregationService {
	return &aggregationService{
		professors: s.professors.WithTx(q),
		feedbacks:  s.feedbacks.WithTx(q),
		snapshots:  s.snapshots,
		logger:     s.logger,
	}
}

func (s *aggregationService) Apply(ctx context.Context, prof *models.Professor, fb *models.Feedback) error {
	fold(prof, fb)

	if err := s.professors.UpdateAggregates(ctx, prof); err != nil {
		return fmt.Errorf("failed to apply aggregates: %w", err)
	}
	return nil
}

func (s *aggregationService) Rebuild(ctx context.Context, professorID int64) (*models.Professor, error) {
	prof, err := s.professors.GetByID(ctx, professorID)
	if err != nil {
		return nil, err
	}

	feedbacks, err := s.feedbacks.ListByProfessor(ctx, professorID, 0)
	if err != nil {
		return nil, err
	}

	prof.FeedbackCount = 0
	prof.RatingCount = 0
	prof.RatingMean = 0
	prof.RatingM2 = 0
	prof.Sentiment = models.SentimentTally{}
	prof.AspectAgg = nil

	// ListByProfessor returns newest first; fold oldest first so the
	// incremental path and a rebuild see feedbacks in the same order.
	for i := len(feedbacks) - 1; i >= 0; i-- {
		fold(prof, feedbacks[i])
	}

	if err := s.professors.UpdateAggregates(ctx, prof); err != nil {
		return nil, fmt.Errorf("failed to persist rebuilt aggregates: %w", err)
	}

	s.InvalidateSnapshots(ctx)
	s.logger.Info("rebuilt aggregates",
		zap.Int64("professor_id", professorID),
		zap.Int64("feedback_count", prof.FeedbackCount))
	return prof, nil
}

func (s *aggregationService) RebuildAll(ctx context.Context) error {
	profs, err := s.professors.List(ctx)
	if err != nil {
		return err
	}
	for _, prof := range profs {
		if _, err := s.Rebuild(ctx, prof.ID); err != nil {
			return fmt.Errorf("failed to rebuild professor %d: %w", prof.ID, err)
		}
	}
	return nil
}

func (s *aggregationService) InvalidateSnapshots(ctx context.Context) {
	if err := s.snapshots.Invalidate(ctx); err != nil {
		// Stale snapshots expire on their own TTL; not worth failing for.
		s.logger.Warn("failed to invalidate snapshots", zap.Error(err))
	}
}

// fold applies one feedback to the in-memory aggregates using Welford's
// online algorithm for the rating mean and M2.
func fold(prof *models.Professor, fb *models.Feedback) {
	prof.FeedbackCount++

	if fb.Rating != nil {
		prof.RatingCount++
		delta := *fb.Rating - prof.RatingMean
		prof.RatingMean += delta / float64(prof.RatingCount)
		prof.RatingM2 += delta * (*fb.Rating - prof.RatingMean)
	}

	switch fb.Sentiment {
	case models.SentimentPositive:
		prof.Sentiment.Positive++
	case models.SentimentNegative:
		prof.Sentiment.Negative++
	case models.SentimentNeutral:
		prof.Sentiment.Neutral++
	case models.SentimentMixed:
		prof.Sentiment.Mixed++
	}

	for key, score := range fb.Aspects {
		if prof.AspectAgg == nil {
			prof.AspectAgg = make(map[string]models.AspectAggregate)
		}
		agg := prof.AspectAgg[key]
		agg.Count++
		agg.Mean += (score.Score - agg.Mean) / float64(agg.Count)
		prof.AspectAgg[key] = agg
	}
}
