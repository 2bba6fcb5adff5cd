package services

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wut-feedback/feedback-engine/pkg/cache"
	"github.com/wut-feedback/feedback-engine/pkg/models"
)

type aggregationTestContext struct {
	profs     *mockProfessorRepo
	feedbacks *mockFeedbackRepo
	svc       AggregationService
	prof      *models.Professor
}

func setupAggregationTest(t *testing.T) *aggregationTestContext {
	t.Helper()
	profs := newMockProfessorRepo()
	feedbacks := newMockFeedbackRepo()
	svc := NewAggregationService(profs, feedbacks, cache.NewNoopSnapshotCache(), zap.NewNop())

	prof := &models.Professor{Name: "Aziz Karimov", NormalizedName: "aziz karimov"}
	require.NoError(t, profs.Create(context.Background(), prof))

	return &aggregationTestContext{profs: profs, feedbacks: feedbacks, svc: svc, prof: prof}
}

func ratingPtr(v float64) *float64 { return &v }

func (tc *aggregationTestContext) addFeedback(t *testing.T, rating *float64, sentiment string, aspects map[string]models.AspectScore) *models.Feedback {
	t.Helper()
	fb := &models.Feedback{
		ProfessorID:     tc.prof.ID,
		Platform:        "telegram",
		SourceMessageID: tc.feedbacks.nextID,
		MessageDate:     time.Now(),
		Text:            "text",
		Rating:          rating,
		Sentiment:       sentiment,
		Aspects:         aspects,
		Confidence:      0.9,
	}
	require.NoError(t, tc.feedbacks.Create(context.Background(), fb))
	return fb
}

func TestApply_WelfordMeanAndVariance(t *testing.T) {
	tc := setupAggregationTest(t)
	ctx := context.Background()

	ratings := []float64{5, 3, 4, 4.5, 2}
	for _, r := range ratings {
		fb := tc.addFeedback(t, ratingPtr(r), models.SentimentNeutral, nil)
		require.NoError(t, tc.svc.Apply(ctx, tc.prof, fb))
	}

	var sum float64
	for _, r := range ratings {
		sum += r
	}
	mean := sum / float64(len(ratings))
	var m2 float64
	for _, r := range ratings {
		m2 += (r - mean) * (r - mean)
	}
	variance := m2 / float64(len(ratings)-1)

	assert.Equal(t, int64(5), tc.prof.FeedbackCount)
	assert.Equal(t, int64(5), tc.prof.RatingCount)
	assert.InDelta(t, mean, tc.prof.RatingMean, 1e-9)
	assert.InDelta(t, variance, tc.prof.RatingVariance(), 1e-9)
}

func TestApply_UnratedFeedbackCountsButDoesNotMoveMean(t *testing.T) {
	tc := setupAggregationTest(t)
	ctx := context.Background()

	fb := tc.addFeedback(t, ratingPtr(4), models.SentimentPositive, nil)
	require.NoError(t, tc.svc.Apply(ctx, tc.prof, fb))
	unrated := tc.addFeedback(t, nil, models.SentimentMixed, nil)
	require.NoError(t, tc.svc.Apply(ctx, tc.prof, unrated))

	assert.Equal(t, int64(2), tc.prof.FeedbackCount)
	assert.Equal(t, int64(1), tc.prof.RatingCount)
	assert.InDelta(t, 4.0, tc.prof.RatingMean, 1e-9)
	assert.Equal(t, int64(1), tc.prof.Sentiment.Positive)
	assert.Equal(t, int64(1), tc.prof.Sentiment.Mixed)
}

func TestApply_AspectRunningMeans(t *testing.T) {
	tc := setupAggregationTest(t)
	ctx := context.Background()

	fb1 := tc.addFeedback(t, ratingPtr(4), models.SentimentPositive, map[string]models.AspectScore{
		models.AspectTeachingQuality: {Score: 5},
		models.AspectWorkload:        {Score: 2},
	})
	require.NoError(t, tc.svc.Apply(ctx, tc.prof, fb1))
	fb2 := tc.addFeedback(t, ratingPtr(3), models.SentimentNeutral, map[string]models.AspectScore{
		models.AspectTeachingQuality: {Score: 3},
	})
	require.NoError(t, tc.svc.Apply(ctx, tc.prof, fb2))

	teaching, ok := tc.prof.AspectMean(models.AspectTeachingQuality)
	require.True(t, ok)
	assert.InDelta(t, 4.0, teaching, 1e-9)

	workload, ok := tc.prof.AspectMean(models.AspectWorkload)
	require.True(t, ok)
	assert.InDelta(t, 2.0, workload, 1e-9)
	assert.Equal(t, int64(1), tc.prof.AspectAgg[models.AspectWorkload].Count)
}

func TestApply_PersistsAggregates(t *testing.T) {
	tc := setupAggregationTest(t)
	ctx := context.Background()

	fb := tc.addFeedback(t, ratingPtr(4.5), models.SentimentPositive, nil)
	require.NoError(t, tc.svc.Apply(ctx, tc.prof, fb))

	stored, err := tc.profs.GetByID(ctx, tc.prof.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.FeedbackCount)
	assert.InDelta(t, 4.5, stored.RatingMean, 1e-9)
}

func TestRebuild_MatchesIncrementalWithinTolerance(t *testing.T) {
	tc := setupAggregationTest(t)
	ctx := context.Background()

	ratings := []float64{5, 3.5, 4, 1, 2.5, 4.5, 3}
	sentiments := []string{
		models.SentimentPositive, models.SentimentNeutral, models.SentimentPositive,
		models.SentimentNegative, models.SentimentMixed, models.SentimentPositive,
		models.SentimentNeutral,
	}
	for i, r := range ratings {
		fb := tc.addFeedback(t, ratingPtr(r), sentiments[i], map[string]models.AspectScore{
			models.AspectEngagement: {Score: r},
		})
		require.NoError(t, tc.svc.Apply(ctx, tc.prof, fb))
	}

	incremental := *tc.prof

	rebuilt, err := tc.svc.Rebuild(ctx, tc.prof.ID)
	require.NoError(t, err)

	assert.Equal(t, incremental.FeedbackCount, rebuilt.FeedbackCount)
	assert.Equal(t, incremental.RatingCount, rebuilt.RatingCount)
	assert.InDelta(t, incremental.RatingMean, rebuilt.RatingMean, 1e-9)
	assert.InDelta(t, incremental.RatingM2, rebuilt.RatingM2, 1e-9)
	assert.Equal(t, incremental.Sentiment, rebuilt.Sentiment)
	assert.InDelta(t,
		incremental.AspectAgg[models.AspectEngagement].Mean,
		rebuilt.AspectAgg[models.AspectEngagement].Mean, 1e-9)
}

func TestRebuild_ExcludesSoftDeleted(t *testing.T) {
	tc := setupAggregationTest(t)
	ctx := context.Background()

	keep := tc.addFeedback(t, ratingPtr(5), models.SentimentPositive, nil)
	require.NoError(t, tc.svc.Apply(ctx, tc.prof, keep))
	drop := tc.addFeedback(t, ratingPtr(1), models.SentimentNegative, nil)
	require.NoError(t, tc.svc.Apply(ctx, tc.prof, drop))

	require.NoError(t, tc.feedbacks.SoftDelete(ctx, drop.ID))

	rebuilt, err := tc.svc.Rebuild(ctx, tc.prof.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rebuilt.FeedbackCount)
	assert.InDelta(t, 5.0, rebuilt.RatingMean, 1e-9)
	assert.Equal(t, int64(0), rebuilt.Sentiment.Negative)
}

func TestRebuild_EmptyProfessorZeroesAggregates(t *testing.T) {
	tc := setupAggregationTest(t)
	ctx := context.Background()

	fb := tc.addFeedback(t, ratingPtr(4), models.SentimentPositive, nil)
	require.NoError(t, tc.svc.Apply(ctx, tc.prof, fb))
	require.NoError(t, tc.feedbacks.SoftDelete(ctx, fb.ID))

	rebuilt, err := tc.svc.Rebuild(ctx, tc.prof.ID)
	require.NoError(t, err)
	assert.Zero(t, rebuilt.FeedbackCount)
	assert.Zero(t, rebuilt.RatingCount)
	assert.Zero(t, rebuilt.RatingMean)
	assert.Zero(t, rebuilt.RatingVariance())
	assert.Nil(t, rebuilt.AspectAgg)
}

func TestRatingVariance_SingleRatingIsZero(t *testing.T) {
	tc := setupAggregationTest(t)
	fb := tc.addFeedback(t, ratingPtr(3), models.SentimentNeutral, nil)
	require.NoError(t, tc.svc.Apply(context.Background(), tc.prof, fb))

	assert.Zero(t, tc.prof.RatingVariance())
	assert.False(t, math.IsNaN(tc.prof.RatingVariance()))
}

func TestRebuildAll_RepairsEveryProfessor(t *testing.T) {
	profs := newMockProfessorRepo()
	feedbacks := newMockFeedbackRepo()
	svc := NewAggregationService(profs, feedbacks, cache.NewNoopSnapshotCache(), zap.NewNop())
	ctx := context.Background()

	a := &models.Professor{Name: "A", NormalizedName: "a"}
	b := &models.Professor{Name: "B", NormalizedName: "b"}
	require.NoError(t, profs.Create(ctx, a))
	require.NoError(t, profs.Create(ctx, b))

	for i, profID := range []int64{a.ID, a.ID, b.ID} {
		fb := &models.Feedback{
			ProfessorID:     profID,
			Platform:        "telegram",
			SourceMessageID: int64(100 + i),
			MessageDate:     time.Now(),
			Rating:          ratingPtr(4),
			Sentiment:       models.SentimentPositive,
		}
		require.NoError(t, feedbacks.Create(ctx, fb))
	}

	require.NoError(t, svc.RebuildAll(ctx))

	gotA, err := profs.GetByID(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := profs.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gotA.FeedbackCount)
	assert.Equal(t, int64(1), gotB.FeedbackCount)
}
