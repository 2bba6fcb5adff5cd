package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wut-feedback/feedback-engine/pkg/models"
	"github.com/wut-feedback/feedback-engine/pkg/repositories"
)

// TraitCount is a trait with its occurrence count over recent feedbacks.
type TraitCount struct {
	Trait string `json:"trait"`
	Count int    `json:"count"`
}

// Overview is the corpus-wide dashboard payload.
type Overview struct {
	Professors     int64                      `json:"professors"`
	Stats          *repositories.OverallStats `json:"stats"`
	FeedbacksToday int64                      `json:"feedbacks_today"`
	QueriesToday   int64                      `json:"queries_today"`
	TopStrengths   []TraitCount               `json:"top_strengths,omitempty"`
	TopWeaknesses  []TraitCount               `json:"top_weaknesses,omitempty"`
}

// AnalyticsService reports rankings and corpus statistics.
type AnalyticsService interface {
	// TopProfessors returns the best-rated professors with at least
	// minFeedbacks feedbacks, highest mean first.
	TopProfessors(ctx context.Context, minFeedbacks int64, limit int) ([]*models.Professor, error)

	// BottomProfessors is TopProfessors with the order reversed.
	BottomProfessors(ctx context.Context, minFeedbacks int64, limit int) ([]*models.Professor, error)

	// Overview assembles the dashboard: totals, today's activity, and
	// the most common traits over recent feedbacks.
	Overview(ctx context.Context) (*Overview, error)

	// RecentQueries returns the latest user queries, newest first.
	RecentQueries(ctx context.Context, limit int) ([]*models.UserQuery, error)
}

type analyticsService struct {
	professors  repositories.ProfessorRepository
	feedbacks   repositories.FeedbackRepository
	userQueries repositories.UserQueryRepository
	logger      *zap.Logger
}

// NewAnalyticsService wires the analytics read paths.
func NewAnalyticsService(
	professors repositories.ProfessorRepository,
	feedbacks repositories.FeedbackRepository,
	userQueries repositories.UserQueryRepository,
	logger *zap.Logger,
) AnalyticsService {
	return &analyticsService{
		professors:  professors,
		feedbacks:   feedbacks,
		userQueries: userQueries,
		logger:      logger.Named("analytics"),
	}
}

var _ AnalyticsService = (*analyticsService)(nil)

func (s *analyticsService) TopProfessors(ctx context.Context, minFeedbacks int64, limit int) ([]*models.Professor, error) {
	return s.professors.Ranked(ctx, minFeedbacks, limit, false)
}

func (s *analyticsService) BottomProfessors(ctx context.Context, minFeedbacks int64, limit int) ([]*models.Professor, error) {
	return s.professors.Ranked(ctx, minFeedbacks, limit, true)
}

// traitWindow is how many recent feedbacks feed the trait tallies.
const traitWindow = 200

func (s *analyticsService) Overview(ctx context.Context) (*Overview, error) {
	stats, err := s.feedbacks.Stats(ctx)
	if err != nil {
		return nil, err
	}
	professorCount, err := s.professors.Count(ctx)
	if err != nil {
		return nil, err
	}

	midnight := time.Now().Truncate(24 * time.Hour)
	feedbacksToday, err := s.feedbacks.CountSince(ctx, midnight)
	if err != nil {
		return nil, err
	}
	queriesToday, err := s.userQueries.CountSince(ctx, midnight)
	if err != nil {
		return nil, err
	}

	strengths, weaknesses, err := s.feedbacks.RecentTraits(ctx, traitWindow)
	if err != nil {
		return nil, err
	}

	return &Overview{
		Professors:     professorCount,
		Stats:          stats,
		FeedbacksToday: feedbacksToday,
		QueriesToday:   queriesToday,
		TopStrengths:   tallyTraitLists(strengths, 5),
		TopWeaknesses:  tallyTraitLists(weaknesses, 5),
	}, nil
}

func (s *analyticsService) RecentQueries(ctx context.Context, limit int) ([]*models.UserQuery, error) {
	return s.userQueries.Recent(ctx, limit)
}

// tallyTraitLists counts case-folded traits across feedbacks and returns
// the most frequent ones, ties broken alphabetically.
func tallyTraitLists(lists [][]string, top int) []TraitCount {
	counts := make(map[string]int)
	for _, traits := range lists {
		for _, trait := range traits {
			key := strings.ToLower(strings.TrimSpace(trait))
			if key != "" {
				counts[key]++
			}
		}
	}
	out := make([]TraitCount, 0, len(counts))
	for trait, count := range counts {
		out = append(out, TraitCount{Trait: trait, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Trait < out[j].Trait
	})
	if len(out) > top {
		out = out[:top]
	}
	return out
}
