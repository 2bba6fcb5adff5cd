package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wut-feedback/feedback-engine/pkg/apperrors"
	"github.com/wut-feedback/feedback-engine/pkg/database"
	"github.com/wut-feedback/feedback-engine/pkg/models"
	"github.com/wut-feedback/feedback-engine/pkg/repositories"
	"github.com/wut-feedback/feedback-engine/pkg/textutil"
)

// ProfessorMatch is one fuzzy-match candidate with its similarity score.
type ProfessorMatch struct {
	Professor *models.Professor
	Score     int
}

// ResolverConfig holds resolution tunables.
type ResolverConfig struct {
	// MatchThreshold is the minimum token-sort ratio (0-100) for a fuzzy
	// name to resolve to an existing entity instead of creating a new one.
	MatchThreshold int
}

// ResolverService maps extracted names onto canonical professor and
// course entities, creating them when nothing matches.
type ResolverService interface {
	// WithTx returns a copy whose repository access goes through q. The
	// creation locks are shared with the parent.
	WithTx(q database.Querier) ResolverService

	// ResolveProfessor finds or creates the professor for an extracted
	// name. Returns the entity and whether it was newly created.
	ResolveProfessor(ctx context.Context, name, normalizedName string) (*models.Professor, bool, error)

	// MatchProfessors scores every known professor against the query and
	// returns those at or above threshold, best first. Read-only.
	MatchProfessors(ctx context.Context, query string, threshold int) ([]ProfessorMatch, error)

	// ResolveCourse finds or creates the course for an extracted code
	// and/or title. Returns nil without error when both are empty.
	ResolveCourse(ctx context.Context, code, title string) (*models.Course, bool, error)
}

type resolverService struct {
	professors repositories.ProfessorRepository
	courses    repositories.CourseRepository
	config     ResolverConfig
	locks      *keyedMutex
	logger     *zap.Logger
}

// NewResolverService creates the entity resolver.
func NewResolverService(professors repositories.ProfessorRepository, courses repositories.CourseRepository, config ResolverConfig, logger *zap.Logger) ResolverService {
	if config.MatchThreshold <= 0 {
		config.MatchThreshold = 85
	}
	return &resolverService{
		professors: professors,
		courses:    courses,
		config:     config,
		locks:      newKeyedMutex(),
		logger:     logger.Named("resolver"),
	}
}

var _ ResolverService = (*resolverService)(nil)

func (s *resolverService) WithTx(q database.Querier) ResolverService {
	return &resolverService{
		professors: s.professors.WithTx(q),
		courses:    s.courses.WithTx(q),
		config:     s.config,
		locks:      s.locks,
		logger:     s.logger,
	}
}

func (s *resolverService) ResolveProfessor(ctx context.Context, name, normalizedName string) (*models.Professor, bool, error) {
	if normalizedName == "" {
		normalizedName = textutil.NormalizeName(name)
	}
	if normalizedName == "" {
		return nil, false, fmt.Errorf("cannot resolve professor: %w", apperrors.ErrInvalidInput)
	}

	// Exact match on the canonical name is the common case.
	prof, err := s.professors.GetByNormalizedName(ctx, normalizedName)
	if err == nil {
		return prof, false, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, false, err
	}

	matches, err := s.MatchProfessors(ctx, normalizedName, s.config.MatchThreshold)
	if err != nil {
		return nil, false, err
	}
	if len(matches) > 0 {
		best := matches[0].Professor
		if err := s.rememberAlias(ctx, best, normalizedName); err != nil {
			return nil, false, err
		}
		s.logger.Debug("fuzzy-resolved professor",
			zap.String("query", normalizedName),
			zap.String("matched", best.NormalizedName),
			zap.Int("score", matches[0].Score))
		return best, false, nil
	}

	return s.createProfessor(ctx, name, normalizedName)
}

func (s *resolverService) MatchProfessors(ctx context.Context, query string, threshold int) ([]ProfessorMatch, error) {
	normalized := textutil.NormalizeName(query)
	if normalized == "" {
		return nil, nil
	}

	all, err := s.professors.List(ctx)
	if err != nil {
		return nil, err
	}

	var matches []ProfessorMatch
	for _, prof := range all {
		score := textutil.TokenSortRatio(normalized, prof.NormalizedName)
		for _, alias := range prof.Aliases {
			if aliasScore := textutil.TokenSortRatio(normalized, alias); aliasScore > score {
				score = aliasScore
			}
		}
		if score >= threshold {
			matches = append(matches, ProfessorMatch{Professor: prof, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Professor.FeedbackCount != matches[j].Professor.FeedbackCount {
			return matches[i].Professor.FeedbackCount > matches[j].Professor.FeedbackCount
		}
		return matches[i].Professor.Name < matches[j].Professor.Name
	})

	return matches, nil
}

// rememberAlias records the queried form on the matched professor so the
// next lookup for it is exact. The repository skips duplicates.
func (s *resolverService) rememberAlias(ctx context.Context, prof *models.Professor, normalized string) error {
	if normalized == prof.NormalizedName {
		return nil
	}
	for _, alias := range prof.Aliases {
		if alias == normalized {
			return nil
		}
	}
	if err := s.professors.AddAlias(ctx, prof.ID, normalized); err != nil {
		return fmt.Errorf("failed to record professor alias: %w", err)
	}
	prof.Aliases = append(prof.Aliases, normalized)
	return nil
}

func (s *resolverService) createProfessor(ctx context.Context, name, normalizedName string) (*models.Professor, bool, error) {
	unlock := s.locks.lock("professor:" + normalizedName)
	defer unlock()

	// Another goroutine may have created it while we waited on the lock.
	prof, err := s.professors.GetByNormalizedName(ctx, normalizedName)
	if err == nil {
		return prof, false, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, false, err
	}

	if name == "" {
		name = normalizedName
	}
	prof = &models.Professor{Name: name, NormalizedName: normalizedName}
	err = s.professors.Create(ctx, prof)
	if err == nil {
		s.logger.Info("created professor", zap.String("normalized_name", normalizedName), zap.Int64("id", prof.ID))
		return prof, true, nil
	}
	// First writer wins across processes; fall back to their row.
	if errors.Is(err, apperrors.ErrConflict) {
		prof, err = s.professors.GetByNormalizedName(ctx, normalizedName)
		if err != nil {
			return nil, false, fmt.Errorf("failed to re-resolve professor after conflict: %w", err)
		}
		return prof, false, nil
	}
	return nil, false, err
}

func (s *resolverService) ResolveCourse(ctx context.Context, code, title string) (*models.Course, bool, error) {
	code = textutil.ExtractCourseCode(code)
	normalizedTitle := textutil.NormalizeCourseTitle(title)
	if code == "" && normalizedTitle == "" {
		return nil, false, nil
	}

	if code != "" {
		course, err := s.courses.GetByCode(ctx, code)
		if err == nil {
			return course, false, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, false, err
		}
	}

	if normalizedTitle != "" {
		course, err := s.matchCourseByTitle(ctx, normalizedTitle)
		if err != nil {
			return nil, false, err
		}
		if course != nil {
			return course, false, nil
		}
	}

	return s.createCourse(ctx, code, title, normalizedTitle)
}

func (s *resolverService) matchCourseByTitle(ctx context.Context, normalizedTitle string) (*models.Course, error) {
	all, err := s.courses.List(ctx)
	if err != nil {
		return nil, err
	}

	var best *models.Course
	bestScore := 0
	for _, course := range all {
		score := 0
		if course.NormalizedTitle != "" {
			score = textutil.TokenSortRatio(normalizedTitle, course.NormalizedTitle)
		}
		for _, alias := range course.Aliases {
			if aliasScore := textutil.TokenSortRatio(normalizedTitle, alias); aliasScore > score {
				score = aliasScore
			}
		}
		if score < s.config.MatchThreshold {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && course.FeedbackCount > best.FeedbackCount) {
			best = course
			bestScore = score
		}
	}

	if best != nil && normalizedTitle != best.NormalizedTitle {
		if err := s.courses.AddAlias(ctx, best.ID, normalizedTitle); err != nil {
			return nil, fmt.Errorf("failed to record course alias: %w", err)
		}
	}
	return best, nil
}

func (s *resolverService) createCourse(ctx context.Context, code, title, normalizedTitle string) (*models.Course, bool, error) {
	key := "course:" + code
	if code == "" {
		key = "course:" + normalizedTitle
	}
	unlock := s.locks.lock(key)
	defer unlock()

	if code != "" {
		course, err := s.courses.GetByCode(ctx, code)
		if err == nil {
			return course, false, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, false, err
		}
	}

	course := &models.Course{Code: code, Title: title, NormalizedTitle: normalizedTitle}
	err := s.courses.Create(ctx, course)
	if err == nil {
		s.logger.Info("created course", zap.String("code", code), zap.String("title", title), zap.Int64("id", course.ID))
		return course, true, nil
	}
	if errors.Is(err, apperrors.ErrConflict) && code != "" {
		course, err = s.courses.GetByCode(ctx, code)
		if err != nil {
			return nil, false, fmt.Errorf("failed to re-resolve course after conflict: %w", err)
		}
		return course, false, nil
	}
	return nil, false, err
}

// keyedMutex serializes entity creation per normalized key so concurrent
// messages about the same new professor produce one row, not a conflict
// storm.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
