package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wut-feedback/feedback-engine/pkg/apperrors"
	"github.com/wut-feedback/feedback-engine/pkg/database"
	"github.com/wut-feedback/feedback-engine/pkg/models"
	"github.com/wut-feedback/feedback-engine/pkg/repositories"
)

// ============================================================================
// In-memory repository mocks shared by the service tests
// ============================================================================

type mockProfessorRepo struct {
	mu     sync.Mutex
	nextID int64
	profs  map[int64]*models.Professor

	createErr error
	listErr   error
}

func newMockProfessorRepo() *mockProfessorRepo {
	return &mockProfessorRepo{nextID: 1, profs: make(map[int64]*models.Professor)}
}

func (m *mockProfessorRepo) WithTx(q database.Querier) repositories.ProfessorRepository {
	return m
}

func (m *mockProfessorRepo) Create(ctx context.Context, prof *models.Professor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, p := range m.profs {
		if p.NormalizedName == prof.NormalizedName {
			return apperrors.ErrConflict
		}
	}
	prof.ID = m.nextID
	m.nextID++
	prof.CreatedAt = time.Now()
	prof.UpdatedAt = prof.CreatedAt
	stored := *prof
	m.profs[prof.ID] = &stored
	return nil
}

func (m *mockProfessorRepo) GetByID(ctx context.Context, id int64) (*models.Professor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prof, ok := m.profs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *prof
	return &copied, nil
}

func (m *mockProfessorRepo) LockForUpdate(ctx context.Context, id int64) (*models.Professor, error) {
	return m.GetByID(ctx, id)
}

func (m *mockProfessorRepo) GetByNormalizedName(ctx context.Context, normalizedName string) (*models.Professor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, prof := range m.profs {
		if prof.NormalizedName == normalizedName {
			copied := *prof
			return &copied, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockProfessorRepo) List(ctx context.Context) ([]*models.Professor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.Professor
	for _, prof := range m.profs {
		copied := *prof
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockProfessorRepo) AddAlias(ctx context.Context, id int64, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prof, ok := m.profs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	for _, a := range prof.Aliases {
		if a == alias {
			return nil
		}
	}
	prof.Aliases = append(prof.Aliases, alias)
	return nil
}

func (m *mockProfessorRepo) UpdateAggregates(ctx context.Context, prof *models.Professor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.profs[prof.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	stored.FeedbackCount = prof.FeedbackCount
	stored.RatingCount = prof.RatingCount
	stored.RatingMean = prof.RatingMean
	stored.RatingM2 = prof.RatingM2
	stored.Sentiment = prof.Sentiment
	if prof.AspectAgg != nil {
		stored.AspectAgg = make(map[string]models.AspectAggregate, len(prof.AspectAgg))
		for k, v := range prof.AspectAgg {
			stored.AspectAgg[k] = v
		}
	} else {
		stored.AspectAgg = nil
	}
	stored.UpdatedAt = time.Now()
	prof.UpdatedAt = stored.UpdatedAt
	return nil
}

func (m *mockProfessorRepo) Ranked(ctx context.Context, minFeedbacks int64, limit int, ascending bool) ([]*models.Professor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Professor
	for _, prof := range m.profs {
		if prof.FeedbackCount >= minFeedbacks && prof.RatingCount > 0 {
			copied := *prof
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RatingMean != out[j].RatingMean {
			if ascending {
				return out[i].RatingMean < out[j].RatingMean
			}
			return out[i].RatingMean > out[j].RatingMean
		}
		if out[i].FeedbackCount != out[j].FeedbackCount {
			return out[i].FeedbackCount > out[j].FeedbackCount
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockProfessorRepo) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.profs)), nil
}

var _ repositories.ProfessorRepository = (*mockProfessorRepo)(nil)

type mockCourseRepo struct {
	mu      sync.Mutex
	nextID  int64
	courses map[int64]*models.Course
}

func newMockCourseRepo() *mockCourseRepo {
	return &mockCourseRepo{nextID: 1, courses: make(map[int64]*models.Course)}
}

func (m *mockCourseRepo) WithTx(q database.Querier) repositories.CourseRepository {
	return m
}

func (m *mockCourseRepo) Create(ctx context.Context, course *models.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if course.Code != "" {
		for _, c := range m.courses {
			if c.Code == course.Code {
				return apperrors.ErrConflict
			}
		}
	}
	course.ID = m.nextID
	m.nextID++
	course.CreatedAt = time.Now()
	course.UpdatedAt = course.CreatedAt
	stored := *course
	m.courses[course.ID] = &stored
	return nil
}

func (m *mockCourseRepo) GetByID(ctx context.Context, id int64) (*models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	course, ok := m.courses[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *course
	return &copied, nil
}

func (m *mockCourseRepo) GetByCode(ctx context.Context, code string) (*models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, course := range m.courses {
		if course.Code == code {
			copied := *course
			return &copied, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockCourseRepo) List(ctx context.Context) ([]*models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Course
	for _, course := range m.courses {
		copied := *course
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockCourseRepo) AddAlias(ctx context.Context, id int64, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	course, ok := m.courses[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	for _, a := range course.Aliases {
		if a == alias {
			return nil
		}
	}
	course.Aliases = append(course.Aliases, alias)
	return nil
}

func (m *mockCourseRepo) IncrementFeedbackCount(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	course, ok := m.courses[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	course.FeedbackCount++
	return nil
}

var _ repositories.CourseRepository = (*mockCourseRepo)(nil)

type mockFeedbackRepo struct {
	mu        sync.Mutex
	nextID    int64
	feedbacks map[int64]*models.Feedback

	createErr error
}

func newMockFeedbackRepo() *mockFeedbackRepo {
	return &mockFeedbackRepo{nextID: 1, feedbacks: make(map[int64]*models.Feedback)}
}

func (m *mockFeedbackRepo) WithTx(q database.Querier) repositories.FeedbackRepository {
	return m
}

func (m *mockFeedbackRepo) Create(ctx context.Context, fb *models.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.feedbacks {
		if existing.Platform == fb.Platform && existing.SourceMessageID == fb.SourceMessageID {
			return apperrors.ErrAlreadyProcessed
		}
	}
	fb.ID = m.nextID
	m.nextID++
	fb.CreatedAt = time.Now()
	stored := *fb
	m.feedbacks[fb.ID] = &stored
	return nil
}

func (m *mockFeedbackRepo) GetByID(ctx context.Context, id int64) (*models.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fb, ok := m.feedbacks[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *fb
	return &copied, nil
}

func (m *mockFeedbackRepo) GetByIDs(ctx context.Context, ids []int64) ([]*models.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Feedback
	for _, id := range ids {
		if fb, ok := m.feedbacks[id]; ok && !fb.Deleted {
			copied := *fb
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockFeedbackRepo) ListByProfessor(ctx context.Context, professorID int64, limit int) ([]*models.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Feedback
	for _, fb := range m.feedbacks {
		if fb.ProfessorID == professorID && !fb.Deleted {
			copied := *fb
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MessageDate.Equal(out[j].MessageDate) {
			return out[i].MessageDate.After(out[j].MessageDate)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockFeedbackRepo) SoftDelete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fb, ok := m.feedbacks[id]
	if !ok || fb.Deleted {
		return apperrors.ErrNotFound
	}
	fb.Deleted = true
	return nil
}

func (m *mockFeedbackRepo) RankByCourse(ctx context.Context, courseID int64, minFeedbacks int64) ([]repositories.CourseProfessorRating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type agg struct {
		sum   float64
		count int64
	}
	byProf := make(map[int64]*agg)
	for _, fb := range m.feedbacks {
		if fb.Deleted || fb.CourseID == nil || *fb.CourseID != courseID || fb.Rating == nil {
			continue
		}
		a, ok := byProf[fb.ProfessorID]
		if !ok {
			a = &agg{}
			byProf[fb.ProfessorID] = a
		}
		a.sum += *fb.Rating
		a.count++
	}
	var out []repositories.CourseProfessorRating
	for profID, a := range byProf {
		if a.count < minFeedbacks {
			continue
		}
		out = append(out, repositories.CourseProfessorRating{
			ProfessorID:   profID,
			MeanRating:    a.sum / float64(a.count),
			FeedbackCount: a.count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MeanRating != out[j].MeanRating {
			return out[i].MeanRating > out[j].MeanRating
		}
		return out[i].FeedbackCount > out[j].FeedbackCount
	})
	return out, nil
}

func (m *mockFeedbackRepo) Stats(ctx context.Context) (*repositories.OverallStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &repositories.OverallStats{}
	var ratingSum float64
	for _, fb := range m.feedbacks {
		if fb.Deleted {
			continue
		}
		stats.TotalFeedbacks++
		if fb.Rating != nil {
			stats.RatedFeedbacks++
			ratingSum += *fb.Rating
		}
		switch fb.Sentiment {
		case models.SentimentPositive:
			stats.Positive++
		case models.SentimentNegative:
			stats.Negative++
		case models.SentimentNeutral:
			stats.Neutral++
		case models.SentimentMixed:
			stats.Mixed++
		}
	}
	if stats.RatedFeedbacks > 0 {
		stats.AverageRating = ratingSum / float64(stats.RatedFeedbacks)
	}
	return stats, nil
}

func (m *mockFeedbackRepo) CountSince(ctx context.Context, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, fb := range m.feedbacks {
		if !fb.Deleted && !fb.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *mockFeedbackRepo) RecentTraits(ctx context.Context, limit int) ([][]string, [][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var recent []*models.Feedback
	for _, fb := range m.feedbacks {
		if !fb.Deleted {
			recent = append(recent, fb)
		}
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].ID > recent[j].ID })
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}
	var strengths, weaknesses [][]string
	for _, fb := range recent {
		strengths = append(strengths, fb.Strengths)
		weaknesses = append(weaknesses, fb.Weaknesses)
	}
	return strengths, weaknesses, nil
}

var _ repositories.FeedbackRepository = (*mockFeedbackRepo)(nil)

type mockProcessedMessageRepo struct {
	mu      sync.Mutex
	nextID  int64
	markers map[string]*models.ProcessedMessage

	claimErr error
}

func newMockProcessedMessageRepo() *mockProcessedMessageRepo {
	return &mockProcessedMessageRepo{nextID: 1, markers: make(map[string]*models.ProcessedMessage)}
}

func markerKey(platform string, id int64) string {
	return fmt.Sprintf("%s:%d", platform, id)
}

func (m *mockProcessedMessageRepo) WithTx(q database.Querier) repositories.ProcessedMessageRepository {
	return m
}

func (m *mockProcessedMessageRepo) TryClaim(ctx context.Context, platform string, sourceMessageID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	key := markerKey(platform, sourceMessageID)
	if _, exists := m.markers[key]; exists {
		return false, nil
	}
	m.markers[key] = &models.ProcessedMessage{
		ID:              m.nextID,
		Platform:        platform,
		SourceMessageID: sourceMessageID,
		Outcome:         models.OutcomePending,
		ProcessedAt:     time.Now(),
	}
	m.nextID++
	return true, nil
}

func (m *mockProcessedMessageRepo) Finalize(ctx context.Context, platform string, sourceMessageID int64, outcome string, feedbackID *int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	marker, ok := m.markers[markerKey(platform, sourceMessageID)]
	if !ok || marker.Outcome != models.OutcomePending {
		return apperrors.ErrAlreadyProcessed
	}
	marker.Outcome = outcome
	marker.FeedbackID = feedbackID
	marker.Error = errMsg
	marker.ProcessedAt = time.Now()
	return nil
}

func (m *mockProcessedMessageRepo) Get(ctx context.Context, platform string, sourceMessageID int64) (*models.ProcessedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	marker, ok := m.markers[markerKey(platform, sourceMessageID)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *marker
	return &copied, nil
}

func (m *mockProcessedMessageRepo) MaxSourceMessageID(ctx context.Context, platform string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, marker := range m.markers {
		if marker.Platform == platform && marker.Outcome != models.OutcomePending && marker.SourceMessageID > max {
			max = marker.SourceMessageID
		}
	}
	return max, nil
}

func (m *mockProcessedMessageRepo) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64)
	for _, marker := range m.markers {
		out[marker.Outcome]++
	}
	return out, nil
}

var _ repositories.ProcessedMessageRepository = (*mockProcessedMessageRepo)(nil)

type mockBulkImportRepo struct {
	mu   sync.Mutex
	runs []*models.BulkImportLog
}

func newMockBulkImportRepo() *mockBulkImportRepo {
	return &mockBulkImportRepo{}
}

func (m *mockBulkImportRepo) Create(ctx context.Context, log *models.BulkImportLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.Status == "" {
		log.Status = models.BulkImportRunning
	}
	log.StartedAt = time.Now()
	stored := *log
	m.runs = append(m.runs, &stored)
	return nil
}

func (m *mockBulkImportRepo) UpdateProgress(ctx context.Context, log *models.BulkImportLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.ID == log.ID {
			run.Scanned = log.Scanned
			run.Accepted = log.Accepted
			run.Rejected = log.Rejected
			run.Failed = log.Failed
			run.Watermark = log.Watermark
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *mockBulkImportRepo) Complete(ctx context.Context, log *models.BulkImportLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.ID == log.ID {
			now := time.Now()
			run.Status = log.Status
			run.Scanned = log.Scanned
			run.Accepted = log.Accepted
			run.Rejected = log.Rejected
			run.Failed = log.Failed
			run.Watermark = log.Watermark
			run.Error = log.Error
			run.CompletedAt = &now
			log.CompletedAt = &now
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *mockBulkImportRepo) Latest(ctx context.Context, platform string) (*models.BulkImportLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.BulkImportLog
	for _, run := range m.runs {
		if run.Platform != platform {
			continue
		}
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, apperrors.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

var _ repositories.BulkImportRepository = (*mockBulkImportRepo)(nil)

type mockUserQueryRepo struct {
	mu      sync.Mutex
	nextID  int64
	queries []*models.UserQuery
}

func newMockUserQueryRepo() *mockUserQueryRepo {
	return &mockUserQueryRepo{nextID: 1}
}

func (m *mockUserQueryRepo) Create(ctx context.Context, uq *models.UserQuery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	uq.ID = m.nextID
	m.nextID++
	uq.CreatedAt = time.Now()
	stored := *uq
	m.queries = append(m.queries, &stored)
	return nil
}

func (m *mockUserQueryRepo) Recent(ctx context.Context, limit int) ([]*models.UserQuery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.UserQuery, 0, len(m.queries))
	for i := len(m.queries) - 1; i >= 0; i-- {
		copied := *m.queries[i]
		out = append(out, &copied)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockUserQueryRepo) CountSince(ctx context.Context, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, uq := range m.queries {
		if !uq.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

var _ repositories.UserQueryRepository = (*mockUserQueryRepo)(nil)
