package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wut-feedback/feedback-engine/pkg/apperrors"
	"github.com/wut-feedback/feedback-engine/pkg/cache"
	"github.com/wut-feedback/feedback-engine/pkg/llm"
	"github.com/wut-feedback/feedback-engine/pkg/models"
	"github.com/wut-feedback/feedback-engine/pkg/prompts"
	"github.com/wut-feedback/feedback-engine/pkg/repositories"
	"github.com/wut-feedback/feedback-engine/pkg/textutil"
	"github.com/wut-feedback/feedback-engine/pkg/vectorindex"
)

// Typed resolution failures for user-facing queries.
var (
	ErrProfessorNotFound  = errors.New("professor not found")
	ErrAmbiguousProfessor = errors.New("professor name is ambiguous")
	ErrCourseNotFound     = errors.New("course not found")
)

// RetrievalConfig holds search and ranking tunables.
type RetrievalConfig struct {
	ResolveThreshold int
	SearchThreshold  int
	MinFeedbacks     int64
	MaxResults       int
}

// ProfessorSummary is the read model for one professor's aggregates.
type ProfessorSummary struct {
	ID             int64              `json:"id"`
	Name           string             `json:"name"`
	Department     string             `json:"department,omitempty"`
	RatingMean     float64            `json:"rating_mean"`
	RatingVariance float64            `json:"rating_variance"`
	FeedbackCount  int64              `json:"feedback_count"`
	RatingCount    int64              `json:"rating_count"`
	Sentiment      models.SentimentTally `json:"sentiment"`
	AspectMeans    map[string]float64 `json:"aspect_means,omitempty"`
	Strengths      []string           `json:"strengths,omitempty"`
	Weaknesses     []string           `json:"weaknesses,omitempty"`
}

// AspectDelta is one aspect's mean difference between two professors,
// computed as A minus B. Present only when both sides have the aspect.
type AspectDelta struct {
	Aspect string  `json:"aspect"`
	AMean  float64 `json:"a_mean"`
	BMean  float64 `json:"b_mean"`
	Delta  float64 `json:"delta"`
}

// Comparison is the structured result of comparing two professors.
// Every delta is A minus B, so swapping the arguments negates them.
type Comparison struct {
	A            *ProfessorSummary `json:"a"`
	B            *ProfessorSummary `json:"b"`
	RatingDelta  float64           `json:"rating_delta"`
	AspectDeltas []AspectDelta     `json:"aspect_deltas"`
	// SentimentDelta is the difference in positive share (positive /
	// total labeled), A minus B.
	SentimentDelta float64            `json:"sentiment_delta"`
	SampleA        []*models.Feedback `json:"sample_a,omitempty"`
	SampleB        []*models.Feedback `json:"sample_b,omitempty"`
	Narrative      string             `json:"narrative,omitempty"`
}

// CourseRanking ranks professors who taught one course.
type CourseRanking struct {
	Course  *models.Course                       `json:"course"`
	Ratings []repositories.CourseProfessorRating `json:"ratings"`
}

// SemanticHit is one semantic-search result.
type SemanticHit struct {
	Feedback *models.Feedback `json:"feedback"`
	Score    float64          `json:"score"`
}

// QueryResponse is the dispatch result for a free-form user query.
type QueryResponse struct {
	Intent     string                      `json:"intent"`
	Search     []ProfessorMatch            `json:"search,omitempty"`
	Comparison *Comparison                 `json:"comparison,omitempty"`
	Course     *CourseRanking              `json:"course,omitempty"`
	Stats      *repositories.OverallStats  `json:"stats,omitempty"`
}

// RetrievalService answers user queries over the accumulated feedback.
type RetrievalService interface {
	// Search returns professors fuzzily matching the query, ranked by
	// score then feedback volume.
	Search(ctx context.Context, query string) ([]ProfessorMatch, error)

	// Profile builds the aggregate summary for one professor, resolved
	// strictly by name. Snapshots are served from the cache when warm.
	Profile(ctx context.Context, name string) (*ProfessorSummary, error)

	// Compare resolves both names strictly and returns structured
	// deltas with representative feedback samples. With narrative set, a
	// short LLM-written comparison text is included.
	Compare(ctx context.Context, nameA, nameB string, narrative bool) (*Comparison, error)

	// CourseLookup ranks professors for a course referenced by code or
	// title, applying the minimum feedback floor.
	CourseLookup(ctx context.Context, courseRef string) (*CourseRanking, error)

	// SemanticSearch embeds the query and returns the closest feedbacks,
	// excluding soft-deleted rows.
	SemanticSearch(ctx context.Context, query string, topK int) ([]SemanticHit, error)

	// HandleQuery classifies intent and dispatches to the operation
	// above, recording the query for analytics.
	HandleQuery(ctx context.Context, query string) (*QueryResponse, error)
}

type retrievalService struct {
	resolver    ResolverService
	embedding   EmbeddingService
	index       vectorindex.Index
	client      llm.LLMClient
	professors  repositories.ProfessorRepository
	courses     repositories.CourseRepository
	feedbacks   repositories.FeedbackRepository
	userQueries repositories.UserQueryRepository
	snapshots   cache.SnapshotCache
	config      RetrievalConfig
	logger      *zap.Logger
}

// NewRetrievalService wires the retrieval engine.
func NewRetrievalService(
	resolver ResolverService,
	embedding EmbeddingService,
	index vectorindex.Index,
	client llm.LLMClient,
	professors repositories.ProfessorRepository,
	courses repositories.CourseRepository,
	feedbacks repositories.FeedbackRepository,
	userQueries repositories.UserQueryRepository,
	snapshots cache.SnapshotCache,
	cfg RetrievalConfig,
	logger *zap.Logger,
) RetrievalService {
	if cfg.ResolveThreshold <= 0 {
		cfg.ResolveThreshold = 85
	}
	if cfg.SearchThreshold <= 0 {
		cfg.SearchThreshold = 70
	}
	if cfg.MinFeedbacks <= 0 {
		cfg.MinFeedbacks = 3
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	return &retrievalService{
		resolver:    resolver,
		embedding:   embedding,
		index:       index,
		client:      client,
		professors:  professors,
		courses:     courses,
		feedbacks:   feedbacks,
		userQueries: userQueries,
		snapshots:   snapshots,
		config:      cfg,
		logger:      logger.Named("retrieval"),
	}
}

var _ RetrievalService = (*retrievalService)(nil)

func (s *retrievalService) Search(ctx context.Context, query string) ([]ProfessorMatch, error) {
	matches, err := s.resolver.MatchProfessors(ctx, query, s.config.SearchThreshold)
	if err != nil {
		return nil, err
	}
	if len(matches) > s.config.MaxResults {
		matches = matches[:s.config.MaxResults]
	}
	return matches, nil
}

// resolveStrict binds a user-supplied name to exactly one professor.
func (s *retrievalService) resolveStrict(ctx context.Context, name string) (*models.Professor, error) {
	normalized := textutil.NormalizeName(name)
	if prof, err := s.professors.GetByNormalizedName(ctx, normalized); err == nil {
		return prof, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	matches, err := s.resolver.MatchProfessors(ctx, name, s.config.ResolveThreshold)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%q: %w", name, ErrProfessorNotFound)
	}
	// The sort already broke score ties by feedback count then name; a
	// tie that survives both is genuinely undecidable.
	if len(matches) > 1 &&
		matches[0].Score == matches[1].Score &&
		matches[0].Professor.FeedbackCount == matches[1].Professor.FeedbackCount {
		return nil, fmt.Errorf("%q matches %q and %q: %w",
			name, matches[0].Professor.Name, matches[1].Professor.Name, ErrAmbiguousProfessor)
	}
	return matches[0].Professor, nil
}

func (s *retrievalService) Profile(ctx context.Context, name string) (*ProfessorSummary, error) {
	prof, err := s.resolveStrict(ctx, name)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("profile:%d", prof.ID)
	var cached ProfessorSummary
	if hit, err := s.snapshots.Get(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, nil
	}

	summary, err := s.buildSummary(ctx, prof)
	if err != nil {
		return nil, err
	}
	if err := s.snapshots.Set(ctx, cacheKey, summary); err != nil {
		s.logger.Warn("failed to cache profile snapshot", zap.Error(err))
	}
	return summary, nil
}

func (s *retrievalService) buildSummary(ctx context.Context, prof *models.Professor) (*ProfessorSummary, error) {
	summary := &ProfessorSummary{
		ID:             prof.ID,
		Name:           prof.Name,
		RatingMean:     prof.RatingMean,
		RatingVariance: prof.RatingVariance(),
		FeedbackCount:  prof.FeedbackCount,
		RatingCount:    prof.RatingCount,
		Sentiment:      prof.Sentiment,
	}
	if prof.Department != nil {
		summary.Department = *prof.Department
	}
	if len(prof.AspectAgg) > 0 {
		summary.AspectMeans = make(map[string]float64, len(prof.AspectAgg))
		for key, agg := range prof.AspectAgg {
			summary.AspectMeans[key] = agg.Mean
		}
	}

	recent, err := s.feedbacks.ListByProfessor(ctx, prof.ID, 20)
	if err != nil {
		return nil, err
	}
	summary.Strengths = tallyTraits(recent, func(fb *models.Feedback) []string { return fb.Strengths })
	summary.Weaknesses = tallyTraits(recent, func(fb *models.Feedback) []string { return fb.Weaknesses })
	return summary, nil
}

// tallyTraits returns the most frequent traits across feedbacks, most
// common first, capped at five.
func tallyTraits(feedbacks []*models.Feedback, pick func(*models.Feedback) []string) []string {
	counts := make(map[string]int)
	for _, fb := range feedbacks {
		for _, trait := range pick(fb) {
			key := strings.ToLower(strings.TrimSpace(trait))
			if key != "" {
				counts[key]++
			}
		}
	}
	traits := make([]string, 0, len(counts))
	for trait := range counts {
		traits = append(traits, trait)
	}
	sort.Slice(traits, func(i, j int) bool {
		if counts[traits[i]] != counts[traits[j]] {
			return counts[traits[i]] > counts[traits[j]]
		}
		return traits[i] < traits[j]
	})
	if len(traits) > 5 {
		traits = traits[:5]
	}
	return traits
}

func (s *retrievalService) Compare(ctx context.Context, nameA, nameB string, narrative bool) (*Comparison, error) {
	profA, err := s.resolveStrict(ctx, nameA)
	if err != nil {
		return nil, err
	}
	profB, err := s.resolveStrict(ctx, nameB)
	if err != nil {
		return nil, err
	}

	summaryA, err := s.buildSummary(ctx, profA)
	if err != nil {
		return nil, err
	}
	summaryB, err := s.buildSummary(ctx, profB)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{
		A:              summaryA,
		B:              summaryB,
		RatingDelta:    summaryA.RatingMean - summaryB.RatingMean,
		SentimentDelta: positiveShare(summaryA.Sentiment) - positiveShare(summaryB.Sentiment),
	}
	for _, aspect := range models.Aspects {
		aMean, aOK := summaryA.AspectMeans[aspect]
		bMean, bOK := summaryB.AspectMeans[aspect]
		if !aOK || !bOK {
			continue
		}
		cmp.AspectDeltas = append(cmp.AspectDeltas, AspectDelta{
			Aspect: aspect,
			AMean:  aMean,
			BMean:  bMean,
			Delta:  aMean - bMean,
		})
	}

	cmp.SampleA = s.representativeSample(ctx, summaryA)
	cmp.SampleB = s.representativeSample(ctx, summaryB)

	if narrative {
		text, err := s.narrative(ctx, summaryA, summaryB, nameA+" vs "+nameB)
		if err != nil {
			// Deltas answer the question; the prose is a bonus.
			s.logger.Warn("failed to generate comparison narrative", zap.Error(err))
		} else {
			cmp.Narrative = text
		}
	}
	return cmp, nil
}

// positiveShare is the fraction of labeled feedback that is positive.
func positiveShare(tally models.SentimentTally) float64 {
	total := tally.Positive + tally.Negative + tally.Neutral + tally.Mixed
	if total == 0 {
		return 0
	}
	return float64(tally.Positive) / float64(total)
}

// representativeSample picks feedbacks covering the professor's salient
// aspects through the vector index, falling back to the most recent ones
// when the index cannot serve.
func (s *retrievalService) representativeSample(ctx context.Context, summary *ProfessorSummary) []*models.Feedback {
	const sampleSize = 3

	query := summary.Name
	for _, aspect := range topAspects(summary.AspectMeans, 2) {
		query += " " + strings.ReplaceAll(aspect, "_", " ")
	}

	hits, err := s.semanticForProfessor(ctx, query, summary.ID, sampleSize)
	if err != nil {
		s.logger.Debug("semantic sample unavailable, using recent feedbacks", zap.Error(err))
	} else if len(hits) > 0 {
		sample := make([]*models.Feedback, 0, len(hits))
		for _, hit := range hits {
			sample = append(sample, hit.Feedback)
		}
		return sample
	}

	recent, err := s.feedbacks.ListByProfessor(ctx, summary.ID, sampleSize)
	if err != nil {
		s.logger.Warn("failed to sample feedbacks", zap.Error(err))
		return nil
	}
	return recent
}

func topAspects(means map[string]float64, n int) []string {
	aspects := make([]string, 0, len(means))
	for aspect := range means {
		aspects = append(aspects, aspect)
	}
	sort.Slice(aspects, func(i, j int) bool {
		if means[aspects[i]] != means[aspects[j]] {
			return means[aspects[i]] > means[aspects[j]]
		}
		return aspects[i] < aspects[j]
	})
	if len(aspects) > n {
		aspects = aspects[:n]
	}
	return aspects
}

func (s *retrievalService) semanticForProfessor(ctx context.Context, query string, professorID int64, topK int) ([]SemanticHit, error) {
	hits, err := s.semanticSearch(ctx, query, topK, func(res vectorindex.Result) bool {
		return res.ProfessorID == professorID
	})
	return hits, err
}

func (s *retrievalService) SemanticSearch(ctx context.Context, query string, topK int) ([]SemanticHit, error) {
	return s.semanticSearch(ctx, query, topK, nil)
}

func (s *retrievalService) semanticSearch(ctx context.Context, query string, topK int, keep func(vectorindex.Result) bool) ([]SemanticHit, error) {
	if topK <= 0 {
		topK = s.config.MaxResults
	}

	vector, err := s.embedding.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	// Over-fetch so post-filtering still fills topK.
	results, err := s.index.Query(ctx, vector, topK*3)
	if err != nil {
		return nil, err
	}

	var ids []int64
	scores := make(map[int64]float64, len(results))
	for _, res := range results {
		if keep != nil && !keep(res) {
			continue
		}
		ids = append(ids, res.FeedbackID)
		scores[res.FeedbackID] = res.Score
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// GetByIDs drops soft-deleted rows; index entries for them are stale
	// until the next rebuild.
	feedbacks, err := s.feedbacks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]SemanticHit, 0, len(feedbacks))
	for _, fb := range feedbacks {
		hits = append(hits, SemanticHit{Feedback: fb, Score: scores[fb.ID]})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *retrievalService) CourseLookup(ctx context.Context, courseRef string) (*CourseRanking, error) {
	course, err := s.findCourse(ctx, courseRef)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("course:%d", course.ID)
	var cached CourseRanking
	if hit, err := s.snapshots.Get(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, nil
	}

	ratings, err := s.feedbacks.RankByCourse(ctx, course.ID, s.config.MinFeedbacks)
	if err != nil {
		return nil, err
	}

	ranking := &CourseRanking{Course: course, Ratings: ratings}
	if err := s.snapshots.Set(ctx, cacheKey, ranking); err != nil {
		s.logger.Warn("failed to cache course snapshot", zap.Error(err))
	}
	return ranking, nil
}

// findCourse resolves a user-supplied course reference without creating
// anything: code match first, then fuzzy title.
func (s *retrievalService) findCourse(ctx context.Context, courseRef string) (*models.Course, error) {
	if code := textutil.ExtractCourseCode(courseRef); code != "" {
		course, err := s.courses.GetByCode(ctx, code)
		if err == nil {
			return course, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	normalized := textutil.NormalizeCourseTitle(courseRef)
	if normalized == "" {
		return nil, fmt.Errorf("%q: %w", courseRef, ErrCourseNotFound)
	}

	all, err := s.courses.List(ctx)
	if err != nil {
		return nil, err
	}
	var best *models.Course
	bestScore := 0
	for _, course := range all {
		score := 0
		if course.NormalizedTitle != "" {
			score = textutil.TokenSortRatio(normalized, course.NormalizedTitle)
		}
		for _, alias := range course.Aliases {
			if aliasScore := textutil.TokenSortRatio(normalized, alias); aliasScore > score {
				score = aliasScore
			}
		}
		if score >= s.config.SearchThreshold && (best == nil || score > bestScore) {
			best = course
			bestScore = score
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%q: %w", courseRef, ErrCourseNotFound)
	}
	return best, nil
}

func (s *retrievalService) narrative(ctx context.Context, a, b *ProfessorSummary, query string) (string, error) {
	prompt := prompts.Comparison(compareProfile(a), compareProfile(b), query)
	resp, err := s.client.GenerateResponse(ctx, prompt, prompts.ComparisonSystemMessage, 0.7)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func compareProfile(summary *ProfessorSummary) prompts.CompareProfile {
	return prompts.CompareProfile{
		Name:          summary.Name,
		Department:    summary.Department,
		Rating:        summary.RatingMean,
		FeedbackCount: summary.FeedbackCount,
		AspectMeans:   summary.AspectMeans,
		Strengths:     summary.Strengths,
		Weaknesses:    summary.Weaknesses,
	}
}

// intentResponse mirrors the intent-classification prompt schema.
type intentResponse struct {
	Intent         string   `json:"intent"`
	ProfessorNames []string `json:"professor_names"`
	CourseCode     *string  `json:"course_code"`
}

var compareKeywords = regexp.MustCompile(`(?i)\b(vs\.?|versus|compare|or better|кто лучше|или)\b`)

// queryFiller lists the question words the keyword fallback strips so
// that a professor name survives for fuzzy matching. "tell me about X"
// has to score against names as "x", not as the whole sentence.
var queryFiller = map[string]struct{}{
	"tell": {}, "me": {}, "about": {}, "who": {}, "whos": {}, "is": {},
	"what": {}, "whats": {}, "how": {}, "the": {}, "a": {}, "an": {},
	"any": {}, "do": {}, "you": {}, "know": {}, "think": {}, "of": {},
	"on": {}, "for": {}, "please": {}, "opinion": {}, "opinions": {},
	"review": {}, "reviews": {}, "feedback": {}, "good": {},
	"professor": {}, "prof": {}, "teacher": {},
	"расскажи": {}, "скажи": {}, "про": {}, "кто": {}, "что": {},
	"такой": {}, "такая": {}, "как": {}, "насчет": {}, "мнение": {},
	"отзывы": {}, "отзыв": {}, "о": {}, "об": {},
	"преподаватель": {}, "препод": {}, "профессор": {},
}

// extractNameCandidate strips question filler from a query, leaving the
// tokens that plausibly form a name. Empty when nothing survives.
func extractNameCandidate(query string) string {
	var kept []string
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		tok = strings.Trim(tok, "?!.,:;\"'")
		if tok == "" {
			continue
		}
		if _, ok := queryFiller[tok]; ok {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// classifyIntent asks the LLM, falling back to keyword heuristics when
// the call fails.
func (s *retrievalService) classifyIntent(ctx context.Context, query string) intentResponse {
	resp, err := s.client.GenerateResponse(ctx, prompts.Intent(query), prompts.IntentSystemMessage, 0)
	if err == nil {
		parsed, perr := llm.ParseJSONResponse[intentResponse](resp.Content)
		if perr == nil {
			switch parsed.Intent {
			case models.IntentSearch, models.IntentCompare, models.IntentCourse, models.IntentGeneral:
				return parsed
			}
		}
		err = perr
	}
	s.logger.Debug("intent classification fell back to keywords", zap.Error(err))

	fallback := intentResponse{Intent: models.IntentSearch}
	if code := textutil.ExtractCourseCode(query); code != "" {
		fallback.Intent = models.IntentCourse
		fallback.CourseCode = &code
	} else if compareKeywords.MatchString(query) {
		fallback.Intent = models.IntentCompare
	} else if len(strings.Fields(query)) < 2 {
		fallback.Intent = models.IntentGeneral
	} else if name := extractNameCandidate(query); name != "" {
		fallback.ProfessorNames = []string{name}
	} else {
		fallback.Intent = models.IntentGeneral
	}
	return fallback
}

func (s *retrievalService) HandleQuery(ctx context.Context, query string) (*QueryResponse, error) {
	started := time.Now()
	intent := s.classifyIntent(ctx, query)
	response := &QueryResponse{Intent: intent.Intent}

	var err error
	switch intent.Intent {
	case models.IntentCompare:
		if len(intent.ProfessorNames) < 2 {
			// Without two names a comparison degrades to search.
			response.Intent = models.IntentSearch
			response.Search, err = s.Search(ctx, query)
		} else {
			response.Comparison, err = s.Compare(ctx, intent.ProfessorNames[0], intent.ProfessorNames[1], true)
		}
	case models.IntentCourse:
		ref := query
		if intent.CourseCode != nil && *intent.CourseCode != "" {
			ref = *intent.CourseCode
		}
		response.Course, err = s.CourseLookup(ctx, ref)
	case models.IntentGeneral:
		response.Stats, err = s.feedbacks.Stats(ctx)
	default:
		target := query
		if len(intent.ProfessorNames) == 1 {
			target = intent.ProfessorNames[0]
		}
		response.Search, err = s.Search(ctx, target)
	}
	if err != nil {
		return nil, err
	}

	s.recordQuery(ctx, query, response.Intent, intent.ProfessorNames, time.Since(started))
	return response, nil
}

func (s *retrievalService) recordQuery(ctx context.Context, query, intent string, professors []string, elapsed time.Duration) {
	record := &models.UserQuery{
		Query:          query,
		Intent:         intent,
		Professors:     professors,
		ResponseTimeMs: elapsed.Milliseconds(),
	}
	if err := s.userQueries.Create(ctx, record); err != nil {
		s.logger.Warn("failed to record user query", zap.Error(err))
	}
}
