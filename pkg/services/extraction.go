package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wut-feedback/feedback-engine/pkg/llm"
	"github.com/wut-feedback/feedback-engine/pkg/models"
	"github.com/wut-feedback/feedback-engine/pkg/prompts"
	"github.com/wut-feedback/feedback-engine/pkg/retry"
	"github.com/wut-feedback/feedback-engine/pkg/textutil"
)

// ExtractionStatus classifies what extraction decided about a message.
type ExtractionStatus string

const (
	ExtractionAccepted      ExtractionStatus = "accepted"
	ExtractionNonFeedback   ExtractionStatus = "non_feedback"
	ExtractionLowConfidence ExtractionStatus = "low_confidence"
	ExtractionInappropriate ExtractionStatus = "inappropriate"
)

// FeedbackCandidate is the structured extraction output for one accepted
// message, before entity resolution.
type FeedbackCandidate struct {
	ProfessorName           string
	ProfessorNameNormalized string
	CourseCode              string
	CourseName              string
	Semester                string
	Summary                 string
	ExplicitRating          *float64
	InferredRating          *float64
	Sentiment               string
	Aspects                 map[string]models.AspectScore
	Strengths               []string
	Weaknesses              []string
	Confidence              float64
	Language                string
}

// Rating returns the final rating: explicit wins over inferred, nil when
// neither is present.
func (c *FeedbackCandidate) Rating() *float64 {
	if c.ExplicitRating != nil {
		return c.ExplicitRating
	}
	return c.InferredRating
}

// ExtractionResult is the typed verdict for one message.
type ExtractionResult struct {
	Status     ExtractionStatus
	Candidate  *FeedbackCandidate // set only when Status is ExtractionAccepted
	Confidence float64
}

// ExtractionConfig holds tunables for the extraction adapter.
type ExtractionConfig struct {
	Temperature   float64
	MinConfidence float64
	Timeout       time.Duration
}

// ExtractionService turns raw message text into a typed extraction verdict.
type ExtractionService interface {
	// Extract classifies and extracts one message. A non-nil error means
	// extraction itself failed after retries; rejection verdicts are not
	// errors.
	Extract(ctx context.Context, text string) (*ExtractionResult, error)
}

// extractionResponse mirrors the JSON schema the extraction prompt demands.
type extractionResponse struct {
	IsFeedback              bool                          `json:"is_feedback"`
	ProfessorName           *string                       `json:"professor_name"`
	ProfessorNameNormalized *string                       `json:"professor_name_normalized"`
	CourseCode              *string                       `json:"course_code"`
	CourseName              *string                       `json:"course_name"`
	Semester                *string                       `json:"semester"`
	Summary                 *string                       `json:"summary"`
	ExplicitRating          *float64                      `json:"explicit_rating"`
	InferredRating          *float64                      `json:"inferred_rating"`
	Sentiment               *string                       `json:"sentiment"`
	Aspects                 map[string]models.AspectScore `json:"aspects"`
	Strengths               []string                      `json:"strengths"`
	Weaknesses              []string                      `json:"weaknesses"`
	Confidence              float64                       `json:"confidence"`
	Language                *string                       `json:"language"`
	IsAppropriate           *bool                         `json:"is_appropriate"`
}

type extractionService struct {
	client  llm.LLMClient
	breaker *llm.CircuitBreaker
	config  ExtractionConfig
	logger  *zap.Logger
}

// NewExtractionService creates the extraction adapter. The circuit breaker
// protects the LLM endpoint from being hammered while it is down.
func NewExtractionService(client llm.LLMClient, breaker *llm.CircuitBreaker, config ExtractionConfig, logger *zap.Logger) ExtractionService {
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	return &extractionService{
		client:  client,
		breaker: breaker,
		config:  config,
		logger:  logger.Named("extraction"),
	}
}

var _ ExtractionService = (*extractionService)(nil)

func (s *extractionService) Extract(ctx context.Context, text string) (*ExtractionResult, error) {
	prompt := prompts.Extraction(text)

	var raw string
	err := retry.DoIfRetryable(ctx, retry.ExtractionConfig(), func() error {
		if ok, berr := s.breaker.Allow(); !ok {
			return berr
		}

		callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()

		resp, err := s.client.GenerateResponse(callCtx, prompt, prompts.ExtractionSystemMessage, s.config.Temperature)
		if err != nil {
			s.breaker.RecordFailure()
			return err
		}
		s.breaker.RecordSuccess()
		raw = resp.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	parsed, err := llm.ParseJSONResponse[extractionResponse](raw)
	if err != nil {
		return nil, fmt.Errorf("extraction returned unparseable response: %w", err)
	}

	return s.validate(&parsed, text), nil
}

// validate turns the raw response into a typed verdict, clamping values
// the model is allowed to get slightly wrong and rejecting shapes it is not.
func (s *extractionService) validate(resp *extractionResponse, text string) *ExtractionResult {
	confidence := clampFloat(resp.Confidence, 0, 1)

	if !resp.IsFeedback || deref(resp.ProfessorName) == "" {
		return &ExtractionResult{Status: ExtractionNonFeedback, Confidence: confidence}
	}
	if resp.IsAppropriate != nil && !*resp.IsAppropriate {
		return &ExtractionResult{Status: ExtractionInappropriate, Confidence: confidence}
	}
	// Equality with the floor is an accept.
	if confidence < s.config.MinConfidence {
		return &ExtractionResult{Status: ExtractionLowConfidence, Confidence: confidence}
	}

	sentiment := deref(resp.Sentiment)
	if !models.ValidSentiment(sentiment) {
		sentiment = models.SentimentNeutral
	}

	candidate := &FeedbackCandidate{
		ProfessorName:           deref(resp.ProfessorName),
		ProfessorNameNormalized: deref(resp.ProfessorNameNormalized),
		CourseName:              deref(resp.CourseName),
		Semester:                deref(resp.Semester),
		Summary:                 deref(resp.Summary),
		ExplicitRating:          clampRating(resp.ExplicitRating),
		InferredRating:          clampRating(resp.InferredRating),
		Sentiment:               sentiment,
		Strengths:               resp.Strengths,
		Weaknesses:              resp.Weaknesses,
		Confidence:              confidence,
		Language:                deref(resp.Language),
	}

	if candidate.ProfessorNameNormalized == "" {
		candidate.ProfessorNameNormalized = textutil.NormalizeName(candidate.ProfessorName)
	}

	// Canonicalize the course code, dropping whatever doesn't match.
	if code := deref(resp.CourseCode); code != "" {
		if canonical := textutil.ExtractCourseCode(code); canonical != "" {
			candidate.CourseCode = canonical
		} else {
			s.logger.Debug("dropping malformed course code", zap.String("code", code))
		}
	}

	// The model sometimes misses a literal "4/5" in the text; the regex
	// pass is authoritative for explicit ratings.
	if rating, ok := textutil.ExtractExplicitRating(text); ok && candidate.ExplicitRating == nil {
		candidate.ExplicitRating = &rating
	}

	// Keep only known aspect keys with scores in range.
	if len(resp.Aspects) > 0 {
		aspects := make(map[string]models.AspectScore, len(resp.Aspects))
		for key, score := range resp.Aspects {
			if !models.ValidAspect(key) {
				s.logger.Debug("dropping unknown aspect", zap.String("aspect", key))
				continue
			}
			score.Score = clampFloat(score.Score, 1, 5)
			aspects[key] = score
		}
		if len(aspects) > 0 {
			candidate.Aspects = aspects
		}
	}

	return &ExtractionResult{
		Status:     ExtractionAccepted,
		Candidate:  candidate,
		Confidence: confidence,
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampRating(v *float64) *float64 {
	if v == nil {
		return nil
	}
	clamped := clampFloat(*v, 1, 5)
	return &clamped
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
