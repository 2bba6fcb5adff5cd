package models

import (
	"time"
)

// Sentiment labels assigned by extraction.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
	SentimentMixed    = "mixed"
)

// Aspect keys scored by extraction. Aggregates track a running mean per key.
const (
	AspectTeachingQuality = "teaching_quality"
	AspectGradingFairness = "grading_fairness"
	AspectWorkload        = "workload"
	AspectCommunication   = "communication"
	AspectEngagement      = "engagement"
	AspectExamDifficulty  = "exam_difficulty"
)

// Aspects lists every tracked aspect key in canonical order.
var Aspects = []string{
	AspectTeachingQuality,
	AspectGradingFairness,
	AspectWorkload,
	AspectCommunication,
	AspectEngagement,
	AspectExamDifficulty,
}

// ValidSentiment reports whether s is one of the recognized sentiment labels.
func ValidSentiment(s string) bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral, SentimentMixed:
		return true
	}
	return false
}

// ValidAspect reports whether key is one of the tracked aspect keys.
func ValidAspect(key string) bool {
	for _, a := range Aspects {
		if a == key {
			return true
		}
	}
	return false
}

// AspectScore is one aspect's extracted score with the supporting remark.
type AspectScore struct {
	Score   float64 `json:"score"`
	Comment string  `json:"comment,omitempty"`
}

// Feedback is one deduplicated, entity-resolved opinion about a professor.
// Stored in the feedbacks table; (platform, source_message_id) is unique.
type Feedback struct {
	ID              int64                  `json:"id"`
	ProfessorID     int64                  `json:"professor_id"`
	CourseID        *int64                 `json:"course_id,omitempty"`
	Platform        string                 `json:"platform"`
	SourceMessageID int64                  `json:"source_message_id"`
	AuthorID        *int64                 `json:"author_id,omitempty"`
	MessageDate     time.Time              `json:"message_date"`
	Text            string                 `json:"text"`
	Summary         string                 `json:"summary,omitempty"`
	ExplicitRating  *float64               `json:"explicit_rating,omitempty"`
	InferredRating  *float64               `json:"inferred_rating,omitempty"`
	Rating          *float64               `json:"rating,omitempty"` // final: explicit wins over inferred
	Sentiment       string                 `json:"sentiment"`
	Aspects         map[string]AspectScore `json:"aspects,omitempty"`
	Strengths       []string               `json:"strengths,omitempty"`
	Weaknesses      []string               `json:"weaknesses,omitempty"`
	Confidence      float64                `json:"confidence"`
	Language        string                 `json:"language,omitempty"`
	Deleted         bool                   `json:"deleted"`
	CreatedAt       time.Time              `json:"created_at"`
}
