package models

import (
	"time"
)

// AspectAggregate is the running mean for one aspect of one professor.
type AspectAggregate struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
}

// SentimentTally counts feedback sentiment labels for one professor.
type SentimentTally struct {
	Positive int64 `json:"positive"`
	Negative int64 `json:"negative"`
	Neutral  int64 `json:"neutral"`
	Mixed    int64 `json:"mixed"`
}

// Professor is a resolved teaching entity with cached aggregates.
// The aggregate columns are a cache: Rebuild recomputes them from
// non-deleted feedbacks and must land on identical values.
type Professor struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	NormalizedName string   `json:"normalized_name"`
	Department     *string  `json:"department,omitempty"`
	Aliases        []string `json:"aliases,omitempty"`

	FeedbackCount int64   `json:"feedback_count"`
	RatingCount   int64   `json:"rating_count"`
	RatingMean    float64 `json:"rating_mean"`
	// RatingM2 is the Welford sum of squared deviations; variance is
	// RatingM2 / (RatingCount - 1) for RatingCount > 1.
	RatingM2  float64                    `json:"rating_m2"`
	Sentiment SentimentTally             `json:"sentiment"`
	AspectAgg map[string]AspectAggregate `json:"aspects,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RatingVariance returns the sample variance of ratings, or 0 when fewer
// than two rated feedbacks exist.
func (p *Professor) RatingVariance() float64 {
	if p.RatingCount < 2 {
		return 0
	}
	return p.RatingM2 / float64(p.RatingCount-1)
}

// AspectMean returns the running mean for one aspect key, or false when
// the professor has no scored feedback for it.
func (p *Professor) AspectMean(key string) (float64, bool) {
	agg, ok := p.AspectAgg[key]
	if !ok || agg.Count == 0 {
		return 0, false
	}
	return agg.Mean, true
}
