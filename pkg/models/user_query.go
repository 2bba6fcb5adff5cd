package models

import (
	"time"
)

// Query intents recognized by the retrieval engine.
const (
	IntentSearch  = "search"
	IntentCompare = "compare"
	IntentCourse  = "course"
	IntentGeneral = "general"
)

// UserQuery is an analytics record of one retrieval request.
type UserQuery struct {
	ID             int64     `json:"id"`
	Query          string    `json:"query"`
	Intent         string    `json:"intent"`
	Professors     []string  `json:"professors,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}
