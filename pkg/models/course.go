package models

import (
	"time"
)

// Course is a resolved course entity. Code is the canonical "DEPT NNNN"
// form when the course was mentioned by code; title-only mentions leave
// Code empty and match through NormalizedTitle and Aliases.
type Course struct {
	ID              int64     `json:"id"`
	Code            string    `json:"code,omitempty"`
	Title           string    `json:"title,omitempty"`
	NormalizedTitle string    `json:"normalized_title,omitempty"`
	Aliases         []string  `json:"aliases,omitempty"`
	FeedbackCount   int64     `json:"feedback_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
