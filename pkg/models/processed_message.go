package models

import (
	"time"
)

// Processing outcomes recorded in the dedup ledger.
const (
	OutcomePending               = "pending"
	OutcomeAccepted              = "accepted"
	OutcomeRejectedLowConfidence = "rejected_low_confidence"
	OutcomeRejectedNonFeedback   = "rejected_non_feedback"
	OutcomeRejectedInappropriate = "rejected_inappropriate"
	OutcomeFailedExtraction      = "failed_extraction"
)

// ProcessedMessage is one row of the dedup ledger. A row is claimed with
// outcome pending and finalized exactly once; (platform, source_message_id)
// is unique so a message can never be processed twice.
type ProcessedMessage struct {
	ID              int64     `json:"id"`
	Platform        string    `json:"platform"`
	SourceMessageID int64     `json:"source_message_id"`
	Outcome         string    `json:"outcome"`
	FeedbackID      *int64    `json:"feedback_id,omitempty"`
	Error           string    `json:"error,omitempty"`
	ProcessedAt     time.Time `json:"processed_at"`
}
