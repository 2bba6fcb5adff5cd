package models

import (
	"time"

	"github.com/google/uuid"
)

// Bulk import run statuses.
const (
	BulkImportRunning   = "running"
	BulkImportCompleted = "completed"
	BulkImportFailed    = "failed"
)

// BulkImportLog tracks one historical import run. Watermark holds the
// highest source message id the run has fully processed; a failed run
// resumes from there.
type BulkImportLog struct {
	ID          uuid.UUID  `json:"id"`
	Platform    string     `json:"platform"`
	Status      string     `json:"status"`
	Scanned     int64      `json:"scanned"`
	Accepted    int64      `json:"accepted"`
	Rejected    int64      `json:"rejected"`
	Failed      int64      `json:"failed"`
	Watermark   int64      `json:"watermark"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Resumable reports whether a new run may continue from this run's watermark.
func (b *BulkImportLog) Resumable() bool {
	return b.Status == BulkImportFailed && b.Watermark > 0
}
