// Package vectorindex provides the embedding index used for semantic
// feedback search, with an in-memory backend and a Qdrant backend.
package vectorindex

import (
	"context"
)

// Point is one indexed feedback embedding.
type Point struct {
	FeedbackID  int64
	ProfessorID int64
	Vector      []float32
}

// Result is one similarity hit, score in [-1, 1] (cosine).
type Result struct {
	FeedbackID  int64
	ProfessorID int64
	Score       float64
}

// Index persists feedback embeddings and supports similarity search.
type Index interface {
	// Init prepares the backing collection for vectors of the given
	// dimension. Idempotent.
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, points []Point) error
	// Query returns up to topK hits ordered by descending score.
	Query(ctx context.Context, vector []float32, topK int) ([]Result, error)
	// Delete removes points for the given feedback ids. Missing ids are
	// not an error.
	Delete(ctx context.Context, feedbackIDs []int64) error
}
