package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Memory is a brute-force cosine-similarity index. It serves development
// and tests, and deployments small enough not to need a vector database.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	points    map[int64]Point
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{points: make(map[int64]Point)}
}

var _ Index = (*Memory)(nil)

func (m *Memory) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dimension != 0 && m.dimension != dimension {
		m.points = make(map[int64]Point)
	}
	m.dimension = dimension
	return nil
}

func (m *Memory) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range points {
		if m.dimension != 0 && len(p.Vector) != m.dimension {
			return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(p.Vector), m.dimension)
		}
	}
	for _, p := range points {
		m.points[p.FeedbackID] = p
	}
	return nil
}

func (m *Memory) Query(_ context.Context, vector []float32, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 5
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Result, 0, len(m.points))
	for _, p := range m.points {
		results = append(results, Result{
			FeedbackID:  p.FeedbackID,
			ProfessorID: p.ProfessorID,
			Score:       cosine(vector, p.Vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].FeedbackID < results[j].FeedbackID
	})

	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (m *Memory) Delete(_ context.Context, feedbackIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range feedbackIDs {
		delete(m.points, id)
	}
	return nil
}

// Len returns the number of indexed points.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
