package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wut-feedback/feedback-engine/pkg/apperrors"
)

// QdrantConfig configures the Qdrant REST backend.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Qdrant is a minimal REST client to a Qdrant collection with cosine
// distance. The collection is created on Init when missing.
type Qdrant struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

// NewQdrant creates a Qdrant-backed index.
func NewQdrant(cfg QdrantConfig) *Qdrant {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Qdrant{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

var _ Index = (*Qdrant)(nil)

func (q *Qdrant) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	// Qdrant returns 200 when the collection already exists with the
	// same schema.
	return q.send(ctx, http.MethodPut,
		fmt.Sprintf("%s/collections/%s", q.url, q.collection), body, nil)
}

func (q *Qdrant) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]map[string]any, len(points))
	for i, p := range points {
		qdrantPoints[i] = map[string]any{
			"id":     p.FeedbackID,
			"vector": p.Vector,
			"payload": map[string]any{
				"feedback_id":  p.FeedbackID,
				"professor_id": p.ProfessorID,
			},
		}
	}

	body := map[string]any{"points": qdrantPoints}
	return q.send(ctx, http.MethodPut,
		fmt.Sprintf("%s/collections/%s/points?wait=true", q.url, q.collection), body, nil)
}

func (q *Qdrant) Query(ctx context.Context, vector []float32, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 5
	}

	body := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}

	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	err := q.send(ctx, http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/search", q.url, q.collection), body, &resp)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Result))
	for _, r := range resp.Result {
		res := Result{Score: r.Score}
		if v, ok := r.Payload["feedback_id"].(float64); ok {
			res.FeedbackID = int64(v)
		}
		if v, ok := r.Payload["professor_id"].(float64); ok {
			res.ProfessorID = int64(v)
		}
		results = append(results, res)
	}
	return results, nil
}

func (q *Qdrant) Delete(ctx context.Context, feedbackIDs []int64) error {
	if len(feedbackIDs) == 0 {
		return nil
	}

	body := map[string]any{"points": feedbackIDs}
	return q.send(ctx, http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/delete?wait=true", q.url, q.collection), body, nil)
}

func (q *Qdrant) send(ctx context.Context, method, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal qdrant request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode qdrant response: %w", err)
		}
	}
	return nil
}
