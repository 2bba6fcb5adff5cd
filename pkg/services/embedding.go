package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wut-feedback/feedback-engine/pkg/llm"
	"github.com/wut-feedback/feedback-engine/pkg/models"
	"github.com/wut-feedback/feedback-engine/pkg/repositories"
	"github.com/wut-feedback/feedback-engine/pkg/vectorindex"
)

// EmbeddingConfig holds tunables for embedding calls.
type EmbeddingConfig struct {
	Timeout   time.Duration
	BatchSize int
}

// EmbeddingService keeps the vector index in sync with accepted
// feedbacks. Upserts after message commit are asynchronous and never
// fail the message; RebuildIndex reconciles whatever was missed.
type EmbeddingService interface {
	// Upsert embeds one feedback and writes it to the index.
	Upsert(ctx context.Context, fb *models.Feedback) error

	// UpsertAsync runs Upsert on a background goroutine with its own
	// timeout. Failures are logged only.
	UpsertAsync(fb *models.Feedback)

	// Delete removes feedbacks from the index after a soft delete.
	Delete(ctx context.Context, feedbackIDs ...int64) error

	// EmbedQuery embeds free-form query text for semantic search.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// RebuildIndex re-embeds every non-deleted feedback. Offline repair
	// for upserts lost to transient failures.
	RebuildIndex(ctx context.Context) error

	// Wait blocks until in-flight async upserts drain. Shutdown hook.
	Wait()
}

type embeddingService struct {
	client     llm.LLMClient
	index      vectorindex.Index
	pool       *llm.WorkerPool
	professors repositories.ProfessorRepository
	feedbacks  repositories.FeedbackRepository
	config     EmbeddingConfig
	logger     *zap.Logger

	inflight sync.WaitGroup
}

// NewEmbeddingService creates the embedding pipeline. The worker pool
// bounds concurrent embedding calls alongside extraction traffic.
func NewEmbeddingService(client llm.LLMClient, index vectorindex.Index, pool *llm.WorkerPool, professors repositories.ProfessorRepository, feedbacks repositories.FeedbackRepository, config EmbeddingConfig, logger *zap.Logger) EmbeddingService {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	return &embeddingService{
		client:     client,
		index:      index,
		pool:       pool,
		professors: professors,
		feedbacks:  feedbacks,
		config:     config,
		logger:     logger.Named("embedding"),
	}
}

var _ EmbeddingService = (*embeddingService)(nil)

// embeddingText is what gets embedded for one feedback: the extraction
// summary when present, falling back to the raw message text.
func embeddingText(fb *models.Feedback) string {
	if s := strings.TrimSpace(fb.Summary); s != "" {
		return s
	}
	return strings.TrimSpace(fb.Text)
}

func (s *embeddingService) Upsert(ctx context.Context, fb *models.Feedback) error {
	text := embeddingText(fb)
	if text == "" {
		return nil
	}

	vector, err := s.client.CreateEmbedding(ctx, text, "")
	if err != nil {
		return fmt.Errorf("failed to embed feedback %d: %w", fb.ID, err)
	}

	err = s.index.Upsert(ctx, []vectorindex.Point{{
		FeedbackID:  fb.ID,
		ProfessorID: fb.ProfessorID,
		Vector:      vector,
	}})
	if err != nil {
		return fmt.Errorf("failed to index feedback %d: %w", fb.ID, err)
	}
	return nil
}

func (s *embeddingService) UpsertAsync(fb *models.Feedback) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		// Independent of the caller's context: the message transaction
		// is already committed.
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
		defer cancel()

		if err := s.Upsert(ctx, fb); err != nil {
			s.logger.Warn("async embedding upsert failed; index rebuild will reconcile",
				zap.Int64("feedback_id", fb.ID),
				zap.Error(err))
		}
	}()
}

func (s *embeddingService) Delete(ctx context.Context, feedbackIDs ...int64) error {
	if len(feedbackIDs) == 0 {
		return nil
	}
	if err := s.index.Delete(ctx, feedbackIDs); err != nil {
		return fmt.Errorf("failed to delete from index: %w", err)
	}
	return nil
}

func (s *embeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vector, err := s.client.CreateEmbedding(ctx, query, "")
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return vector, nil
}

func (s *embeddingService) RebuildIndex(ctx context.Context) error {
	profs, err := s.professors.List(ctx)
	if err != nil {
		return err
	}

	var batches [][]*models.Feedback
	var current []*models.Feedback
	for _, prof := range profs {
		feedbacks, err := s.feedbacks.ListByProfessor(ctx, prof.ID, 0)
		if err != nil {
			return err
		}
		for _, fb := range feedbacks {
			if embeddingText(fb) == "" {
				continue
			}
			current = append(current, fb)
			if len(current) == s.config.BatchSize {
				batches = append(batches, current)
				current = nil
			}
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	items := make([]llm.WorkItem[int], 0, len(batches))
	for i, batch := range batches {
		batch := batch
		items = append(items, llm.WorkItem[int]{
			ID: fmt.Sprintf("batch-%d", i),
			Execute: func(ctx context.Context) (int, error) {
				return len(batch), s.embedBatch(ctx, batch)
			},
		})
	}

	results := llm.Process(ctx, s.pool, items, nil)
	var indexed int
	for _, res := range results {
		if res.Err != nil {
			return fmt.Errorf("index rebuild failed: %w", res.Err)
		}
		indexed += res.Result
	}

	s.logger.Info("rebuilt vector index", zap.Int("feedbacks", indexed))
	return nil
}

func (s *embeddingService) embedBatch(ctx context.Context, batch []*models.Feedback) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	texts := make([]string, len(batch))
	for i, fb := range batch {
		texts[i] = embeddingText(fb)
	}

	vectors, err := s.client.CreateEmbeddings(ctx, texts, "")
	if err != nil {
		return err
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embedding count mismatch: got %d for %d texts", len(vectors), len(batch))
	}

	points := make([]vectorindex.Point, len(batch))
	for i, fb := range batch {
		points[i] = vectorindex.Point{
			FeedbackID:  fb.ID,
			ProfessorID: fb.ProfessorID,
			Vector:      vectors[i],
		}
	}
	return s.index.Upsert(ctx, points)
}

func (s *embeddingService) Wait() {
	s.inflight.Wait()
}
