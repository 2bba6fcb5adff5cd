package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wut-feedback/feedback-engine/pkg/apperrors"
	"github.com/wut-feedback/feedback-engine/pkg/config"
	"github.com/wut-feedback/feedback-engine/pkg/database"
	"github.com/wut-feedback/feedback-engine/pkg/llm"
	"github.com/wut-feedback/feedback-engine/pkg/models"
	"github.com/wut-feedback/feedback-engine/pkg/repositories"
	"github.com/wut-feedback/feedback-engine/pkg/textutil"
)

// MessageSource abstracts the chat platform the pipeline reads from.
type MessageSource interface {
	// Platform is the stable identifier stored on markers and feedbacks.
	Platform() string
	// FetchHistory returns up to limit messages with id greater than
	// afterID, oldest first. An empty slice means history is exhausted.
	FetchHistory(ctx context.Context, afterID int64, limit int) ([]*models.Message, error)
	// Subscribe delivers new messages to handler until ctx ends. The
	// handler must not block.
	Subscribe(ctx context.Context, handler func(msg *models.Message)) error
}

// IngestService runs the message pipeline: historical bulk import, live
// monitoring, or both.
type IngestService interface {
	// Run dispatches on the configured mode.
	Run(ctx context.Context) error
	RunBulk(ctx context.Context) (*models.BulkImportLog, error)
	RunMonitor(ctx context.Context) error

	// ProcessMessage takes one message through the full pipeline:
	// normalize, extract, resolve, persist, aggregate, finalize — the
	// database work in one transaction. Returns the recorded outcome, or
	// apperrors.ErrAlreadyProcessed when the message was seen before.
	ProcessMessage(ctx context.Context, msg *models.Message) (string, error)
}

type pageCounts struct {
	accepted int64
	rejected int64
	failed   int64
}

type ingestService struct {
	source      MessageSource
	tx          database.TxRunner
	extraction  ExtractionService
	resolver    ResolverService
	aggregation AggregationService
	embedding   EmbeddingService
	professors  repositories.ProfessorRepository
	courses     repositories.CourseRepository
	feedbacks   repositories.FeedbackRepository
	markers     repositories.ProcessedMessageRepository
	bulkRuns    repositories.BulkImportRepository
	pool        *llm.WorkerPool
	config      config.IngestConfig
	logger      *zap.Logger

	// droppedFloor is the lowest message id shed under backpressure since
	// the last sweep. The sweep must start below it: finalizing any later
	// message pushes the marker watermark past the dropped id, and a sweep
	// from the watermark alone would never see it again.
	mu           sync.Mutex
	droppedFloor int64
}

// NewIngestService wires the ingestion orchestrator.
func NewIngestService(
	source MessageSource,
	tx database.TxRunner,
	extraction ExtractionService,
	resolver ResolverService,
	aggregation AggregationService,
	embedding EmbeddingService,
	professors repositories.ProfessorRepository,
	courses repositories.CourseRepository,
	feedbacks repositories.FeedbackRepository,
	markers repositories.ProcessedMessageRepository,
	bulkRuns repositories.BulkImportRepository,
	pool *llm.WorkerPool,
	cfg config.IngestConfig,
	logger *zap.Logger,
) IngestService {
	return &ingestService{
		source:      source,
		tx:          tx,
		extraction:  extraction,
		resolver:    resolver,
		aggregation: aggregation,
		embedding:   embedding,
		professors:  professors,
		courses:     courses,
		feedbacks:   feedbacks,
		markers:     markers,
		bulkRuns:    bulkRuns,
		pool:        pool,
		config:      cfg,
		logger:      logger.Named("ingest"),
	}
}

var _ IngestService = (*ingestService)(nil)

func (s *ingestService) Run(ctx context.Context) error {
	switch s.config.Mode {
	case "bulk":
		_, err := s.RunBulk(ctx)
		return err
	case "monitor":
		return s.RunMonitor(ctx)
	case "hybrid":
		if _, err := s.RunBulk(ctx); err != nil {
			return err
		}
		return s.RunMonitor(ctx)
	default:
		return fmt.Errorf("unknown ingest mode %q", s.config.Mode)
	}
}

func (s *ingestService) ProcessMessage(ctx context.Context, msg *models.Message) (string, error) {
	// Fast path: skip the LLM for messages already in the ledger. The
	// in-transaction claim below still guards against races.
	if _, err := s.markers.Get(ctx, msg.Platform, msg.ID); err == nil {
		return "", apperrors.ErrAlreadyProcessed
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return "", err
	}

	cleaned := textutil.CleanText(msg.Text)
	if msg.MediaOnly || cleaned == "" || textutil.TooShort(cleaned) {
		return s.recordRejection(ctx, msg, models.OutcomeRejectedNonFeedback, "")
	}

	result, err := s.extraction.Extract(ctx, cleaned)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Warn("extraction failed",
			zap.String("platform", msg.Platform),
			zap.Int64("message_id", msg.ID),
			zap.Error(err))
		return s.recordRejection(ctx, msg, models.OutcomeFailedExtraction, err.Error())
	}

	switch result.Status {
	case ExtractionNonFeedback:
		return s.recordRejection(ctx, msg, models.OutcomeRejectedNonFeedback, "")
	case ExtractionLowConfidence:
		return s.recordRejection(ctx, msg, models.OutcomeRejectedLowConfidence, "")
	case ExtractionInappropriate:
		return s.recordRejection(ctx, msg, models.OutcomeRejectedInappropriate, "")
	}

	return s.persistAccepted(ctx, msg, cleaned, result.Candidate)
}

// recordRejection claims the message and finalizes it with a rejection
// outcome in one transaction.
func (s *ingestService) recordRejection(ctx context.Context, msg *models.Message, outcome, errMsg string) (string, error) {
	err := s.tx.RunInTx(ctx, func(q database.Querier) error {
		markers := s.markers.WithTx(q)
		claimed, err := markers.TryClaim(ctx, msg.Platform, msg.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return apperrors.ErrAlreadyProcessed
		}
		return markers.Finalize(ctx, msg.Platform, msg.ID, outcome, nil, errMsg)
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// persistAccepted commits claim, entities, feedback, aggregates, and the
// final marker atomically, then kicks off the async embedding upsert.
func (s *ingestService) persistAccepted(ctx context.Context, msg *models.Message, cleaned string, candidate *FeedbackCandidate) (string, error) {
	var fb *models.Feedback

	err := s.tx.RunInTx(ctx, func(q database.Querier) error {
		markers := s.markers.WithTx(q)
		claimed, err := markers.TryClaim(ctx, msg.Platform, msg.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return apperrors.ErrAlreadyProcessed
		}

		resolver := s.resolver.WithTx(q)
		prof, _, err := resolver.ResolveProfessor(ctx, candidate.ProfessorName, candidate.ProfessorNameNormalized)
		if err != nil {
			return fmt.Errorf("failed to resolve professor: %w", err)
		}

		// Row lock so concurrent messages about the same professor fold
		// their aggregates serially.
		prof, err = s.professors.WithTx(q).LockForUpdate(ctx, prof.ID)
		if err != nil {
			return err
		}

		var courseID *int64
		course, _, err := resolver.ResolveCourse(ctx, candidate.CourseCode, candidate.CourseName)
		if err != nil {
			return fmt.Errorf("failed to resolve course: %w", err)
		}
		if course != nil {
			courseID = &course.ID
		}

		fb = &models.Feedback{
			ProfessorID:     prof.ID,
			CourseID:        courseID,
			Platform:        msg.Platform,
			SourceMessageID: msg.ID,
			AuthorID:        msg.AuthorID,
			MessageDate:     msg.Date,
			Text:            cleaned,
			Summary:         candidate.Summary,
			ExplicitRating:  candidate.ExplicitRating,
			InferredRating:  candidate.InferredRating,
			Rating:          candidate.Rating(),
			Sentiment:       candidate.Sentiment,
			Aspects:         candidate.Aspects,
			Strengths:       candidate.Strengths,
			Weaknesses:      candidate.Weaknesses,
			Confidence:      candidate.Confidence,
			Language:        candidate.Language,
		}
		if err := s.feedbacks.WithTx(q).Create(ctx, fb); err != nil {
			return err
		}

		if courseID != nil {
			if err := s.courses.WithTx(q).IncrementFeedbackCount(ctx, *courseID); err != nil {
				return err
			}
		}

		if err := s.aggregation.WithTx(q).Apply(ctx, prof, fb); err != nil {
			return err
		}

		return markers.Finalize(ctx, msg.Platform, msg.ID, models.OutcomeAccepted, &fb.ID, "")
	})
	if err != nil {
		return "", err
	}

	s.embedding.UpsertAsync(fb)
	s.aggregation.InvalidateSnapshots(ctx)
	return models.OutcomeAccepted, nil
}

func (s *ingestService) RunBulk(ctx context.Context) (*models.BulkImportLog, error) {
	afterID := int64(0)
	if latest, err := s.bulkRuns.Latest(ctx, s.source.Platform()); err == nil {
		afterID = latest.Watermark
		if latest.Resumable() {
			s.logger.Info("resuming failed bulk import",
				zap.Int64("watermark", latest.Watermark))
		}
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	run := &models.BulkImportLog{
		Platform:  s.source.Platform(),
		Status:    models.BulkImportRunning,
		Watermark: afterID,
	}
	if err := s.bulkRuns.Create(ctx, run); err != nil {
		return nil, err
	}

	s.logger.Info("bulk import started",
		zap.String("platform", run.Platform),
		zap.Int64("after_id", afterID),
		zap.Int("limit", s.config.BulkLimit))

	for run.Scanned < int64(s.config.BulkLimit) {
		page, err := s.source.FetchHistory(ctx, run.Watermark, s.config.BulkBatchSize)
		if err != nil {
			return run, s.failRun(ctx, run, fmt.Errorf("failed to fetch history: %w", err))
		}
		if len(page) == 0 {
			break
		}

		counts, err := s.processPage(ctx, page)
		run.Accepted += counts.accepted
		run.Rejected += counts.rejected
		run.Failed += counts.failed
		run.Scanned += int64(len(page))
		if err != nil {
			return run, s.failRun(ctx, run, err)
		}

		// The page finished, so the watermark may jump to its end.
		if last := page[len(page)-1].ID; last > run.Watermark {
			run.Watermark = last
		}
		if err := s.bulkRuns.UpdateProgress(ctx, run); err != nil {
			return run, s.failRun(ctx, run, err)
		}
	}

	run.Status = models.BulkImportCompleted
	if err := s.bulkRuns.Complete(ctx, run); err != nil {
		return run, err
	}

	s.embedding.Wait()
	s.logger.Info("bulk import completed",
		zap.Int64("scanned", run.Scanned),
		zap.Int64("accepted", run.Accepted),
		zap.Int64("rejected", run.Rejected),
		zap.Int64("failed", run.Failed))
	return run, nil
}

// failRun marks the run failed, preserving the watermark so the next run
// resumes instead of re-reading history.
func (s *ingestService) failRun(ctx context.Context, run *models.BulkImportLog, cause error) error {
	run.Status = models.BulkImportFailed
	run.Error = cause.Error()
	if err := s.bulkRuns.Complete(ctx, run); err != nil {
		s.logger.Error("failed to record bulk import failure", zap.Error(err))
	}
	return cause
}

// processPage runs one page of messages through the worker pool.
// Extraction calls dominate, so the pool's semaphore is what bounds
// concurrency.
func (s *ingestService) processPage(ctx context.Context, page []*models.Message) (pageCounts, error) {
	items := make([]llm.WorkItem[string], 0, len(page))
	for _, msg := range page {
		msg := msg
		items = append(items, llm.WorkItem[string]{
			ID: fmt.Sprintf("%s:%d", msg.Platform, msg.ID),
			Execute: func(ctx context.Context) (string, error) {
				return s.ProcessMessage(ctx, msg)
			},
		})
	}

	var counts pageCounts
	var firstErr error
	for _, res := range llm.Process(ctx, s.pool, items, nil) {
		switch {
		case errors.Is(res.Err, apperrors.ErrAlreadyProcessed):
			// Overlap with a previous run; the ledger absorbed it.
		case res.Err != nil:
			counts.failed++
			if firstErr == nil {
				firstErr = res.Err
			}
		case res.Result == models.OutcomeAccepted:
			counts.accepted++
		case res.Result == models.OutcomeFailedExtraction:
			counts.failed++
		default:
			counts.rejected++
		}
	}

	// A context error aborts the run; per-message failures are already
	// recorded in the ledger and only counted.
	if firstErr != nil && (errors.Is(firstErr, context.Canceled) || errors.Is(firstErr, context.DeadlineExceeded)) {
		return counts, firstErr
	}
	return counts, nil
}

func (s *ingestService) RunMonitor(ctx context.Context) error {
	intake := make(chan *models.Message, s.config.MonitorBatchSize)
	subscribeErr := make(chan error, 1)

	go func() {
		subscribeErr <- s.source.Subscribe(ctx, func(msg *models.Message) {
			select {
			case intake <- msg:
			default:
				// Intake is full. Dropping here is safe: noteDropped
				// lowers the sweep's starting point so the message is
				// re-read from history.
				s.noteDropped(msg.ID)
				s.logger.Warn("monitor intake full, deferring message to sweep",
					zap.Int64("message_id", msg.ID))
			}
		})
	}()

	sweepInterval := s.config.SweepInterval()
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Minute
	}
	sweep := make(chan struct{}, 1)
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case sweep <- struct{}{}:
				default:
				}
			}
		}
	}()

	s.logger.Info("monitor started",
		zap.String("platform", s.source.Platform()),
		zap.Duration("sweep_interval", s.config.SweepInterval()))

	for {
		select {
		case <-ctx.Done():
			// Drain whatever already made it into the intake buffer.
			s.drainIntake(intake)
			s.embedding.Wait()
			return nil
		case err := <-subscribeErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("message source subscription failed: %w", err)
			}
			s.drainIntake(intake)
			s.embedding.Wait()
			return nil
		case msg := <-intake:
			if _, err := s.ProcessMessage(ctx, msg); err != nil && !errors.Is(err, apperrors.ErrAlreadyProcessed) {
				s.logger.Error("failed to process message",
					zap.Int64("message_id", msg.ID),
					zap.Error(err))
			}
		case <-sweep:
			if err := s.reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// noteDropped records a message shed under backpressure, keeping the
// lowest id so the next sweep starts below every dropped message.
func (s *ingestService) noteDropped(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.droppedFloor == 0 || id < s.droppedFloor {
		s.droppedFloor = id
	}
}

// takeDroppedFloor returns the recorded floor and resets it. Zero means
// nothing was dropped since the last sweep.
func (s *ingestService) takeDroppedFloor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	floor := s.droppedFloor
	s.droppedFloor = 0
	return floor
}

// reconcile pages through history above the finalized watermark, picking
// up messages the intake dropped or the process missed while down. When
// messages were shed under backpressure the sweep starts below the lowest
// dropped id; markers make re-reading already-finalized messages a no-op.
func (s *ingestService) reconcile(ctx context.Context) (err error) {
	floor := s.takeDroppedFloor()
	defer func() {
		// A failed sweep must not lose the floor; the next sweep retries.
		if err != nil && floor > 0 {
			s.noteDropped(floor)
		}
	}()

	watermark, err := s.markers.MaxSourceMessageID(ctx, s.source.Platform())
	if err != nil {
		return err
	}
	if floor > 0 && floor-1 < watermark {
		watermark = floor - 1
	}

	var swept int
	for {
		page, err := s.source.FetchHistory(ctx, watermark, s.config.MonitorBatchSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		if _, err := s.processPage(ctx, page); err != nil {
			return err
		}
		swept += len(page)
		watermark = page[len(page)-1].ID
	}

	if swept > 0 {
		s.logger.Info("reconciliation sweep processed messages", zap.Int("count", swept))
	}
	return nil
}

func (s *ingestService) drainIntake(intake chan *models.Message) {
	perMessage := 2 * s.config.MonitorInterval()
	if perMessage <= 0 {
		perMessage = time.Minute
	}
	for {
		select {
		case msg := <-intake:
			// Shutdown context is gone; give each message its own bound.
			ctx, cancel := context.WithTimeout(context.Background(), perMessage)
			_, err := s.ProcessMessage(ctx, msg)
			cancel()
			if err != nil && !errors.Is(err, apperrors.ErrAlreadyProcessed) {
				s.logger.Error("failed to drain message",
					zap.Int64("message_id", msg.ID),
					zap.Error(err))
			}
		default:
			return
		}
	}
}
