package llm

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// WorkerPoolConfig configures the LLM worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int // upper bound on in-flight LLM calls
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{MaxConcurrent: 4}
}

// WorkerPool bounds the parallelism of LLM calls. Extraction and embedding
// batches fan their messages through it so a bulk import cannot flood the
// endpoint past what its rate limits tolerate.
type WorkerPool struct {
	limit  int
	logger *zap.Logger
}

// NewWorkerPool creates a worker pool with the given concurrency bound.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	limit := config.MaxConcurrent
	if limit < 1 {
		limit = DefaultWorkerPoolConfig().MaxConcurrent
	}
	return &WorkerPool{
		limit:  limit,
		logger: logger.Named("llm-worker-pool"),
	}
}

// WorkItem is one unit of work, identified for logging.
type WorkItem[T any] struct {
	ID      string
	Execute func(ctx context.Context) (T, error)
}

// WorkResult pairs a work item's ID with its outcome.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process runs all items through the pool and returns their results in
// completion order. A failed item does not stop the rest of the batch; the
// caller inspects each result's Err. Items that never acquire a slot before
// the context ends report the context error.
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	out := make(chan WorkResult[T], len(items))
	slots := make(chan struct{}, pool.limit)

	var wg sync.WaitGroup
	wg.Add(len(items))
	for _, item := range items {
		go func(item WorkItem[T]) {
			defer wg.Done()
			out <- runItem(ctx, slots, item)
		}(item)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]WorkResult[T], 0, len(items))
	for res := range out {
		results = append(results, res)
		if onProgress != nil {
			onProgress(len(results), len(items))
		}
	}
	return results
}

// runItem waits for a slot, then executes the item. Methods cannot carry
// type parameters, hence the free function.
func runItem[T any](ctx context.Context, slots chan struct{}, item WorkItem[T]) WorkResult[T] {
	select {
	case slots <- struct{}{}:
		defer func() { <-slots }()
	case <-ctx.Done():
		var zero T
		return WorkResult[T]{ID: item.ID, Result: zero, Err: ctx.Err()}
	}

	result, err := item.Execute(ctx)
	return WorkResult[T]{ID: item.ID, Result: result, Err: err}
}
