package llm

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkerPoolConfig configures the embedding worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int // Maximum concurrent embedding calls (default: 4)
}

// DefaultWorkerPoolConfig returns the pool settings used when none are configured.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{MaxConcurrent: 4}
}

// WorkerPool runs embedding calls with bounded parallelism.
type WorkerPool struct {
	config WorkerPoolConfig
	logger *zap.Logger
}

// NewWorkerPool creates a new embedding worker pool.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = DefaultWorkerPoolConfig().MaxConcurrent
	}
	return &WorkerPool{
		config: config,
		logger: logger.Named("embedding-pool"),
	}
}

// WorkItem is one unit of work, keyed by the id of the row it belongs to.
type WorkItem[T any] struct {
	ID      int64
	Execute func(ctx context.Context) (T, error)
}

// WorkResult is the outcome of one WorkItem.
type WorkResult[T any] struct {
	ID     int64
	Result T
	Err    error
}

// Process runs every item and returns the results in submission order.
// A failing item does not stop the others. Items that have not started when
// ctx is done fail with ctx.Err().
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], len(items))
	var completed atomic.Int32

	var g errgroup.Group
	g.SetLimit(pool.config.MaxConcurrent)
	for i, item := range items {
		g.Go(func() error {
			results[i].ID = item.ID
			if err := ctx.Err(); err != nil {
				results[i].Err = err
			} else {
				results[i].Result, results[i].Err = item.Execute(ctx)
			}

			done := int(completed.Add(1))
			if onProgress != nil {
				onProgress(done, len(items))
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	pool.logger.Debug("Processed work items",
		zap.Int("total", len(items)),
		zap.Int("failed", failed))
	return results
}
