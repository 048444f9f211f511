// Package worker runs the single consumer that folds queued batches into
// the view. Batches must be applied strictly in order, so there is exactly
// one worker and it halts on the first failed batch.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/shareview/internal/adapters/mq/queue"
	"github.com/okian/shareview/pkg/logger"
	"github.com/okian/shareview/pkg/metrics"
)

// ErrHalted is returned by Run after a batch failed.
var ErrHalted = errors.New("worker halted")

// Processor applies one batch and commits it.
type Processor interface {
	Process(ctx context.Context, it queue.Item) error
}

// Queue defines how the worker receives batches.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Item
}

// Worker processes batches until the queue drains or a batch fails.
type Worker interface {
	// Run blocks until ctx is canceled, Shutdown is called, the queue
	// closes, or a batch fails.
	Run(ctx context.Context) error

	// Shutdown stops the worker after the batch in flight.
	Shutdown(ctx context.Context) error
}

// BatchWorker implements Worker.
type BatchWorker struct {
	queue     Queue
	processor Processor
	name      string
	onHalt    func(error)

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewBatchWorker creates a worker reading from q.
func NewBatchWorker(q Queue, p Processor, opts ...Option) *BatchWorker {
	w := &BatchWorker{
		queue:     q,
		processor: p,
		name:      "worker",
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *BatchWorker) Run(ctx context.Context) error {
	defer close(w.done)
	metrics.UpdateWorkerActiveCount(1)
	defer metrics.UpdateWorkerActiveCount(0)

	items := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.shutdown:
			return nil
		case it, ok := <-items:
			if !ok {
				return nil
			}
			if err := w.process(ctx, it); err != nil {
				if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
					return nil
				}
				if w.onHalt != nil {
					w.onHalt(err)
				}
				return fmt.Errorf("%w: batch %s: %w", ErrHalted, it.ID, err)
			}
		}
	}
}

func (w *BatchWorker) process(ctx context.Context, it queue.Item) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := w.processor.Process(ctx, it); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "process")
		w.logger.Error(ctx, "batch failed, halting",
			logger.String("batch_id", it.ID),
			logger.Int("blocks", len(it.Blocks)),
			logger.Error(err),
		)
		return err
	}
	return nil
}

// Shutdown gracefully stops the worker.
func (w *BatchWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
