// Package queue hands raw block batches from the event source to the
// reducer. Order is preserved and producers block when the queue is full,
// since a dropped batch would leave a gap in the event stream.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/shareview/internal/adapters/codec"
	"github.com/okian/shareview/pkg/metrics"
)

const defaultQueueCapacity = 16

// Item is one batch of raw blocks.
type Item struct {
	ID         string
	Blocks     []codec.RawBlock
	EnqueuedAt time.Time
}

// Queue provides blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a batch, waiting for room. It fails with ErrClosed after
	// Close or with the context error.
	Enqueue(ctx context.Context, it Item) error

	// Dequeue returns a channel that receives batches in enqueue order.
	// The channel is closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Item

	// Len returns the current number of queued batches.
	Len(ctx context.Context) int

	// Close stops accepting batches.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	items    chan Item
	capacity int

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.items = make(chan Item, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// Enqueue adds a batch to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, it Item) error {
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = time.Now()
	}
	select {
	case <-q.done:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	default:
	}

	select {
	case q.items <- it:
		metrics.RecordQueueEnqueue()
		q.observe()
		return nil
	case <-q.done:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return ctx.Err()
	}
}

// Dequeue returns a channel that will receive batches as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Item {
	out := make(chan Item)
	go func() {
		defer close(out)
		for {
			select {
			case it := <-q.items:
				if !q.forward(ctx, out, it) {
					return
				}
			case <-q.done:
				for {
					select {
					case it := <-q.items:
						if !q.forward(ctx, out, it) {
							return
						}
					default:
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (q *InMemoryQueue) forward(ctx context.Context, out chan<- Item, it Item) bool {
	select {
	case out <- it:
		metrics.RecordQueueDequeue()
		metrics.RecordQueueProcessingLatency(float64(time.Since(it.EnqueuedAt).Milliseconds()))
		q.observe()
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *InMemoryQueue) observe() {
	size := len(q.items)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

// Len returns the current number of queued batches.
func (q *InMemoryQueue) Len(context.Context) int {
	q.observe()
	return len(q.items)
}

// Close stops accepting batches. Batches already queued are still delivered.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
