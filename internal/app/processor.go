package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/shareview/internal/adapters/bootstrap"
	"github.com/okian/shareview/internal/adapters/codec"
	"github.com/okian/shareview/internal/adapters/mq/queue"
	"github.com/okian/shareview/internal/adapters/repository"
	"github.com/okian/shareview/internal/domain/aggregate"
	"github.com/okian/shareview/internal/domain/event"
	"github.com/okian/shareview/internal/domain/reducer"
	"github.com/okian/shareview/internal/domain/shares"
	"github.com/okian/shareview/internal/domain/snapshot"
	"github.com/okian/shareview/internal/domain/view"
	"github.com/okian/shareview/pkg/logger"
	"github.com/okian/shareview/pkg/metrics"
)

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithBootstrapper sets the bootstrapper run before the first batch.
func WithBootstrapper(b *bootstrap.Bootstrapper) ProcessorOption {
	return func(p *Processor) { p.boot = b }
}

// WithVerify enables a from-scratch recompute of the aggregates after every
// batch.
func WithVerify(enabled bool) ProcessorOption {
	return func(p *Processor) { p.verify = enabled }
}

// WithProcessorLogger sets the processor logger.
func WithProcessorLogger(l logger.Logger) ProcessorOption {
	return func(p *Processor) { p.log = l }
}

// Processor applies one batch of raw blocks to the store. Batches must be
// handed over in chain order by a single caller.
type Processor struct {
	store    repository.Store
	registry *codec.Registry
	reducer  *reducer.Reducer
	strategy aggregate.Strategy
	boot     *bootstrap.Bootstrapper
	verify   bool
	log      logger.Logger

	// mu serializes Process. statsMu guards the fields below it for readers
	// that must not wait for a batch in flight.
	mu          sync.Mutex
	initialized bool

	statsMu   sync.RWMutex
	cursor    uint64
	hasCursor bool
	latest    *time.Time
	committed uint64
	events    uint64
	snapshots uint64
	lastBatch string
}

// NewProcessor wires the reducer pipeline on top of store.
func NewProcessor(store repository.Store, registry *codec.Registry, f shares.Func, strategy aggregate.Strategy, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:    store,
		registry: registry,
		reducer:  reducer.New(f, strategy),
		strategy: strategy,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Get().Named("processor")
	}
	if p.boot == nil {
		p.boot = bootstrap.New(f, bootstrap.WithLogger(p.log))
	}
	return p
}

// Process decodes, folds and commits one batch. Nothing is written unless
// every step succeeds.
func (p *Processor) Process(ctx context.Context, it queue.Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	log := p.log.With(logger.String("batch_id", it.ID))

	if err := p.init(ctx, log); err != nil {
		metrics.RecordBatchFailed("bootstrap")
		return err
	}

	raw := p.pending(it.Blocks)
	if len(raw) == 0 {
		log.Debug(ctx, "batch already applied", logger.Uint64("cursor", p.cursor))
		return nil
	}

	batch, err := p.registry.DecodeBlocks(raw)
	if err != nil {
		metrics.RecordBatchFailed("decode")
		return fmt.Errorf("%w: decode: %w", ErrFatal, err)
	}

	ws, err := view.Load(ctx, p.store, batch, p.strategy.FullScan() || p.verify)
	if err != nil {
		metrics.RecordBatchFailed("load")
		return fmt.Errorf("load working set: %w", err)
	}

	last, _ := batch.Last()
	emitter := snapshot.NewEmitter(p.latest)
	err = batch.ForEachBlock(func(blk event.Block, envs []event.Envelope) error {
		for _, env := range envs {
			if err := p.reducer.Apply(ws, env); err != nil {
				return err
			}
			metrics.RecordEventApplied(string(env.Event.Kind()))
		}
		// Blocks without events only count when they close the batch.
		if len(envs) == 0 && blk.Height != last.Height {
			return nil
		}
		if !emitter.Observe(blk.Time, ws.Global().IdleWorkerShares) {
			metrics.RecordSnapshotSkipped()
		}
		return nil
	})
	if err != nil {
		metrics.RecordBatchFailed("reduce")
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}

	if err := p.strategy.Finish(ws.Global(), ws.Sessions(), ws.Complete()); err != nil {
		metrics.RecordBatchFailed("aggregate")
		return fmt.Errorf("%w: finish %s: %w", ErrFatal, p.strategy.Name(), err)
	}
	if p.verify {
		if err := aggregate.Verify(ws.Global(), ws.Sessions()); err != nil {
			metrics.RecordBatchFailed("verify")
			return fmt.Errorf("%w: %w", ErrFatal, err)
		}
	}

	height := last.Height
	sessions, workers := ws.Changes()
	changes := repository.Changes{
		Global:    ws.Global().Clone(),
		Sessions:  sessions,
		Workers:   workers,
		Snapshots: emitter.Pending(),
		Height:    &height,
	}
	if err := p.store.Commit(ctx, changes); err != nil {
		metrics.RecordBatchFailed("commit")
		return err
	}

	p.statsMu.Lock()
	p.cursor, p.hasCursor = height, true
	p.latest = emitter.Latest()
	p.committed++
	p.events += uint64(batch.Len())
	p.snapshots += uint64(len(changes.Snapshots))
	p.lastBatch = it.ID
	p.statsMu.Unlock()

	g := changes.Global
	idle, _ := g.IdleWorkerShares.Float64()
	ns, nw := ws.Size()
	metrics.RecordBatchCommitted()
	metrics.RecordBatchLatency(float64(time.Since(start).Milliseconds()))
	metrics.RecordBlocksProcessed(len(batch.Blocks))
	metrics.RecordSnapshotsWritten(len(changes.Snapshots))
	metrics.UpdateLastCommittedHeight(last.Height)
	metrics.UpdateGlobalState(idle, g.IdleWorkerCount, g.WorkerCount)
	metrics.UpdateWorkingSetSize(ns, nw)

	log.Info(ctx, "batch committed",
		logger.Uint64("from", batch.Blocks[0].Height),
		logger.Uint64("to", last.Height),
		logger.Int("events", batch.Len()),
		logger.Int("sessions", len(sessions)),
		logger.Int("workers", len(workers)),
		logger.Int("snapshots", len(changes.Snapshots)),
		logger.String("idle_worker_shares", g.IdleWorkerShares.String()),
		logger.Duration("took", time.Since(start)),
	)
	return nil
}

// init bootstraps the store and loads the cursor and latest snapshot once.
func (p *Processor) init(ctx context.Context, log logger.Logger) error {
	if p.initialized {
		return nil
	}
	if _, err := p.boot.Ensure(ctx, p.store); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	height, ok, err := p.store.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	snap, err := p.store.LatestSnapshot(ctx)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("read latest snapshot: %w", err)
	}
	p.statsMu.Lock()
	if ok {
		p.cursor, p.hasCursor = height, true
	}
	if err == nil {
		t := snap.BucketStart
		p.latest = &t
	}
	p.statsMu.Unlock()
	p.initialized = true
	log.Info(ctx, "processor ready",
		logger.Uint64("cursor", p.cursor),
		logger.String("strategy", p.strategy.Name()),
		logger.Bool("verify", p.verify),
	)
	return nil
}

// pending drops blocks at or below the committed cursor so a replayed
// prefix is a no-op.
func (p *Processor) pending(blocks []codec.RawBlock) []codec.RawBlock {
	if !p.hasCursor {
		return blocks
	}
	out := make([]codec.RawBlock, 0, len(blocks))
	for _, b := range blocks {
		if b.Height > p.cursor {
			out = append(out, b)
		}
	}
	return out
}

// ProcessorStats is a point-in-time view of the processor.
type ProcessorStats struct {
	Cursor           uint64
	LatestBucket     *time.Time
	BatchesCommitted uint64
	EventsApplied    uint64
	SnapshotsWritten uint64
	LastBatchID      string
	Strategy         string
}

// Stats returns counters since the processor was created.
func (p *Processor) Stats() ProcessorStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	var latest *time.Time
	if p.latest != nil {
		t := *p.latest
		latest = &t
	}
	return ProcessorStats{
		Cursor:           p.cursor,
		LatestBucket:     latest,
		BatchesCommitted: p.committed,
		EventsApplied:    p.events,
		SnapshotsWritten: p.snapshots,
		LastBatchID:      p.lastBatch,
		Strategy:         p.strategy.Name(),
	}
}
