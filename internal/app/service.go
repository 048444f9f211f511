// Package app wires the event source, the batch queue, the reducer pipeline
// and the entity store into one service and exposes the read side used by
// the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/shareview/internal/adapters/bootstrap"
	"github.com/okian/shareview/internal/adapters/codec"
	"github.com/okian/shareview/internal/adapters/mq/queue"
	"github.com/okian/shareview/internal/adapters/mq/worker"
	"github.com/okian/shareview/internal/adapters/repository"
	"github.com/okian/shareview/internal/adapters/source"
	"github.com/okian/shareview/internal/domain/aggregate"
	"github.com/okian/shareview/internal/domain/model"
	"github.com/okian/shareview/internal/domain/shares"
	"github.com/okian/shareview/pkg/logger"
	"github.com/okian/shareview/pkg/metrics"
)

const (
	defaultQueueSize       = 16
	defaultShutdownTimeout = 10 * time.Second
)

// ErrInvalidID is returned by lookups with an id that cannot be normalized.
var ErrInvalidID = errors.New("invalid id")

// Service owns the indexing pipeline and answers read queries.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	source    source.Source
	queue     *queue.InMemoryQueue
	processor *Processor
	worker    *worker.BatchWorker

	// Configuration
	queueSize  int
	strategy   string
	verify     bool
	ss58Prefix uint16
	dumpSource string
	httpClient *http.Client
	shareFunc  shares.Func

	// State
	started   bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	haltErr   error

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the entity store. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithSource sets the raw block source. Without one, batches only arrive
// through Ingest.
func WithSource(src source.Source) Option {
	return func(s *Service) { s.source = src }
}

// WithQueueSize sets how many batches may wait for the reducer.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithAggregateStrategy selects how GlobalState is maintained.
func WithAggregateStrategy(name string) Option {
	return func(s *Service) { s.strategy = name }
}

// WithVerifyAggregates recomputes the aggregates after every batch and
// halts on divergence.
func WithVerifyAggregates(enabled bool) Option {
	return func(s *Service) { s.verify = enabled }
}

// WithSS58Prefix sets the network prefix used for session addresses.
func WithSS58Prefix(prefix uint16) Option {
	return func(s *Service) { s.ss58Prefix = prefix }
}

// WithDumpSource sets the bootstrap dump location (file path or URL).
func WithDumpSource(src string) Option {
	return func(s *Service) { s.dumpSource = src }
}

// WithHTTPClient sets the client used to fetch a remote dump.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithShareFunc sets the share function.
func WithShareFunc(f shares.Func) Option {
	return func(s *Service) {
		if f != nil {
			s.shareFunc = f
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		queueSize:  defaultQueueSize,
		strategy:   aggregate.NameIncremental,
		ss58Prefix: codec.DefaultSS58Prefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.shareFunc == nil {
		s.shareFunc = shares.NewStandard()
	}
	return s
}

// Start builds the pipeline and starts consuming batches. The service runs
// until ctx is canceled, Stop is called, the source is exhausted, or a batch
// fails.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	strategy, err := aggregate.New(s.strategy)
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "starting indexer service...")

	bootOpts := []bootstrap.Option{
		bootstrap.WithSource(s.dumpSource),
		bootstrap.WithSS58Prefix(s.ss58Prefix),
	}
	if s.httpClient != nil {
		bootOpts = append(bootOpts, bootstrap.WithHTTPClient(s.httpClient))
	}
	s.processor = NewProcessor(s.store,
		codec.NewRegistry(codec.WithSS58Prefix(s.ss58Prefix)),
		s.shareFunc,
		strategy,
		WithBootstrapper(bootstrap.New(s.shareFunc, bootOpts...)),
		WithVerify(s.verify),
	)
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.worker = worker.NewBatchWorker(s.queue, s.processor,
		worker.WithName("reducer"),
		worker.WithOnHalt(s.halt),
	)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.haltErr = nil

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		if err := s.worker.Run(runCtx); err != nil {
			s.logger.Error(runCtx, "reducer stopped", logger.Error(err))
		}
	}()

	if s.source != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.pump(runCtx)
		}()
	}

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "indexer service started",
		logger.Int("queueSize", s.queueSize),
		logger.String("strategy", strategy.Name()),
		logger.Bool("verify", s.verify),
		logger.Bool("source", s.source != nil),
	)
	return nil
}

// pump moves batches from the source into the queue. The queue is closed
// when the source is exhausted so the reducer stops after the last batch.
func (s *Service) pump(ctx context.Context) {
	defer func() { _ = s.queue.Close() }()
	for {
		blocks, err := s.source.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			s.logger.Info(ctx, "event source drained")
			return
		case err != nil:
			if ctx.Err() == nil {
				metrics.RecordErrorByComponent("source", "read")
				s.logger.Error(ctx, "event source failed", logger.Error(err))
				s.halt(fmt.Errorf("read source: %w", err))
			}
			return
		}
		if err := s.queue.Enqueue(ctx, newItem(blocks)); err != nil {
			if !errors.Is(err, queue.ErrClosed) && ctx.Err() == nil {
				s.logger.Error(ctx, "enqueue failed", logger.Error(err))
			}
			return
		}
	}
}

func newItem(blocks []codec.RawBlock) queue.Item {
	return queue.Item{ID: uuid.NewString(), Blocks: blocks, EnqueuedAt: time.Now()}
}

func (s *Service) halt(err error) {
	s.mu.Lock()
	if s.haltErr == nil {
		s.haltErr = err
	}
	s.mu.Unlock()
}

// Ingest submits a batch of raw blocks for processing, waiting for room in
// the queue.
func (s *Service) Ingest(ctx context.Context, blocks []codec.RawBlock) (string, error) {
	s.mu.RLock()
	started, q := s.started, s.queue
	s.mu.RUnlock()
	if !started {
		return "", ErrNotStarted
	}
	it := newItem(blocks)
	if err := q.Enqueue(ctx, it); err != nil {
		return "", err
	}
	s.logger.Debug(ctx, "batch enqueued",
		logger.String("batch_id", it.ID),
		logger.Int("blocks", len(blocks)),
	)
	return it.ID, nil
}

// Done is closed once the reducer has stopped.
func (s *Service) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Wait blocks until the reducer stops and returns the error that halted it.
func (s *Service) Wait(ctx context.Context) error {
	done := s.Done()
	if done == nil {
		return ErrNotStarted
	}
	select {
	case <-done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the error that halted the pipeline, if any.
func (s *Service) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.haltErr
}

// Stop gracefully shuts down the service after the batch in flight.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping indexer service...")

	_ = s.queue.Close()
	if err := s.worker.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "reducer shutdown", logger.Error(err))
	}
	s.cancel()
	s.wg.Wait()

	if s.source != nil {
		if err := s.source.Close(); err != nil {
			s.logger.Warn(ctx, "close source", logger.Error(err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "close store", logger.Error(err))
	}
	s.logger.Info(ctx, "indexer service stopped")
}

// GlobalState returns the aggregates row. Before bootstrap it is all zero.
func (s *Service) GlobalState(ctx context.Context) (*model.GlobalState, error) {
	g, err := s.store.LoadGlobalState(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewGlobalState(), nil
	}
	return g, err
}

// Session returns a session by hex public key or SS58 address.
func (s *Service) Session(ctx context.Context, id string) (*model.Session, error) {
	norm, err := codec.SessionID(s.ss58Prefix, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	return s.store.Session(ctx, norm)
}

// Worker returns a worker by hex public key.
func (s *Service) Worker(ctx context.Context, id string) (*model.Worker, error) {
	norm, err := codec.WorkerID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	return s.store.Worker(ctx, norm)
}

// Snapshots returns snapshot rows with from <= bucket < to.
func (s *Service) Snapshots(ctx context.Context, from, to time.Time, limit int) ([]model.SharesSnapshot, error) {
	return s.store.Snapshots(ctx, from, to, limit)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":   s.started,
		"queueSize": s.queueSize,
		"strategy":  s.strategy,
		"verify":    s.verify,
	}
	if s.haltErr != nil {
		stats["halted"] = s.haltErr.Error()
	}
	if s.processor == nil {
		return stats
	}

	ps := s.processor.Stats()
	stats["strategy"] = ps.Strategy
	stats["cursor"] = ps.Cursor
	stats["batchesCommitted"] = ps.BatchesCommitted
	stats["eventsApplied"] = ps.EventsApplied
	stats["snapshotsWritten"] = ps.SnapshotsWritten
	stats["lastBatchId"] = ps.LastBatchID
	if ps.LatestBucket != nil {
		stats["latestBucket"] = ps.LatestBucket.Format(time.RFC3339)
	}
	if s.started {
		queueLen := s.queue.Len(context.Background())
		stats["queueLength"] = queueLen
		stats["uptime"] = time.Since(s.startedAt).Round(time.Second).String()
		metrics.UpdateQueueSize(queueLen)
	}
	return stats
}
