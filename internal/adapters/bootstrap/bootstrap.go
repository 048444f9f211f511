// Package bootstrap seeds an empty store, either from a registry dump or
// with a zeroed GlobalState.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/okian/shareview/internal/adapters/codec"
	"github.com/okian/shareview/internal/adapters/repository"
	"github.com/okian/shareview/internal/domain/aggregate"
	"github.com/okian/shareview/internal/domain/model"
	"github.com/okian/shareview/internal/domain/shares"
	"github.com/okian/shareview/pkg/logger"
	"github.com/shopspring/decimal"
)

// Bootstrapper imports the initial state once per store.
type Bootstrapper struct {
	source     string
	client     *http.Client
	shares     shares.Func
	ss58Prefix uint16
	log        logger.Logger
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithSource sets the dump path or URL. Empty means start from zero.
func WithSource(source string) Option {
	return func(b *Bootstrapper) { b.source = source }
}

// WithHTTPClient sets the client used for URL sources.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bootstrapper) {
		if c != nil {
			b.client = c
		}
	}
}

// WithSS58Prefix sets the prefix dump session ids are normalized to.
func WithSS58Prefix(prefix uint16) Option {
	return func(b *Bootstrapper) { b.ss58Prefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bootstrapper) {
		if l != nil {
			b.log = l
		}
	}
}

// New returns a Bootstrapper computing session shares with f.
func New(f shares.Func, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		shares:     f,
		client:     &http.Client{Timeout: 2 * time.Minute},
		ss58Prefix: codec.DefaultSS58Prefix,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Get().Named("bootstrap")
	}
	return b
}

// Ensure seeds store if it has no GlobalState yet. It reports whether a
// bootstrap happened.
func (b *Bootstrapper) Ensure(ctx context.Context, store repository.Store) (bool, error) {
	_, err := store.LoadGlobalState(ctx)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return false, err
	}

	changes := repository.Changes{Global: model.NewGlobalState()}
	if b.source != "" {
		d, err := Load(ctx, b.client, b.source)
		if err != nil {
			return false, err
		}
		if changes, err = b.Build(d); err != nil {
			return false, err
		}
	}
	if err := store.Commit(ctx, changes); err != nil {
		return false, fmt.Errorf("bootstrap commit: %w", err)
	}
	b.log.Info(ctx, "store bootstrapped",
		logger.String("source", b.source),
		logger.Int("workers", len(changes.Workers)),
		logger.Int("sessions", len(changes.Sessions)),
		logger.Bool("has_height", changes.Height != nil),
		logger.String("idle_worker_shares", changes.Global.IdleWorkerShares.String()),
	)
	return true, nil
}

// Build converts a dump into the changes that seed the store.
func (b *Bootstrapper) Build(d *Dump) (repository.Changes, error) {
	workers := make(map[string]*model.Worker, len(d.Workers))
	out := repository.Changes{}
	if d.Height != nil {
		h := *d.Height
		out.Height = &h
	}
	for _, dw := range d.Workers {
		id, err := codec.WorkerID(dw.ID)
		if err != nil {
			return repository.Changes{}, fmt.Errorf("%w: %w", ErrLoadDump, err)
		}
		w := &model.Worker{ID: id, ConfidenceLevel: dw.ConfidenceLevel}
		if dw.InitialScore != nil {
			score := *dw.InitialScore
			w.InitialScore = &score
		}
		workers[id] = w
		out.Workers = append(out.Workers, w)
	}

	bound := make(map[string]string)
	for _, ds := range d.Sessions {
		s, err := b.session(ds)
		if err != nil {
			return repository.Changes{}, fmt.Errorf("%w: session %s: %w", ErrLoadDump, ds.ID, err)
		}
		if ds.Worker != nil {
			wid, err := codec.WorkerID(*ds.Worker)
			if err != nil {
				return repository.Changes{}, fmt.Errorf("%w: %w", ErrLoadDump, err)
			}
			w, ok := workers[wid]
			if !ok {
				return repository.Changes{}, fmt.Errorf("%w: session %s bound to unknown worker %s", ErrLoadDump, s.ID, wid)
			}
			if other, dup := bound[wid]; dup {
				return repository.Changes{}, fmt.Errorf("%w: worker %s bound to %s and %s", ErrLoadDump, wid, other, s.ID)
			}
			bound[wid] = s.ID
			s.BoundWorker = wid
			s.Shares = b.shares.Compute(s, w)
		}
		out.Sessions = append(out.Sessions, s)
	}
	// Unbound sessions first, matching the store's write order.
	sortUnboundFirst(out.Sessions)

	out.Global = aggregate.Recompute(out.Sessions)
	if d.LatestSnapshot != nil {
		value, err := decimal.NewFromString(d.LatestSnapshot.Shares)
		if err != nil {
			return repository.Changes{}, fmt.Errorf("%w: latest snapshot: %w", ErrLoadDump, err)
		}
		out.Snapshots = []model.SharesSnapshot{{
			BucketStart: model.BucketStart(time.UnixMilli(d.LatestSnapshot.BucketStart)),
			Shares:      value,
		}}
	}
	return out, nil
}

func (b *Bootstrapper) session(ds DumpSession) (*model.Session, error) {
	id, err := codec.SessionID(b.ss58Prefix, ds.ID)
	if err != nil {
		return nil, err
	}
	state, err := model.ParseWorkerState(ds.State)
	if err != nil {
		return nil, err
	}
	s := model.NewSession(id)
	s.State = state
	s.PInit = ds.PInit
	s.PInstant = ds.PInstant
	if s.V, err = codec.ParseBits(ds.V); err != nil {
		return nil, err
	}
	if s.VE, err = codec.ParseBits(ds.VE); err != nil {
		return nil, err
	}
	if s.TotalReward, err = codec.ParseBalance(ds.TotalReward); err != nil {
		return nil, err
	}
	if s.Stake, err = codec.ParseBalance(ds.Stake); err != nil {
		return nil, err
	}
	if ds.CoolingDownStartTime != 0 {
		t := time.Unix(ds.CoolingDownStartTime, 0).UTC()
		s.CoolingDownStartTime = &t
	}
	return s, nil
}

func sortUnboundFirst(sessions []*model.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return !sessions[i].Bound() && sessions[j].Bound()
	})
}
