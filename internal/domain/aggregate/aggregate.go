// Package aggregate keeps the GlobalState row equal to the sum of the
// per-session contributions.
//
// A session contributes to workerCount while a worker is bound to it, and
// to the idle aggregates while it is bound and in the WorkerIdle state. The
// reducer reports every session mutation as a before/after Contribution and
// a Strategy folds that delta into the global row.
package aggregate

import (
	"fmt"
	"strings"

	"github.com/okian/shareview/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Strategy names.
const (
	NameIncremental = "incremental"
	NameRecomputed  = "recomputed"
)

// Contribution is what one session adds to the global aggregates.
type Contribution struct {
	Bound    bool
	Idle     bool
	Shares   decimal.Decimal
	PInit    int64
	PInstant int64
}

// ContributionOf derives the contribution of s.
func ContributionOf(s *model.Session) Contribution {
	return Contribution{
		Bound:    s.Bound(),
		Idle:     s.Bound() && s.State == model.StateWorkerIdle,
		Shares:   s.Shares,
		PInit:    s.PInit,
		PInstant: s.PInstant,
	}
}

// Strategy maintains GlobalState across a batch.
type Strategy interface {
	Name() string
	// FullScan reports whether Finish needs every session in the store.
	FullScan() bool
	// Apply folds the change of one session from prev to next into g.
	Apply(g *model.GlobalState, prev, next Contribution)
	// Finish runs once after the last event of a batch.
	Finish(g *model.GlobalState, sessions []*model.Session, complete bool) error
}

// New returns the strategy registered under name.
func New(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameIncremental:
		return Incremental{}, nil
	case NameRecomputed:
		return Recomputed{}, nil
	}
	return nil, fmt.Errorf("%w: unknown aggregate strategy %q", ErrUnknownStrategy, name)
}

// Incremental applies every delta as it happens.
type Incremental struct{}

// Name implements Strategy.
func (Incremental) Name() string { return NameIncremental }

// FullScan implements Strategy.
func (Incremental) FullScan() bool { return false }

// Apply implements Strategy.
func (Incremental) Apply(g *model.GlobalState, prev, next Contribution) {
	g.WorkerCount += boolDelta(prev.Bound, next.Bound)
	applyShares(g, prev, next)
	if prev.Idle {
		g.IdleWorkerCount--
		g.IdleWorkerPInit -= prev.PInit
		g.IdleWorkerPInstant -= prev.PInstant
	}
	if next.Idle {
		g.IdleWorkerCount++
		g.IdleWorkerPInit += next.PInit
		g.IdleWorkerPInstant += next.PInstant
	}
}

// Finish implements Strategy.
func (Incremental) Finish(*model.GlobalState, []*model.Session, bool) error { return nil }

// Recomputed only tracks idle shares incrementally and rebuilds the counters
// from a full scan of the sessions at the end of the batch.
type Recomputed struct{}

// Name implements Strategy.
func (Recomputed) Name() string { return NameRecomputed }

// FullScan implements Strategy.
func (Recomputed) FullScan() bool { return true }

// Apply implements Strategy.
func (Recomputed) Apply(g *model.GlobalState, prev, next Contribution) {
	applyShares(g, prev, next)
}

// Finish implements Strategy.
func (Recomputed) Finish(g *model.GlobalState, sessions []*model.Session, complete bool) error {
	if !complete {
		return fmt.Errorf("%w: recomputed strategy needs the full session set", ErrDiverged)
	}
	counts := Recompute(sessions)
	g.WorkerCount = counts.WorkerCount
	g.IdleWorkerCount = counts.IdleWorkerCount
	g.IdleWorkerPInit = counts.IdleWorkerPInit
	g.IdleWorkerPInstant = counts.IdleWorkerPInstant
	return nil
}

func applyShares(g *model.GlobalState, prev, next Contribution) {
	if prev.Idle {
		g.IdleWorkerShares = g.IdleWorkerShares.Sub(prev.Shares)
	}
	if next.Idle {
		g.IdleWorkerShares = g.IdleWorkerShares.Add(next.Shares)
	}
}

func boolDelta(prev, next bool) int64 {
	switch {
	case prev == next:
		return 0
	case next:
		return 1
	default:
		return -1
	}
}

// Recompute derives every aggregate from scratch.
func Recompute(sessions []*model.Session) *model.GlobalState {
	g := model.NewGlobalState()
	for _, s := range sessions {
		c := ContributionOf(s)
		if c.Bound {
			g.WorkerCount++
		}
		if c.Idle {
			g.IdleWorkerShares = g.IdleWorkerShares.Add(c.Shares)
			g.IdleWorkerCount++
			g.IdleWorkerPInit += c.PInit
			g.IdleWorkerPInstant += c.PInstant
		}
	}
	return g
}

// Verify compares g with a from-scratch recomputation over sessions.
func Verify(g *model.GlobalState, sessions []*model.Session) error {
	want := Recompute(sessions)
	if g.Equal(want) {
		return nil
	}
	return fmt.Errorf("%w: have {shares=%s count=%d pInit=%d pInstant=%d workers=%d} want {shares=%s count=%d pInit=%d pInstant=%d workers=%d}",
		ErrDiverged,
		g.IdleWorkerShares, g.IdleWorkerCount, g.IdleWorkerPInit, g.IdleWorkerPInstant, g.WorkerCount,
		want.IdleWorkerShares, want.IdleWorkerCount, want.IdleWorkerPInit, want.IdleWorkerPInstant, want.WorkerCount)
}
