// Package reducer applies canonical events to the working set, enforcing the
// session lifecycle state machine and keeping shares and aggregates in step.
package reducer

import (
	"fmt"

	"github.com/okian/shareview/internal/domain/aggregate"
	"github.com/okian/shareview/internal/domain/event"
	"github.com/okian/shareview/internal/domain/model"
	"github.com/okian/shareview/internal/domain/shares"
	"github.com/okian/shareview/internal/domain/view"
	"github.com/shopspring/decimal"
)

// Reducer folds events over a working set. It keeps no state of its own.
type Reducer struct {
	shares   shares.Func
	strategy aggregate.Strategy
}

// New creates a reducer using the given share function and aggregate strategy.
func New(f shares.Func, strategy aggregate.Strategy) *Reducer {
	return &Reducer{shares: f, strategy: strategy}
}

// Strategy returns the aggregate strategy in use.
func (r *Reducer) Strategy() aggregate.Strategy { return r.strategy }

// Apply applies one event. Any returned error is fatal for the batch.
func (r *Reducer) Apply(ws *view.WorkingSet, env event.Envelope) error {
	var err error
	switch e := env.Event.(type) {
	case event.SessionBound:
		err = r.sessionBound(ws, e)
	case event.SessionUnbound:
		err = r.sessionUnbound(ws, e)
	case event.SessionSettled:
		err = r.sessionSettled(ws, e)
	case event.WorkerStarted:
		err = r.workerStarted(ws, e)
	case event.WorkerStopped:
		err = r.workerStopped(ws, e, env.Block)
	case event.WorkerReclaimed:
		err = r.workerReclaimed(ws, e)
	case event.WorkerEnterUnresponsive:
		err = r.enterUnresponsive(ws, e)
	case event.WorkerExitUnresponsive:
		err = r.exitUnresponsive(ws, e)
	case event.BenchmarkUpdated:
		err = r.benchmarkUpdated(ws, e)
	case event.WorkerAdded:
		err = r.workerAdded(ws, e)
	case event.WorkerUpdated:
		err = r.workerUpdated(ws, e)
	case event.InitialScoreSet:
		err = r.initialScoreSet(ws, e)
	default:
		err = fmt.Errorf("%w: unhandled event %T", view.ErrInconsistent, env.Event)
	}
	if err != nil {
		return fmt.Errorf("apply %s at block %d#%d: %w", env.Event.Kind(), env.Block.Height, env.Index, err)
	}
	return nil
}

// mutate runs fn on s and folds the resulting contribution change into the
// global aggregates.
func (r *Reducer) mutate(ws *view.WorkingSet, s *model.Session, fn func()) {
	prev := aggregate.ContributionOf(s)
	fn()
	ws.TouchSession(s.ID)
	r.strategy.Apply(ws.Global(), prev, aggregate.ContributionOf(s))
}

// rescore recomputes the session's shares and mirrors them on the worker.
func (r *Reducer) rescore(ws *view.WorkingSet, s *model.Session, w *model.Worker) {
	s.Shares = r.shares.Compute(s, w)
	ws.MirrorShares(s, w)
}

func (r *Reducer) sessionBound(ws *view.WorkingSet, e event.SessionBound) error {
	w, err := ws.RequireWorker(e.WorkerID)
	if err != nil {
		return err
	}
	s, ok := ws.Session(e.SessionID)
	if !ok {
		s = model.NewSession(e.SessionID)
		ws.AddSession(s)
	}
	if s.Bound() && s.BoundWorker != e.WorkerID {
		return view.Inconsistent("session", s.ID, "already bound to worker %s", s.BoundWorker)
	}
	if other, ok := ws.SessionOf(e.WorkerID); ok && other != s.ID {
		return view.Inconsistent("worker", e.WorkerID, "already bound to session %s", other)
	}
	r.mutate(ws, s, func() {
		ws.Bind(s, w)
		r.rescore(ws, s, w)
	})
	return nil
}

func (r *Reducer) sessionUnbound(ws *view.WorkingSet, e event.SessionUnbound) error {
	s, err := ws.RequireSession(e.SessionID)
	if err != nil {
		return err
	}
	if !s.Bound() {
		return view.Inconsistent("session", s.ID, "unbind of worker %s but no worker bound", e.WorkerID)
	}
	if s.BoundWorker != e.WorkerID {
		return view.Inconsistent("session", s.ID, "unbind of worker %s but bound to %s", e.WorkerID, s.BoundWorker)
	}
	w, err := ws.RequireWorker(e.WorkerID)
	if err != nil {
		return err
	}
	r.mutate(ws, s, func() {
		ws.Unbind(s, w)
		s.Shares = decimal.Zero
	})
	return nil
}

func (r *Reducer) sessionSettled(ws *view.WorkingSet, e event.SessionSettled) error {
	s, w, err := ws.RequireBound(e.SessionID)
	if err != nil {
		return err
	}
	r.mutate(ws, s, func() {
		s.TotalReward = s.TotalReward.Add(e.Payout)
		s.V = e.V
		r.rescore(ws, s, w)
	})
	return nil
}

func (r *Reducer) workerStarted(ws *view.WorkingSet, e event.WorkerStarted) error {
	s, w, err := ws.RequireBound(e.SessionID)
	if err != nil {
		return err
	}
	r.mutate(ws, s, func() {
		s.PInit = e.InitP
		s.V = e.InitV
		s.VE = e.InitV
		s.State = model.StateWorkerIdle
		r.rescore(ws, s, w)
	})
	return nil
}

func (r *Reducer) workerStopped(ws *view.WorkingSet, e event.WorkerStopped, blk event.Block) error {
	s, err := ws.RequireSession(e.SessionID)
	if err != nil {
		return err
	}
	r.mutate(ws, s, func() {
		s.State = model.StateWorkerCoolingDown
		t := blk.Time.UTC()
		s.CoolingDownStartTime = &t
	})
	return nil
}

func (r *Reducer) workerReclaimed(ws *view.WorkingSet, e event.WorkerReclaimed) error {
	s, err := ws.RequireSession(e.SessionID)
	if err != nil {
		return err
	}
	r.mutate(ws, s, func() {
		s.Stake = decimal.Zero
		if s.State == model.StateWorkerCoolingDown {
			s.State = model.StateReady
			s.CoolingDownStartTime = nil
		}
	})
	return nil
}

func (r *Reducer) enterUnresponsive(ws *view.WorkingSet, e event.WorkerEnterUnresponsive) error {
	s, err := ws.RequireSession(e.SessionID)
	if err != nil {
		return err
	}
	if s.State != model.StateWorkerIdle {
		return nil
	}
	r.mutate(ws, s, func() { s.State = model.StateWorkerUnresponsive })
	return nil
}

func (r *Reducer) exitUnresponsive(ws *view.WorkingSet, e event.WorkerExitUnresponsive) error {
	s, err := ws.RequireSession(e.SessionID)
	if err != nil {
		return err
	}
	if s.State != model.StateWorkerUnresponsive {
		return nil
	}
	r.mutate(ws, s, func() { s.State = model.StateWorkerIdle })
	return nil
}

func (r *Reducer) benchmarkUpdated(ws *view.WorkingSet, e event.BenchmarkUpdated) error {
	s, w, err := ws.RequireBound(e.SessionID)
	if err != nil {
		return err
	}
	r.mutate(ws, s, func() {
		s.PInstant = e.PInstant
		r.rescore(ws, s, w)
	})
	return nil
}

func (r *Reducer) workerAdded(ws *view.WorkingSet, e event.WorkerAdded) error {
	if _, ok := ws.Worker(e.WorkerID); ok {
		return view.Inconsistent("worker", e.WorkerID, "already registered")
	}
	ws.AddWorker(&model.Worker{ID: e.WorkerID, ConfidenceLevel: e.ConfidenceLevel})
	return nil
}

func (r *Reducer) workerUpdated(ws *view.WorkingSet, e event.WorkerUpdated) error {
	w, err := ws.RequireWorker(e.WorkerID)
	if err != nil {
		return err
	}
	w.ConfidenceLevel = e.ConfidenceLevel
	ws.TouchWorker(w.ID)
	return nil
}

func (r *Reducer) initialScoreSet(ws *view.WorkingSet, e event.InitialScoreSet) error {
	w, err := ws.RequireWorker(e.WorkerID)
	if err != nil {
		return err
	}
	score := e.InitialScore
	w.InitialScore = &score
	ws.TouchWorker(w.ID)
	return nil
}
