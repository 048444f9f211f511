package view_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/okian/shareview/internal/domain/event"
	"github.com/okian/shareview/internal/domain/model"
	"github.com/okian/shareview/internal/domain/view"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeReader struct {
	global   *model.GlobalState
	sessions []*model.Session
	workers  []*model.Worker
	full     int
}

func (f *fakeReader) LoadGlobalState(context.Context) (*model.GlobalState, error) {
	return f.global, nil
}

func (f *fakeReader) FindSessions(_ context.Context, ids, boundTo []string) ([]*model.Session, error) {
	var out []*model.Session
	for _, s := range f.sessions {
		if slices.Contains(ids, s.ID) || (s.Bound() && slices.Contains(boundTo, s.BoundWorker)) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeReader) FindWorkers(_ context.Context, ids []string) ([]*model.Worker, error) {
	var out []*model.Worker
	for _, w := range f.workers {
		if slices.Contains(ids, w.ID) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeReader) AllSessions(context.Context) ([]*model.Session, error) {
	f.full++
	return f.sessions, nil
}

func (f *fakeReader) AllWorkers(context.Context) ([]*model.Worker, error) {
	return f.workers, nil
}

func boundSession(id, worker string, shares int64) *model.Session {
	s := model.NewSession(id)
	s.BoundWorker = worker
	s.Shares = decimal.NewFromInt(shares)
	return s
}

func TestLoad(t *testing.T) {
	Convey("Given a store with two bound pairs and a spare worker", t, func() {
		r := &fakeReader{
			global: model.NewGlobalState(),
			sessions: []*model.Session{
				boundSession("s1", "w1", 10),
				boundSession("s2", "w2", 20),
			},
			workers: []*model.Worker{{ID: "w1"}, {ID: "w2"}, {ID: "w3"}},
		}
		ctx := context.Background()

		Convey("When a batch touches s1 and worker w2", func() {
			b := event.Batch{Events: []event.Envelope{
				{Event: event.WorkerStopped{SessionID: "s1"}},
				{Event: event.WorkerUpdated{WorkerID: "w2"}},
			}}
			ws, err := view.Load(ctx, r, b, false)

			Convey("Then the touched session, the session bound to w2 and their workers are loaded", func() {
				So(err, ShouldBeNil)
				So(ws.Complete(), ShouldBeFalse)
				sessions, workers := ws.Size()
				So(sessions, ShouldEqual, 2)
				So(workers, ShouldEqual, 2)
				_, ok := ws.Worker("w3")
				So(ok, ShouldBeFalse)
				id, ok := ws.SessionOf("w2")
				So(ok, ShouldBeTrue)
				So(id, ShouldEqual, "s2")
			})

			Convey("Then worker shares are rebuilt from the bound session", func() {
				w, _ := ws.Worker("w1")
				So(w.CurrentShares, ShouldNotBeNil)
				So(w.CurrentShares.Equal(decimal.NewFromInt(10)), ShouldBeTrue)
			})

			Convey("Then loaded entities are copies", func() {
				s, _ := ws.Session("s1")
				s.State = model.StateWorkerCoolingDown
				So(r.sessions[0].State, ShouldEqual, model.StateReady)
			})
		})

		Convey("When a full load is requested", func() {
			ws, err := view.Load(ctx, r, event.Batch{}, true)

			Convey("Then everything is present", func() {
				So(err, ShouldBeNil)
				So(ws.Complete(), ShouldBeTrue)
				sessions, workers := ws.Size()
				So(sessions, ShouldEqual, 2)
				So(workers, ShouldEqual, 3)
				So(r.full, ShouldEqual, 1)
			})
		})
	})
}

func TestWorkingSet(t *testing.T) {
	Convey("Given an empty working set", t, func() {
		ws := view.New(model.NewGlobalState(), nil, nil, true)

		Convey("Then required lookups fail with ErrInconsistent", func() {
			_, err := ws.RequireSession("nope")
			So(errors.Is(err, view.ErrInconsistent), ShouldBeTrue)
			_, err = ws.RequireWorker("nope")
			So(errors.Is(err, view.ErrInconsistent), ShouldBeTrue)

			var ie *view.InconsistencyError
			So(errors.As(err, &ie), ShouldBeTrue)
			So(ie.Entity, ShouldEqual, "worker")
		})

		Convey("When a pair is bound and later unbound", func() {
			w := &model.Worker{ID: "w1"}
			s := model.NewSession("s1")
			ws.AddWorker(w)
			ws.AddSession(s)
			ws.Bind(s, w)

			_, _, err := ws.RequireBound("s1")
			So(err, ShouldBeNil)

			ws.Unbind(s, w)

			Convey("Then the session is no longer bound", func() {
				_, _, err := ws.RequireBound("s1")
				So(errors.Is(err, view.ErrInconsistent), ShouldBeTrue)
				So(w.CurrentShares, ShouldBeNil)
			})

			Convey("Then changes list both entities once", func() {
				sessions, workers := ws.Changes()
				So(len(sessions), ShouldEqual, 1)
				So(len(workers), ShouldEqual, 1)
				So(sessions[0].Bound(), ShouldBeFalse)
			})
		})
	})
}
