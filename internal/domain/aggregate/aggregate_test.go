package aggregate_test

import (
	"errors"
	"testing"

	"github.com/okian/shareview/internal/domain/aggregate"
	"github.com/okian/shareview/internal/domain/model"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

func session(id string, bound bool, state model.WorkerState, shares string, pInit, pInstant int64) *model.Session {
	s := model.NewSession(id)
	if bound {
		s.BoundWorker = "w-" + id
	}
	s.State = state
	s.Shares = decimal.RequireFromString(shares)
	s.PInit = pInit
	s.PInstant = pInstant
	return s
}

func TestNew(t *testing.T) {
	Convey("Given strategy names", t, func() {
		s, err := aggregate.New("")
		So(err, ShouldBeNil)
		So(s.Name(), ShouldEqual, aggregate.NameIncremental)

		s, err = aggregate.New("Recomputed")
		So(err, ShouldBeNil)
		So(s.FullScan(), ShouldBeTrue)

		_, err = aggregate.New("lazy")
		So(errors.Is(err, aggregate.ErrUnknownStrategy), ShouldBeTrue)
	})
}

func TestRecompute(t *testing.T) {
	Convey("Given sessions in every state", t, func() {
		sessions := []*model.Session{
			session("a", true, model.StateWorkerIdle, "1.5", 10, 20),
			session("b", true, model.StateWorkerIdle, "2.25", 5, 6),
			session("c", true, model.StateWorkerCoolingDown, "9", 100, 100),
			session("d", true, model.StateWorkerUnresponsive, "9", 100, 100),
			session("e", false, model.StateWorkerIdle, "0", 100, 100),
			session("f", false, model.StateReady, "0", 0, 0),
		}

		Convey("Then only bound idle sessions feed the idle aggregates", func() {
			g := aggregate.Recompute(sessions)
			So(g.IdleWorkerShares.Equal(decimal.RequireFromString("3.75")), ShouldBeTrue)
			So(g.IdleWorkerCount, ShouldEqual, 2)
			So(g.IdleWorkerPInit, ShouldEqual, 15)
			So(g.IdleWorkerPInstant, ShouldEqual, 26)
			So(g.WorkerCount, ShouldEqual, 4)
			So(aggregate.Verify(g, sessions), ShouldBeNil)
		})

		Convey("Then a drifted row fails verification", func() {
			g := aggregate.Recompute(sessions)
			g.IdleWorkerCount++
			So(errors.Is(aggregate.Verify(g, sessions), aggregate.ErrDiverged), ShouldBeTrue)
		})
	})
}

func TestStrategies(t *testing.T) {
	Convey("Given a session going idle then cooling down", t, func() {
		s := session("a", true, model.StateReady, "0", 0, 0)
		steps := []func(){
			func() { s.State, s.PInit, s.Shares = model.StateWorkerIdle, 50, decimal.NewFromInt(3) },
			func() { s.PInstant, s.Shares = 70, decimal.NewFromInt(4) },
			func() { s.State = model.StateWorkerCoolingDown },
		}

		for _, strategy := range []aggregate.Strategy{aggregate.Incremental{}, aggregate.Recomputed{}} {
			Convey("When folded with "+strategy.Name(), func() {
				g := model.NewGlobalState()
				strategy.Apply(g, aggregate.Contribution{}, aggregate.ContributionOf(s))
				for i, step := range steps {
					prev := aggregate.ContributionOf(s)
					step()
					strategy.Apply(g, prev, aggregate.ContributionOf(s))
					if i == 1 {
						So(g.IdleWorkerShares.Equal(decimal.NewFromInt(4)), ShouldBeTrue)
					}
				}
				So(strategy.Finish(g, []*model.Session{s}, true), ShouldBeNil)

				Convey("Then the row matches a recomputation", func() {
					So(aggregate.Verify(g, []*model.Session{s}), ShouldBeNil)
					So(g.WorkerCount, ShouldEqual, 1)
					So(g.IdleWorkerShares.IsZero(), ShouldBeTrue)
				})
			})
		}

		Convey("Then recomputed refuses a partial session set", func() {
			err := aggregate.Recomputed{}.Finish(model.NewGlobalState(), nil, false)
			So(errors.Is(err, aggregate.ErrDiverged), ShouldBeTrue)
		})
	})
}
