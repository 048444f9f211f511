package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/shareview/internal/adapters/repository"
	"github.com/okian/shareview/internal/domain/model"
	"github.com/okian/shareview/pkg/logger"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

type storeFactory struct {
	name string
	open func(t *testing.T) repository.Store
}

func factories() []storeFactory {
	return []storeFactory{
		{"memory", func(*testing.T) repository.Store { return repository.NewMemoryStore() }},
		{"sqlite", func(t *testing.T) repository.Store {
			s, err := repository.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "view.db"),
				repository.WithLogger(logger.Get()))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return s
		}},
	}
}

func boundSession(id, worker, shares string) *model.Session {
	s := model.NewSession(id)
	s.BoundWorker = worker
	s.State = model.StateWorkerIdle
	s.Shares = decimal.RequireFromString(shares)
	s.V = decimal.RequireFromString("1.25")
	s.PInit = 100
	s.PInstant = 90
	return s
}

func TestStoreContract(t *testing.T) {
	_ = logger.Init()
	ctx := context.Background()
	bucket := time.Date(2024, 5, 1, 10, 20, 0, 0, time.UTC)

	for _, f := range factories() {
		Convey("Given an empty "+f.name+" store", t, func() {
			store := f.open(t)
			Reset(func() { _ = store.Close() })

			Convey("Then reads report absence", func() {
				_, err := store.LoadGlobalState(ctx)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				_, err = store.LatestSnapshot(ctx)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				_, err = store.Session(ctx, "s1")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				_, ok, err := store.Cursor(ctx)
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})

			Convey("When a batch is committed", func() {
				score := int64(1500)
				cooling := bucket.Add(3 * time.Minute)
				idle := model.NewSession("s3")
				idle.State = model.StateWorkerCoolingDown
				idle.CoolingDownStartTime = &cooling
				g := model.NewGlobalState()
				g.IdleWorkerShares = decimal.RequireFromString("3.5")
				g.IdleWorkerCount, g.WorkerCount, g.IdleWorkerPInit, g.IdleWorkerPInstant = 2, 2, 200, 180

				height := uint64(42)
				err := store.Commit(ctx, repository.Changes{
					Global:    g,
					Workers:   []*model.Worker{{ID: "w1", ConfidenceLevel: 2, InitialScore: &score}, {ID: "w2", ConfidenceLevel: 5}},
					Sessions:  []*model.Session{idle, boundSession("s1", "w1", "1.5"), boundSession("s2", "w2", "2")},
					Snapshots: []model.SharesSnapshot{{BucketStart: bucket, Shares: decimal.RequireFromString("3.5")}},
					Height:    &height,
				})
				So(err, ShouldBeNil)

				Convey("Then every entity reads back exactly", func() {
					got, err := store.LoadGlobalState(ctx)
					So(err, ShouldBeNil)
					So(got.Equal(g), ShouldBeTrue)

					s1, err := store.Session(ctx, "s1")
					So(err, ShouldBeNil)
					So(s1.BoundWorker, ShouldEqual, "w1")
					So(s1.State, ShouldEqual, model.StateWorkerIdle)
					So(s1.V.Equal(decimal.RequireFromString("1.25")), ShouldBeTrue)

					s3, err := store.Session(ctx, "s3")
					So(err, ShouldBeNil)
					So(s3.Bound(), ShouldBeFalse)
					So(s3.CoolingDownStartTime.Equal(cooling), ShouldBeTrue)

					w1, err := store.Worker(ctx, "w1")
					So(err, ShouldBeNil)
					So(*w1.InitialScore, ShouldEqual, 1500)
					So(w1.CurrentShares.Equal(decimal.RequireFromString("1.5")), ShouldBeTrue)

					height, ok, err := store.Cursor(ctx)
					So(err, ShouldBeNil)
					So(ok, ShouldBeTrue)
					So(height, ShouldEqual, 42)
				})

				Convey("Then lookups by id and by bound worker merge", func() {
					sessions, err := store.FindSessions(ctx, []string{"s3"}, []string{"w2"})
					So(err, ShouldBeNil)
					So(len(sessions), ShouldEqual, 2)
					So(sessions[0].ID, ShouldEqual, "s2")
					So(sessions[1].ID, ShouldEqual, "s3")

					workers, err := store.FindWorkers(ctx, []string{"w2", "missing"})
					So(err, ShouldBeNil)
					So(len(workers), ShouldEqual, 1)

					all, err := store.AllSessions(ctx)
					So(err, ShouldBeNil)
					So(len(all), ShouldEqual, 3)
				})

				Convey("Then an existing snapshot bucket is never overwritten", func() {
					err := store.Commit(ctx, repository.Changes{
						Snapshots: []model.SharesSnapshot{
							{BucketStart: bucket, Shares: decimal.NewFromInt(99)},
							{BucketStart: bucket.Add(model.SnapshotInterval), Shares: decimal.NewFromInt(4)},
						},
					})
					So(err, ShouldBeNil)
					snaps, err := store.Snapshots(ctx, time.Time{}, time.Time{}, 10)
					So(err, ShouldBeNil)
					So(len(snaps), ShouldEqual, 2)
					So(snaps[0].Shares.Equal(decimal.RequireFromString("3.5")), ShouldBeTrue)
					So(snaps[1].BucketStart.After(snaps[0].BucketStart), ShouldBeTrue)

					latest, err := store.LatestSnapshot(ctx)
					So(err, ShouldBeNil)
					So(latest.BucketStart.Equal(bucket.Add(model.SnapshotInterval)), ShouldBeTrue)

					ranged, err := store.Snapshots(ctx, bucket.Add(time.Minute), time.Time{}, 10)
					So(err, ShouldBeNil)
					So(len(ranged), ShouldEqual, 1)

					_, err = store.Snapshots(ctx, time.Time{}, time.Time{}, 0)
					So(errors.Is(err, repository.ErrInvalidLimit), ShouldBeTrue)
				})

				Convey("Then a worker may move between sessions within one commit", func() {
					s1 := boundSession("s1", "w2", "1")
					s2 := boundSession("s2", "w1", "2")
					err := store.Commit(ctx, repository.Changes{Sessions: []*model.Session{s1, s2}})
					So(err, ShouldBeNil)
					got, _ := store.Session(ctx, "s1")
					So(got.BoundWorker, ShouldEqual, "w2")
				})

				Convey("Then a second session on the same worker is rejected without partial writes", func() {
					next := uint64(43)
					err := store.Commit(ctx, repository.Changes{
						Workers:  []*model.Worker{{ID: "w9"}},
						Sessions: []*model.Session{boundSession("s4", "w1", "1")},
						Height:   &next,
					})
					So(errors.Is(err, repository.ErrCommit), ShouldBeTrue)
					_, err = store.Session(ctx, "s4")
					So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
					height, _, _ := store.Cursor(ctx)
					So(height, ShouldEqual, 42)
				})

				Convey("Then a binding to an unknown worker is rejected", func() {
					err := store.Commit(ctx, repository.Changes{
						Sessions: []*model.Session{boundSession("s5", "ghost", "1")},
					})
					So(errors.Is(err, repository.ErrCommit), ShouldBeTrue)
				})
			})
		})
	}
}

func TestStoreCursor(t *testing.T) {
	_ = logger.Init()

	for _, f := range factories() {
		Convey("Given an empty "+f.name+" store", t, func() {
			ctx := context.Background()
			store := f.open(t)
			Reset(func() { _ = store.Close() })

			Convey("When a commit carries height zero", func() {
				zero := uint64(0)
				So(store.Commit(ctx, repository.Changes{Height: &zero}), ShouldBeNil)

				Convey("Then the cursor exists at zero", func() {
					height, ok, err := store.Cursor(ctx)
					So(err, ShouldBeNil)
					So(ok, ShouldBeTrue)
					So(height, ShouldEqual, uint64(0))
				})

				Convey("And a commit without a height leaves it alone", func() {
					So(store.Commit(ctx, repository.Changes{Workers: []*model.Worker{{ID: "w1"}}}), ShouldBeNil)
					_, ok, err := store.Cursor(ctx)
					So(err, ShouldBeNil)
					So(ok, ShouldBeTrue)
				})
			})
		})
	}

	Convey("Given a sqlite store and a canceled context", t, func() {
		store := factories()[1].open(t)
		Reset(func() { _ = store.Close() })
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Convey("When a commit is attempted", func() {
			one := uint64(1)
			err := store.Commit(ctx, repository.Changes{Height: &one})

			Convey("Then the error keeps both the commit and the cancellation", func() {
				So(errors.Is(err, repository.ErrCommit), ShouldBeTrue)
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})
}
