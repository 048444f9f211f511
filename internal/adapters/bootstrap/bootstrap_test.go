package bootstrap_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/shareview/internal/adapters/bootstrap"
	"github.com/okian/shareview/internal/adapters/codec"
	"github.com/okian/shareview/internal/adapters/repository"
	"github.com/okian/shareview/internal/domain/aggregate"
	"github.com/okian/shareview/internal/domain/model"
	"github.com/okian/shareview/internal/domain/shares"
	"github.com/okian/shareview/pkg/logger"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	accountA = "0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
	accountB = "0x8eaf04151687736326c9fea17e25fc5287613693c912909cb226aa4794f26a48"
	accountC = "0x90b5ab205c6974c9ea841be688864633dc9ca8a357843eeacf2314649965fe22"
	workerA  = "0x0101010101010101010101010101010101010101010101010101010101010101"
	workerB  = "0x0202020202020202020202020202020202020202020202020202020202020202"
)

// dumpJSON has one idle bound session, one cooling down bound session and
// one unbound session. v of the idle session is 2 (2^65 bits).
var dumpJSON = `{
  "timestamp": 1700000000000,
  "height": 4000000,
  "workers": [
    {"id": "` + workerA + `", "confidenceLevel": 1, "initialScore": 2000},
    {"id": "` + workerB + `", "confidenceLevel": 3, "initialScore": null}
  ],
  "sessions": [
    {"id": "` + accountA + `", "v": "36893488147419103232", "ve": "36893488147419103232", "state": "WorkerIdle",
     "pInit": 100, "pInstant": 90, "totalReward": "2500000000000", "coolingDownStartTime": 0, "stake": "1000000000000000", "worker": "` + workerA + `"},
    {"id": "` + accountB + `", "v": "0", "ve": "0", "state": "WorkerCoolingDown",
     "pInit": 50, "pInstant": 40, "totalReward": "0", "coolingDownStartTime": 1699999000, "stake": "0", "worker": "` + workerB + `"},
    {"id": "` + accountC + `", "v": "0", "ve": "0", "state": "Ready",
     "pInit": 0, "pInstant": 0, "totalReward": "0", "coolingDownStartTime": 0, "stake": "0", "worker": null}
  ],
  "latestSnapshot": {"bucketStart": 1699999800000, "shares": "2"}
}`

var vOnly = shares.FuncOf(func(s *model.Session, _ *model.Worker) decimal.Decimal { return s.V })

func TestBuild(t *testing.T) {
	_ = logger.Init()
	Convey("Given a dump", t, func() {
		d, err := bootstrap.Decode(strings.NewReader(dumpJSON))
		So(err, ShouldBeNil)
		b := bootstrap.New(vOnly)

		Convey("When it is converted", func() {
			changes, err := b.Build(d)
			So(err, ShouldBeNil)

			Convey("Then ids, fixed point values and shares are normalized", func() {
				So(len(changes.Workers), ShouldEqual, 2)
				So(len(changes.Sessions), ShouldEqual, 3)
				So(changes.Sessions[0].Bound(), ShouldBeFalse)
				So(changes.Height, ShouldNotBeNil)
				So(*changes.Height, ShouldEqual, 4000000)

				idleID, _ := codec.SessionID(codec.DefaultSS58Prefix, accountA)
				var idle *model.Session
				for _, s := range changes.Sessions {
					if s.ID == idleID {
						idle = s
					}
				}
				So(idle, ShouldNotBeNil)
				So(idle.V.Equal(decimal.NewFromInt(2)), ShouldBeTrue)
				So(idle.Shares.Equal(decimal.NewFromInt(2)), ShouldBeTrue)
				So(idle.TotalReward.Equal(decimal.RequireFromString("2.5")), ShouldBeTrue)
				So(idle.Stake.Equal(decimal.NewFromInt(1000)), ShouldBeTrue)
			})

			Convey("Then the global state equals a recomputation", func() {
				So(aggregate.Verify(changes.Global, changes.Sessions), ShouldBeNil)
				So(changes.Global.WorkerCount, ShouldEqual, 2)
				So(changes.Global.IdleWorkerCount, ShouldEqual, 1)
				So(changes.Global.IdleWorkerPInit, ShouldEqual, 100)
				So(changes.Global.IdleWorkerShares.Equal(decimal.NewFromInt(2)), ShouldBeTrue)
			})

			Convey("Then the latest snapshot bucket is carried over", func() {
				So(len(changes.Snapshots), ShouldEqual, 1)
				So(changes.Snapshots[0].BucketStart.UnixMilli(), ShouldEqual, int64(1699999800000))
			})
		})

		Convey("When a session references an unknown worker", func() {
			d.Workers = d.Workers[:1]
			_, err := b.Build(d)

			Convey("Then the dump is rejected", func() {
				So(errors.Is(err, bootstrap.ErrLoadDump), ShouldBeTrue)
			})
		})
	})
}

func TestEnsure(t *testing.T) {
	_ = logger.Init()
	ctx := context.Background()

	Convey("Given an empty store and no dump", t, func() {
		store := repository.NewMemoryStore()
		done, err := bootstrap.New(vOnly).Ensure(ctx, store)

		Convey("Then a zeroed global state is written once", func() {
			So(err, ShouldBeNil)
			So(done, ShouldBeTrue)
			g, err := store.LoadGlobalState(ctx)
			So(err, ShouldBeNil)
			So(g.Equal(model.NewGlobalState()), ShouldBeTrue)

			again, err := bootstrap.New(vOnly).Ensure(ctx, store)
			So(err, ShouldBeNil)
			So(again, ShouldBeFalse)
		})
	})

	Convey("Given a dump on disk", t, func() {
		path := filepath.Join(t.TempDir(), "dump.json")
		So(os.WriteFile(path, []byte(dumpJSON), 0o600), ShouldBeNil)
		store := repository.NewMemoryStore()

		done, err := bootstrap.New(vOnly, bootstrap.WithSource(path)).Ensure(ctx, store)

		Convey("Then the store holds the dump and its cursor", func() {
			So(err, ShouldBeNil)
			So(done, ShouldBeTrue)
			all, _ := store.AllSessions(ctx)
			So(len(all), ShouldEqual, 3)
			height, ok, _ := store.Cursor(ctx)
			So(ok, ShouldBeTrue)
			So(height, ShouldEqual, 4000000)
		})
	})

	Convey("Given a dump served over HTTP", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/dump.json" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(dumpJSON))
		}))
		Reset(srv.Close)

		Convey("Then it is fetched and imported", func() {
			store := repository.NewMemoryStore()
			done, err := bootstrap.New(vOnly,
				bootstrap.WithSource(srv.URL+"/dump.json"),
				bootstrap.WithHTTPClient(srv.Client()),
			).Ensure(ctx, store)
			So(err, ShouldBeNil)
			So(done, ShouldBeTrue)
		})

		Convey("Then a missing dump is a load error", func() {
			_, err := bootstrap.New(vOnly, bootstrap.WithSource(srv.URL+"/missing")).Ensure(ctx, repository.NewMemoryStore())
			So(errors.Is(err, bootstrap.ErrLoadDump), ShouldBeTrue)
		})
	})
}
