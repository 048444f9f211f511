package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/shareview/internal/adapters/codec"
	"github.com/okian/shareview/internal/adapters/http/api"
	"github.com/okian/shareview/internal/adapters/mq/queue"
	"github.com/okian/shareview/internal/adapters/repository"
	"github.com/okian/shareview/internal/app"
	"github.com/okian/shareview/internal/domain/model"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	knownSession = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	knownWorker  = "0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
)

// Mock implementations for testing
type mockDependencies struct {
	global    *model.GlobalState
	globalErr error
	snapshots []model.SharesSnapshot
	ingested  [][]codec.RawBlock
	ingestErr error

	lastFrom, lastTo time.Time
	lastLimit        int
}

func (m *mockDependencies) Ingest(_ context.Context, blocks []codec.RawBlock) (string, error) {
	if m.ingestErr != nil {
		return "", m.ingestErr
	}
	m.ingested = append(m.ingested, blocks)
	return fmt.Sprintf("batch-%d", len(m.ingested)), nil
}

func (m *mockDependencies) GlobalState(context.Context) (*model.GlobalState, error) {
	return m.global, m.globalErr
}

func (m *mockDependencies) Session(_ context.Context, id string) (*model.Session, error) {
	switch id {
	case knownSession:
		s := model.NewSession(id)
		s.BoundWorker = knownWorker
		s.Shares = decimal.RequireFromString("12.5")
		return s, nil
	case "garbage":
		return nil, fmt.Errorf("%w: %q", app.ErrInvalidID, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockDependencies) Worker(_ context.Context, id string) (*model.Worker, error) {
	if id == knownWorker {
		return &model.Worker{ID: id, ConfidenceLevel: 2}, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockDependencies) Snapshots(_ context.Context, from, to time.Time, limit int) ([]model.SharesSnapshot, error) {
	m.lastFrom, m.lastTo, m.lastLimit = from, to, limit
	return m.snapshots, nil
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newMux(deps *mockDependencies, stats *mockStatsProvider) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, stats).Register(context.Background(), mux)
	return mux
}

func serve(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServer_Register(t *testing.T) {
	Convey("Given a new API server", t, func() {
		g := model.NewGlobalState()
		g.WorkerCount = 3
		g.IdleWorkerShares = decimal.RequireFromString("42.125")
		deps := &mockDependencies{global: g}
		stats := &mockStatsProvider{stats: map[string]interface{}{"started": true, "cursor": 10}}
		mux := newMux(deps, stats)

		Convey("Then the health endpoint serves the metrics exposition", func() {
			w := serve(mux, "GET", "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "shareview_")
		})

		Convey("Then the stats endpoint returns the provider map", func() {
			w := serve(mux, "GET", "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var got map[string]interface{}
			So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
			So(got["started"], ShouldEqual, true)
			So(got["cursor"], ShouldEqual, 10.0)
		})

		Convey("Then the global state keeps decimal precision", func() {
			w := serve(mux, "GET", "/global-state", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldEqual, "application/json; charset=utf-8")
			So(w.Body.String(), ShouldContainSubstring, `"idle_worker_shares":"42.125"`)
			So(w.Body.String(), ShouldContainSubstring, `"worker_count":3`)
		})

		Convey("Then a store failure on global state is a 500", func() {
			deps.globalErr = errors.New("disk on fire")
			w := serve(mux, "GET", "/global-state", "")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("Then non-GET reads are not found", func() {
			So(serve(mux, "POST", "/global-state", "").Code, ShouldEqual, http.StatusNotFound)
			So(serve(mux, "DELETE", "/sessions/"+knownSession, "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestEntityHandlers(t *testing.T) {
	Convey("Given the entity routes", t, func() {
		mux := newMux(&mockDependencies{global: model.NewGlobalState()}, &mockStatsProvider{})

		Convey("When a known session is requested", func() {
			w := serve(mux, "GET", "/sessions/"+knownSession, "")

			Convey("Then it is returned as JSON", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var s model.Session
				So(json.Unmarshal(w.Body.Bytes(), &s), ShouldBeNil)
				So(s.ID, ShouldEqual, knownSession)
				So(s.BoundWorker, ShouldEqual, knownWorker)
				So(s.Shares.String(), ShouldEqual, "12.5")
			})
		})

		Convey("When an unknown session is requested", func() {
			w := serve(mux, "GET", "/sessions/5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty", "")

			Convey("Then it is a 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(w.Body.String(), ShouldContainSubstring, "not_found")
			})
		})

		Convey("When a malformed id is requested", func() {
			w := serve(mux, "GET", "/sessions/garbage", "")

			Convey("Then it is a 400", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the id is missing or nested", func() {
			So(serve(mux, "GET", "/sessions/", "").Code, ShouldEqual, http.StatusBadRequest)
			So(serve(mux, "GET", "/workers/a/b", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When a known worker is requested", func() {
			w := serve(mux, "GET", "/workers/"+knownWorker, "")

			Convey("Then it is returned as JSON", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"confidence_level":2`)
			})
		})

		Convey("When an unknown worker is requested", func() {
			So(serve(mux, "GET", "/workers/0x00", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestSnapshotsHandler(t *testing.T) {
	Convey("Given a snapshots handler", t, func() {
		bucket := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		deps := &mockDependencies{snapshots: []model.SharesSnapshot{
			{BucketStart: bucket, Shares: decimal.NewFromInt(7)},
		}}
		mux := newMux(deps, &mockStatsProvider{})

		Convey("When no parameters are given", func() {
			w := serve(mux, "GET", "/snapshots", "")

			Convey("Then the default window is used", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastFrom.IsZero(), ShouldBeTrue)
				So(deps.lastTo.IsZero(), ShouldBeTrue)
				So(deps.lastLimit, ShouldEqual, 1000)
				So(w.Body.String(), ShouldContainSubstring, `"bucket_start":"2024-03-01T12:00:00Z"`)
			})
		})

		Convey("When a window and limit are given", func() {
			w := serve(mux, "GET", "/snapshots?from=2024-03-01T00:00:00Z&to=2024-03-02T00:00:00Z&limit=5", "")

			Convey("Then they are passed through", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastFrom, ShouldEqual, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
				So(deps.lastTo, ShouldEqual, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
				So(deps.lastLimit, ShouldEqual, 5)
			})
		})

		Convey("When the series is empty", func() {
			deps.snapshots = nil
			w := serve(mux, "GET", "/snapshots", "")

			Convey("Then an empty array is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
			})
		})

		Convey("When the parameters are invalid", func() {
			for _, q := range []string{
				"?from=yesterday",
				"?to=2024-13-01T00:00:00Z",
				"?from=2024-03-02T00:00:00Z&to=2024-03-01T00:00:00Z",
				"?limit=0",
				"?limit=abc",
				"?limit=10001",
			} {
				So(serve(mux, "GET", "/snapshots"+q, "").Code, ShouldEqual, http.StatusBadRequest)
			}
		})
	})
}

func TestBlocksHandler(t *testing.T) {
	Convey("Given a blocks handler", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps, &mockStatsProvider{})
		body := `[{"height":1,"timestamp":1700000000000,"spec_version":1260,"events":[]},` +
			`{"height":2,"timestamp":1700000012000,"spec_version":1260,"events":[]}]`

		Convey("When a valid batch is posted", func() {
			w := serve(mux, "POST", "/blocks", body)

			Convey("Then it is accepted as one batch", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Body.String(), ShouldContainSubstring, `"batch_id":"batch-1"`)
				So(len(deps.ingested), ShouldEqual, 1)
				So(len(deps.ingested[0]), ShouldEqual, 2)
				So(deps.ingested[0][1].Height, ShouldEqual, uint64(2))
			})
		})

		Convey("When the body is not a block array", func() {
			So(serve(mux, "POST", "/blocks", `{"height":1}`).Code, ShouldEqual, http.StatusBadRequest)
			So(serve(mux, "POST", "/blocks", `[]`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the service is not running", func() {
			deps.ingestErr = app.ErrNotStarted
			So(serve(mux, "POST", "/blocks", body).Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("When the queue is closed", func() {
			deps.ingestErr = queue.ErrClosed
			So(serve(mux, "POST", "/blocks", body).Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("When the queue stays full", func() {
			deps.ingestErr = context.DeadlineExceeded
			So(serve(mux, "POST", "/blocks", body).Code, ShouldEqual, http.StatusTooManyRequests)
		})

		Convey("When a GET is sent", func() {
			So(serve(mux, "GET", "/blocks", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestMetricsMiddleware(t *testing.T) {
	Convey("Given a wrapped handler", t, func() {
		h := api.MetricsMiddleware(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("short and stout"))
		}, "teapot")

		Convey("Then the status and body pass through", func() {
			w := httptest.NewRecorder()
			h(w, httptest.NewRequest("GET", "/teapot", http.NoBody))
			So(w.Code, ShouldEqual, http.StatusTeapot)
			So(w.Body.String(), ShouldEqual, "short and stout")
		})
	})
}
