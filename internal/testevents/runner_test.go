package testevents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/okian/shareview/internal/adapters/codec"
	"github.com/okian/shareview/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPostBlocks(t *testing.T) {
	_ = logger.Init()
	Convey("Given an ingest endpoint that throttles once", t, func() {
		var (
			mu        sync.Mutex
			received  []uint64
			requests  int
			throttled bool
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			requests++
			if r.Method != http.MethodPost || r.URL.Path != "/blocks" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if !throttled {
				throttled = true
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			var blocks []codec.RawBlock
			if err := json.NewDecoder(r.Body).Decode(&blocks); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			for _, b := range blocks {
				received = append(received, b.Height)
			}
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		blocks := NewSimulator(WithSeed(9)).Blocks(25)
		cfg := &Config{BaseURL: srv.URL, PostBatch: 10, Timeout: 5 * time.Second}

		Convey("When the blocks are posted", func() {
			err := postBlocks(context.Background(), cfg, blocks)

			Convey("Then every block arrives once and in order", func() {
				So(err, ShouldBeNil)
				mu.Lock()
				defer mu.Unlock()
				So(requests, ShouldEqual, 4)
				So(len(received), ShouldEqual, len(blocks))
				for i, b := range blocks {
					So(received[i], ShouldEqual, b.Height)
				}
			})
		})
	})

	Convey("Given an ingest endpoint that rejects the payload", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "bad request", http.StatusBadRequest)
		}))
		defer srv.Close()

		cfg := &Config{BaseURL: srv.URL, PostBatch: 5, Timeout: 5 * time.Second}
		err := postBlocks(context.Background(), cfg, NewSimulator(WithSeed(1)).Blocks(3))

		Convey("Then posting fails with the status", func() {
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "400")
		})
	})
}
