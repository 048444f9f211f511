package event_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/shareview/internal/domain/event"
	. "github.com/smartystreets/goconvey/convey"
)

func block(h uint64) event.Block {
	return event.Block{Height: h, Time: time.Unix(int64(h)*12, 0).UTC()}
}

func at(h uint64, e event.Event) event.Envelope {
	return event.Envelope{Block: block(h), Event: e}
}

func TestBatchValidate(t *testing.T) {
	Convey("Given a well ordered batch", t, func() {
		b := event.Batch{
			Blocks: []event.Block{block(1), block(2), block(4)},
			Events: []event.Envelope{
				at(1, event.WorkerAdded{WorkerID: "w1"}),
				at(1, event.SessionBound{SessionID: "s1", WorkerID: "w1"}),
				at(4, event.WorkerStarted{SessionID: "s1"}),
			},
		}

		Convey("Then it validates", func() {
			So(b.Validate(), ShouldBeNil)
			So(b.Len(), ShouldEqual, 3)
			last, ok := b.Last()
			So(ok, ShouldBeTrue)
			So(last.Height, ShouldEqual, 4)
		})

		Convey("When iterating per block", func() {
			var heights []uint64
			var counts []int
			err := b.ForEachBlock(func(blk event.Block, evs []event.Envelope) error {
				heights = append(heights, blk.Height)
				counts = append(counts, len(evs))
				return nil
			})

			Convey("Then empty blocks are visited too", func() {
				So(err, ShouldBeNil)
				So(heights, ShouldResemble, []uint64{1, 2, 4})
				So(counts, ShouldResemble, []int{2, 0, 1})
			})
		})

		Convey("When slicing above a height", func() {
			rest := b.After(1)

			Convey("Then only later blocks and events remain", func() {
				So(len(rest.Blocks), ShouldEqual, 2)
				So(rest.Len(), ShouldEqual, 1)
				So(b.After(4).Blocks, ShouldBeEmpty)
			})
		})

		Convey("When collecting touched ids", func() {
			sessions, workers := b.Touched()

			Convey("Then ids are distinct in first-seen order", func() {
				So(sessions, ShouldResemble, []string{"s1"})
				So(workers, ShouldResemble, []string{"w1"})
			})
		})
	})

	Convey("Given malformed batches", t, func() {
		Convey("Then decreasing blocks are rejected", func() {
			b := event.Batch{Blocks: []event.Block{block(2), block(2)}}
			So(errors.Is(b.Validate(), event.ErrOutOfOrder), ShouldBeTrue)
		})

		Convey("Then an event outside the listed blocks is rejected", func() {
			b := event.Batch{
				Blocks: []event.Block{block(1)},
				Events: []event.Envelope{at(3, event.WorkerStopped{SessionID: "s1"})},
			}
			So(errors.Is(b.Validate(), event.ErrOutOfOrder), ShouldBeTrue)
		})

		Convey("Then events going back in height are rejected", func() {
			b := event.Batch{
				Blocks: []event.Block{block(1), block(2)},
				Events: []event.Envelope{
					at(2, event.WorkerStopped{SessionID: "s1"}),
					at(1, event.WorkerStopped{SessionID: "s1"}),
				},
			}
			So(errors.Is(b.Validate(), event.ErrOutOfOrder), ShouldBeTrue)
		})
	})
}
