package testevents

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/okian/shareview/internal/adapters/codec"
	"github.com/okian/shareview/internal/domain/aggregate"
	"github.com/okian/shareview/internal/domain/model"
	"github.com/okian/shareview/internal/domain/reducer"
	"github.com/okian/shareview/internal/domain/shares"
	"github.com/okian/shareview/internal/domain/view"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSimulatorDeterminism(t *testing.T) {
	Convey("Given two simulators with the same seed", t, func() {
		a := NewSimulator(WithSeed(7)).Blocks(200)
		b := NewSimulator(WithSeed(7)).Blocks(200)

		Convey("Then they emit identical streams", func() {
			ja, _ := json.Marshal(a)
			jb, _ := json.Marshal(b)
			So(bytes.Equal(ja, jb), ShouldBeTrue)
		})

		Convey("And a different seed diverges", func() {
			c := NewSimulator(WithSeed(8)).Blocks(200)
			ja, _ := json.Marshal(a)
			jc, _ := json.Marshal(c)
			So(bytes.Equal(ja, jc), ShouldBeFalse)
		})
	})
}

func TestSimulatorStream(t *testing.T) {
	Convey("Given a long simulated stream", t, func() {
		sim := NewSimulator(WithSeed(42))
		blocks := sim.Blocks(3000)

		Convey("Then heights and timestamps strictly increase", func() {
			for i := 1; i < len(blocks); i++ {
				So(blocks[i].Height, ShouldEqual, blocks[i-1].Height+1)
				So(blocks[i].Timestamp, ShouldBeGreaterThan, blocks[i-1].Timestamp)
			}
		})

		Convey("Then every event kind appears", func() {
			counts := sim.Counts()
			for _, name := range codec.NewRegistry().Names() {
				So(counts[name], ShouldBeGreaterThan, 0)
			}
		})

		Convey("When the stream is decoded and reduced in one pass", func() {
			batch, err := codec.NewRegistry().DecodeBlocks(blocks)
			So(err, ShouldBeNil)

			ws := view.New(model.NewGlobalState(), nil, nil, true)
			r := reducer.New(shares.NewStandard(), aggregate.Incremental{})
			for _, env := range batch.Events {
				So(r.Apply(ws, env), ShouldBeNil)
			}

			Convey("Then the counters match the simulator", func() {
				want := sim.Expected()
				g := ws.Global()
				So(g.WorkerCount, ShouldEqual, want.WorkerCount)
				So(g.IdleWorkerCount, ShouldEqual, want.IdleWorkerCount)
				So(g.IdleWorkerPInit, ShouldEqual, want.IdleWorkerPInit)
				So(g.IdleWorkerPInstant, ShouldEqual, want.IdleWorkerPInstant)
				So(aggregate.Verify(g, ws.Sessions()), ShouldBeNil)
			})

			Convey("Then every simulated session has the expected state", func() {
				for _, want := range sim.Sessions() {
					id, err := codec.SessionID(codec.DefaultSS58Prefix, want.ID)
					So(err, ShouldBeNil)
					s, ok := ws.Session(id)
					So(ok, ShouldBeTrue)
					So(s.State, ShouldEqual, want.State)
					So(s.BoundWorker, ShouldEqual, want.Worker)
				}
			})
		})
	})
}

func TestSimulatorLegacyVersion(t *testing.T) {
	Convey("Given a stream stamped with the older runtime", t, func() {
		blocks := NewSimulator(WithSeed(3), WithSpecVersion(codec.V1240)).Blocks(300)

		Convey("Then it decodes without the attestation provider", func() {
			_, err := codec.NewRegistry().DecodeBlocks(blocks)
			So(err, ShouldBeNil)
		})
	})
}

func TestWriteJSONL(t *testing.T) {
	Convey("Given generated blocks", t, func() {
		blocks := NewSimulator(WithSeed(5)).Blocks(10)
		var buf bytes.Buffer
		So(WriteJSONL(&buf, blocks), ShouldBeNil)

		Convey("Then one JSON object is written per line", func() {
			lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
			So(len(lines), ShouldEqual, 10)
			var first codec.RawBlock
			So(json.Unmarshal(lines[0], &first), ShouldBeNil)
			So(first.Height, ShouldEqual, blocks[0].Height)
		})
	})
}
