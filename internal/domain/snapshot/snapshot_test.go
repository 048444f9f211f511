package snapshot_test

import (
	"testing"
	"time"

	"github.com/okian/shareview/internal/domain/snapshot"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestEmitter(t *testing.T) {
	Convey("Given an emitter with no persisted snapshot", t, func() {
		e := snapshot.NewEmitter(nil)

		Convey("When two blocks fall into the same bucket", func() {
			So(e.Observe(at("2024-03-01T10:21:05.123Z"), decimal.NewFromInt(1)), ShouldBeTrue)
			So(e.Observe(at("2024-03-01T10:29:59.999Z"), decimal.NewFromInt(2)), ShouldBeFalse)

			Convey("Then exactly one row exists with a truncated key", func() {
				rows := e.Pending()
				So(rows, ShouldHaveLength, 1)
				So(rows[0].BucketStart.Equal(at("2024-03-01T10:20:00Z")), ShouldBeTrue)
				So(rows[0].Shares.Equal(decimal.NewFromInt(1)), ShouldBeTrue)
			})
		})

		Convey("When blocks move into later buckets", func() {
			e.Observe(at("2024-03-01T10:01:00Z"), decimal.NewFromInt(1))
			e.Observe(at("2024-03-01T10:10:00Z"), decimal.NewFromInt(2))
			e.Observe(at("2024-03-01T11:45:00Z"), decimal.NewFromInt(3))

			Convey("Then keys are strictly increasing", func() {
				rows := e.Pending()
				So(rows, ShouldHaveLength, 3)
				for i := 1; i < len(rows); i++ {
					So(rows[i].BucketStart.After(rows[i-1].BucketStart), ShouldBeTrue)
				}
				So(e.Latest().Equal(at("2024-03-01T11:40:00Z")), ShouldBeTrue)
			})
		})

		Convey("When a block time goes backwards", func() {
			e.Observe(at("2024-03-01T10:31:00Z"), decimal.NewFromInt(1))

			Convey("Then the earlier bucket is skipped", func() {
				So(e.Observe(at("2024-03-01T10:15:00Z"), decimal.NewFromInt(9)), ShouldBeFalse)
				So(e.Pending(), ShouldHaveLength, 1)
			})
		})
	})

	Convey("Given a persisted latest bucket", t, func() {
		latest := at("2024-03-01T10:20:00Z")
		e := snapshot.NewEmitter(&latest)

		Convey("Then the same bucket is never written again", func() {
			So(e.Observe(at("2024-03-01T10:25:00Z"), decimal.NewFromInt(1)), ShouldBeFalse)
			So(e.Observe(at("2024-03-01T10:30:00Z"), decimal.NewFromInt(1)), ShouldBeTrue)
			So(e.Pending(), ShouldHaveLength, 1)
		})
	})

	Convey("Given a non-UTC block time", t, func() {
		e := snapshot.NewEmitter(nil)
		loc := time.FixedZone("UTC+5:30", 5*3600+1800)
		e.Observe(time.Date(2024, 3, 1, 16, 7, 0, 0, loc), decimal.Zero)

		Convey("Then the bucket is computed in UTC", func() {
			So(e.Pending()[0].BucketStart.Equal(at("2024-03-01T10:30:00Z")), ShouldBeTrue)
			So(e.Pending()[0].BucketStart.Location(), ShouldEqual, time.UTC)
		})
	})
}
