// Package snapshot down-samples the idle shares aggregate into a series of
// 10-minute buckets. A bucket is written at most once and bucket keys only
// move forward.
package snapshot

import (
	"time"

	"github.com/okian/shareview/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Emitter collects new snapshot rows for one batch. It is seeded with the
// latest persisted bucket so the store is not queried per block.
type Emitter struct {
	latest  *time.Time
	pending []model.SharesSnapshot
}

// NewEmitter returns an emitter that only accepts buckets after latest.
// A nil latest accepts any bucket.
func NewEmitter(latest *time.Time) *Emitter {
	e := &Emitter{}
	if latest != nil {
		t := model.BucketStart(*latest)
		e.latest = &t
	}
	return e
}

// Observe records the aggregate value at the end of a block. It returns true
// when a new row was appended.
func (e *Emitter) Observe(blockTime time.Time, shares decimal.Decimal) bool {
	bucket := model.BucketStart(blockTime)
	if e.latest != nil && !bucket.After(*e.latest) {
		return false
	}
	e.pending = append(e.pending, model.SharesSnapshot{BucketStart: bucket, Shares: shares})
	e.latest = &bucket
	return true
}

// Pending returns the rows appended since the emitter was created.
func (e *Emitter) Pending() []model.SharesSnapshot {
	return e.pending
}

// Latest returns the most recent bucket, persisted or pending.
func (e *Emitter) Latest() *time.Time {
	if e.latest == nil {
		return nil
	}
	t := *e.latest
	return &t
}
