// Package repository persists the materialized view: the GlobalState row,
// workers, sessions, the shares snapshot series and the indexer cursor.
package repository

import (
	"context"
	"time"

	"github.com/okian/shareview/internal/domain/model"
	"github.com/okian/shareview/internal/domain/view"
)

// MaxSnapshotLimit caps a single Snapshots query.
const MaxSnapshotLimit = 10_000

// Changes is everything one batch writes. It is applied atomically.
type Changes struct {
	Global *model.GlobalState
	// Sessions must list unbound sessions before bound ones.
	Sessions  []*model.Session
	Workers   []*model.Worker
	Snapshots []model.SharesSnapshot
	// Height moves the cursor when set. Zero is a valid height.
	Height *uint64
}

// Store provides read/write access to the materialized view.
type Store interface {
	view.Reader

	// Session returns one session or ErrNotFound.
	Session(ctx context.Context, id string) (*model.Session, error)
	// Worker returns one worker with CurrentShares filled from its bound
	// session, or ErrNotFound.
	Worker(ctx context.Context, id string) (*model.Worker, error)

	// Snapshots returns rows with from <= bucket < to in ascending order.
	// A zero to means no upper bound.
	Snapshots(ctx context.Context, from, to time.Time, limit int) ([]model.SharesSnapshot, error)
	// LatestSnapshot returns the newest row or ErrNotFound.
	LatestSnapshot(ctx context.Context) (model.SharesSnapshot, error)

	// Cursor returns the last committed block height.
	Cursor(ctx context.Context) (height uint64, ok bool, err error)

	// Commit writes c in one transaction. Existing snapshot buckets are
	// never overwritten.
	Commit(ctx context.Context, c Changes) error

	Close() error
}
