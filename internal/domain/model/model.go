// Package model contains the materialized entities exposed to readers.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// GlobalStateID is the fixed id of the singleton GlobalState row.
const GlobalStateID = "0"

// SnapshotInterval is the width of one shares snapshot bucket.
const SnapshotInterval = 10 * time.Minute

// WorkerState is the lifecycle state of a session.
type WorkerState string

// Session lifecycle states.
const (
	StateReady              WorkerState = "Ready"
	StateWorkerIdle         WorkerState = "WorkerIdle"
	StateWorkerCoolingDown  WorkerState = "WorkerCoolingDown"
	StateWorkerUnresponsive WorkerState = "WorkerUnresponsive"
)

// Valid reports whether s is one of the defined lifecycle states.
func (s WorkerState) Valid() bool {
	switch s {
	case StateReady, StateWorkerIdle, StateWorkerCoolingDown, StateWorkerUnresponsive:
		return true
	}
	return false
}

// ParseWorkerState parses a persisted state name.
func ParseWorkerState(s string) (WorkerState, error) {
	st := WorkerState(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown worker state %q", s)
	}
	return st, nil
}

// Worker is a registered participant identified by its public key.
type Worker struct {
	ID              string `json:"id"`
	ConfidenceLevel int64  `json:"confidence_level"`
	InitialScore    *int64 `json:"initial_score"`
	// CurrentShares mirrors the bound session's shares; nil while unbound.
	// It is not persisted and is rebuilt from the session on load.
	CurrentShares *decimal.Decimal `json:"current_shares,omitempty"`
}

// Clone returns a deep copy of w.
func (w *Worker) Clone() *Worker {
	c := *w
	if w.InitialScore != nil {
		v := *w.InitialScore
		c.InitialScore = &v
	}
	if w.CurrentShares != nil {
		v := *w.CurrentShares
		c.CurrentShares = &v
	}
	return &c
}

// Session is a computing slot that a worker may be bound to.
type Session struct {
	ID string `json:"id"`
	// BoundWorker is the id of the bound worker, empty when unbound.
	BoundWorker          string          `json:"bound_worker_id,omitempty"`
	State                WorkerState     `json:"state"`
	V                    decimal.Decimal `json:"v"`
	VE                   decimal.Decimal `json:"ve"`
	PInit                int64           `json:"p_init"`
	PInstant             int64           `json:"p_instant"`
	TotalReward          decimal.Decimal `json:"total_reward"`
	Stake                decimal.Decimal `json:"stake"`
	CoolingDownStartTime *time.Time      `json:"cooling_down_start_time"`
	Shares               decimal.Decimal `json:"shares"`
}

// NewSession returns a session in its initial Ready state.
func NewSession(id string) *Session {
	return &Session{
		ID:          id,
		State:       StateReady,
		V:           decimal.Zero,
		VE:          decimal.Zero,
		TotalReward: decimal.Zero,
		Stake:       decimal.Zero,
		Shares:      decimal.Zero,
	}
}

// Bound reports whether a worker is bound to the session.
func (s *Session) Bound() bool { return s.BoundWorker != "" }

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	c := *s
	if s.CoolingDownStartTime != nil {
		t := *s.CoolingDownStartTime
		c.CoolingDownStartTime = &t
	}
	return &c
}

// GlobalState holds the network-wide aggregates.
type GlobalState struct {
	ID                 string          `json:"id"`
	IdleWorkerShares   decimal.Decimal `json:"idle_worker_shares"`
	IdleWorkerPInit    int64           `json:"idle_worker_p_init"`
	IdleWorkerPInstant int64           `json:"idle_worker_p_instant"`
	WorkerCount        int64           `json:"worker_count"`
	IdleWorkerCount    int64           `json:"idle_worker_count"`
}

// NewGlobalState returns a zeroed singleton row.
func NewGlobalState() *GlobalState {
	return &GlobalState{ID: GlobalStateID, IdleWorkerShares: decimal.Zero}
}

// Clone returns a copy of g.
func (g *GlobalState) Clone() *GlobalState {
	c := *g
	return &c
}

// Equal reports exact equality of all aggregate fields.
func (g *GlobalState) Equal(o *GlobalState) bool {
	return g.IdleWorkerShares.Equal(o.IdleWorkerShares) &&
		g.IdleWorkerPInit == o.IdleWorkerPInit &&
		g.IdleWorkerPInstant == o.IdleWorkerPInstant &&
		g.WorkerCount == o.WorkerCount &&
		g.IdleWorkerCount == o.IdleWorkerCount
}

// SharesSnapshot is one row of the down-sampled idle shares series.
type SharesSnapshot struct {
	BucketStart time.Time       `json:"bucket_start"`
	Shares      decimal.Decimal `json:"shares"`
}

// BucketStart truncates t to the start of its snapshot bucket in UTC.
func BucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(SnapshotInterval)
}
