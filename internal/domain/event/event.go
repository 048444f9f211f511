// Package event defines the canonical domain events consumed by the reducer.
//
// Every wire encoding is normalized into exactly one of the variants below
// before it reaches the reducer. The set is closed: Event carries an
// unexported method so no other package can add variants.
package event

import (
	"github.com/shopspring/decimal"
)

// Kind names a canonical event variant.
type Kind string

// Canonical event kinds.
const (
	KindSessionBound            Kind = "SessionBound"
	KindSessionUnbound          Kind = "SessionUnbound"
	KindSessionSettled          Kind = "SessionSettled"
	KindWorkerStarted           Kind = "WorkerStarted"
	KindWorkerStopped           Kind = "WorkerStopped"
	KindWorkerReclaimed         Kind = "WorkerReclaimed"
	KindWorkerEnterUnresponsive Kind = "WorkerEnterUnresponsive"
	KindWorkerExitUnresponsive  Kind = "WorkerExitUnresponsive"
	KindBenchmarkUpdated        Kind = "BenchmarkUpdated"
	KindWorkerAdded             Kind = "WorkerAdded"
	KindWorkerUpdated           Kind = "WorkerUpdated"
	KindInitialScoreSet         Kind = "InitialScoreSet"
)

// Kinds lists every canonical kind in declaration order.
var Kinds = []Kind{
	KindSessionBound, KindSessionUnbound, KindSessionSettled,
	KindWorkerStarted, KindWorkerStopped, KindWorkerReclaimed,
	KindWorkerEnterUnresponsive, KindWorkerExitUnresponsive, KindBenchmarkUpdated,
	KindWorkerAdded, KindWorkerUpdated, KindInitialScoreSet,
}

// Event is one canonical domain event.
type Event interface {
	Kind() Kind
	sealed()
}

// SessionScoped is implemented by events that address a session.
type SessionScoped interface {
	Event
	Session() string
}

// WorkerScoped is implemented by events that address a worker directly.
type WorkerScoped interface {
	Event
	Worker() string
}

// SessionBound binds a worker to a session.
type SessionBound struct {
	SessionID string
	WorkerID  string
}

// SessionUnbound releases the worker bound to a session.
type SessionUnbound struct {
	SessionID string
	WorkerID  string
}

// SessionSettled reports a settlement of accumulated value and payout.
type SessionSettled struct {
	SessionID string
	V         decimal.Decimal
	Payout    decimal.Decimal
}

// WorkerStarted starts computing on a bound session.
type WorkerStarted struct {
	SessionID string
	InitV     decimal.Decimal
	InitP     int64
}

// WorkerStopped moves a session into cooling down.
type WorkerStopped struct {
	SessionID string
}

// WorkerReclaimed returns the stake of a session after cooling down.
type WorkerReclaimed struct {
	SessionID     string
	OriginalStake decimal.Decimal
	Slashed       decimal.Decimal
}

// WorkerEnterUnresponsive marks an idle session as faulted.
type WorkerEnterUnresponsive struct {
	SessionID string
}

// WorkerExitUnresponsive recovers a faulted session.
type WorkerExitUnresponsive struct {
	SessionID string
}

// BenchmarkUpdated reports a new instant performance benchmark.
type BenchmarkUpdated struct {
	SessionID string
	PInstant  int64
}

// WorkerAdded registers a worker.
type WorkerAdded struct {
	WorkerID        string
	ConfidenceLevel int64
}

// WorkerUpdated changes the confidence tier of a registered worker.
type WorkerUpdated struct {
	WorkerID        string
	ConfidenceLevel int64
}

// InitialScoreSet records the initial benchmark score of a registered worker.
type InitialScoreSet struct {
	WorkerID     string
	InitialScore int64
}

func (SessionBound) Kind() Kind            { return KindSessionBound }
func (SessionUnbound) Kind() Kind          { return KindSessionUnbound }
func (SessionSettled) Kind() Kind          { return KindSessionSettled }
func (WorkerStarted) Kind() Kind           { return KindWorkerStarted }
func (WorkerStopped) Kind() Kind           { return KindWorkerStopped }
func (WorkerReclaimed) Kind() Kind         { return KindWorkerReclaimed }
func (WorkerEnterUnresponsive) Kind() Kind { return KindWorkerEnterUnresponsive }
func (WorkerExitUnresponsive) Kind() Kind  { return KindWorkerExitUnresponsive }
func (BenchmarkUpdated) Kind() Kind        { return KindBenchmarkUpdated }
func (WorkerAdded) Kind() Kind             { return KindWorkerAdded }
func (WorkerUpdated) Kind() Kind           { return KindWorkerUpdated }
func (InitialScoreSet) Kind() Kind         { return KindInitialScoreSet }

func (SessionBound) sealed()            {}
func (SessionUnbound) sealed()          {}
func (SessionSettled) sealed()          {}
func (WorkerStarted) sealed()           {}
func (WorkerStopped) sealed()           {}
func (WorkerReclaimed) sealed()         {}
func (WorkerEnterUnresponsive) sealed() {}
func (WorkerExitUnresponsive) sealed()  {}
func (BenchmarkUpdated) sealed()        {}
func (WorkerAdded) sealed()             {}
func (WorkerUpdated) sealed()           {}
func (InitialScoreSet) sealed()         {}

func (e SessionBound) Session() string            { return e.SessionID }
func (e SessionUnbound) Session() string          { return e.SessionID }
func (e SessionSettled) Session() string          { return e.SessionID }
func (e WorkerStarted) Session() string           { return e.SessionID }
func (e WorkerStopped) Session() string           { return e.SessionID }
func (e WorkerReclaimed) Session() string         { return e.SessionID }
func (e WorkerEnterUnresponsive) Session() string { return e.SessionID }
func (e WorkerExitUnresponsive) Session() string  { return e.SessionID }
func (e BenchmarkUpdated) Session() string        { return e.SessionID }

func (e SessionBound) Worker() string    { return e.WorkerID }
func (e SessionUnbound) Worker() string  { return e.WorkerID }
func (e WorkerAdded) Worker() string     { return e.WorkerID }
func (e WorkerUpdated) Worker() string   { return e.WorkerID }
func (e InitialScoreSet) Worker() string { return e.WorkerID }
