package testevents

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/okian/shareview/internal/adapters/codec"
	"github.com/okian/shareview/internal/domain/model"
)

// Simulator defaults.
const (
	defaultSimWorkers     = 12
	defaultSimSessions    = 16
	defaultEventsPerBlock = 4
	defaultBlockInterval  = 12 * time.Second
	defaultSpecVersion    = codec.V1260
	emptyBlockPercent     = 20
	maxPickAttempts       = 16
)

type simWorker struct {
	id         string
	registered bool
	session    *simSession
}

type simSession struct {
	id       string
	seen     bool
	worker   *simWorker
	state    model.WorkerState
	pInit    int64
	pInstant int64
}

// SimOption configures a Simulator.
type SimOption func(*Simulator)

// WithSeed fixes the random sequence.
func WithSeed(seed uint64) SimOption {
	return func(s *Simulator) { s.seed = seed }
}

// WithPopulation sets the number of worker keys and session keys.
func WithPopulation(workers, sessions int) SimOption {
	return func(s *Simulator) {
		if workers > 0 {
			s.nWorkers = workers
		}
		if sessions > 0 {
			s.nSessions = sessions
		}
	}
}

// WithStart sets the height and time of the first block.
func WithStart(height uint64, t time.Time) SimOption {
	return func(s *Simulator) {
		s.height = height
		s.now = t
	}
}

// WithBlockInterval sets the time between blocks.
func WithBlockInterval(d time.Duration) SimOption {
	return func(s *Simulator) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMaxEventsPerBlock caps the events emitted per block.
func WithMaxEventsPerBlock(n int) SimOption {
	return func(s *Simulator) {
		if n > 0 {
			s.maxEvents = n
		}
	}
}

// WithSpecVersion sets the runtime version stamped on every block.
func WithSpecVersion(v uint32) SimOption {
	return func(s *Simulator) { s.specVersion = v }
}

// Simulator emits a legal raw block stream. It tracks the protocol state it
// has produced so every event it emits is valid for the reducer, apart from
// deliberate no-op state transitions.
type Simulator struct {
	seed        uint64
	nWorkers    int
	nSessions   int
	maxEvents   int
	interval    time.Duration
	specVersion uint32

	rng      *rand.Rand
	height   uint64
	now      time.Time
	workers  []*simWorker
	sessions []*simSession
	counts   map[string]int
}

// NewSimulator creates a simulator.
func NewSimulator(opts ...SimOption) *Simulator {
	s := &Simulator{
		seed:        1,
		nWorkers:    defaultSimWorkers,
		nSessions:   defaultSimSessions,
		maxEvents:   defaultEventsPerBlock,
		interval:    defaultBlockInterval,
		specVersion: defaultSpecVersion,
		height:      1,
		now:         time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		counts:      map[string]int{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rng = rand.New(rand.NewPCG(s.seed, s.seed^0x9e3779b97f4a7c15))
	for i := 0; i < s.nWorkers; i++ {
		s.workers = append(s.workers, &simWorker{id: s.key()})
	}
	for i := 0; i < s.nSessions; i++ {
		s.sessions = append(s.sessions, &simSession{id: s.key(), state: model.StateReady})
	}
	return s
}

func (s *Simulator) key() string {
	b := make([]byte, 32)
	for i := range b {
		b[i] = byte(s.rng.UintN(256))
	}
	return "0x" + hex.EncodeToString(b)
}

// Blocks returns the next n blocks.
func (s *Simulator) Blocks(n int) []codec.RawBlock {
	out := make([]codec.RawBlock, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.Next())
	}
	return out
}

// Next returns the next block. Some blocks carry no events.
func (s *Simulator) Next() codec.RawBlock {
	blk := codec.RawBlock{
		Height:      s.height,
		Timestamp:   s.now.UnixMilli(),
		SpecVersion: s.specVersion,
		Events:      []codec.RawEvent{},
	}
	s.height++
	s.now = s.now.Add(s.interval)

	if s.rng.IntN(100) < emptyBlockPercent {
		return blk
	}
	n := 1 + s.rng.IntN(s.maxEvents)
	for i := 0; i < n; i++ {
		if ev, ok := s.event(); ok {
			blk.Events = append(blk.Events, ev)
		}
	}
	return blk
}

type step func(*Simulator) (codec.RawEvent, bool)

var steps = []step{
	(*Simulator).addWorker,
	(*Simulator).updateWorker,
	(*Simulator).scoreWorker,
	(*Simulator).bind,
	(*Simulator).unbind,
	(*Simulator).start,
	(*Simulator).stop,
	(*Simulator).reclaim,
	(*Simulator).enterUnresponsive,
	(*Simulator).exitUnresponsive,
	(*Simulator).settle,
	(*Simulator).benchmark,
	(*Simulator).noop,
}

func (s *Simulator) event() (codec.RawEvent, bool) {
	for i := 0; i < maxPickAttempts; i++ {
		if ev, ok := steps[s.rng.IntN(len(steps))](s); ok {
			s.counts[ev.Name]++
			return ev, true
		}
	}
	return codec.RawEvent{}, false
}

func (s *Simulator) pickWorker(match func(*simWorker) bool) *simWorker {
	var c []*simWorker
	for _, w := range s.workers {
		if match(w) {
			c = append(c, w)
		}
	}
	if len(c) == 0 {
		return nil
	}
	return c[s.rng.IntN(len(c))]
}

func (s *Simulator) pickSession(match func(*simSession) bool) *simSession {
	var c []*simSession
	for _, ss := range s.sessions {
		if match(ss) {
			c = append(c, ss)
		}
	}
	if len(c) == 0 {
		return nil
	}
	return c[s.rng.IntN(len(c))]
}

func raw(name string, args map[string]any) codec.RawEvent {
	b, _ := json.Marshal(args)
	return codec.RawEvent{Name: name, Args: b}
}

func (s *Simulator) registryArgs(w *simWorker) map[string]any {
	args := map[string]any{
		"pubkey":           w.id,
		"confidence_level": 1 + s.rng.IntN(5),
	}
	if s.specVersion >= codec.V1260 {
		args["attestation_provider"] = "ias"
	}
	return args
}

// bits encodes an integer value as U64F64 bits.
func bits(v int64) string {
	return new(big.Int).Lsh(big.NewInt(v), 64).String()
}

func (s *Simulator) addWorker() (codec.RawEvent, bool) {
	w := s.pickWorker(func(w *simWorker) bool { return !w.registered })
	if w == nil {
		return codec.RawEvent{}, false
	}
	w.registered = true
	return raw(codec.NameWorkerAdded, s.registryArgs(w)), true
}

func (s *Simulator) updateWorker() (codec.RawEvent, bool) {
	w := s.pickWorker(func(w *simWorker) bool { return w.registered })
	if w == nil {
		return codec.RawEvent{}, false
	}
	return raw(codec.NameWorkerUpdated, s.registryArgs(w)), true
}

func (s *Simulator) scoreWorker() (codec.RawEvent, bool) {
	w := s.pickWorker(func(w *simWorker) bool { return w.registered })
	if w == nil {
		return codec.RawEvent{}, false
	}
	return raw(codec.NameInitialScoreSet, map[string]any{
		"pubkey":     w.id,
		"init_score": 100 + s.rng.IntN(5000),
	}), true
}

func (s *Simulator) bind() (codec.RawEvent, bool) {
	w := s.pickWorker(func(w *simWorker) bool { return w.registered && w.session == nil })
	if w == nil {
		return codec.RawEvent{}, false
	}
	ss := s.pickSession(func(ss *simSession) bool { return ss.worker == nil })
	if ss == nil {
		return codec.RawEvent{}, false
	}
	ss.worker, w.session = w, ss
	ss.seen = true
	return raw(codec.NameSessionBound, map[string]any{"session": ss.id, "worker": w.id}), true
}

func (s *Simulator) unbind() (codec.RawEvent, bool) {
	ss := s.pickSession(func(ss *simSession) bool { return ss.worker != nil })
	if ss == nil {
		return codec.RawEvent{}, false
	}
	w := ss.worker
	ss.worker, w.session = nil, nil
	return raw(codec.NameSessionUnbound, map[string]any{"session": ss.id, "worker": w.id}), true
}

func (s *Simulator) start() (codec.RawEvent, bool) {
	ss := s.pickSession(func(ss *simSession) bool { return ss.worker != nil && ss.state == model.StateReady })
	if ss == nil {
		return codec.RawEvent{}, false
	}
	ss.state = model.StateWorkerIdle
	ss.pInit = int64(500 + s.rng.IntN(3000))
	return raw(codec.NameWorkerStarted, map[string]any{
		"session": ss.id,
		"init_v":  bits(int64(1000 + s.rng.IntN(30000))),
		"init_p":  ss.pInit,
	}), true
}

func (s *Simulator) stop() (codec.RawEvent, bool) {
	ss := s.pickSession(func(ss *simSession) bool {
		return ss.worker != nil && (ss.state == model.StateWorkerIdle || ss.state == model.StateWorkerUnresponsive)
	})
	if ss == nil {
		return codec.RawEvent{}, false
	}
	ss.state = model.StateWorkerCoolingDown
	return raw(codec.NameWorkerStopped, map[string]any{"session": ss.id}), true
}

func (s *Simulator) reclaim() (codec.RawEvent, bool) {
	ss := s.pickSession(func(ss *simSession) bool { return ss.state == model.StateWorkerCoolingDown })
	if ss == nil {
		return codec.RawEvent{}, false
	}
	ss.state = model.StateReady
	stake := strconv.Itoa(1+s.rng.IntN(5000)) + "000000000000"
	return raw(codec.NameWorkerReclaimed, map[string]any{
		"session":        ss.id,
		"original_stake": stake,
		"slashed":        "0",
	}), true
}

func (s *Simulator) enterUnresponsive() (codec.RawEvent, bool) {
	ss := s.pickSession(func(ss *simSession) bool { return ss.worker != nil && ss.state == model.StateWorkerIdle })
	if ss == nil {
		return codec.RawEvent{}, false
	}
	ss.state = model.StateWorkerUnresponsive
	return raw(codec.NameWorkerEnterUnresponsive, map[string]any{"session": ss.id}), true
}

func (s *Simulator) exitUnresponsive() (codec.RawEvent, bool) {
	ss := s.pickSession(func(ss *simSession) bool { return ss.state == model.StateWorkerUnresponsive })
	if ss == nil {
		return codec.RawEvent{}, false
	}
	ss.state = model.StateWorkerIdle
	return raw(codec.NameWorkerExitUnresponsive, map[string]any{"session": ss.id}), true
}

func (s *Simulator) settle() (codec.RawEvent, bool) {
	ss := s.pickSession(func(ss *simSession) bool {
		return ss.worker != nil && (ss.state == model.StateWorkerIdle || ss.state == model.StateWorkerUnresponsive)
	})
	if ss == nil {
		return codec.RawEvent{}, false
	}
	return raw(codec.NameSessionSettled, map[string]any{
		"session":     ss.id,
		"v_bits":      bits(int64(1000 + s.rng.IntN(30000))),
		"payout_bits": bits(int64(s.rng.IntN(50))),
	}), true
}

func (s *Simulator) benchmark() (codec.RawEvent, bool) {
	ss := s.pickSession(func(ss *simSession) bool { return ss.worker != nil && ss.state == model.StateWorkerIdle })
	if ss == nil {
		return codec.RawEvent{}, false
	}
	ss.pInstant = int64(100 + s.rng.IntN(4000))
	return raw(codec.NameBenchmarkUpdated, map[string]any{
		"session":   ss.id,
		"p_instant": ss.pInstant,
	}), true
}

// noop emits a transition the reducer must ignore: leaving the
// unresponsive state from idle, or entering it while cooling down.
func (s *Simulator) noop() (codec.RawEvent, bool) {
	if ss := s.pickSession(func(ss *simSession) bool { return ss.state == model.StateWorkerIdle }); ss != nil {
		return raw(codec.NameWorkerExitUnresponsive, map[string]any{"session": ss.id}), true
	}
	if ss := s.pickSession(func(ss *simSession) bool { return ss.state == model.StateWorkerCoolingDown }); ss != nil {
		return raw(codec.NameWorkerEnterUnresponsive, map[string]any{"session": ss.id}), true
	}
	return codec.RawEvent{}, false
}

// Expected returns the share independent aggregates implied by the stream
// so far. IdleWorkerShares is left zero.
func (s *Simulator) Expected() *model.GlobalState {
	g := model.NewGlobalState()
	for _, ss := range s.sessions {
		if ss.worker == nil {
			continue
		}
		g.WorkerCount++
		if ss.state == model.StateWorkerIdle {
			g.IdleWorkerCount++
			g.IdleWorkerPInit += ss.pInit
			g.IdleWorkerPInstant += ss.pInstant
		}
	}
	return g
}

// SessionState is the simulator's view of one session.
type SessionState struct {
	ID     string
	Worker string
	State  model.WorkerState
}

// Sessions returns the sessions that have appeared in the stream.
func (s *Simulator) Sessions() []SessionState {
	var out []SessionState
	for _, ss := range s.sessions {
		if !ss.seen {
			continue
		}
		st := SessionState{ID: ss.id, State: ss.state}
		if ss.worker != nil {
			st.Worker = ss.worker.id
		}
		out = append(out, st)
	}
	return out
}

// Counts returns how many events of each raw name were emitted.
func (s *Simulator) Counts() map[string]int {
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Height returns the height the next block will carry.
func (s *Simulator) Height() uint64 { return s.height }
