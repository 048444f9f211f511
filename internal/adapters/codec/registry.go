// Package codec decodes raw chain events into canonical events. Decoders are
// registered per event name and runtime version range; anything without a
// matching decoder is rejected.
package codec

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/okian/shareview/internal/domain/event"
)

// Event names as emitted by the chain.
const (
	NameSessionBound            = "PhalaComputation.SessionBound"
	NameSessionUnbound          = "PhalaComputation.SessionUnbound"
	NameSessionSettled          = "PhalaComputation.SessionSettled"
	NameWorkerStarted           = "PhalaComputation.WorkerStarted"
	NameWorkerStopped           = "PhalaComputation.WorkerStopped"
	NameWorkerReclaimed         = "PhalaComputation.WorkerReclaimed"
	NameWorkerEnterUnresponsive = "PhalaComputation.WorkerEnterUnresponsive"
	NameWorkerExitUnresponsive  = "PhalaComputation.WorkerExitUnresponsive"
	NameBenchmarkUpdated        = "PhalaComputation.BenchmarkUpdated"
	NameWorkerAdded             = "PhalaRegistry.WorkerAdded"
	NameWorkerUpdated           = "PhalaRegistry.WorkerUpdated"
	NameInitialScoreSet         = "PhalaRegistry.InitialScoreSet"
)

// Runtime versions at which encodings changed.
const (
	V1240 uint32 = 1240
	V1260 uint32 = 1260
)

// DecodeFunc turns the arguments of one raw event into a canonical event.
type DecodeFunc func(a Args) (event.Event, error)

type entry struct {
	from, to uint32 // to 0 means open ended
	decode   DecodeFunc
}

func (e entry) covers(v uint32) bool {
	return v >= e.from && (e.to == 0 || v <= e.to)
}

// Registry maps (name, version) to a decoder.
type Registry struct {
	entries    map[string][]entry
	ss58Prefix uint16
}

// Option configures a Registry.
type Option func(*Registry)

// WithSS58Prefix sets the network prefix used for session addresses.
func WithSS58Prefix(prefix uint16) Option {
	return func(r *Registry) { r.ss58Prefix = prefix }
}

// NewRegistry returns a registry with every known encoding registered.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{entries: make(map[string][]entry), ss58Prefix: DefaultSS58Prefix}
	for _, opt := range opts {
		opt(r)
	}
	r.registerDefaults()
	return r
}

// Register adds a decoder for name covering versions [from, to]; to 0
// leaves the range open. Newer ranges are tried first.
func (r *Registry) Register(name string, from, to uint32, fn DecodeFunc) {
	list := append(r.entries[name], entry{from: from, to: to, decode: fn})
	sort.Slice(list, func(i, j int) bool { return list[i].from > list[j].from })
	r.entries[name] = list
}

// Names returns the registered event names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Decode decodes one raw event emitted under runtime version.
func (r *Registry) Decode(raw RawEvent, version uint32) (event.Event, error) {
	for _, e := range r.entries[raw.Name] {
		if !e.covers(version) {
			continue
		}
		a, err := parseArgs(raw.Args)
		if err != nil {
			return nil, fmt.Errorf("%s v%d: %w", raw.Name, version, err)
		}
		ev, err := e.decode(a)
		if err != nil {
			return nil, fmt.Errorf("%s v%d: %w", raw.Name, version, err)
		}
		return ev, nil
	}
	return nil, fmt.Errorf("%w: %s v%d", ErrUnsupportedEvent, raw.Name, version)
}

// DecodeBlocks decodes raw blocks into a validated batch. Any failure
// rejects the whole input.
func (r *Registry) DecodeBlocks(blocks []RawBlock) (event.Batch, error) {
	var batch event.Batch
	for _, rb := range blocks {
		blk := event.Block{Height: rb.Height, Time: time.UnixMilli(rb.Timestamp).UTC()}
		batch.Blocks = append(batch.Blocks, blk)
		for i, raw := range rb.Events {
			ev, err := r.Decode(raw, rb.SpecVersion)
			if err != nil {
				return event.Batch{}, fmt.Errorf("block %d event %d: %w", rb.Height, i, err)
			}
			batch.Events = append(batch.Events, event.Envelope{Block: blk, Index: i, Event: ev})
		}
	}
	if err := batch.Validate(); err != nil {
		return event.Batch{}, err
	}
	return batch, nil
}

// Args are the named arguments of a raw event.
type Args map[string]json.RawMessage

func parseArgs(raw json.RawMessage) (Args, error) {
	a := Args{}
	if len(raw) == 0 {
		return a, nil
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArgs, err)
	}
	return a, nil
}

// String returns a string argument. Numbers are accepted in their literal
// form so large integers survive as text.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrMalformedArgs, key)
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrMalformedArgs, key, err)
	}
	return n.String(), nil
}

// Int64 returns an integer argument given as a number or a string.
func (a Args) Int64(key string) (int64, error) {
	s, err := a.String(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrMalformedArgs, key, err)
	}
	return n, nil
}
