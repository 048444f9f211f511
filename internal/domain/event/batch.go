package event

import (
	"fmt"
	"sort"
	"time"
)

// Block identifies a chain block by height and timestamp.
type Block struct {
	Height uint64
	Time   time.Time
}

// Envelope carries one canonical event together with its block.
type Envelope struct {
	Block Block
	// Index is the emission position of the event inside its block.
	Index int
	Event Event
}

// Batch is an ordered slice of blocks and the events they emitted.
// Blocks without events are kept so the snapshot series can advance.
type Batch struct {
	Blocks []Block
	Events []Envelope
}

// Len returns the number of events in the batch.
func (b Batch) Len() int { return len(b.Events) }

// Last returns the last block of the batch.
func (b Batch) Last() (Block, bool) {
	if len(b.Blocks) == 0 {
		return Block{}, false
	}
	return b.Blocks[len(b.Blocks)-1], true
}

// Validate checks the ordering contract of the event source: block heights
// strictly increase, event heights never decrease, and every event belongs
// to a block listed in the batch.
func (b Batch) Validate() error {
	heights := make(map[uint64]struct{}, len(b.Blocks))
	for i, blk := range b.Blocks {
		if i > 0 && blk.Height <= b.Blocks[i-1].Height {
			return fmt.Errorf("%w: block %d follows block %d", ErrOutOfOrder, blk.Height, b.Blocks[i-1].Height)
		}
		heights[blk.Height] = struct{}{}
	}
	for i, env := range b.Events {
		if env.Event == nil {
			return fmt.Errorf("%w: empty event at position %d", ErrOutOfOrder, i)
		}
		if _, ok := heights[env.Block.Height]; !ok {
			return fmt.Errorf("%w: event %s at height %d has no block in batch", ErrOutOfOrder, env.Event.Kind(), env.Block.Height)
		}
		if i > 0 && env.Block.Height < b.Events[i-1].Block.Height {
			return fmt.Errorf("%w: event at height %d follows height %d", ErrOutOfOrder, env.Block.Height, b.Events[i-1].Block.Height)
		}
	}
	return nil
}

// ForEachBlock calls fn for every block in order with the events it emitted.
// The batch must be valid.
func (b Batch) ForEachBlock(fn func(Block, []Envelope) error) error {
	next := 0
	for _, blk := range b.Blocks {
		start := next
		for next < len(b.Events) && b.Events[next].Block.Height == blk.Height {
			next++
		}
		if err := fn(blk, b.Events[start:next]); err != nil {
			return err
		}
	}
	return nil
}

// After returns the part of the batch strictly above height.
func (b Batch) After(height uint64) Batch {
	i := sort.Search(len(b.Blocks), func(i int) bool { return b.Blocks[i].Height > height })
	j := sort.Search(len(b.Events), func(j int) bool { return b.Events[j].Block.Height > height })
	return Batch{Blocks: b.Blocks[i:], Events: b.Events[j:]}
}

// Touched returns the distinct session and worker ids the batch addresses.
func (b Batch) Touched() (sessions, workers []string) {
	seenS := make(map[string]struct{})
	seenW := make(map[string]struct{})
	for _, env := range b.Events {
		if e, ok := env.Event.(SessionScoped); ok {
			if _, dup := seenS[e.Session()]; !dup {
				seenS[e.Session()] = struct{}{}
				sessions = append(sessions, e.Session())
			}
		}
		if e, ok := env.Event.(WorkerScoped); ok {
			if _, dup := seenW[e.Worker()]; !dup {
				seenW[e.Worker()] = struct{}{}
				workers = append(workers, e.Worker())
			}
		}
	}
	return sessions, workers
}
