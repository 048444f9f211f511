package codec

import "encoding/json"

// RawBlock is one block as delivered by the event source.
type RawBlock struct {
	Height uint64 `json:"height"`
	// Timestamp is the block time in unix milliseconds.
	Timestamp   int64      `json:"timestamp"`
	SpecVersion uint32     `json:"spec_version"`
	Events      []RawEvent `json:"events"`
}

// RawEvent is an undecoded chain event.
type RawEvent struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}
