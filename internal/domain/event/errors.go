package event

import "errors"

// Sentinel kinds for event stream errors.
var (
	// ErrOutOfOrder reports a batch that violates the source ordering contract.
	ErrOutOfOrder = errors.New("event stream out of order")
)
