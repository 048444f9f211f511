package aggregate

import "errors"

// Sentinel kinds for aggregate errors.
var (
	ErrUnknownStrategy = errors.New("unknown aggregate strategy")
	ErrDiverged        = errors.New("aggregates diverged from recomputation")
)
