package view

import (
	"errors"
	"fmt"
)

// ErrInconsistent marks a lookup that the protocol guarantees to succeed but
// did not. It signals an out-of-order or corrupted event stream.
var ErrInconsistent = errors.New("inconsistent entity state")

// InconsistencyError describes which entity broke the protocol expectation.
type InconsistencyError struct {
	Entity string
	ID     string
	Reason string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

// Unwrap allows errors.Is(err, ErrInconsistent).
func (e *InconsistencyError) Unwrap() error { return ErrInconsistent }

// Inconsistent builds an InconsistencyError.
func Inconsistent(entity, id, format string, args ...any) error {
	return &InconsistencyError{Entity: entity, ID: id, Reason: fmt.Sprintf(format, args...)}
}
