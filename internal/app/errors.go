package app

import (
	"errors"

	"github.com/okian/shareview/internal/adapters/codec"
	"github.com/okian/shareview/internal/domain/aggregate"
	"github.com/okian/shareview/internal/domain/event"
	"github.com/okian/shareview/internal/domain/view"
)

var (
	// ErrFatal marks a batch that can never be applied as is. Retrying it
	// without operator action yields the same failure.
	ErrFatal = errors.New("fatal batch error")

	// ErrNotStarted is returned by operations that need a running service.
	ErrNotStarted = errors.New("service not started")
)

// IsFatal reports whether err comes from malformed input or a broken
// invariant rather than from the environment (I/O, cancellation).
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrFatal),
		errors.Is(err, codec.ErrUnsupportedEvent),
		errors.Is(err, codec.ErrMalformedArgs),
		errors.Is(err, event.ErrOutOfOrder),
		errors.Is(err, view.ErrInconsistent),
		errors.Is(err, aggregate.ErrDiverged):
		return true
	}
	return false
}
