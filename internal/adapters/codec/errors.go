package codec

import "errors"

var (
	// ErrUnsupportedEvent is returned for an event name or runtime version
	// with no registered decoder.
	ErrUnsupportedEvent = errors.New("unsupported event")
	// ErrMalformedArgs is returned when event arguments do not match the
	// registered encoding.
	ErrMalformedArgs = errors.New("malformed event arguments")
)
