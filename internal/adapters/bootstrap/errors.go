package bootstrap

import "errors"

// ErrLoadDump is returned when the initial dump cannot be read or parsed.
var ErrLoadDump = errors.New("load initial dump")
