package worker

import (
	"github.com/okian/shareview/pkg/logger"
)

// Option applies a configuration option to the BatchWorker.
type Option func(*BatchWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *BatchWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *BatchWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithOnHalt registers a callback invoked once when processing fails.
func WithOnHalt(fn func(error)) Option {
	return func(w *BatchWorker) {
		w.onHalt = fn
	}
}
