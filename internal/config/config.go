// Package config defines indexer configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and environment variables on top of New().
// - Validation errors wrap ErrInvalidConfig; provider errors wrap ErrLoadConfig.
package config

import (
	"fmt"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Store selects the persistence backend: sqlite or memory.
	Store string `koanf:"store"`

	// DBPath is the SQLite database file.
	DBPath string `koanf:"db_path"`

	// EventsPath is a JSONL file of raw blocks. Empty disables the file source.
	EventsPath string `koanf:"events_path"`

	// DumpPath seeds an empty store. A file path or an http(s) URL.
	DumpPath string `koanf:"dump_path"`

	// BatchSize is the number of blocks read from the source per batch.
	BatchSize int `koanf:"batch_size"`

	// QueueSize bounds the in-memory batch queue.
	QueueSize int `koanf:"queue_size"`

	// AggregateStrategy is incremental or recomputed.
	AggregateStrategy string `koanf:"aggregate_strategy"`

	// VerifyAggregates recomputes the aggregates after every batch and halts
	// on divergence.
	VerifyAggregates bool `koanf:"verify_aggregates"`

	// SS58Prefix is the network prefix used to encode session addresses.
	SS58Prefix uint16 `koanf:"ss58_prefix"`

	// ConfidenceWeights maps worker confidence levels to share weights.
	ConfidenceWeights map[string]float64 `koanf:"confidence_weights"`

	// DefaultConfidenceWeight is used for unknown levels.
	DefaultConfidenceWeight float64 `koanf:"default_confidence_weight"`

	// PInstantWeight scales the instant benchmark in the share function.
	PInstantWeight float64 `koanf:"p_instant_weight"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		Addr:              ":9080",
		Store:             StoreSQLite,
		DBPath:            "shareview.db",
		BatchSize:         100,
		QueueSize:         16,
		AggregateStrategy: "incremental",
		SS58Prefix:        30,
		ConfidenceWeights: map[string]float64{
			"1": 1.0,
			"2": 1.0,
			"3": 1.0,
			"4": 0.8,
			"5": 0.7,
		},
		DefaultConfidenceWeight: 1.0,
		PInstantWeight:          2.0,
	}
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Store != StoreSQLite && c.Store != StoreMemory:
		return fmt.Errorf("%w: store %q", ErrInvalidConfig, c.Store)
	case c.Store == StoreSQLite && c.DBPath == "":
		return fmt.Errorf("%w: db_path is required for the sqlite store", ErrInvalidConfig)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.AggregateStrategy != "incremental" && c.AggregateStrategy != "recomputed":
		return fmt.Errorf("%w: aggregate_strategy %q", ErrInvalidConfig, c.AggregateStrategy)
	case c.DefaultConfidenceWeight <= 0:
		return fmt.Errorf("%w: default_confidence_weight must be positive", ErrInvalidConfig)
	case c.PInstantWeight <= 0:
		return fmt.Errorf("%w: p_instant_weight must be positive", ErrInvalidConfig)
	}
	for level, w := range c.ConfidenceWeights {
		if w <= 0 {
			return fmt.Errorf("%w: confidence weight for level %s must be positive", ErrInvalidConfig, level)
		}
	}
	return nil
}
