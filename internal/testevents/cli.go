package testevents

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/okian/shareview/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string, verbose bool) error {
	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "stream_log_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	multiWriter := io.MultiWriter(os.Stdout, file)
	if err := logger.InitWriter(multiWriter); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	log.SetOutput(multiWriter)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the synthetic stream tool.
func ShowHelp() {
	os.Stdout.WriteString(`Shareview Synthetic Stream Tool
===============================

Generates a legal, seeded stream of raw chain blocks as JSONL and, given a
running indexer, waits for it to apply the stream and verifies the result.

Usage:
  go run cmd/test-events/main.go [options]

Options:
  -blocks int
        Number of blocks to generate (default 2000)
  -seed uint
        Simulator seed (default 1)
  -workers int
        Worker keys in the simulated population (default 12)
  -sessions int
        Session keys in the simulated population (default 16)
  -max-events int
        Upper bound of events per block (default 4)
  -spec-version uint
        Runtime version stamped on blocks (default 1260)
  -output string
        JSONL output file (default: blocks_TIMESTAMP.jsonl)
  -post-batch int
        Blocks per POST /blocks request; 0 leaves ingestion to the indexer's events file
  -url string
        Base URL of a running indexer; empty skips verification
  -concurrency int
        Concurrent session lookups (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -wait duration
        How long to wait for the indexer to catch up (default 2m)
  -log string
        Log file for tool output (default: stream_log_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Write a stream for events_path
  go run cmd/test-events/main.go -blocks 5000 -output data/blocks.jsonl

  # Verify an indexer that reads data/blocks.jsonl
  go run cmd/test-events/main.go -output data/blocks.jsonl -url http://localhost:9080

  # Push a stream to an indexer over HTTP and verify it
  go run cmd/test-events/main.go -blocks 2000 -post-batch 100 -url http://localhost:9080
`)
}
