package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/shareview/internal/testevents"
)

// Default configuration constants.
const (
	defaultBlocks      = 2000
	defaultWorkers     = 12
	defaultSessions    = 16
	defaultMaxEvents   = 4
	defaultSpecVersion = 1260
	defaultConcurrency = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultWait        = 2 * time.Minute
	defaultRunTimeout  = 10 * time.Minute
)

func main() {
	var (
		blocks      = flag.Int("blocks", defaultBlocks, "Number of blocks to generate")
		seed        = flag.Uint64("seed", 1, "Simulator seed")
		workers     = flag.Int("workers", defaultWorkers, "Worker keys in the simulated population")
		sessions    = flag.Int("sessions", defaultSessions, "Session keys in the simulated population")
		maxEvents   = flag.Int("max-events", defaultMaxEvents, "Upper bound of events per block")
		specVersion = flag.Uint("spec-version", defaultSpecVersion, "Runtime version stamped on blocks")
		outputFile  = flag.String("output", "", "JSONL output file (default: blocks_TIMESTAMP.jsonl)")
		postBatch   = flag.Int("post-batch", 0, "Blocks per POST /blocks request; 0 leaves ingestion to the indexer's events file")
		baseURL     = flag.String("url", "", "Base URL of a running indexer; empty skips verification")
		concurrency = flag.Int("concurrency", runtime.NumCPU()*defaultConcurrency, "Concurrent session lookups")
		timeout     = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		wait        = flag.Duration("wait", defaultWait, "How long to wait for the indexer to catch up")
		logFile     = flag.String("log", "", "Log file for tool output (default: stream_log_TIMESTAMP.log)")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		help        = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		testevents.ShowHelp()
		return
	}

	// Setup logging
	if err := testevents.SetupLogging(*logFile, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	config := &testevents.Config{
		BaseURL:     *baseURL,
		Blocks:      *blocks,
		Seed:        *seed,
		Workers:     *workers,
		Sessions:    *sessions,
		MaxEvents:   *maxEvents,
		SpecVersion: uint32(*specVersion),
		PostBatch:   *postBatch,
		Concurrency: *concurrency,
		Timeout:     *timeout,
		WaitTimeout: *wait,
		OutputFile:  *outputFile,
		LogFile:     *logFile,
		Verbose:     *verbose,
	}

	if err := testevents.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Stream run failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1) //nolint:gocritic // cancel called above
	}
}
