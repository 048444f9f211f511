package testevents

import "time"

// Config holds configuration for the synthetic stream tool.
type Config struct {
	BaseURL     string        // Base URL of a running indexer; empty skips verification
	Blocks      int           // Number of blocks to generate
	Seed        uint64        // Simulator seed
	Workers     int           // Worker keys in the simulated population
	Sessions    int           // Session keys in the simulated population
	MaxEvents   int           // Upper bound of events per block
	SpecVersion uint32        // Runtime version stamped on blocks
	PostBatch   int           // Blocks per POST /blocks request; 0 leaves ingestion to the indexer's events file
	Concurrency int           // Concurrent lookups during verification
	Timeout     time.Duration // HTTP request timeout
	WaitTimeout time.Duration // How long to wait for the indexer to catch up
	OutputFile  string        // JSONL output for generated blocks
	LogFile     string        // Log file for tool output
	Verbose     bool          // Enable verbose logging
}

// GlobalState mirrors the /global-state response.
type GlobalState struct {
	IdleWorkerShares   string `json:"idle_worker_shares"`
	IdleWorkerPInit    int64  `json:"idle_worker_p_init"`
	IdleWorkerPInstant int64  `json:"idle_worker_p_instant"`
	WorkerCount        int64  `json:"worker_count"`
	IdleWorkerCount    int64  `json:"idle_worker_count"`
}

// Session mirrors the /sessions/{id} response.
type Session struct {
	ID          string `json:"id"`
	BoundWorker string `json:"bound_worker_id"`
	State       string `json:"state"`
	Shares      string `json:"shares"`
}

// Stats holds tool statistics.
type Stats struct {
	BlocksGenerated    int
	EventsGenerated    int
	LastHeight         uint64
	SessionsChecked    int
	SessionsMismatched int
	SessionsFailed     int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}
