package testevents

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/shareview/internal/adapters/codec"
	"github.com/okian/shareview/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
)

// Run generates the stream, writes it as JSONL and, when a base URL is set,
// waits for the indexer to apply it and verifies the result.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime: time.Now(),
	}

	logger.Get().Info(ctx, "starting synthetic stream",
		logger.String("baseURL", config.BaseURL),
		logger.Int("blocks", config.Blocks),
		logger.Uint64("seed", config.Seed),
		logger.Int("workers", config.Workers),
		logger.Int("sessions", config.Sessions),
		logger.String("output", config.OutputFile),
		logger.Bool("verbose", config.Verbose))

	// Step 1: Generate blocks
	sim := NewSimulator(
		WithSeed(config.Seed),
		WithPopulation(config.Workers, config.Sessions),
		WithMaxEventsPerBlock(config.MaxEvents),
		WithSpecVersion(config.SpecVersion),
	)
	blocks := generateBlocks(ctx, sim, config.Blocks, stats)

	// Step 2: Save blocks to file
	if err := saveBlocksToFile(ctx, config.OutputFile, blocks); err != nil {
		return fmt.Errorf("saving blocks failed: %w", err)
	}

	if config.BaseURL != "" {
		// Step 3: Check service health
		if err := checkServiceHealth(ctx, config); err != nil {
			return fmt.Errorf("service health check failed: %w", err)
		}

		if config.PostBatch > 0 {
			if err := postBlocks(ctx, config, blocks); err != nil {
				return fmt.Errorf("posting blocks failed: %w", err)
			}
		}

		// Step 4: Wait for the indexer to reach the last block
		if err := waitForHeight(ctx, config, stats.LastHeight); err != nil {
			return fmt.Errorf("waiting for indexer failed: %w", err)
		}

		// Step 5: Verify aggregates and sessions
		if err := verifyIndexer(ctx, config, sim, stats); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(stats)

	logger.Get().Info(ctx, "synthetic stream completed successfully")
	return nil
}

// generateBlocks draws n blocks from sim.
func generateBlocks(ctx context.Context, sim *Simulator, n int, stats *Stats) []codec.RawBlock {
	blocks := sim.Blocks(n)
	for _, b := range blocks {
		stats.EventsGenerated += len(b.Events)
	}
	stats.BlocksGenerated = len(blocks)
	if len(blocks) > 0 {
		stats.LastHeight = blocks[len(blocks)-1].Height
	}
	logger.Get().Info(ctx, "generated blocks",
		logger.Int("blocks", stats.BlocksGenerated),
		logger.Int("events", stats.EventsGenerated),
		logger.Any("byName", sim.Counts()))
	return blocks
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	logger.Get().Info(ctx, "checking service health")

	client := newHTTPClient(config.Timeout)
	resp, err := client.Get(ctx, config.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if _, err := readResponseBody(resp); err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}

	// Accept any 200 response as healthy (the service returns Prometheus metrics)
	if resp.StatusCode != StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// postBlocks submits blocks in order, config.PostBatch per request. Requests
// rejected with 429 are retried after PollInterval.
func postBlocks(ctx context.Context, config *Config, blocks []codec.RawBlock) error {
	client := newHTTPClient(config.Timeout)
	for start := 0; start < len(blocks); {
		end := min(start+config.PostBatch, len(blocks))
		resp, err := client.PostJSON(ctx, config.BaseURL+"/blocks", blocks[start:end])
		if err != nil {
			return err
		}
		body, err := readResponseBody(resp)
		if err != nil {
			return fmt.Errorf("failed to read ingest response: %w", err)
		}
		switch resp.StatusCode {
		case http.StatusAccepted:
			if config.Verbose {
				log.Printf("📤 Posted blocks %d..%d", blocks[start].Height, blocks[end-1].Height)
			}
			start = end
		case http.StatusTooManyRequests:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(PollInterval):
			}
		default:
			return fmt.Errorf("ingest rejected with status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		}
	}
	logger.Get().Info(ctx, "posted blocks", logger.Int("blocks", len(blocks)), logger.Int("batch", config.PostBatch))
	return nil
}

// waitForHeight polls /stats until the committed cursor reaches height.
func waitForHeight(ctx context.Context, config *Config, height uint64) error {
	ctx, cancel := context.WithTimeout(ctx, config.WaitTimeout)
	defer cancel()

	client := newHTTPClient(config.Timeout)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		var stats struct {
			Cursor uint64 `json:"cursor"`
			Halted string `json:"halted"`
		}
		if _, err := client.GetJSON(ctx, config.BaseURL+"/stats", &stats); err == nil {
			if stats.Halted != "" {
				return fmt.Errorf("indexer halted: %s", stats.Halted)
			}
			if stats.Cursor >= height {
				logger.Get().Info(ctx, "indexer caught up", logger.Uint64("cursor", stats.Cursor))
				return nil
			}
			if config.Verbose {
				log.Printf("⏳ Indexer at %d/%d", stats.Cursor, height)
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("indexer did not reach height %d: %w", height, ctx.Err())
		case <-ticker.C:
		}
	}
}

// verifyIndexer checks the global state and looks up every session the
// stream created, concurrently.
func verifyIndexer(ctx context.Context, config *Config, sim *Simulator, stats *Stats) error {
	client := newHTTPClient(config.Timeout)

	var global GlobalState
	status, err := client.GetJSON(ctx, config.BaseURL+"/global-state", &global)
	if err != nil {
		return fmt.Errorf("fetch global state: %w", err)
	}
	if status != StatusOK {
		return fmt.Errorf("fetch global state: status %d", status)
	}
	if err := verifyGlobalState(ctx, sim.Expected(), global); err != nil {
		return err
	}

	sessions := sim.Sessions()
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	log.Printf("🔎 Checking %d sessions with %d workers...", len(sessions), config.Concurrency)

	var (
		checked    int64
		mismatched int64
		failed     int64
		firstErr   error
		errOnce    sync.Once
	)
	work := make(chan SessionState, config.Concurrency*WorkerChannelMultiplier)
	var wg sync.WaitGroup
	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for want := range work {
				var got Session
				status, err := client.GetJSON(ctx, sessionURL(config.BaseURL, want.ID), &got)
				atomic.AddInt64(&checked, 1)
				switch {
				case err != nil || status != StatusOK:
					atomic.AddInt64(&failed, 1)
					if config.Verbose {
						log.Printf("⚠️  Failed to get session %s: status %d err %v", want.ID, status, err)
					}
				default:
					if err := verifySession(want, got); err != nil {
						atomic.AddInt64(&mismatched, 1)
						errOnce.Do(func() { firstErr = err })
					}
				}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, s := range sessions {
			select {
			case <-ctx.Done():
				return
			case work <- s:
			}
		}
	}()
	wg.Wait()

	stats.SessionsChecked = int(atomic.LoadInt64(&checked))
	stats.SessionsMismatched = int(atomic.LoadInt64(&mismatched))
	stats.SessionsFailed = int(atomic.LoadInt64(&failed))
	if firstErr != nil {
		return firstErr
	}
	if stats.SessionsFailed > 0 {
		return fmt.Errorf("%d session lookups failed", stats.SessionsFailed)
	}
	log.Printf("✅ %d sessions verified", stats.SessionsChecked)
	return nil
}

// saveBlocksToFile writes one raw block per line.
func saveBlocksToFile(ctx context.Context, filename string, blocks []codec.RawBlock) error {
	if len(blocks) == 0 {
		return fmt.Errorf("no blocks to save")
	}

	// Determine output filename
	if filename == "" {
		timestamp := time.Now().Format("20060102_150405")
		filename = "blocks_" + timestamp + ".jsonl"
	}

	// Ensure the directory exists
	dir := filepath.Dir(filename)
	if dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close file", logger.Error(err))
		}
	}()

	if err := WriteJSONL(file, blocks); err != nil {
		return err
	}
	logger.Get().Info(ctx, "blocks saved to file", logger.String("filename", filename))
	return nil
}

// WriteJSONL encodes blocks one per line.
func WriteJSONL(w io.Writer, blocks []codec.RawBlock) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i, b := range blocks {
		if err := enc.Encode(b); err != nil {
			return fmt.Errorf("failed to write block %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// displayFinalStats prints the final statistics.
func displayFinalStats(stats *Stats) {
	var eventsPerBlock, mismatchRate float64

	if stats.BlocksGenerated > 0 {
		eventsPerBlock = float64(stats.EventsGenerated) / float64(stats.BlocksGenerated)
	}
	if stats.SessionsChecked > 0 {
		mismatchRate = float64(stats.SessionsMismatched) / float64(stats.SessionsChecked) * PercentageMultiplier
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("blocksGenerated", stats.BlocksGenerated),
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Uint64("lastHeight", stats.LastHeight),
		logger.Int("sessionsChecked", stats.SessionsChecked),
		logger.Int("sessionsMismatched", stats.SessionsMismatched),
		logger.Int("sessionsFailed", stats.SessionsFailed),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("eventsPerBlock", eventsPerBlock),
		logger.Float64("mismatchRate", mismatchRate))
}
