package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Dump is a full snapshot of the registry taken at some height. Session
// v/ve are U64F64 bits, balances are smallest-unit integers and
// coolingDownStartTime is unix seconds with 0 meaning unset.
type Dump struct {
	Timestamp      int64         `json:"timestamp"`
	Height         *uint64       `json:"height,omitempty"`
	Workers        []DumpWorker  `json:"workers"`
	Sessions       []DumpSession `json:"sessions"`
	LatestSnapshot *DumpSnapshot `json:"latestSnapshot,omitempty"`
}

// DumpWorker is one worker row of a dump.
type DumpWorker struct {
	ID              string `json:"id"`
	ConfidenceLevel int64  `json:"confidenceLevel"`
	InitialScore    *int64 `json:"initialScore"`
}

// DumpSession is one session row of a dump.
type DumpSession struct {
	ID                   string  `json:"id"`
	V                    string  `json:"v"`
	VE                   string  `json:"ve"`
	State                string  `json:"state"`
	PInit                int64   `json:"pInit"`
	PInstant             int64   `json:"pInstant"`
	TotalReward          string  `json:"totalReward"`
	CoolingDownStartTime int64   `json:"coolingDownStartTime"`
	Stake                string  `json:"stake"`
	Worker               *string `json:"worker"`
}

// DumpSnapshot seeds the snapshot series so a resumed run never writes a
// bucket at or before it.
type DumpSnapshot struct {
	// BucketStart is unix milliseconds.
	BucketStart int64  `json:"bucketStart"`
	Shares      string `json:"shares"`
}

// Load reads a dump from a local path or an http(s) URL.
func Load(ctx context.Context, client *http.Client, source string) (*Dump, error) {
	rc, err := open(ctx, client, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadDump, err)
	}
	defer rc.Close()
	return Decode(rc)
}

// Decode parses a dump from r.
func Decode(r io.Reader) (*Dump, error) {
	var d Dump
	dec := json.NewDecoder(r)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrLoadDump, err)
	}
	return &d, nil
}

func open(ctx context.Context, client *http.Client, source string) (io.ReadCloser, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		return os.Open(source)
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d", source, resp.StatusCode)
	}
	return resp.Body, nil
}
