// Package source reads the ordered raw block stream and cuts it into
// batches.
package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/okian/shareview/internal/adapters/codec"
)

const (
	defaultBatchSize = 100
	maxLineBytes     = 16 << 20
)

// ErrMalformedBlock is returned for a line that is not a raw block.
var ErrMalformedBlock = errors.New("malformed block")

// Source yields batches of consecutive blocks. Next returns io.EOF once the
// stream is exhausted.
type Source interface {
	Next(ctx context.Context) ([]codec.RawBlock, error)
	Close() error
}

// Option configures a JSONLSource.
type Option func(*JSONLSource)

// WithBatchSize sets the maximum number of blocks per batch.
func WithBatchSize(n int) Option {
	return func(s *JSONLSource) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// JSONLSource reads one JSON raw block per line.
type JSONLSource struct {
	r         io.Reader
	closer    io.Closer
	scanner   *bufio.Scanner
	batchSize int
	line      int
}

// NewJSONLSource reads blocks from r.
func NewJSONLSource(r io.Reader, opts ...Option) *JSONLSource {
	s := &JSONLSource{r: r, batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(s)
	}
	s.scanner = bufio.NewScanner(r)
	s.scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	return s
}

// OpenFile opens a JSONL block file.
func OpenFile(path string, opts ...Option) (*JSONLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	s := NewJSONLSource(f, opts...)
	s.closer = f
	return s, nil
}

// Next returns up to batchSize blocks.
func (s *JSONLSource) Next(ctx context.Context) ([]codec.RawBlock, error) {
	var out []codec.RawBlock
	for len(out) < s.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("read events: %w", err)
			}
			break
		}
		s.line++
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var b codec.RawBlock
		if err := json.Unmarshal(line, &b); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedBlock, s.line, err)
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

// Close releases the underlying file, if any.
func (s *JSONLSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
