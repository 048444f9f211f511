// Package shares defines the contract for scoring a session/worker pair.
//
// The reducer treats the share function as opaque: it must be deterministic
// and total, and its result is cached on the session and mirrored on the
// bound worker.
package shares

import (
	"math/big"
	"strconv"

	"github.com/okian/shareview/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Default Standard parameters.
const (
	defaultPInstantWeight   = 2
	defaultConfidenceWeight = 1
	resultScale             = 18
	sqrtPrecision           = 256
)

// Func computes the shares of a session bound to a worker.
type Func interface {
	Compute(s *model.Session, w *model.Worker) decimal.Decimal
}

// FuncOf adapts a plain function to Func.
type FuncOf func(s *model.Session, w *model.Worker) decimal.Decimal

// Compute implements Func.
func (f FuncOf) Compute(s *model.Session, w *model.Worker) decimal.Decimal { return f(s, w) }

// Option applies a configuration option to Standard.
type Option func(*Standard)

// WithPInstantWeight sets the multiplier applied to the instant benchmark.
func WithPInstantWeight(weight float64) Option {
	return func(s *Standard) {
		if weight > 0 {
			s.pInstantWeight = decimal.NewFromFloat(weight)
		}
	}
}

// WithConfidenceWeights sets per confidence level weights. Keys are decimal
// level numbers; unknown levels use defaultWeight.
func WithConfidenceWeights(weights map[string]float64, defaultWeight float64) Option {
	return func(s *Standard) {
		s.confidence = make(map[int64]decimal.Decimal, len(weights))
		for k, w := range weights {
			level, err := strconv.ParseInt(k, 10, 64)
			if err != nil || w <= 0 {
				continue
			}
			s.confidence[level] = decimal.NewFromFloat(w)
		}
		if defaultWeight > 0 {
			s.defaultConfidence = decimal.NewFromFloat(defaultWeight)
		}
	}
}

// Standard scores a session as sqrt(v^2 + (k * pInstant * c)^2) where k is
// the instant benchmark weight and c the worker's confidence weight.
type Standard struct {
	pInstantWeight    decimal.Decimal
	confidence        map[int64]decimal.Decimal
	defaultConfidence decimal.Decimal
}

// NewStandard creates a Standard share function.
func NewStandard(opts ...Option) *Standard {
	s := &Standard{
		pInstantWeight:    decimal.NewFromInt(defaultPInstantWeight),
		confidence:        map[int64]decimal.Decimal{},
		defaultConfidence: decimal.NewFromInt(defaultConfidenceWeight),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compute implements Func.
func (s *Standard) Compute(sess *model.Session, w *model.Worker) decimal.Decimal {
	c, ok := s.confidence[w.ConfidenceLevel]
	if !ok {
		c = s.defaultConfidence
	}
	p := s.pInstantWeight.Mul(decimal.NewFromInt(sess.PInstant)).Mul(c)
	sum := sess.V.Mul(sess.V).Add(p.Mul(p))
	return sqrt(sum)
}

// sqrt returns the square root of a non-negative decimal rounded to
// resultScale places.
func sqrt(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}
	f, ok := new(big.Float).SetPrec(sqrtPrecision).SetString(d.String())
	if !ok {
		return decimal.Zero
	}
	r := new(big.Float).SetPrec(sqrtPrecision).Sqrt(f)
	out, err := decimal.NewFromString(r.Text('f', resultScale+2))
	if err != nil {
		return decimal.Zero
	}
	return out.Round(resultScale)
}
