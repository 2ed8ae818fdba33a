// Package pattern implements the chain-of-responsibility of recognizers
// that attenuate anomaly confidence to suppress false positives from
// business-cyclical or growth patterns (spec.md §4.4).
//
// Grounded on pattern_recognizers.py; the Python Protocol becomes a Go
// interface per spec.md §9's design note on protocol-based polymorphism.
package pattern

import (
	"go.uber.org/zap"

	"github.com/dataplatform/admissionctl/internal/domain"
)

// Recognizer is a single pattern-matching strategy. It inspects a cost
// series and, if it recognizes a benign recurring pattern explaining the
// latest observation, returns a PatternContext and true.
type Recognizer interface {
	Recognize(series domain.ServiceCostSeries) (domain.PatternContext, bool)
}

// Chain holds an ordered, independently-failing list of recognizers and a
// floor on the total attenuation they may apply together.
type Chain struct {
	Recognizers   []Recognizer
	MaxAdjustment float64 // always <= 0; default -0.40
	log           *zap.Logger
}

// DefaultMaxAdjustment is the floor on total attenuation (spec.md §4.4).
const DefaultMaxAdjustment = -0.40

// NewChain builds a Chain with the given recognizers and adjustment floor.
// If log is nil, a no-op logger is used.
func NewChain(recognizers []Recognizer, maxAdjustment float64, log *zap.Logger) *Chain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Chain{Recognizers: recognizers, MaxAdjustment: maxAdjustment, log: log}
}

// NewDefaultChain builds the standard chain: DayOfWeekRecognizer then
// TrendRecognizer, matching create_default_pattern_chain's recognizer order.
func NewDefaultChain(maxAdjustment float64, log *zap.Logger) *Chain {
	if maxAdjustment == 0 {
		maxAdjustment = DefaultMaxAdjustment
	}
	return NewChain([]Recognizer{
		&DayOfWeekRecognizer{},
		&TrendRecognizer{},
	}, maxAdjustment, log)
}

// RecognizeAll runs every recognizer and collects the contexts that
// matched. A recognizer that panics is recovered, logged, and skipped —
// its failure never propagates to the caller.
func (c *Chain) RecognizeAll(series domain.ServiceCostSeries) []domain.PatternContext {
	var contexts []domain.PatternContext
	for _, r := range c.Recognizers {
		ctx, ok := c.safeRecognize(r, series)
		if ok {
			contexts = append(contexts, ctx)
		}
	}
	return contexts
}

func (c *Chain) safeRecognize(r Recognizer, series domain.ServiceCostSeries) (ctx domain.PatternContext, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Warn("pattern recognizer panicked, skipping", zap.Any("panic", rec))
			ok = false
		}
	}()
	return r.Recognize(series)
}

// TotalAdjustment sums every recognized adjustment and clamps it at
// MaxAdjustment (a floor, since adjustments are non-positive).
func (c *Chain) TotalAdjustment(series domain.ServiceCostSeries) float64 {
	var total float64
	for _, ctx := range c.RecognizeAll(series) {
		total += ctx.ConfidenceAdjustment
	}
	if total < c.MaxAdjustment {
		return c.MaxAdjustment
	}
	return total
}

// Explanations returns the human-readable explanation for every recognized
// pattern, in recognizer order.
func (c *Chain) Explanations(series domain.ServiceCostSeries) []string {
	contexts := c.RecognizeAll(series)
	out := make([]string, len(contexts))
	for i, ctx := range contexts {
		out[i] = ctx.Explanation
	}
	return out
}
