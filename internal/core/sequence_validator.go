package core

import (
	"fmt"
)

// SequenceValidator guards per-partition ordering of clock ticks and price
// feed sequences.
// Not thread-safe: callers serialize access (the orderbook lock for ticks,
// the feed's own lock for prices).
type SequenceValidator struct {
	lastTick        map[string]int64  // orderbook -> last accepted now
	expectedNextSeq map[string]uint64 // orderbook -> next expected price sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		lastTick:        make(map[string]int64),
		expectedNextSeq: make(map[string]uint64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateTick accepts now >= the last accepted tick of the orderbook.
// Equal timestamps are accepted; the store's advance is idempotent for them.
func (sv *SequenceValidator) ValidateTick(orderbookID string, now int64) error {
	last, seen := sv.lastTick[orderbookID]
	if seen && now < last {
		sv.metrics.RecordStaleTick(orderbookID)
		return fmt.Errorf("%w: orderbook=%s, last=%d, got=%d", ErrStaleTick, orderbookID, last, now)
	}
	sv.lastTick[orderbookID] = now
	return nil
}

// ValidatePriceSequence reports whether a price tick should be applied.
// Stale sequences are ignored; gaps are tolerated and counted.
func (sv *SequenceValidator) ValidatePriceSequence(orderbookID string, priceSequence uint64) bool {
	expected := sv.expectedNextSeq[orderbookID]

	if priceSequence < expected {
		sv.metrics.RecordStalePrice(orderbookID)
		return false
	}
	if expected > 0 && priceSequence > expected {
		sv.metrics.RecordPriceGap(orderbookID, expected, priceSequence)
	}

	sv.expectedNextSeq[orderbookID] = priceSequence + 1
	return true
}

// LastTick returns the last accepted tick time of an orderbook
func (sv *SequenceValidator) LastTick(orderbookID string) (int64, bool) {
	last, ok := sv.lastTick[orderbookID]
	return last, ok
}

func (sv *SequenceValidator) GetMetrics() *SequenceMetrics {
	return sv.metrics
}

// --- Metrics ---

type SequenceMetrics struct {
	staleTicks  map[string]int64
	stalePrices map[string]int64
	priceGaps   map[string]int64
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		staleTicks:  make(map[string]int64),
		stalePrices: make(map[string]int64),
		priceGaps:   make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordStaleTick(orderbookID string) {
	m.staleTicks[orderbookID]++
}

func (m *SequenceMetrics) RecordStalePrice(orderbookID string) {
	m.stalePrices[orderbookID]++
}

func (m *SequenceMetrics) RecordPriceGap(orderbookID string, expected, got uint64) {
	m.priceGaps[orderbookID]++
}

func (m *SequenceMetrics) GetStaleTicks(orderbookID string) int64 {
	return m.staleTicks[orderbookID]
}

func (m *SequenceMetrics) GetStalePrices(orderbookID string) int64 {
	return m.stalePrices[orderbookID]
}

func (m *SequenceMetrics) GetPriceGaps(orderbookID string) int64 {
	return m.priceGaps[orderbookID]
}
