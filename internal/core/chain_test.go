package core_test

import (
	"BucketClear/internal/core"
	"BucketClear/internal/event"
	"errors"
	"testing"
)

// ============================================================================
// Test: EventChain
// ============================================================================

func TestEventChain_SealAndVerify(t *testing.T) {
	chain := core.NewEventChain("ob")

	envs := make([]event.Envelope, 3)
	for i := range envs {
		envs[i] = event.Envelope{
			Type:        event.TypeClockTick,
			OrderbookID: "ob",
			Sequence:    uint64(i + 1),
			Payload:     core.ClockTickPayload{Now: int64(i), ClockSeq: uint64(i + 1)},
		}
		if err := chain.Seal(&envs[i]); err != nil {
			t.Fatalf("seal: %v", err)
		}
	}

	if envs[1].PrevHash != envs[0].Hash || envs[2].PrevHash != envs[1].Hash {
		t.Error("envelopes must link to their predecessor")
	}
	if err := core.VerifyChain("ob", envs); err != nil {
		t.Errorf("verify: %v", err)
	}
	if err := core.VerifyChain("other", envs); err == nil {
		t.Error("chain must be bound to its orderbook genesis")
	}

	envs[1].Payload = core.ClockTickPayload{Now: 99}
	if err := core.VerifyChain("ob", envs); err == nil {
		t.Error("tampered payload must fail verification")
	}
}

func TestEventChain_Deterministic(t *testing.T) {
	a, b := core.NewEventChain("ob"), core.NewEventChain("ob")
	if a.ComputeHash(1, []byte("x")) != b.ComputeHash(1, []byte("x")) {
		t.Error("same inputs must give the same hash")
	}
	if a.ComputeHash(2, []byte("x")) == b.ComputeHash(3, []byte("x")) {
		t.Error("sequence must be part of the hash")
	}
}

// ============================================================================
// Test: RequestDeduper
// ============================================================================

func TestRequestDeduper(t *testing.T) {
	d := core.NewRequestDeduper(2)

	if d.IsDuplicate("fill", "a") {
		t.Fatal("unseen id reported duplicate")
	}
	d.MarkProcessed("fill", "a")
	if !d.IsDuplicate("fill", "a") {
		t.Error("processed id should be duplicate")
	}
	if d.IsDuplicate("place", "a") {
		t.Error("ids are scoped per request kind")
	}
	if d.IsDuplicate("fill", "") {
		t.Error("empty id is never a duplicate")
	}

	d.MarkProcessed("fill", "b")
	d.MarkProcessed("fill", "c") // evicts the least recently used
	if d.Size() != 2 || d.Evictions() != 1 {
		t.Errorf("size=%d evictions=%d, want 2 and 1", d.Size(), d.Evictions())
	}
	if d.Duplicates("fill") != 1 {
		t.Errorf("expected 1 recorded duplicate, got %d", d.Duplicates("fill"))
	}
}

func TestIdempotencyLRU_PromotesOnContains(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Contains("a") // a becomes most recent
	lru.Add("c")      // evicts b

	if !lru.Contains("a") || lru.Contains("b") || !lru.Contains("c") {
		t.Error("LRU should evict the least recently used key")
	}
}

// ============================================================================
// Test: SequenceValidator
// ============================================================================

func TestSequenceValidator_Ticks(t *testing.T) {
	sv := core.NewSequenceValidator()

	for _, now := range []int64{100, 100, 200} {
		if err := sv.ValidateTick("ob", now); err != nil {
			t.Fatalf("tick %d: %v", now, err)
		}
	}
	if err := sv.ValidateTick("ob", 199); !errors.Is(err, core.ErrStaleTick) {
		t.Errorf("expected ErrStaleTick, got %v", err)
	}
	if err := sv.ValidateTick("other", 1); err != nil {
		t.Errorf("orderbooks are independent: %v", err)
	}
	if last, _ := sv.LastTick("ob"); last != 200 {
		t.Errorf("stale tick must not move the clock, last=%d", last)
	}
	if sv.GetMetrics().GetStaleTicks("ob") != 1 {
		t.Error("stale tick should be counted")
	}
}

func TestSequenceValidator_PriceSequence(t *testing.T) {
	sv := core.NewSequenceValidator()

	tests := []struct {
		seq  uint64
		want bool
	}{
		{0, true},
		{1, true},
		{1, false}, // duplicate
		{5, true},  // gap tolerated
		{3, false}, // stale
		{6, true},
	}
	for _, tt := range tests {
		if got := sv.ValidatePriceSequence("ob", tt.seq); got != tt.want {
			t.Errorf("seq %d: got %v, want %v", tt.seq, got, tt.want)
		}
	}

	m := sv.GetMetrics()
	if m.GetPriceGaps("ob") != 1 || m.GetStalePrices("ob") != 2 {
		t.Errorf("gaps=%d stale=%d, want 1 and 2", m.GetPriceGaps("ob"), m.GetStalePrices("ob"))
	}
}
