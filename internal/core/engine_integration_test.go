package core_test

import (
	"BucketClear/internal/contract"
	"BucketClear/internal/contract/pricerange"
	"BucketClear/internal/core"
	"BucketClear/internal/event"
	"BucketClear/internal/ledger"
	"BucketClear/internal/margin"
	"BucketClear/internal/position"
	"BucketClear/internal/store"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// --- Test helpers ---

const (
	t0   = int64(1_000_000)
	tf   = int64(2_000)
	obID = "price-range-2s"
)

type harness struct {
	eng    *core.Engine
	ledger *ledger.Ledger
	bus    *event.Bus
	reg    *contract.Registry
	sub    *event.Subscription
	events []event.Envelope
}

func testBookConfig(id string, placeBuffer int64) store.Config {
	return store.Config{
		OrderbookID:    id,
		ContractType:   pricerange.TypeID,
		TimeframeMs:    tf,
		PriceStep:      100,
		MinBucket:      0,
		MaxBucket:      100_000,
		HorizonColumns: 30,
		PlaceBuffer:    placeBuffer,
		UpdateBuffer:   2,
	}
}

// newHarness creates an engine with one price-range orderbook and a
// blocking subscriber large enough to never stall a test.
func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := contract.NewRegistry()
	reg.Register(pricerange.New())
	l := ledger.NewLedger()
	bus := event.NewBus()
	sub := bus.Subscribe("test", 1<<16, event.Blocking, nil)
	t.Cleanup(bus.Close)

	eng := core.NewEngine(core.Config{Registry: reg, Ledger: l, Bus: bus, Logger: zerolog.Nop()})
	eng.CreateOrderbook(testBookConfig(obID, 2))
	return &harness{eng: eng, ledger: l, bus: bus, reg: reg, sub: sub}
}

func (h *harness) fund(t *testing.T, account string, amount int64) {
	t.Helper()
	if _, err := h.ledger.Credit(account, amount, "test:seed"); err != nil {
		t.Fatalf("fund %s: %v", account, err)
	}
}

// drain collects every event published so far
func (h *harness) drain() []event.Envelope {
	for {
		select {
		case env := <-h.sub.C:
			h.events = append(h.events, env)
		default:
			return h.events
		}
	}
}

func (h *harness) ofType(typ event.Type) []event.Envelope {
	var out []event.Envelope
	for _, env := range h.drain() {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func rangeOrder(t *testing.T, maker string, size, collateral, start, end int64, multiplier string) core.PlaceOrderPayload {
	t.Helper()
	data, err := pricerange.EncodeData(start, end, multiplier)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return core.PlaceOrderPayload{
		OrderbookID:        obID,
		MakerID:            maker,
		SizeTotal:          size,
		CollateralRequired: collateral,
		FillWindow:         store.Window{Start: t0 + 4_000, End: t0 + 8_000},
		TriggerWindow:      store.Window{Start: t0 + 8_000, End: t0 + 20_000},
		PriceBucket:        5_000,
		Data:               data,
	}
}

func (h *harness) mustPlace(t *testing.T, p core.PlaceOrderPayload) *store.Order {
	t.Helper()
	res := h.eng.PlaceOrder(p, t0)
	if !res.Success {
		t.Fatalf("place: %s %v", res.Reason, res.Constraints)
	}
	return res.Order
}

func (h *harness) mustFill(t *testing.T, orderID, user string, size, ts int64) core.Result {
	t.Helper()
	res := h.eng.FillOrder(core.FillOrderPayload{OrderID: orderID, UserID: user, Size: size, PriceAtFill: 5_000, Timestamp: ts})
	if !res.Success {
		t.Fatalf("fill: %s %v", res.Reason, res.Constraints)
	}
	return res
}

func (h *harness) mustTick(t *testing.T, now, price int64) core.TickReport {
	t.Helper()
	report, err := h.eng.Tick(obID, now, price)
	if err != nil {
		t.Fatalf("tick at %d: %v", now, err)
	}
	return report
}

func (h *harness) positionsFor(t *testing.T, user string) []*position.Position {
	t.Helper()
	ps, err := h.eng.Positions(obID, user)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	return ps
}

func assertReason(t *testing.T, res core.Result, want string) {
	t.Helper()
	if res.Success || res.Reason != want {
		t.Errorf("got success=%v reason=%q, want %q", res.Success, res.Reason, want)
	}
}

// ============================================================================
// Scenario: place then immediately fill
// ============================================================================

func TestScenario_PlaceThenFill(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)
	o := h.mustPlace(t, rangeOrder(t, "maker", 10, 100, 5_000, 6_000, ""))

	res := h.eng.FillOrder(core.FillOrderPayload{OrderID: o.ID, UserID: "filler", Size: 1, Timestamp: t0 + 1_000})
	assertReason(t, res, core.ReasonBeforeFillWindowBuffer)
	if res.Constraints["earliest_fill"] != t0+4_000 {
		t.Errorf("constraints should name the earliest fill time, got %v", res.Constraints)
	}

	res = h.mustFill(t, o.ID, "filler", 1, t0+4_500)
	if res.Position == nil || res.Position.Status != position.StatusOpen || res.Position.Size != 1 {
		t.Fatalf("expected an OPEN position of size 1, got %+v", res.Position)
	}
	if res.Order.SizeRemaining != 9 || res.Order.Status != store.StatusPartiallyFilled {
		t.Errorf("unexpected order after fill: %+v", res.Order)
	}
	if len(res.Order.PendingPositions) != 1 || res.Order.PendingPositions[0] != res.Position.ID {
		t.Errorf("position should be pending on the order: %v", res.Order.PendingPositions)
	}

	rejected := h.ofType(event.TypeOrderRejected)
	if len(rejected) != 1 {
		t.Fatalf("expected 1 order_rejected event, got %d", len(rejected))
	}
	if p := rejected[0].Payload.(core.OrderRejectedPayload); p.Reason != core.ReasonBeforeFillWindowBuffer || p.Operation != core.OpFill {
		t.Errorf("unexpected rejection payload: %+v", p)
	}
	if len(h.ofType(event.TypeOrderFilled)) != 1 || len(h.ofType(event.TypePositionOpened)) != 1 {
		t.Error("fill should emit order_filled and position_opened")
	}
}

func TestScenario_PlaceTooSoonForAnyBuffer(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)

	for buffer := int64(0); buffer <= 5; buffer++ {
		id := fmt.Sprintf("book-%d", buffer)
		h.eng.CreateOrderbook(testBookConfig(id, buffer))

		p := rangeOrder(t, "maker", 1, 10, 0, 100, "")
		p.OrderbookID = id
		p.FillWindow = store.Window{Start: t0 + buffer*tf - 1, End: t0 + 30_000}
		p.TriggerWindow = store.Window{Start: t0 + 30_000, End: t0 + 40_000}

		assertReason(t, h.eng.PlaceOrder(p, t0), store.ReasonFillWindowTooSoon)

		p.FillWindow.Start++
		if res := h.eng.PlaceOrder(p, t0); !res.Success {
			t.Errorf("buffer %d: start exactly at the buffer should pass, got %s", buffer, res.Reason)
		}
	}
}

// ============================================================================
// Scenario: margin-scaled fill
// ============================================================================

func TestScenario_MarginScaledFill(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)
	o := h.mustPlace(t, rangeOrder(t, "maker", 10, 100, 5_000, 6_000, ""))

	// Shrink unconsumed collateral to 40 and leave 8 units requestable:
	// fill 2 (20 consumed), then reduce required collateral to 60.
	h.mustFill(t, o.ID, "filler", 2, t0+4_500)
	newCollateral := int64(60)
	if res := h.eng.UpdateOrder(core.UpdateOrderPayload{OrderID: o.ID, MakerID: "maker", CollateralRequired: &newCollateral}, t0); !res.Success {
		t.Fatalf("update: %s", res.Reason)
	}

	res := h.mustFill(t, o.ID, "filler", 8, t0+5_000)
	// 40 unconsumed at 6/unit covers 6 units, remaining size is 8
	if res.Position.Size != 6 {
		t.Fatalf("expected scaled size 6, got %d", res.Position.Size)
	}

	h.mustTick(t, t0+5_000, 0)
	violations := h.ofType(event.TypeMarginViolation)
	if len(violations) != 1 {
		t.Fatalf("expected 1 margin_violation, got %d", len(violations))
	}
	v := violations[0].Payload.(margin.Violation)
	if v.PolicyAction != margin.ActionFillScaled || v.RequestedSize != 8 || v.AuthorizedSize != 6 {
		t.Errorf("unexpected violation: %+v", v)
	}
}

func TestScenario_MarginScaledFill_TenPerUnit(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)
	o := h.mustPlace(t, rangeOrder(t, "maker", 10, 100, 5_000, 6_000, ""))

	// 60 consumed leaves 40 unconsumed at 10/unit
	h.mustFill(t, o.ID, "filler", 6, t0+4_500)
	res := h.mustFill(t, o.ID, "filler", 8, t0+4_600)
	if res.Position.Size != 4 || res.Position.CollateralLocked != 40 {
		t.Fatalf("expected authorized size 4 backed by 40, got %+v", res.Position)
	}
	if res.Order.SizeRemaining != 0 || res.Order.Status != store.StatusFilled {
		t.Errorf("order should be filled: %+v", res.Order)
	}

	h.mustTick(t, t0+4_600, 0)
	vs := h.ofType(event.TypeMarginViolation)
	if len(vs) != 1 || vs[0].Payload.(margin.Violation).PolicyAction != margin.ActionFillScaled {
		t.Errorf("expected one fill_scaled violation, got %+v", vs)
	}
}

func TestFill_MarginBlockedMakesOrderCancelOnly(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)
	o := h.mustPlace(t, rangeOrder(t, "maker", 10, 100, 5_000, 6_000, ""))

	h.mustFill(t, o.ID, "filler", 5, t0+4_500)
	lowered := int64(50)
	if res := h.eng.UpdateOrder(core.UpdateOrderPayload{OrderID: o.ID, MakerID: "maker", CollateralRequired: &lowered}, t0); !res.Success {
		t.Fatalf("update: %s", res.Reason)
	}

	res := h.eng.FillOrder(core.FillOrderPayload{OrderID: o.ID, UserID: "filler", Size: 1, Timestamp: t0 + 5_000})
	assertReason(t, res, core.ReasonMarginBlocked)
	if len(h.ofType(event.TypeOrderCancelOnly)) != 1 {
		t.Error("blocked fill should push the order to cancel-only")
	}

	res = h.eng.FillOrder(core.FillOrderPayload{OrderID: o.ID, UserID: "filler", Size: 1, Timestamp: t0 + 5_000})
	assertReason(t, res, store.ReasonOrderCancelOnly)
}

// ============================================================================
// Scenario: hit and settle
// ============================================================================

func TestScenario_HitAndSettle(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)
	o := h.mustPlace(t, rangeOrder(t, "maker", 10, 100, 5_000, 6_000, "0.5"))
	fill := h.mustFill(t, o.ID, "filler", 4, t0+4_500)

	report := h.mustTick(t, t0+9_000, 5_500)
	if report.Hits != 1 || report.Settled != 1 || report.SettlementFailures != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	ps := h.positionsFor(t, "filler")
	if len(ps) != 1 || ps[0].Status != position.StatusSettled {
		t.Fatalf("position should be SETTLED within the tick, got %+v", ps)
	}
	if ps[0].PriceAtHit != 5_500 || ps[0].Payout != 20 || ps[0].HitAt != t0+9_000 {
		t.Errorf("unexpected settled position: %+v", ps[0])
	}

	// payout = floor(40 * 0.5): filler +20, maker -20, residual 20 back to available
	if got := h.ledger.Balance("filler"); got.Available != 20 {
		t.Errorf("filler: %+v, want available=20", got)
	}
	maker := h.ledger.Balance("maker")
	if maker.Total() != 980 || maker.Locked != 60 {
		t.Errorf("maker: %+v, want total=980 locked=60", maker)
	}

	settled := h.ofType(event.TypePayoutSettled)
	if len(settled) != 1 {
		t.Fatalf("expected 1 payout_settled, got %d", len(settled))
	}
	p := settled[0].Payload.(core.PayoutSettledPayload)
	if p.PositionID != fill.Position.ID || p.Payout != 20 || p.Residual != 20 {
		t.Errorf("unexpected payout_settled: %+v", p)
	}
	if len(h.ofType(event.TypeVerificationHit)) != 1 || len(h.ofType(event.TypePositionHit)) != 1 ||
		len(h.ofType(event.TypePositionSettled)) != 1 {
		t.Error("hit should emit verification_hit, position_hit and position_settled")
	}

	// Cancelling returns the unconsumed reservation
	if res := h.eng.CancelOrder(o.ID, "maker", t0+9_500); !res.Success {
		t.Fatalf("cancel: %s", res.Reason)
	}
	if maker := h.ledger.Balance("maker"); maker.Available != 980 || maker.Locked != 0 {
		t.Errorf("maker after cancel: %+v", maker)
	}
	if h.ledger.TotalSupply() != 1_000 {
		t.Errorf("supply must be conserved, got %d", h.ledger.TotalSupply())
	}
}

func TestSettlement_NeverTwice(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)
	o := h.mustPlace(t, rangeOrder(t, "maker", 10, 100, 5_000, 6_000, ""))
	h.mustFill(t, o.ID, "filler", 3, t0+4_500)
	h.mustFill(t, o.ID, "filler", 2, t0+4_600)

	for now := t0 + 8_000; now <= t0+30_000; now += 500 {
		h.mustTick(t, now, 5_100)
	}

	counts := map[string]int{}
	for _, env := range h.ofType(event.TypePayoutSettled) {
		counts[env.Payload.(core.PayoutSettledPayload).PositionID]++
	}
	if len(counts) != 2 {
		t.Fatalf("expected both positions settled, got %v", counts)
	}
	for id, n := range counts {
		if n != 1 {
			t.Errorf("position %s settled %d times", id, n)
		}
	}
	if got := h.ledger.Balance("filler").Available; got != 50 {
		t.Errorf("filler should be paid exactly once per position: got %d, want 50", got)
	}
	if h.ledger.TotalSupply() != 1_000 {
		t.Errorf("supply must be conserved, got %d", h.ledger.TotalSupply())
	}
}

// ============================================================================
// Scenario: unresolved expiry
// ============================================================================

func TestScenario_UnresolvedExpiry(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)
	o := h.mustPlace(t, rangeOrder(t, "maker", 10, 100, 5_000, 6_000, ""))
	h.mustFill(t, o.ID, "filler", 4, t0+4_500)

	if r := h.mustTick(t, t0+9_000, 100); r.Hits != 0 {
		t.Fatalf("price out of range must not hit: %+v", r)
	}
	if ps := h.positionsFor(t, "filler"); ps[0].Status != position.StatusOpen {
		t.Fatalf("position should stay OPEN while the trigger window is live, got %s", ps[0].Status)
	}

	report := h.mustTick(t, t0+20_001, 100)
	if report.Expired != 1 || len(report.Dropped) != 1 || report.Dropped[0] != o.ID {
		t.Fatalf("unexpected report: %+v", report)
	}

	ps := h.positionsFor(t, "filler")
	if ps[0].Status != position.StatusExpired || ps[0].ExpiredAt != t0+20_001 {
		t.Errorf("position should be EXPIRED, got %+v", ps[0])
	}
	if got := h.ledger.Balance("filler"); got.Total() != 0 {
		t.Errorf("expiry must not pay the filler: %+v", got)
	}
	if maker := h.ledger.Balance("maker"); maker.Available != 1_000 || maker.Locked != 0 {
		t.Errorf("maker should get all collateral back: %+v", maker)
	}
	if len(h.ofType(event.TypePositionExpired)) != 1 || len(h.ofType(event.TypeColumnDropped)) == 0 {
		t.Error("expiry should emit position_expired and column_dropped")
	}

	// The dropped order is gone
	assertReason(t, h.eng.CancelOrder(o.ID, "maker", t0+20_002), store.ReasonOrderNotFound)
}

// ============================================================================
// Properties
// ============================================================================

func TestProperty_NoOverFillAndCollateralConservation(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 10_000)
	rng := rand.New(rand.NewPCG(7, 11))

	type orderSpec struct{ size, collateral int64 }
	specs := []orderSpec{{10, 100}, {7, 33}, {13, 1_000}, {5, 0}, {9, 10}}

	var ids []string
	for _, s := range specs {
		ids = append(ids, h.mustPlace(t, rangeOrder(t, "maker", s.size, s.collateral, 5_000, 6_000, "")).ID)
	}

	for i := 0; i < 200; i++ {
		id := ids[rng.IntN(len(ids))]
		user := fmt.Sprintf("user-%d", rng.IntN(4))
		h.eng.FillOrder(core.FillOrderPayload{
			OrderID:   id,
			UserID:    user,
			Size:      int64(rng.IntN(5)) - 1, // includes invalid sizes
			Timestamp: t0 + 4_000 + int64(rng.IntN(4_000)),
		})
	}

	orders, err := h.eng.Snapshot(obID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	all := h.positionsFor(t, "")

	var requiredLocked int64
	for _, o := range orders {
		if o.SizeRemaining < 0 {
			t.Errorf("order %s over-filled: remaining %d", o.ID, o.SizeRemaining)
		}
		var sum, collateral int64
		for _, p := range all {
			if p.OrderID == o.ID {
				sum += p.Size
				collateral += p.CollateralLocked
			}
		}
		if sum != o.SizeTotal-o.SizeRemaining {
			t.Errorf("order %s: positions sum %d, filled %d", o.ID, sum, o.SizeTotal-o.SizeRemaining)
		}
		if collateral != o.CollateralFilled {
			t.Errorf("order %s: positions lock %d, collateralFilled %d", o.ID, collateral, o.CollateralFilled)
		}
		if collateral > o.CollateralRequired {
			t.Errorf("order %s consumed more than reserved", o.ID)
		}
		if o.Status.IsLive() {
			requiredLocked += o.CollateralRequired
		} else {
			requiredLocked += o.CollateralFilled
		}
	}

	maker := h.ledger.Balance("maker")
	if maker.Locked != requiredLocked {
		t.Errorf("maker locked %d, want %d", maker.Locked, requiredLocked)
	}
	if err := ledger.NewInvariantValidator(h.ledger).ValidateAccounts(); err != nil {
		t.Errorf("ledger invariants: %v", err)
	}
	if err := ledger.NewInvariantValidator(h.ledger).ValidateSupply(10_000); err != nil {
		t.Errorf("supply: %v", err)
	}
}

func TestProperty_EventSequenceAndHashChain(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)
	o := h.mustPlace(t, rangeOrder(t, "maker", 10, 100, 5_000, 6_000, ""))
	h.mustFill(t, o.ID, "filler", 2, t0+4_500)
	h.eng.FillOrder(core.FillOrderPayload{OrderID: o.ID, UserID: "maker", Size: 1, Timestamp: t0 + 4_500})
	h.mustTick(t, t0+9_000, 5_200)
	h.mustTick(t, t0+21_000, 5_200)

	var book []event.Envelope
	for _, env := range h.drain() {
		if env.OrderbookID == obID {
			book = append(book, env)
		}
	}
	for i, env := range book {
		if env.Sequence != uint64(i+1) {
			t.Fatalf("event %d (%s) has sequence %d", i, env.Type, env.Sequence)
		}
	}
	if err := core.VerifyChain(obID, book); err != nil {
		t.Errorf("hash chain: %v", err)
	}

	info, err := h.eng.Describe(obID)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if info.ClockSeq != 2 || info.Sequence != uint64(len(book)) || info.ChainTip != book[len(book)-1].Hash {
		t.Errorf("unexpected info: %+v", info)
	}
}

// ============================================================================
// Lifecycle rejections
// ============================================================================

func TestPlace_Rejections(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 50)

	base := rangeOrder(t, "maker", 10, 100, 5_000, 6_000, "")

	unknown := base
	unknown.OrderbookID = "nope"
	assertReason(t, h.eng.PlaceOrder(unknown, t0), core.ReasonUnknownOrderbook)

	assertReason(t, h.eng.PlaceOrder(base, t0), core.ReasonMarginReservationFailed)
	if h.ledger.Balance("maker").Locked != 0 {
		t.Error("failed reservation must not lock")
	}

	badData := base
	badData.CollateralRequired = 10
	badData.Data = []byte(`{"startRange":10,"endRange":5}`)
	assertReason(t, h.eng.PlaceOrder(badData, t0), core.ReasonInvalidContractData)

	misaligned := base
	misaligned.CollateralRequired = 10
	misaligned.PriceBucket = 5_050
	assertReason(t, h.eng.PlaceOrder(misaligned, t0), store.ReasonPriceBucketMisaligned)

	noMaker := base
	noMaker.MakerID = ""
	assertReason(t, h.eng.PlaceOrder(noMaker, t0), core.ReasonInvalidMaker)

	orders, _ := h.eng.Snapshot(obID)
	if len(orders) != 0 {
		t.Errorf("rejected placements must not be stored, got %d", len(orders))
	}
	if n := len(h.ofType(event.TypeOrderRejected)); n != 5 {
		t.Errorf("expected 5 order_rejected events, got %d", n)
	}
}

func TestFill_Rejections(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)
	o := h.mustPlace(t, rangeOrder(t, "maker", 10, 100, 5_000, 6_000, ""))

	tests := []struct {
		name string
		p    core.FillOrderPayload
		want string
	}{
		{"unknown order", core.FillOrderPayload{OrderID: "nope", UserID: "u", Size: 1, Timestamp: t0 + 4_500}, store.ReasonOrderNotFound},
		{"zero size", core.FillOrderPayload{OrderID: o.ID, UserID: "u", Size: 0, Timestamp: t0 + 4_500}, store.ReasonInvalidSize},
		{"self fill", core.FillOrderPayload{OrderID: o.ID, UserID: "maker", Size: 1, Timestamp: t0 + 4_500}, core.ReasonSelfFill},
		{"no user", core.FillOrderPayload{OrderID: o.ID, Size: 1, Timestamp: t0 + 4_500}, core.ReasonInvalidUser},
		{"too early", core.FillOrderPayload{OrderID: o.ID, UserID: "u", Size: 1, Timestamp: t0 + 3_999}, core.ReasonBeforeFillWindowBuffer},
		{"too late", core.FillOrderPayload{OrderID: o.ID, UserID: "u", Size: 1, Timestamp: t0 + 8_001}, core.ReasonAfterFillWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertReason(t, h.eng.FillOrder(tt.p), tt.want)
		})
	}

	// Window edges are inclusive
	h.mustFill(t, o.ID, "u", 1, t0+4_000)
	h.mustFill(t, o.ID, "u", 1, t0+8_000)
}

func TestFill_FillLeadBuffer(t *testing.T) {
	h := newHarness(t)
	cfg := testBookConfig("lead", 2)
	cfg.FillLeadBuffer = 1
	h.eng.CreateOrderbook(cfg)
	h.fund(t, "maker", 1_000)

	p := rangeOrder(t, "maker", 10, 100, 5_000, 6_000, "")
	p.OrderbookID = "lead"
	o := h.mustPlace(t, p)

	assertReason(t, h.eng.FillOrder(core.FillOrderPayload{OrderID: o.ID, UserID: "u", Size: 1, Timestamp: t0 + 1_999}),
		core.ReasonBeforeFillWindowBuffer)
	h.mustFill(t, o.ID, "u", 1, t0+2_000)
}

func TestRequestIDs_Deduplicated(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)

	p := rangeOrder(t, "maker", 10, 100, 5_000, 6_000, "")
	p.RequestID = "req-1"
	o := h.mustPlace(t, p)
	assertReason(t, h.eng.PlaceOrder(p, t0), core.ReasonDuplicateRequest)

	fill := core.FillOrderPayload{RequestID: "fill-1", OrderID: o.ID, UserID: "u", Size: 1, Timestamp: t0 + 4_500}
	if res := h.eng.FillOrder(fill); !res.Success {
		t.Fatalf("first fill: %s", res.Reason)
	}
	assertReason(t, h.eng.FillOrder(fill), core.ReasonDuplicateRequest)

	// A rejected request id can be retried
	early := core.FillOrderPayload{RequestID: "fill-2", OrderID: o.ID, UserID: "u", Size: 1, Timestamp: t0}
	assertReason(t, h.eng.FillOrder(early), core.ReasonBeforeFillWindowBuffer)
	early.Timestamp = t0 + 4_500
	if res := h.eng.FillOrder(early); !res.Success {
		t.Errorf("retry after rejection should pass, got %s", res.Reason)
	}
}

func TestUpdate_ReservesDeltaAndChecksMaker(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)
	o := h.mustPlace(t, rangeOrder(t, "maker", 10, 100, 5_000, 6_000, ""))

	more := int64(300)
	assertReason(t, h.eng.UpdateOrder(core.UpdateOrderPayload{OrderID: o.ID, MakerID: "intruder", CollateralRequired: &more}, t0),
		core.ReasonMakerMismatch)

	bucket := int64(7_000)
	res := h.eng.UpdateOrder(core.UpdateOrderPayload{OrderID: o.ID, MakerID: "maker", CollateralRequired: &more, PriceBucket: &bucket}, t0)
	if !res.Success {
		t.Fatalf("update: %s", res.Reason)
	}
	if res.Order.Version != 2 || res.Order.PriceBucket != 7_000 {
		t.Errorf("unexpected updated order: %+v", res.Order)
	}
	if got := h.ledger.Balance("maker"); got.Locked != 300 {
		t.Errorf("locked %d, want 300", got.Locked)
	}

	tooMuch := int64(5_000)
	assertReason(t, h.eng.UpdateOrder(core.UpdateOrderPayload{OrderID: o.ID, MakerID: "maker", CollateralRequired: &tooMuch}, t0),
		core.ReasonMarginReservationFailed)
	if got, _ := h.eng.Snapshot(obID); got[0].CollateralRequired != 300 || got[0].Version != 2 {
		t.Errorf("failed update must leave the order untouched: %+v", got[0])
	}

	if n := len(h.ofType(event.TypeOrderUpdated)); n != 1 {
		t.Errorf("expected 1 order_updated, got %d", n)
	}
}

func TestCancel_ReleasesAndIsIdempotentWhilePending(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)
	o := h.mustPlace(t, rangeOrder(t, "maker", 10, 100, 5_000, 6_000, ""))
	h.mustFill(t, o.ID, "u", 3, t0+4_500)

	assertReason(t, h.eng.CancelOrder(o.ID, "intruder", t0+5_000), core.ReasonMakerMismatch)

	res := h.eng.CancelOrder(o.ID, "maker", t0+5_000)
	if !res.Success || res.Order.Status != store.StatusCancelled || res.Order.SizeRemaining != 0 {
		t.Fatalf("unexpected cancel result: %+v", res)
	}
	if got := h.ledger.Balance("maker"); got.Locked != 30 || got.Available != 970 {
		t.Errorf("only the consumed collateral stays locked: %+v", got)
	}
	if res := h.eng.CancelOrder(o.ID, "maker", t0+5_001); !res.Success {
		t.Errorf("repeat cancel while pending should succeed, got %s", res.Reason)
	}
	if n := len(h.ofType(event.TypeOrderCancelled)); n != 1 {
		t.Errorf("repeat cancel must not emit again, got %d events", n)
	}

	// The pending position still settles
	if r := h.mustTick(t, t0+9_000, 5_500); r.Settled != 1 {
		t.Fatalf("pending position on a cancelled order should settle: %+v", r)
	}
	assertReason(t, h.eng.CancelOrder(o.ID, "maker", t0+9_001), store.ReasonOrderNotFound)
}

// ============================================================================
// Tick behavior
// ============================================================================

func TestTick_StaleRejectedEqualAccepted(t *testing.T) {
	h := newHarness(t)

	h.mustTick(t, t0+5_000, 1)
	if _, err := h.eng.Tick(obID, t0+5_000, 2); err != nil {
		t.Errorf("equal now should be accepted: %v", err)
	}
	if _, err := h.eng.Tick(obID, t0+4_999, 3); !errors.Is(err, core.ErrStaleTick) {
		t.Errorf("expected ErrStaleTick, got %v", err)
	}
	if _, err := h.eng.Tick("nope", t0, 1); !errors.Is(err, core.ErrUnknownOrderbook) {
		t.Errorf("expected ErrUnknownOrderbook, got %v", err)
	}

	info, _ := h.eng.Describe(obID)
	if info.ClockSeq != 2 || info.LastPrice != 2 {
		t.Errorf("stale tick must not touch state: %+v", info)
	}
}

func TestRequests_OlderThanLastTickRejected(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)
	o := h.mustPlace(t, rangeOrder(t, "maker", 10, 100, 5_000, 6_000, ""))
	h.mustTick(t, t0+5_000, 0)
	locked := h.ledger.Balance("maker").Locked

	res := h.eng.PlaceOrder(rangeOrder(t, "maker", 10, 100, 5_000, 6_000, ""), t0)
	assertReason(t, res, core.ReasonStaleTimestamp)
	if res.Constraints["last_now"] != t0+5_000 || res.Constraints["now"] != t0 {
		t.Errorf("unexpected constraints: %v", res.Constraints)
	}

	more := int64(200)
	assertReason(t, h.eng.UpdateOrder(core.UpdateOrderPayload{OrderID: o.ID, MakerID: "maker", CollateralRequired: &more}, t0),
		core.ReasonStaleTimestamp)
	assertReason(t, h.eng.FillOrder(core.FillOrderPayload{OrderID: o.ID, UserID: "filler", Size: 1, Timestamp: t0 + 4_500}),
		core.ReasonStaleTimestamp)

	if got := h.ledger.Balance("maker").Locked; got != locked {
		t.Errorf("stale requests must not touch collateral: locked %d, want %d", got, locked)
	}
	if len(h.positionsFor(t, "filler")) != 0 {
		t.Error("stale fill must not open a position")
	}

	// The tick's own time is still current
	h.mustFill(t, o.ID, "filler", 1, t0+5_000)
}

func TestTick_FillWindowElapsedMakesCancelOnly(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)
	o := h.mustPlace(t, rangeOrder(t, "maker", 10, 100, 5_000, 6_000, ""))

	report := h.mustTick(t, t0+8_001, 0)
	if len(report.CancelOnly) != 1 || report.CancelOnly[0] != o.ID {
		t.Fatalf("expected order to become cancel-only: %+v", report)
	}
	if len(h.ofType(event.TypeOrderCancelOnly)) != 1 {
		t.Error("expected order_cancel_only event")
	}

	// Dropped at trigger end; with nothing filled the whole reservation returns
	h.mustTick(t, t0+20_001, 0)
	if got := h.ledger.Balance("maker"); got.Available != 1_000 || got.Locked != 0 {
		t.Errorf("maker after drop: %+v", got)
	}
}

func TestTick_HookFailureIsolated(t *testing.T) {
	h := newHarness(t)
	h.reg.Register(&contract.Funcs{
		TypeID: "exploding",
		VerifyHitFn: func(*store.Order, *position.Position, int64) (bool, error) {
			panic("boom")
		},
	})
	cfg := testBookConfig("exploding-2s", 2)
	cfg.ContractType = "exploding"
	h.eng.CreateOrderbook(cfg)
	h.fund(t, "maker", 1_000)

	p := rangeOrder(t, "maker", 10, 100, 5_000, 6_000, "")
	p.OrderbookID = "exploding-2s"
	o := h.mustPlace(t, p)
	h.mustFill(t, o.ID, "u", 2, t0+4_500)

	report, err := h.eng.Tick("exploding-2s", t0+9_000, 5_500)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.HookFailures != 1 || report.Hits != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	ps, _ := h.eng.Positions("exploding-2s", "u")
	if len(ps) != 1 || ps[0].Status != position.StatusOpen {
		t.Errorf("position should stay OPEN after a hook failure: %+v", ps)
	}

	// Other orderbooks are unaffected
	if _, err := h.eng.Tick(obID, t0+9_000, 5_500); err != nil {
		t.Errorf("healthy orderbook tick: %v", err)
	}
}

func TestTick_PayoutClampedToCollateral(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "maker", 1_000)
	o := h.mustPlace(t, rangeOrder(t, "maker", 10, 100, 5_000, 6_000, "3"))
	h.mustFill(t, o.ID, "u", 5, t0+4_500)

	h.mustTick(t, t0+9_000, 5_000)
	if got := h.ledger.Balance("u").Available; got != 50 {
		t.Errorf("payout must be capped at the position's collateral: got %d, want 50", got)
	}
	if err := ledger.NewInvariantValidator(h.ledger).ValidateAccounts(); err != nil {
		t.Errorf("ledger invariants: %v", err)
	}
}

// ============================================================================
// Orderbook registry and concurrency
// ============================================================================

func TestCreateOrderbook_IntegrityPanics(t *testing.T) {
	h := newHarness(t)

	assertPanics(t, "duplicate orderbook", func() { h.eng.CreateOrderbook(testBookConfig(obID, 2)) })

	unknown := testBookConfig("other", 2)
	unknown.ContractType = "unregistered"
	assertPanics(t, "unknown contract type", func() { h.eng.CreateOrderbook(unknown) })

	invalid := testBookConfig("invalid", 2)
	invalid.TimeframeMs = 0
	assertPanics(t, "invalid config", func() { h.eng.CreateOrderbook(invalid) })

	if got := h.eng.Orderbooks(); len(got) != 1 {
		t.Errorf("failed creations must not register orderbooks: %v", got)
	}
}

func TestConcurrentFillsAndTicks(t *testing.T) {
	h := newHarness(t)
	h.eng.CreateOrderbook(testBookConfig("second", 2))
	h.fund(t, "maker", 100_000)
	o := h.mustPlace(t, rangeOrder(t, "maker", 500, 5_000, 5_000, 6_000, ""))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.eng.FillOrder(core.FillOrderPayload{
					OrderID:   o.ID,
					UserID:    fmt.Sprintf("user-%d", i),
					Size:      1,
					Timestamp: t0 + 4_500,
				})
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for now := t0; now < t0+50_000; now += 250 {
			h.eng.Tick("second", now, 5_000)
		}
	}()
	wg.Wait()

	orders, _ := h.eng.Snapshot(obID)
	ps := h.positionsFor(t, "")
	var sum int64
	for _, p := range ps {
		sum += p.Size
	}
	if sum != 500 || orders[0].SizeRemaining != 0 {
		t.Errorf("positions sum %d, remaining %d; want 500 and 0", sum, orders[0].SizeRemaining)
	}
}

func assertPanics(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}
