package margin_test

import (
	"BucketClear/internal/ledger"
	"BucketClear/internal/margin"
	"BucketClear/internal/store"
	"testing"
)

func newTestManager(t *testing.T, makerFunds int64) (*margin.Manager, *ledger.Ledger) {
	t.Helper()
	l := ledger.NewLedger()
	if makerFunds > 0 {
		if _, err := l.Credit("maker", makerFunds, "seed"); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return margin.NewManager("ob", l), l
}

func newOrder(required, total int64) *store.Order {
	return &store.Order{
		ID:                 "o1",
		MakerID:            "maker",
		SizeTotal:          total,
		SizeRemaining:      total,
		CollateralRequired: required,
	}
}

// ============================================================================
// Test: Reservation
// ============================================================================

func TestReserveForOrder_LocksThenDeltas(t *testing.T) {
	m, l := newTestManager(t, 1_000)
	o := newOrder(100, 10)

	if err := m.ReserveForOrder(o, 0); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := l.Balance("maker"); got.Locked != 100 || got.Available != 900 {
		t.Errorf("after reserve: %+v", got)
	}

	o.CollateralRequired = 250
	if err := m.ReserveForOrder(o, 0); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if got := l.Balance("maker"); got.Locked != 250 {
		t.Errorf("after increase: locked=%d, want 250", got.Locked)
	}

	o.CollateralRequired = 50
	if err := m.ReserveForOrder(o, 0); err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if got := l.Balance("maker"); got.Locked != 50 || got.Available != 950 {
		t.Errorf("after decrease: %+v", got)
	}
}

func TestReserveForOrder_InsufficientRecordsViolation(t *testing.T) {
	m, l := newTestManager(t, 99)

	if err := m.ReserveForOrder(newOrder(100, 10), 42); err == nil {
		t.Fatal("expected reservation to fail")
	}
	if l.Balance("maker").Locked != 0 {
		t.Error("failed reservation must not lock anything")
	}

	vs := m.DrainViolations()
	if len(vs) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(vs))
	}
	v := vs[0]
	if v.PolicyAction != margin.ActionReservationFailed || v.Required != 100 || v.Available != 99 || v.Timestamp != 42 {
		t.Errorf("unexpected violation: %+v", v)
	}
	if len(m.DrainViolations()) != 0 {
		t.Error("drain must clear the buffer")
	}
}

func TestReleaseOrder_Idempotent(t *testing.T) {
	m, l := newTestManager(t, 1_000)
	o := newOrder(100, 10)
	m.ReserveForOrder(o, 0)

	auth := m.AuthorizeFill(o, 3, 0)
	if auth.Size != 3 || auth.Collateral != 30 {
		t.Fatalf("unexpected authorization: %+v", auth)
	}

	released, err := m.ReleaseOrder("o1")
	if err != nil || released != 70 {
		t.Fatalf("release: got %d, %v; want 70", released, err)
	}
	released, err = m.ReleaseOrder("o1")
	if err != nil || released != 0 {
		t.Errorf("second release should be a no-op, got %d, %v", released, err)
	}
	if got := l.Balance("maker"); got.Locked != 30 {
		t.Errorf("consumed collateral stays locked: locked=%d, want 30", got.Locked)
	}
}

// ============================================================================
// Test: AuthorizeFill
// ============================================================================

func TestAuthorizeFill_ScaledByCollateral(t *testing.T) {
	m, _ := newTestManager(t, 1_000)
	o := newOrder(100, 10)
	m.ReserveForOrder(o, 0)

	// Consume 60 so that only 40 remains unconsumed
	first := m.AuthorizeFill(o, 6, 0)
	o.SizeRemaining -= first.Size
	m.DrainViolations()

	auth := m.AuthorizeFill(o, 8, 1)
	if auth.Size != 4 || auth.Collateral != 40 || !auth.Scaled {
		t.Fatalf("expected scaled authorization of 4, got %+v", auth)
	}

	vs := m.DrainViolations()
	if len(vs) != 1 || vs[0].PolicyAction != margin.ActionFillScaled {
		t.Fatalf("expected one fill_scaled violation, got %+v", vs)
	}
	if vs[0].RequestedSize != 8 || vs[0].AuthorizedSize != 4 || vs[0].Available != 40 {
		t.Errorf("unexpected violation: %+v", vs[0])
	}
}

func TestAuthorizeFill_ScaledByReservationOnly(t *testing.T) {
	m, _ := newTestManager(t, 1_000)
	o := newOrder(40, 4)
	m.ReserveForOrder(o, 0)

	// Order grows in size without new collateral being reserved
	o.SizeTotal = 10
	o.SizeRemaining = 10
	o.CollateralRequired = 100

	auth := m.AuthorizeFill(o, 8, 0)
	if auth.Size != 4 {
		t.Fatalf("40 unconsumed at 10/unit should authorize 4, got %+v", auth)
	}
}

func TestAuthorizeFill_Blocked(t *testing.T) {
	m, _ := newTestManager(t, 1_000)
	o := newOrder(100, 10)
	m.ReserveForOrder(o, 0)
	m.AuthorizeFill(o, 10, 0)
	o.SizeRemaining = 0

	auth := m.AuthorizeFill(o, 1, 5)
	if auth.Size != 0 {
		t.Fatalf("expected blocked fill, got %+v", auth)
	}
	vs := m.DrainViolations()
	if len(vs) != 1 || vs[0].PolicyAction != margin.ActionOrderBlocked {
		t.Errorf("expected order_blocked violation, got %+v", vs)
	}
}

func TestAuthorizeFill_UnreservedOrderBlocked(t *testing.T) {
	m, _ := newTestManager(t, 1_000)
	if auth := m.AuthorizeFill(newOrder(100, 10), 1, 0); auth.Size != 0 {
		t.Errorf("order without reservation must be blocked, got %+v", auth)
	}
}

func TestAuthorizeFill_ZeroCollateralOrderUnlimited(t *testing.T) {
	m, _ := newTestManager(t, 0)
	o := newOrder(0, 10)
	if err := m.ReserveForOrder(o, 0); err != nil {
		t.Fatalf("zero reservation should succeed: %v", err)
	}
	if auth := m.AuthorizeFill(o, 7, 0); auth.Size != 7 || auth.Collateral != 0 {
		t.Errorf("unexpected authorization: %+v", auth)
	}
}

func TestAuthorizeFill_NoDustAfterFullFill(t *testing.T) {
	m, l := newTestManager(t, 1_000)
	o := newOrder(100, 3)
	m.ReserveForOrder(o, 0)

	var consumed int64
	for o.SizeRemaining > 0 {
		auth := m.AuthorizeFill(o, 1, 0)
		if auth.Size != 1 {
			t.Fatalf("unexpected authorization: %+v", auth)
		}
		o.SizeRemaining--
		consumed += auth.Collateral
	}
	if consumed != 100 {
		t.Errorf("full fill should consume all collateral, got %d", consumed)
	}
	if released, _ := m.ReleaseOrder("o1"); released != 0 {
		t.Errorf("nothing should be left to release, got %d", released)
	}
	if l.Balance("maker").Locked != 100 {
		t.Errorf("consumed collateral stays locked behind positions")
	}
}

func TestReleasePosition(t *testing.T) {
	m, l := newTestManager(t, 1_000)
	o := newOrder(100, 10)
	m.ReserveForOrder(o, 0)
	auth := m.AuthorizeFill(o, 2, 0)

	if err := m.ReleasePosition("maker", "p1", auth.Collateral); err != nil {
		t.Fatalf("release position: %v", err)
	}
	if got := l.Balance("maker"); got.Locked != 80 || got.Available != 920 {
		t.Errorf("after position release: %+v", got)
	}
	if err := m.ReleasePosition("maker", "p2", 0); err != nil {
		t.Errorf("zero release should be a no-op: %v", err)
	}
}
