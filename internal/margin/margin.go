package margin

import (
	"BucketClear/internal/ledger"
	fpmath "BucketClear/internal/math"
	"BucketClear/internal/store"
	"fmt"
)

// PolicyAction names what the margin component did about a shortfall
type PolicyAction string

const (
	ActionOrderBlocked      PolicyAction = "order_blocked"
	ActionFillScaled        PolicyAction = "fill_scaled"
	ActionReservationFailed PolicyAction = "reservation_failed"
)

// Violation is a buffered margin diagnostic, drained once per tick
type Violation struct {
	OrderbookID    string       `json:"orderbook_id"`
	OrderID        string       `json:"order_id"`
	AccountID      string       `json:"account_id"`
	PolicyAction   PolicyAction `json:"policy_action"`
	RequestedSize  int64        `json:"requested_size,omitempty"`
	AuthorizedSize int64        `json:"authorized_size,omitempty"`
	Required       int64        `json:"required"`
	Available      int64        `json:"available"`
	Timestamp      int64        `json:"timestamp"`
}

// Authorization is the outcome of AuthorizeFill
type Authorization struct {
	Size       int64 // 0 means blocked
	Collateral int64 // Collateral consumed by this fill
	Scaled     bool
}

type reservation struct {
	makerID  string
	reserved int64 // Total locked for the order, consumed included
	consumed int64 // Backing open positions
}

// Manager reserves, consumes and releases order collateral for one orderbook.
// It uses an interface for the ledger so tests can inject failures
// while still accepting *ledger.Ledger.
// Not thread-safe: only accessed under the owning orderbook's lock.
type Manager struct {
	orderbookID  string
	ledger       Ledger
	reservations map[string]*reservation
	violations   []Violation
}

type Ledger interface {
	Lock(accountID string, amount int64, reason string) (ledger.Snapshot, error)
	Unlock(accountID string, amount int64, reason string) (ledger.Snapshot, error)
	Balance(accountID string) ledger.Snapshot
}

func NewManager(orderbookID string, l Ledger) *Manager {
	return &Manager{
		orderbookID:  orderbookID,
		ledger:       l,
		reservations: make(map[string]*reservation),
	}
}

// ReserveForOrder locks collateralRequired the first time an order is seen and
// only the delta on later calls.
func (m *Manager) ReserveForOrder(o *store.Order, now int64) error {
	res, seen := m.reservations[o.ID]
	if !seen {
		res = &reservation{makerID: o.MakerID}
	}

	delta := o.CollateralRequired - res.reserved
	switch {
	case delta > 0:
		if _, err := m.ledger.Lock(o.MakerID, delta, fmt.Sprintf("order:%s:reserve_collateral", o.ID)); err != nil {
			m.record(Violation{
				OrderID:      o.ID,
				AccountID:    o.MakerID,
				PolicyAction: ActionReservationFailed,
				Required:     delta,
				Available:    m.ledger.Balance(o.MakerID).Available,
				Timestamp:    now,
			})
			return fmt.Errorf("reserve %d for order %s: %w", delta, o.ID, err)
		}
	case delta < 0:
		if _, err := m.ledger.Unlock(o.MakerID, -delta, fmt.Sprintf("order:%s:reduce_collateral", o.ID)); err != nil {
			return fmt.Errorf("release %d for order %s: %w", -delta, o.ID, err)
		}
	}

	res.reserved = o.CollateralRequired
	m.reservations[o.ID] = res
	return nil
}

// ReleaseOrder unlocks the unconsumed part of the reservation. No-op when
// already released.
func (m *Manager) ReleaseOrder(orderID string) (int64, error) {
	res, ok := m.reservations[orderID]
	if !ok {
		return 0, nil
	}
	delete(m.reservations, orderID)

	amount := res.reserved - res.consumed
	if amount <= 0 {
		return 0, nil
	}
	if _, err := m.ledger.Unlock(res.makerID, amount, fmt.Sprintf("order:%s:release_collateral", orderID)); err != nil {
		return 0, fmt.Errorf("release %d for order %s: %w", amount, orderID, err)
	}
	return amount, nil
}

// AuthorizeFill computes
// min(requested, sizeRemaining, (reserved - consumed) / collateralPerUnit)
// and consumes the matching collateral. A zero result records order_blocked,
// a reduced one records fill_scaled.
func (m *Manager) AuthorizeFill(o *store.Order, requested, now int64) Authorization {
	res, ok := m.reservations[o.ID]
	var free int64
	if ok {
		free = res.reserved - res.consumed
	}

	authorized := fpmath.Min64(requested, o.SizeRemaining)
	if ok {
		authorized = fpmath.Min64(authorized, fpmath.SizeCoveredBy(free, o.CollateralRequired, o.SizeTotal))
	} else {
		authorized = 0
	}
	if authorized < 0 {
		authorized = 0
	}

	v := Violation{
		OrderID:        o.ID,
		AccountID:      o.MakerID,
		RequestedSize:  requested,
		AuthorizedSize: authorized,
		Required:       fpmath.CollateralForSize(requested, o.CollateralRequired, o.SizeTotal),
		Available:      free,
		Timestamp:      now,
	}

	if authorized == 0 {
		v.PolicyAction = ActionOrderBlocked
		m.record(v)
		return Authorization{}
	}

	// Consumption is computed on the cumulative filled size so rounding never
	// leaves dust behind a fully filled order.
	filledAfter := o.SizeFilled() + authorized
	consumedAfter := fpmath.CollateralForSize(filledAfter, o.CollateralRequired, o.SizeTotal)
	if consumedAfter < res.consumed {
		consumedAfter = res.consumed
	}
	if consumedAfter > res.reserved {
		consumedAfter = res.reserved
	}
	collateral := consumedAfter - res.consumed
	res.consumed = consumedAfter

	scaled := authorized < requested
	if scaled {
		v.PolicyAction = ActionFillScaled
		m.record(v)
	}
	return Authorization{Size: authorized, Collateral: collateral, Scaled: scaled}
}

// ReleasePosition returns an expired position's collateral to the maker
func (m *Manager) ReleasePosition(makerID, positionID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if _, err := m.ledger.Unlock(makerID, amount, fmt.Sprintf("position:%s:expire_release", positionID)); err != nil {
		return fmt.Errorf("release position %s: %w", positionID, err)
	}
	return nil
}

// Reservation reports reserved and consumed collateral for an order
func (m *Manager) Reservation(orderID string) (reserved, consumed int64, ok bool) {
	res, ok := m.reservations[orderID]
	if !ok {
		return 0, 0, false
	}
	return res.reserved, res.consumed, true
}

// DrainViolations returns and clears buffered violations
func (m *Manager) DrainViolations() []Violation {
	out := m.violations
	m.violations = nil
	return out
}

func (m *Manager) record(v Violation) {
	v.OrderbookID = m.orderbookID
	m.violations = append(m.violations, v)
}
