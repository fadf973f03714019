package position

import (
	"BucketClear/internal/store"
	"cmp"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// OpenParams describes a fill that becomes a position
type OpenParams struct {
	Order       *store.Order
	UserID      string
	Size        int64
	Collateral  int64
	PriceAtFill int64
	Timestamp   int64
}

// Tracker records positions and indexes them by order and by user.
// Not thread-safe: only accessed under the owning orderbook's lock.
type Tracker struct {
	positions map[string]*Position
	byOrder   map[string][]string
	byUser    map[string][]string
}

func NewTracker() *Tracker {
	return &Tracker{
		positions: make(map[string]*Position),
		byOrder:   make(map[string][]string),
		byUser:    make(map[string][]string),
	}
}

// Open creates an OPEN position
func (t *Tracker) Open(p OpenParams) *Position {
	pos := &Position{
		ID:               uuid.NewString(),
		OrderID:          p.Order.ID,
		OrderbookID:      p.Order.OrderbookID,
		ContractType:     p.Order.ContractType,
		UserID:           p.UserID,
		MakerID:          p.Order.MakerID,
		Size:             p.Size,
		CollateralLocked: p.Collateral,
		PriceAtFill:      p.PriceAtFill,
		TriggerWindow:    p.Order.TriggerWindow,
		Status:           StatusOpen,
		CreatedAt:        p.Timestamp,
	}

	t.positions[pos.ID] = pos
	t.byOrder[pos.OrderID] = append(t.byOrder[pos.OrderID], pos.ID)
	t.byUser[pos.UserID] = append(t.byUser[pos.UserID], pos.ID)
	return pos
}

// MarkHit moves OPEN -> HIT. Returns nil for unknown ids or invalid transitions.
func (t *Tracker) MarkHit(positionID string, price, ts int64) *Position {
	pos := t.transition(positionID, StatusHit)
	if pos == nil {
		return nil
	}
	pos.PriceAtHit = price
	pos.HitAt = ts
	return pos
}

// Settle moves HIT -> SETTLED and records the payout credited to the user
func (t *Tracker) Settle(positionID string, payout, ts int64) *Position {
	pos := t.transition(positionID, StatusSettled)
	if pos == nil {
		return nil
	}
	pos.Payout = payout
	pos.SettledAt = ts
	return pos
}

// Expire moves OPEN -> EXPIRED
func (t *Tracker) Expire(positionID string, ts int64) *Position {
	pos := t.transition(positionID, StatusExpired)
	if pos == nil {
		return nil
	}
	pos.ExpiredAt = ts
	return pos
}

func (t *Tracker) transition(positionID string, next Status) *Position {
	pos, ok := t.positions[positionID]
	if !ok || !pos.Status.CanTransitionTo(next) {
		return nil
	}
	pos.Status = next
	return pos
}

func (t *Tracker) Get(positionID string) (*Position, bool) {
	pos, ok := t.positions[positionID]
	return pos, ok
}

// ByOrder returns copies of an order's positions in opening order
func (t *Tracker) ByOrder(orderID string) []*Position {
	return t.collect(t.byOrder[orderID])
}

// ByUser returns copies of a user's positions in opening order
func (t *Tracker) ByUser(userID string) []*Position {
	return t.collect(t.byUser[userID])
}

// All returns copies of every position ordered by CreatedAt, then ID
func (t *Tracker) All() []*Position {
	out := make([]*Position, 0, len(t.positions))
	for _, pos := range t.positions {
		out = append(out, pos.Clone())
	}
	SortByCreation(out)
	return out
}

// SortByCreation orders positions by CreatedAt, then ID
func SortByCreation(ps []*Position) {
	slices.SortFunc(ps, func(a, b *Position) int {
		if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func (t *Tracker) Len() int { return len(t.positions) }

func (t *Tracker) collect(ids []string) []*Position {
	out := make([]*Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.positions[id].Clone())
	}
	return out
}
