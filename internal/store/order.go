package store

import (
	"encoding/json"
	"fmt"
	"slices"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus int32

const (
	StatusActive OrderStatus = iota
	StatusPartiallyFilled
	StatusCancelled
	StatusExpired
	StatusFilled
)

func (s OrderStatus) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusExpired:
		return "EXPIRED"
	case StatusFilled:
		return "FILLED"
	default:
		return "UNKNOWN"
	}
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(b []byte) error {
	for _, st := range []OrderStatus{StatusActive, StatusPartiallyFilled, StatusCancelled, StatusExpired, StatusFilled} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown order status %q", b)
}

// IsLive reports whether the order can still take fills or updates
func (s OrderStatus) IsLive() bool {
	return s == StatusActive || s == StatusPartiallyFilled
}

// Window is a closed time range [Start, End] in Unix milliseconds
type Window struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (w Window) Contains(ts int64) bool { return w.Start <= ts && ts <= w.End }

// Elapsed reports whether the whole window lies before now
func (w Window) Elapsed(now int64) bool { return w.End < now }

// Order is a maker's range-payout contract resting in one orderbook
type Order struct {
	ID           string `json:"id"`
	OrderbookID  string `json:"orderbook_id"`
	ContractType string `json:"contract_type"`
	MakerID      string `json:"maker_id"`

	SizeTotal          int64 `json:"size_total"`
	SizeRemaining      int64 `json:"size_remaining"`
	CollateralRequired int64 `json:"collateral_required"`
	CollateralFilled   int64 `json:"collateral_filled"` // Collateral consumed by fills

	FillWindow    Window `json:"fill_window"`
	TriggerWindow Window `json:"trigger_window"`
	PriceBucket   int64  `json:"price_bucket"`

	// Contract-type specific, opaque to the store
	Data json.RawMessage `json:"data,omitempty"`

	PendingPositions []string `json:"pending_positions"`

	Status     OrderStatus `json:"status"`
	CancelOnly bool        `json:"cancel_only"`
	Version    uint64      `json:"version"`
	PlacedAt   int64       `json:"placed_at"`
	UpdatedAt  int64       `json:"updated_at"`
}

// SizeFilled returns sizeTotal - sizeRemaining
func (o *Order) SizeFilled() int64 {
	return o.SizeTotal - o.SizeRemaining
}

// HasPending reports whether any fill awaits verification
func (o *Order) HasPending() bool {
	return len(o.PendingPositions) > 0
}

// Clone returns a deep copy safe to hand outside the orderbook lock
func (o *Order) Clone() *Order {
	c := *o
	c.PendingPositions = slices.Clone(o.PendingPositions)
	if o.Data != nil {
		c.Data = slices.Clone(o.Data)
	}
	return &c
}

// refreshStatus derives ACTIVE/PARTIALLY_FILLED/FILLED from sizes for live orders
func (o *Order) refreshStatus() {
	if !o.Status.IsLive() {
		return
	}
	switch {
	case o.SizeRemaining == 0:
		o.Status = StatusFilled
	case o.SizeRemaining < o.SizeTotal:
		o.Status = StatusPartiallyFilled
	default:
		o.Status = StatusActive
	}
}
