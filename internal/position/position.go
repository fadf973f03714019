package position

import (
	"BucketClear/internal/store"
	"fmt"
)

// Status tracks a fill from opening to resolution
type Status int32

const (
	StatusOpen Status = iota
	StatusHit
	StatusSettled
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusHit:
		return "HIT"
	case StatusSettled:
		return "SETTLED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for _, st := range []Status{StatusOpen, StatusHit, StatusSettled, StatusExpired} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown position status %q", b)
}

// CanTransitionTo validates state transitions
func (s Status) CanTransitionTo(next Status) bool {
	validTransitions := map[Status][]Status{
		StatusOpen: {
			StatusHit,
			StatusExpired,
		},
		StatusHit: {
			StatusSettled,
		},
	}

	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// IsFinal reports whether the position can no longer change
func (s Status) IsFinal() bool {
	return s == StatusSettled || s == StatusExpired
}

// Position is one fill against an order
type Position struct {
	ID           string `json:"id"`
	OrderID      string `json:"order_id"`
	OrderbookID  string `json:"orderbook_id"`
	ContractType string `json:"contract_type"`
	UserID       string `json:"user_id"`
	MakerID      string `json:"maker_id"`

	Size             int64        `json:"size"`
	CollateralLocked int64        `json:"collateral_locked"`
	PriceAtFill      int64        `json:"price_at_fill"`
	TriggerWindow    store.Window `json:"trigger_window"`

	Status     Status `json:"status"`
	PriceAtHit int64  `json:"price_at_hit,omitempty"`
	Payout     int64  `json:"payout,omitempty"`

	CreatedAt int64 `json:"created_at"`
	HitAt     int64 `json:"hit_at,omitempty"`
	SettledAt int64 `json:"settled_at,omitempty"`
	ExpiredAt int64 `json:"expired_at,omitempty"`
}

func (p *Position) Clone() *Position {
	c := *p
	return &c
}
