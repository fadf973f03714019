package event

// Type discriminator for event payloads
type Type string

const (
	TypeClockTick       Type = "clock_tick"
	TypeColumnDropped   Type = "column_dropped"
	TypeOrderPlaced     Type = "order_placed"
	TypeOrderUpdated    Type = "order_updated"
	TypeOrderCancelled  Type = "order_cancelled"
	TypeOrderCancelOnly Type = "order_cancel_only"
	TypeOrderFilled     Type = "order_filled"
	TypeOrderRejected   Type = "order_rejected"
	TypeVerificationHit Type = "verification_hit"
	TypePayoutSettled   Type = "payout_settled"
	TypeMarginViolation Type = "margin_violation"
	TypePositionOpened  Type = "position_opened"
	TypePositionHit     Type = "position_hit"
	TypePositionSettled Type = "position_settled"
	TypePositionExpired Type = "position_expired"
	TypeBalanceChanged  Type = "balance_changed"
)

// AllTypes lists every event type
var AllTypes = []Type{
	TypeClockTick, TypeColumnDropped,
	TypeOrderPlaced, TypeOrderUpdated, TypeOrderCancelled, TypeOrderCancelOnly,
	TypeOrderFilled, TypeOrderRejected,
	TypeVerificationHit, TypePayoutSettled, TypeMarginViolation,
	TypePositionOpened, TypePositionHit, TypePositionSettled, TypePositionExpired,
	TypeBalanceChanged,
}

func (t Type) String() string {
	return string(t)
}

// Envelope wraps every emitted event
type Envelope struct {
	Type Type `json:"type"`

	// Empty for ledger events, which are not scoped to an orderbook
	OrderbookID string `json:"orderbook_id,omitempty"`

	// Per-orderbook monotonic event sequence; unscoped events share one engine-wide sequence
	Sequence uint64 `json:"sequence"`

	// Clock sequence of the tick that was current when the event was emitted
	ClockSeq uint64 `json:"clock_seq"`

	// Engine time in Unix milliseconds (NOT wall-clock)
	Timestamp int64 `json:"timestamp"`

	Payload any `json:"payload"`

	// Hex SHA-256 chained per orderbook
	Hash     string `json:"hash,omitempty"`
	PrevHash string `json:"prev_hash,omitempty"`
}

// Subject returns the routing subject used by outbound sinks
func (e *Envelope) Subject(prefix string) string {
	book := e.OrderbookID
	if book == "" {
		book = "ledger"
	}
	return prefix + "." + string(e.Type) + "." + book
}
