package core

import (
	"BucketClear/internal/position"
	"BucketClear/internal/store"
)

// Event payloads. Orders and positions are copies taken at emit time.

type ClockTickPayload struct {
	Now      int64  `json:"now"`
	Price    int64  `json:"price"`
	ClockSeq uint64 `json:"clock_seq"`
}

type ColumnDroppedPayload struct {
	Now             int64              `json:"now"`
	DroppedOrderIDs []string           `json:"dropped_order_ids"`
	EvictedColumns  []store.ColumnInfo `json:"evicted_columns"`
}

type OrderPayload struct {
	Order *store.Order `json:"order"`
}

type OrderCancelledPayload struct {
	Order    *store.Order `json:"order"`
	Released int64        `json:"released_collateral"`
}

type OrderCancelOnlyPayload struct {
	Order  *store.Order `json:"order"`
	Reason string       `json:"reason"` // fill_window_elapsed | margin_blocked
}

type OrderFilledPayload struct {
	Order         *store.Order `json:"order"`
	PositionID    string       `json:"position_id"`
	UserID        string       `json:"user_id"`
	RequestedSize int64        `json:"requested_size"`
	Size          int64        `json:"size"`
	Collateral    int64        `json:"collateral"`
	PriceAtFill   int64        `json:"price_at_fill"`
}

type OrderRejectedPayload struct {
	Operation   string           `json:"operation"`
	OrderID     string           `json:"order_id,omitempty"`
	AccountID   string           `json:"account_id,omitempty"`
	RequestID   string           `json:"request_id,omitempty"`
	Reason      string           `json:"reason"`
	Constraints map[string]int64 `json:"constraints,omitempty"`
}

type VerificationHitPayload struct {
	OrderID    string `json:"order_id"`
	PositionID string `json:"position_id"`
	UserID     string `json:"user_id"`
	MakerID    string `json:"maker_id"`
	Price      int64  `json:"price"`
	Payout     int64  `json:"payout"`
	ClockSeq   uint64 `json:"clock_seq"`
}

type PayoutSettledPayload struct {
	InstructionID string `json:"instruction_id"`
	OrderID       string `json:"order_id"`
	PositionID    string `json:"position_id"`
	MakerID       string `json:"maker_id"`
	UserID        string `json:"user_id"`
	Payout        int64  `json:"payout"`   // Net credited to the user
	Residual      int64  `json:"residual"` // Returned to the maker
	ClockSeq      uint64 `json:"clock_seq"`
}

type PositionPayload struct {
	Position *position.Position `json:"position"`
}
