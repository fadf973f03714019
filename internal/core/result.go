package core

import (
	"BucketClear/internal/position"
	"BucketClear/internal/store"
	"errors"
)

var (
	ErrStaleTick        = errors.New("stale tick")
	ErrUnknownOrderbook = errors.New("unknown orderbook")
)

// Rejection reasons produced by the engine. Store-level reasons are
// re-exported unchanged in Result.Reason.
const (
	ReasonUnknownOrderbook        = "unknown_orderbook"
	ReasonMakerMismatch           = "maker_mismatch"
	ReasonInvalidMaker            = "invalid_maker"
	ReasonInvalidUser             = "invalid_user"
	ReasonInvalidContractData     = "invalid_contract_data"
	ReasonBeforeFillWindowBuffer  = "before_fill_window_buffer"
	ReasonAfterFillWindow         = "after_fill_window"
	ReasonMarginReservationFailed = "margin_reservation_failed"
	ReasonMarginBlocked           = "margin_blocked"
	ReasonSelfFill                = "self_fill"
	ReasonDuplicateRequest        = "duplicate_request"
	ReasonStaleTimestamp          = "stale_timestamp"
)

// Operation names carried in order_rejected events
const (
	OpPlace  = "place"
	OpUpdate = "update"
	OpCancel = "cancel"
	OpFill   = "fill"
)

// Result is the outcome of a lifecycle operation. Rejections are values,
// never errors or panics.
type Result struct {
	Success     bool               `json:"success"`
	Reason      string             `json:"reason,omitempty"`
	Constraints map[string]int64   `json:"constraints,omitempty"`
	Order       *store.Order       `json:"order,omitempty"`
	Position    *position.Position `json:"position,omitempty"`
}

func accepted(o *store.Order, p *position.Position) Result {
	return Result{Success: true, Order: o, Position: p}
}

// TickReport summarizes one tick of one orderbook
type TickReport struct {
	OrderbookID string `json:"orderbook_id"`
	ClockSeq    uint64 `json:"clock_seq"`
	Now         int64  `json:"now"`
	Price       int64  `json:"price"`

	Dropped    []string `json:"dropped,omitempty"`
	CancelOnly []string `json:"cancel_only,omitempty"`
	Evicted    int      `json:"evicted_columns"`

	Expired            int `json:"expired"`
	Hits               int `json:"hits"`
	Settled            int `json:"settled"`
	HookFailures       int `json:"hook_failures"`
	SettlementFailures int `json:"settlement_failures"`
	Violations         int `json:"violations"`
}
