package server

import (
	"BucketClear/internal/core"
	"BucketClear/internal/event"
	"BucketClear/internal/ledger"
	"BucketClear/internal/position"
	"BucketClear/internal/store"
)

// Request and response messages for VenueService. Engine time fields that
// are left at zero default to the server's wall clock in Unix ms.

type Empty struct{}

type AmountRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
}

type AccountRequest struct {
	AccountID string `json:"account_id"`
}

type BalanceResponse struct {
	Balance ledger.Snapshot `json:"balance"`
}

type PlaceOrderRequest struct {
	core.PlaceOrderPayload
	Now int64 `json:"now,omitempty"`
}

type UpdateOrderRequest struct {
	core.UpdateOrderPayload
	Now int64 `json:"now,omitempty"`
}

type CancelOrderRequest struct {
	OrderID string `json:"order_id"`
	MakerID string `json:"maker_id"`
	Now     int64  `json:"now,omitempty"`
}

type FillOrderRequest struct {
	core.FillOrderPayload
}

type TickRequest struct {
	OrderbookID string `json:"orderbook_id"`
	Now         int64  `json:"now,omitempty"`
	Price       int64  `json:"price"`
}

type OrderbookRequest struct {
	OrderbookID string `json:"orderbook_id"`
}

type OrderbooksResponse struct {
	Orderbooks []store.Config `json:"orderbooks"`
}

type SnapshotResponse struct {
	OrderbookID string         `json:"orderbook_id"`
	Orders      []*store.Order `json:"orders"`
}

type PositionsRequest struct {
	OrderbookID string `json:"orderbook_id,omitempty"` // empty lists across orderbooks
	UserID      string `json:"user_id,omitempty"`
}

type PositionsResponse struct {
	Positions []*position.Position `json:"positions"`
}

// SubscribeRequest filters the stream; empty fields match everything
type SubscribeRequest struct {
	OrderbookID string       `json:"orderbook_id,omitempty"`
	Types       []event.Type `json:"types,omitempty"`
}

func (r *SubscribeRequest) filter() event.Filter {
	var byType event.Filter
	if len(r.Types) > 0 {
		byType = event.ByTypes(r.Types...)
	}
	ob := r.OrderbookID
	if ob == "" && byType == nil {
		return nil
	}
	return func(e *event.Envelope) bool {
		if ob != "" && e.OrderbookID != ob {
			return false
		}
		return byType == nil || byType(e)
	}
}
