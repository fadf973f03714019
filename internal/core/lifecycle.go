package core

import (
	"BucketClear/internal/contract"
	"BucketClear/internal/event"
	"BucketClear/internal/position"
	"BucketClear/internal/store"
	"encoding/json"

	"github.com/google/uuid"
)

const (
	kindPlace = "place"
	kindFill  = "fill"
)

// PlaceOrderPayload describes a new order
type PlaceOrderPayload struct {
	RequestID          string          `json:"request_id,omitempty"`
	OrderbookID        string          `json:"orderbook_id"`
	MakerID            string          `json:"maker_id"`
	SizeTotal          int64           `json:"size_total"`
	CollateralRequired int64           `json:"collateral_required"`
	FillWindow         store.Window    `json:"fill_window"`
	TriggerWindow      store.Window    `json:"trigger_window"`
	PriceBucket        int64           `json:"price_bucket"`
	Data               json.RawMessage `json:"data,omitempty"`
}

// UpdateOrderPayload changes the non-nil fields of an order
type UpdateOrderPayload struct {
	OrderbookID        string          `json:"orderbook_id,omitempty"` // optional, resolved from the order id
	OrderID            string          `json:"order_id"`
	MakerID            string          `json:"maker_id"`
	SizeTotal          *int64          `json:"size_total,omitempty"`
	CollateralRequired *int64          `json:"collateral_required,omitempty"`
	FillWindow         *store.Window   `json:"fill_window,omitempty"`
	TriggerWindow      *store.Window   `json:"trigger_window,omitempty"`
	PriceBucket        *int64          `json:"price_bucket,omitempty"`
	Data               json.RawMessage `json:"data,omitempty"`
}

// FillOrderPayload is a taker's fill request
type FillOrderPayload struct {
	RequestID   string `json:"request_id,omitempty"`
	OrderbookID string `json:"orderbook_id,omitempty"` // optional, resolved from the order id
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	Size        int64  `json:"size"`
	PriceAtFill int64  `json:"price_at_fill"`
	Timestamp   int64  `json:"timestamp"`
}

// ============================================================================
// Place
// ============================================================================

// PlaceOrder validates, indexes and collateralizes a new order
func (e *Engine) PlaceOrder(p PlaceOrderPayload, now int64) Result {
	b, ok := e.book(p.OrderbookID)
	if !ok {
		return e.reject(nil, OpPlace, OrderRejectedPayload{
			AccountID: p.MakerID, RequestID: p.RequestID, Reason: ReasonUnknownOrderbook,
		}, now)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fail := func(r *store.Rejection) Result {
		return e.reject(b, OpPlace, rejection(r, "", p.MakerID, p.RequestID), now)
	}

	if r := b.staleAt(now); r != nil {
		return fail(r)
	}

	if p.MakerID == "" {
		return fail(store.Reject(ReasonInvalidMaker))
	}
	if b.dedup.IsDuplicate(kindPlace, p.RequestID) {
		e.countDuplicate(b)
		return fail(store.Reject(ReasonDuplicateRequest))
	}

	o := &store.Order{
		ID:                 uuid.NewString(),
		MakerID:            p.MakerID,
		SizeTotal:          p.SizeTotal,
		CollateralRequired: p.CollateralRequired,
		FillWindow:         p.FillWindow,
		TriggerWindow:      p.TriggerWindow,
		PriceBucket:        p.PriceBucket,
		Data:               p.Data,
	}
	if r := e.validateData(b, o); r != nil {
		return fail(r)
	}

	placed, rej := b.store.Place(o, now)
	if rej != nil {
		return fail(rej)
	}

	if err := b.margin.ReserveForOrder(placed, now); err != nil {
		b.store.Remove(placed.ID)
		b.log.Debug().Err(err).Str("maker_id", p.MakerID).Msg("collateral reservation failed")
		return fail(store.Reject(ReasonMarginReservationFailed,
			"required", placed.CollateralRequired,
			"available", e.ledger.Balance(p.MakerID).Available))
	}

	e.indexOrder(placed.ID, b)
	b.dedup.MarkProcessed(kindPlace, p.RequestID)
	e.emit(b, event.TypeOrderPlaced, now, OrderPayload{Order: placed.Clone()})

	if e.metrics != nil {
		e.metrics.OrdersPlaced.WithLabelValues(b.cfg.OrderbookID).Inc()
		e.metrics.LiveOrders.WithLabelValues(b.cfg.OrderbookID).Set(float64(b.store.LiveCount()))
	}
	return accepted(placed.Clone(), nil)
}

// ============================================================================
// Update
// ============================================================================

// UpdateOrder applies a maker's changes using the update buffer and
// re-reserves collateral by delta in the same critical section.
func (e *Engine) UpdateOrder(p UpdateOrderPayload, now int64) Result {
	b, ok := e.bookFor(p.OrderbookID, p.OrderID)
	if !ok {
		reason := store.ReasonOrderNotFound
		if p.OrderbookID != "" {
			reason = ReasonUnknownOrderbook
		}
		return e.reject(nil, OpUpdate, OrderRejectedPayload{
			OrderID: p.OrderID, AccountID: p.MakerID, Reason: reason,
		}, now)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fail := func(r *store.Rejection) Result {
		return e.reject(b, OpUpdate, rejection(r, p.OrderID, p.MakerID, ""), now)
	}

	if r := b.staleAt(now); r != nil {
		return fail(r)
	}

	current, ok := b.store.Get(p.OrderID)
	if !ok {
		return fail(store.Reject(store.ReasonOrderNotFound))
	}
	if current.MakerID != p.MakerID {
		return fail(store.Reject(ReasonMakerMismatch))
	}
	if p.Data != nil {
		candidate := current.Clone()
		candidate.Data = p.Data
		if r := e.validateData(b, candidate); r != nil {
			return fail(r)
		}
	}

	transform := func(o *store.Order) {
		if p.SizeTotal != nil {
			o.SizeTotal = *p.SizeTotal
		}
		if p.CollateralRequired != nil {
			o.CollateralRequired = *p.CollateralRequired
		}
		if p.FillWindow != nil {
			o.FillWindow = *p.FillWindow
		}
		if p.TriggerWindow != nil {
			o.TriggerWindow = *p.TriggerWindow
		}
		if p.PriceBucket != nil {
			o.PriceBucket = *p.PriceBucket
		}
		if p.Data != nil {
			o.Data = p.Data
		}
	}
	commit := func(_, next *store.Order) *store.Rejection {
		if err := b.margin.ReserveForOrder(next, now); err != nil {
			b.log.Debug().Err(err).Str("order_id", next.ID).Msg("collateral re-reservation failed")
			return store.Reject(ReasonMarginReservationFailed,
				"required", next.CollateralRequired,
				"available", e.ledger.Balance(next.MakerID).Available)
		}
		return nil
	}

	updated, rej := b.store.Update(p.OrderID, now, transform, commit)
	if rej != nil {
		return fail(rej)
	}

	// Shrinking to the filled size fills the order
	if updated.Status == store.StatusFilled {
		if _, err := b.margin.ReleaseOrder(updated.ID); err != nil {
			b.log.Error().Err(err).Str("order_id", updated.ID).Msg("failed to release collateral")
		}
	}

	e.emit(b, event.TypeOrderUpdated, now, OrderPayload{Order: updated.Clone()})
	if e.metrics != nil {
		e.metrics.OrdersUpdated.WithLabelValues(b.cfg.OrderbookID).Inc()
	}
	return accepted(updated.Clone(), nil)
}

// ============================================================================
// Cancel
// ============================================================================

// CancelOrder cancels a maker's order and releases its unconsumed collateral.
// Positions already opened stay pending until verified or expired.
func (e *Engine) CancelOrder(orderID, makerID string, now int64) Result {
	b, ok := e.bookFor("", orderID)
	if !ok {
		return e.reject(nil, OpCancel, OrderRejectedPayload{
			OrderID: orderID, AccountID: makerID, Reason: store.ReasonOrderNotFound,
		}, now)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fail := func(r *store.Rejection) Result {
		return e.reject(b, OpCancel, rejection(r, orderID, makerID, ""), now)
	}

	current, ok := b.store.Get(orderID)
	if !ok {
		return fail(store.Reject(store.ReasonOrderNotFound))
	}
	if current.MakerID != makerID {
		return fail(store.Reject(ReasonMakerMismatch))
	}
	if current.Status == store.StatusCancelled {
		return accepted(current.Clone(), nil)
	}

	cancelled, rej := b.store.Cancel(orderID, now)
	if rej != nil {
		return fail(rej)
	}
	released, err := b.margin.ReleaseOrder(orderID)
	if err != nil {
		b.log.Error().Err(err).Str("order_id", orderID).Msg("failed to release collateral")
	}
	e.forgetIfGone(b, orderID)

	e.emit(b, event.TypeOrderCancelled, now, OrderCancelledPayload{Order: cancelled.Clone(), Released: released})
	if e.metrics != nil {
		e.metrics.OrdersCanceled.WithLabelValues(b.cfg.OrderbookID).Inc()
		e.metrics.LiveOrders.WithLabelValues(b.cfg.OrderbookID).Set(float64(b.store.LiveCount()))
	}
	return accepted(cancelled.Clone(), nil)
}

// ============================================================================
// Fill
// ============================================================================

// FillOrder authorizes a taker fill against margin and opens a position
func (e *Engine) FillOrder(p FillOrderPayload) Result {
	b, ok := e.bookFor(p.OrderbookID, p.OrderID)
	if !ok {
		reason := store.ReasonOrderNotFound
		if p.OrderbookID != "" {
			reason = ReasonUnknownOrderbook
		}
		return e.reject(nil, OpFill, OrderRejectedPayload{
			OrderID: p.OrderID, AccountID: p.UserID, RequestID: p.RequestID, Reason: reason,
		}, p.Timestamp)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ts := p.Timestamp
	fail := func(r *store.Rejection) Result {
		return e.reject(b, OpFill, rejection(r, p.OrderID, p.UserID, p.RequestID), ts)
	}

	if r := b.staleAt(ts); r != nil {
		return fail(r)
	}

	o, ok := b.store.Get(p.OrderID)
	if !ok {
		return fail(store.Reject(store.ReasonOrderNotFound))
	}
	if o.CancelOnly || !o.Status.IsLive() || !b.store.IsIndexed(o.ID) {
		return fail(store.Reject(store.ReasonOrderCancelOnly))
	}
	if p.Size <= 0 {
		return fail(store.Reject(store.ReasonInvalidSize, "size", p.Size))
	}
	if p.UserID == "" {
		return fail(store.Reject(ReasonInvalidUser))
	}
	if p.UserID == o.MakerID {
		return fail(store.Reject(ReasonSelfFill))
	}
	if earliest := o.FillWindow.Start - b.cfg.FillLead(); ts < earliest {
		return fail(store.Reject(ReasonBeforeFillWindowBuffer,
			"earliest_fill", earliest, "fill_window_start", o.FillWindow.Start, "timestamp", ts))
	}
	if ts > o.FillWindow.End {
		return fail(store.Reject(ReasonAfterFillWindow,
			"fill_window_end", o.FillWindow.End, "timestamp", ts))
	}
	if b.dedup.IsDuplicate(kindFill, p.RequestID) {
		e.countDuplicate(b)
		return fail(store.Reject(ReasonDuplicateRequest))
	}

	auth := b.margin.AuthorizeFill(o, p.Size, ts)
	if auth.Size == 0 {
		if co, changed := b.store.MarkCancelOnly(o.ID, ts); changed {
			e.emit(b, event.TypeOrderCancelOnly, ts, OrderCancelOnlyPayload{Order: co.Clone(), Reason: ReasonMarginBlocked})
		}
		return fail(store.Reject(ReasonMarginBlocked,
			"requested_size", p.Size, "size_remaining", o.SizeRemaining))
	}

	filled, rej := b.store.ApplyFill(o.ID, auth.Size, auth.Collateral, ts)
	if rej != nil {
		// AuthorizeFill never exceeds sizeRemaining; reaching this is a bug
		b.log.Error().Str("order_id", o.ID).Str("reason", rej.Reason).Msg("authorized fill refused by store")
		return fail(rej)
	}

	pos := b.positions.Open(position.OpenParams{
		Order:       filled,
		UserID:      p.UserID,
		Size:        auth.Size,
		Collateral:  auth.Collateral,
		PriceAtFill: p.PriceAtFill,
		Timestamp:   ts,
	})
	b.store.AttachPendingPosition(filled.ID, pos.ID)
	b.dedup.MarkProcessed(kindFill, p.RequestID)

	if filled.SizeRemaining == 0 {
		if _, err := b.margin.ReleaseOrder(filled.ID); err != nil {
			b.log.Error().Err(err).Str("order_id", filled.ID).Msg("failed to release collateral")
		}
	}

	e.emit(b, event.TypeOrderFilled, ts, OrderFilledPayload{
		Order:         filled.Clone(),
		PositionID:    pos.ID,
		UserID:        p.UserID,
		RequestedSize: p.Size,
		Size:          auth.Size,
		Collateral:    auth.Collateral,
		PriceAtFill:   p.PriceAtFill,
	})
	e.emit(b, event.TypePositionOpened, ts, PositionPayload{Position: pos.Clone()})

	if e.metrics != nil {
		e.metrics.Fills.WithLabelValues(b.cfg.OrderbookID).Inc()
		e.metrics.FillSize.WithLabelValues(b.cfg.OrderbookID).Observe(float64(auth.Size))
		e.metrics.LiveOrders.WithLabelValues(b.cfg.OrderbookID).Set(float64(b.store.LiveCount()))
	}
	return accepted(filled.Clone(), pos.Clone())
}

// --- helpers ---

func (e *Engine) validateData(b *orderbook, o *store.Order) *store.Rejection {
	if len(o.Data) > 0 && !json.Valid(o.Data) {
		return store.Reject(ReasonInvalidContractData)
	}
	if err := contract.ValidateData(b.hooks, o); err != nil {
		b.log.Debug().Err(err).Msg("contract data rejected")
		return store.Reject(ReasonInvalidContractData)
	}
	return nil
}

func (e *Engine) countDuplicate(b *orderbook) {
	if e.metrics != nil {
		e.metrics.IdempotencyDuplicates.WithLabelValues(b.cfg.OrderbookID).Inc()
	}
}
