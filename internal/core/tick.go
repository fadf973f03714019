package core

import (
	"BucketClear/internal/contract"
	"BucketClear/internal/event"
	"BucketClear/internal/ledger"
	"BucketClear/internal/position"
	"BucketClear/internal/settlement"
	"fmt"
	"slices"
	"time"
)

// Tick drives one orderbook to now at price. The whole pipeline runs under the
// orderbook lock:
//
//  1. bump the clock sequence, emit clock_tick
//  2. advance the store; expire pending positions of dropped orders and
//     release their collateral, emit column_dropped
//  3. verify pending positions whose trigger window contains now; stage
//     settlement instructions for hits
//  4. drain the settlement queue into the ledger
//  5. drain margin violations
//
// A now lower than the previous tick's is rejected with ErrStaleTick without
// touching state.
func (e *Engine) Tick(orderbookID string, now, price int64) (TickReport, error) {
	b, ok := e.book(orderbookID)
	if !ok {
		if e.metrics != nil {
			e.metrics.TicksRejected.WithLabelValues(orderbookID, "unknown_orderbook").Inc()
		}
		return TickReport{}, fmt.Errorf("%w: %s", ErrUnknownOrderbook, orderbookID)
	}

	start := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.clock.ValidateTick(orderbookID, now); err != nil {
		if e.metrics != nil {
			e.metrics.TicksRejected.WithLabelValues(orderbookID, "stale").Inc()
		}
		return TickReport{}, err
	}

	// Step 1: clock
	b.clockSeq++
	b.lastNow = now
	b.lastPrice = price
	report := TickReport{OrderbookID: orderbookID, ClockSeq: b.clockSeq, Now: now, Price: price}
	e.emit(b, event.TypeClockTick, now, ClockTickPayload{Now: now, Price: price, ClockSeq: b.clockSeq})

	// Step 2: advance
	e.advance(b, now, &report)

	// Step 3: verify
	e.verify(b, now, price, &report)

	// Step 4: settle
	e.settle(b, now, &report)

	// Step 5: margin violations
	for _, v := range b.margin.DrainViolations() {
		report.Violations++
		e.emit(b, event.TypeMarginViolation, now, v)
		if e.metrics != nil {
			e.metrics.MarginViolations.WithLabelValues(orderbookID, string(v.PolicyAction)).Inc()
		}
	}

	if e.metrics != nil {
		e.metrics.Ticks.WithLabelValues(orderbookID).Inc()
		e.metrics.ClockSequence.WithLabelValues(orderbookID).Set(float64(b.clockSeq))
		e.metrics.LiveOrders.WithLabelValues(orderbookID).Set(float64(b.store.LiveCount()))
		e.metrics.SettlementQueueDepth.WithLabelValues(orderbookID).Set(float64(b.queue.Len()))
		e.metrics.TickDuration.WithLabelValues(orderbookID).Observe(time.Since(start).Seconds())
	}
	return report, nil
}

func (e *Engine) advance(b *orderbook, now int64, report *TickReport) {
	adv := b.store.Advance(now)

	for _, o := range adv.CancelOnly {
		report.CancelOnly = append(report.CancelOnly, o.ID)
		e.emit(b, event.TypeOrderCancelOnly, now, OrderCancelOnlyPayload{Order: o.Clone(), Reason: "fill_window_elapsed"})
	}

	for _, o := range adv.Dropped {
		for _, pid := range o.PendingPositions {
			pos := b.positions.Expire(pid, now)
			if pos == nil {
				continue
			}
			if err := b.margin.ReleasePosition(pos.MakerID, pos.ID, pos.CollateralLocked); err != nil {
				b.log.Error().Err(err).Str("position_id", pos.ID).Msg("failed to release expired position collateral")
			}
			report.Expired++
			e.emit(b, event.TypePositionExpired, now, PositionPayload{Position: pos.Clone()})
			if e.metrics != nil {
				e.metrics.PositionsExpired.WithLabelValues(b.cfg.OrderbookID).Inc()
			}
		}
		if _, err := b.margin.ReleaseOrder(o.ID); err != nil {
			b.log.Error().Err(err).Str("order_id", o.ID).Msg("failed to release collateral")
		}
		e.forgetIfGone(b, o.ID)
	}

	report.Dropped = adv.DroppedIDs()
	report.Evicted = len(adv.Evicted)
	if len(adv.Dropped) > 0 || len(adv.Evicted) > 0 {
		e.emit(b, event.TypeColumnDropped, now, ColumnDroppedPayload{
			Now:             now,
			DroppedOrderIDs: report.Dropped,
			EvictedColumns:  adv.Evicted,
		})
		if e.metrics != nil {
			e.metrics.OrdersDropped.WithLabelValues(b.cfg.OrderbookID).Add(float64(len(adv.Dropped)))
		}
	}
}

func (e *Engine) verify(b *orderbook, now, price int64, report *TickReport) {
	due := b.store.PendingDue(now)
	if err := contract.SortOrders(b.hooks, due); err != nil {
		b.log.Warn().Err(err).Msg("comparator failed, using default order")
	}

	for _, o := range due {
		for _, pid := range slices.Clone(o.PendingPositions) {
			pos, ok := b.positions.Get(pid)
			if !ok || pos.Status != position.StatusOpen {
				continue
			}

			// Hooks see copies so a misbehaving contract type cannot corrupt state
			hit, payout, err := contract.Evaluate(b.hooks, o.Clone(), pos.Clone(), price)
			if err != nil {
				report.HookFailures++
				b.log.Error().Err(err).
					Str("order_id", o.ID).
					Str("position_id", pid).
					Msg("contract hook failed, position skipped this tick")
				if e.metrics != nil {
					e.metrics.HookFailures.WithLabelValues(b.hooks.ID(), hookName(err)).Inc()
				}
				continue
			}
			if !hit {
				continue
			}

			payout = clampPayout(payout, pos.CollateralLocked)
			cs, err := ledger.GeneratePayout(ledger.PayoutLegs{
				Ref:        pid,
				MakerID:    pos.MakerID,
				FillerID:   pos.UserID,
				Collateral: pos.CollateralLocked,
				Payout:     payout,
			})
			if err != nil {
				b.log.Error().Err(err).Str("position_id", pid).Msg("cannot build payout changeset")
				continue
			}

			b.positions.MarkHit(pid, price, now)
			b.store.ResolvePendingPosition(o.ID, pid)
			report.Hits++

			e.emit(b, event.TypePositionHit, now, PositionPayload{Position: pos.Clone()})
			e.emit(b, event.TypeVerificationHit, now, VerificationHitPayload{
				OrderID:    o.ID,
				PositionID: pid,
				UserID:     pos.UserID,
				MakerID:    pos.MakerID,
				Price:      price,
				Payout:     payout,
				ClockSeq:   b.clockSeq,
			})
			if e.metrics != nil {
				e.metrics.VerificationHits.WithLabelValues(b.cfg.OrderbookID).Inc()
			}

			if err := b.queue.Enqueue(settlement.Instruction{
				OrderbookID: b.cfg.OrderbookID,
				OrderID:     o.ID,
				PositionID:  pid,
				MakerID:     pos.MakerID,
				FillerID:    pos.UserID,
				ClockSeq:    b.clockSeq,
				Payout:      payout,
				Price:       price,
				Changeset:   cs,
				CreatedAt:   now,
			}); err != nil {
				b.log.Error().Err(err).Str("position_id", pid).Msg("settlement enqueue refused")
			}
		}
		e.forgetIfGone(b, o.ID)
	}
}

func (e *Engine) settle(b *orderbook, now int64, report *TickReport) {
	for _, in := range b.queue.Drain() {
		if in.Changeset != nil {
			if err := e.ledger.ApplyChangeset(in.Changeset); err != nil {
				report.SettlementFailures++
				b.log.Error().Err(err).
					Str("position_id", in.PositionID).
					Str("instruction_id", in.ID).
					Msg("settlement changeset failed, position left HIT")
				if e.metrics != nil {
					e.metrics.SettlementFailures.WithLabelValues(b.cfg.OrderbookID).Inc()
				}
				continue
			}
		}

		pos := b.positions.Settle(in.PositionID, in.Payout, now)
		if pos == nil {
			b.log.Error().Str("position_id", in.PositionID).Msg("settled instruction for a position not in HIT")
			continue
		}
		report.Settled++

		e.emit(b, event.TypePayoutSettled, now, PayoutSettledPayload{
			InstructionID: in.ID,
			OrderID:       in.OrderID,
			PositionID:    in.PositionID,
			MakerID:       in.MakerID,
			UserID:        in.FillerID,
			Payout:        in.Payout,
			Residual:      pos.CollateralLocked - in.Payout,
			ClockSeq:      in.ClockSeq,
		})
		e.emit(b, event.TypePositionSettled, now, PositionPayload{Position: pos.Clone()})
		if e.metrics != nil {
			e.metrics.Settlements.WithLabelValues(b.cfg.OrderbookID).Inc()
			e.metrics.SettledPayout.WithLabelValues(b.cfg.OrderbookID).Observe(float64(in.Payout))
		}
	}
}

func clampPayout(payout, collateral int64) int64 {
	if payout < 0 {
		return 0
	}
	if payout > collateral {
		return collateral
	}
	return payout
}

func hookName(err error) string {
	if he, ok := err.(*contract.HookError); ok {
		return he.Hook
	}
	return "unknown"
}
