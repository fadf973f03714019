package core

import (
	"BucketClear/internal/contract"
	"BucketClear/internal/event"
	"BucketClear/internal/ledger"
	"BucketClear/internal/observability"
	"BucketClear/internal/position"
	"BucketClear/internal/store"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

const DefaultDedupCapacity = 100_000

// Config wires the engine's collaborators
type Config struct {
	Registry *contract.Registry
	Ledger   *ledger.Ledger
	Bus      *event.Bus

	// Optional
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
	DedupCapacity int // per orderbook
}

// Engine is the clearing engine: it owns one order store per orderbook and
// serializes every mutation of an orderbook behind that orderbook's lock.
// Different orderbooks run in parallel; the ledger is shared and locks per account.
//
// Events are published synchronously while the orderbook lock is held, so a
// blocking subscriber that falls behind stalls that orderbook.
type Engine struct {
	registry *contract.Registry
	ledger   *ledger.Ledger
	bus      *event.Bus
	metrics  *observability.Metrics
	logger   zerolog.Logger
	dedupCap int

	mu    sync.RWMutex
	books map[string]*orderbook

	idxMu      sync.RWMutex
	orderIndex map[string]*orderbook // order id -> owning orderbook

	// Events not scoped to an orderbook (balance changes, rejections for
	// unknown orders) share one sequence.
	unscopedMu  sync.Mutex
	unscopedSeq uint64
}

func NewEngine(cfg Config) *Engine {
	if cfg.Registry == nil || cfg.Ledger == nil || cfg.Bus == nil {
		panic("FATAL: engine requires registry, ledger and bus")
	}
	dedupCap := cfg.DedupCapacity
	if dedupCap <= 0 {
		dedupCap = DefaultDedupCapacity
	}

	e := &Engine{
		registry:   cfg.Registry,
		ledger:     cfg.Ledger,
		bus:        cfg.Bus,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With().Str("component", "engine").Logger(),
		dedupCap:   dedupCap,
		books:      make(map[string]*orderbook),
		orderIndex: make(map[string]*orderbook),
	}
	cfg.Ledger.OnChange(e.onBalanceChange)
	return e
}

// CreateOrderbook registers a new orderbook. The contract type must already be
// registered. Invalid configs, unknown contract types and duplicate ids are
// caller bugs and panic.
func (e *Engine) CreateOrderbook(cfg store.Config) {
	if err := store.ValidateConfig(&cfg); err != nil {
		panic(fmt.Sprintf("FATAL: invalid orderbook config: %v", err))
	}
	hooks := e.registry.MustGet(cfg.ContractType)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.books[cfg.OrderbookID]; exists {
		panic(fmt.Sprintf("FATAL: duplicate orderbook %q", cfg.OrderbookID))
	}
	e.books[cfg.OrderbookID] = newOrderbook(cfg, hooks, e.ledger, e.dedupCap,
		e.logger.With().Str("orderbook_id", cfg.OrderbookID).Logger())

	e.logger.Info().
		Str("orderbook_id", cfg.OrderbookID).
		Str("contract_type", cfg.ContractType).
		Int64("timeframe_ms", cfg.TimeframeMs).
		Msg("orderbook created")
}

// Orderbooks returns every orderbook config sorted by id
func (e *Engine) Orderbooks() []store.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]store.Config, 0, len(e.books))
	for _, b := range e.books {
		out = append(out, b.cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderbookID < out[j].OrderbookID })
	return out
}

// Snapshot returns copies of an orderbook's orders in contract-type order
func (e *Engine) Snapshot(orderbookID string) ([]*store.Order, error) {
	b, ok := e.book(orderbookID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrderbook, orderbookID)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	orders := b.store.Snapshot(nil)
	if err := contract.SortOrders(b.hooks, orders); err != nil {
		b.log.Warn().Err(err).Msg("comparator failed, using default order")
	}
	return orders, nil
}

// Positions returns copies of an orderbook's positions, optionally for one user
func (e *Engine) Positions(orderbookID, userID string) ([]*position.Position, error) {
	b, ok := e.book(orderbookID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrderbook, orderbookID)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if userID == "" {
		return b.positions.All(), nil
	}
	return b.positions.ByUser(userID), nil
}

// PositionsByUser collects a user's positions across every orderbook,
// ordered by creation time
func (e *Engine) PositionsByUser(userID string) []*position.Position {
	var out []*position.Position
	for _, cfg := range e.Orderbooks() {
		ps, err := e.Positions(cfg.OrderbookID, userID)
		if err != nil {
			continue
		}
		out = append(out, ps...)
	}
	position.SortByCreation(out)
	return out
}

// OrderbookInfo is a read-only view of an orderbook's clock state
type OrderbookInfo struct {
	Config     store.Config       `json:"config"`
	ClockSeq   uint64             `json:"clock_seq"`
	Sequence   uint64             `json:"sequence"`
	LastNow    int64              `json:"last_now"`
	LastPrice  int64              `json:"last_price"`
	Orders     int                `json:"orders"`
	LiveOrders int                `json:"live_orders"`
	Positions  int                `json:"positions"`
	Columns    []store.ColumnInfo `json:"columns"`
	ChainTip   string             `json:"chain_tip"`
}

func (e *Engine) Describe(orderbookID string) (OrderbookInfo, error) {
	b, ok := e.book(orderbookID)
	if !ok {
		return OrderbookInfo{}, fmt.Errorf("%w: %s", ErrUnknownOrderbook, orderbookID)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	tip := b.chain.Tip()
	return OrderbookInfo{
		Config:     b.cfg,
		ClockSeq:   b.clockSeq,
		Sequence:   b.seq,
		LastNow:    b.lastNow,
		LastPrice:  b.lastPrice,
		Orders:     b.store.Len(),
		LiveOrders: b.store.LiveCount(),
		Positions:  b.positions.Len(),
		Columns:    b.store.Columns(),
		ChainTip:   fmt.Sprintf("%x", tip),
	}, nil
}

// --- lookup ---

func (e *Engine) book(orderbookID string) (*orderbook, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[orderbookID]
	return b, ok
}

// bookFor resolves the orderbook explicitly or through the order index
func (e *Engine) bookFor(orderbookID, orderID string) (*orderbook, bool) {
	if orderbookID != "" {
		return e.book(orderbookID)
	}
	e.idxMu.RLock()
	defer e.idxMu.RUnlock()
	b, ok := e.orderIndex[orderID]
	return b, ok
}

func (e *Engine) indexOrder(orderID string, b *orderbook) {
	e.idxMu.Lock()
	e.orderIndex[orderID] = b
	e.idxMu.Unlock()
}

// forgetIfGone drops the index entry once the store no longer holds the order.
// Caller holds b.mu.
func (e *Engine) forgetIfGone(b *orderbook, orderID string) {
	if _, ok := b.store.Get(orderID); ok {
		return
	}
	e.idxMu.Lock()
	delete(e.orderIndex, orderID)
	e.idxMu.Unlock()
}

// --- events ---

// emit sequences, seals and publishes an orderbook event. Caller holds b.mu.
func (e *Engine) emit(b *orderbook, typ event.Type, ts int64, payload any) {
	b.seq++
	env := event.Envelope{
		Type:        typ,
		OrderbookID: b.cfg.OrderbookID,
		Sequence:    b.seq,
		ClockSeq:    b.clockSeq,
		Timestamp:   ts,
		Payload:     payload,
	}
	if err := b.chain.Seal(&env); err != nil {
		// Unreachable for engine payloads; publish unsealed rather than lose the event
		b.log.Error().Err(err).Str("type", string(typ)).Msg("failed to seal event")
	}
	e.bus.Publish(env)
	if e.metrics != nil {
		e.metrics.EventsPublished.WithLabelValues(string(typ)).Inc()
	}
}

func (e *Engine) emitUnscoped(typ event.Type, ts int64, payload any) {
	e.unscopedMu.Lock()
	defer e.unscopedMu.Unlock()
	e.unscopedSeq++
	e.bus.Publish(event.Envelope{
		Type:      typ,
		Sequence:  e.unscopedSeq,
		Timestamp: ts,
		Payload:   payload,
	})
	if e.metrics != nil {
		e.metrics.EventsPublished.WithLabelValues(string(typ)).Inc()
	}
}

func (e *Engine) onBalanceChange(c ledger.BalanceChange) {
	e.emitUnscoped(event.TypeBalanceChanged, 0, c)
}

// reject emits order_rejected and builds the failed Result. A nil b publishes
// the rejection unscoped. Caller holds b.mu when b is not nil.
func (e *Engine) reject(b *orderbook, op string, p OrderRejectedPayload, ts int64) Result {
	p.Operation = op
	label := ""
	if b != nil {
		label = b.cfg.OrderbookID
		e.emit(b, event.TypeOrderRejected, ts, p)
	} else {
		e.emitUnscoped(event.TypeOrderRejected, ts, p)
	}
	if e.metrics != nil {
		e.metrics.OrdersRejected.WithLabelValues(label, p.Reason).Inc()
	}
	return Result{Reason: p.Reason, Constraints: p.Constraints}
}

func rejection(r *store.Rejection, orderID, accountID, requestID string) OrderRejectedPayload {
	return OrderRejectedPayload{
		OrderID:     orderID,
		AccountID:   accountID,
		RequestID:   requestID,
		Reason:      r.Reason,
		Constraints: r.Constraints,
	}
}
