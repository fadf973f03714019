package venue

import (
	"BucketClear/internal/contract"
	"BucketClear/internal/core"
	"BucketClear/internal/event"
	"BucketClear/internal/ledger"
	"BucketClear/internal/observability"
	"BucketClear/internal/position"
	"BucketClear/internal/store"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Options configures a Venue. All fields are optional.
type Options struct {
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
	DedupCapacity int
}

// Venue is the facade external collaborators use: accounts, orderbooks,
// order lifecycle, ticks, read projections and event subscriptions.
type Venue struct {
	registry  *contract.Registry
	ledger    *ledger.Ledger
	validator *ledger.InvariantValidator
	bus       *event.Bus
	engine    *core.Engine
	metrics   *observability.Metrics
	logger    zerolog.Logger

	mu      sync.Mutex
	closers []func() error
	closed  bool
}

func New(opts Options) *Venue {
	reg := contract.NewRegistry()
	l := ledger.NewLedger()
	bus := event.NewBus()
	logger := opts.Logger.With().Str("component", "venue").Logger()

	bus.OnDrop(func(subscriber string, env *event.Envelope) {
		logger.Warn().
			Str("subscriber", subscriber).
			Str("type", string(env.Type)).
			Str("orderbook_id", env.OrderbookID).
			Uint64("sequence", env.Sequence).
			Msg("event dropped for slow subscriber")
		if opts.Metrics != nil {
			opts.Metrics.EventDrops.WithLabelValues(subscriber).Inc()
		}
	})

	return &Venue{
		registry:  reg,
		ledger:    l,
		validator: ledger.NewInvariantValidator(l),
		bus:       bus,
		engine: core.NewEngine(core.Config{
			Registry:      reg,
			Ledger:        l,
			Bus:           bus,
			Metrics:       opts.Metrics,
			Logger:        opts.Logger,
			DedupCapacity: opts.DedupCapacity,
		}),
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// ============================================================================
// Accounts
// ============================================================================

func (v *Venue) EnsureAccount(accountID string) ledger.Snapshot {
	return v.ledger.EnsureAccount(accountID)
}

func (v *Venue) Balance(accountID string) ledger.Snapshot {
	return v.ledger.Balance(accountID)
}

// Balances returns every account sorted by id
func (v *Venue) Balances() []ledger.Snapshot {
	return v.ledger.Snapshot()
}

// Credit adds to available and returns the new available balance.
// A non-positive amount is a caller bug and panics; a credit that would
// overflow the balance is returned as ledger.ErrBalanceOverflow.
func (v *Venue) Credit(accountID string, amount int64) (int64, error) {
	snap, err := v.ledger.Credit(accountID, amount, "venue:credit")
	return snap.Available, fatalOnInvalid("credit", accountID, amount, err)
}

// Debit removes from available and returns the new available balance.
// Insufficient funds is returned as ledger.ErrInsufficientFunds.
func (v *Venue) Debit(accountID string, amount int64) (int64, error) {
	snap, err := v.ledger.Debit(accountID, amount, "venue:debit")
	return snap.Available, fatalOnInvalid("debit", accountID, amount, err)
}

func fatalOnInvalid(op, accountID string, amount int64, err error) error {
	if errors.Is(err, ledger.ErrInvalidAmount) {
		panic(fmt.Sprintf("FATAL: %s %d on account %s: %v", op, amount, accountID, err))
	}
	return err
}

// ============================================================================
// Orderbooks
// ============================================================================

// RegisterContractType must be called before any orderbook references the id
func (v *Venue) RegisterContractType(h contract.Hooks) {
	v.registry.Register(h)
	v.logger.Info().Str("contract_type", h.ID()).Msg("contract type registered")
}

func (v *Venue) CreateOrderbook(cfg store.Config) {
	v.engine.CreateOrderbook(cfg)
}

func (v *Venue) Orderbooks() []store.Config {
	return v.engine.Orderbooks()
}

func (v *Venue) Describe(orderbookID string) (core.OrderbookInfo, error) {
	return v.engine.Describe(orderbookID)
}

// ============================================================================
// Order lifecycle
// ============================================================================

func (v *Venue) PlaceOrder(p core.PlaceOrderPayload, now int64) core.Result {
	return v.engine.PlaceOrder(p, now)
}

func (v *Venue) UpdateOrder(p core.UpdateOrderPayload, now int64) core.Result {
	return v.engine.UpdateOrder(p, now)
}

func (v *Venue) CancelOrder(orderID, makerID string, now int64) core.Result {
	return v.engine.CancelOrder(orderID, makerID, now)
}

func (v *Venue) FillOrder(p core.FillOrderPayload) core.Result {
	return v.engine.FillOrder(p)
}

// Tick drives one orderbook. After a tick that moved balances the ledger
// invariants are re-checked; a violation is fatal.
func (v *Venue) Tick(orderbookID string, now, price int64) (core.TickReport, error) {
	report, err := v.engine.Tick(orderbookID, now, price)
	if err != nil {
		return report, err
	}
	if report.Settled > 0 || report.Expired > 0 || len(report.Dropped) > 0 {
		if err := v.validator.ValidateAccounts(); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated after tick %d of %s: %v", report.ClockSeq, orderbookID, err))
		}
	}
	return report, nil
}

// ============================================================================
// Read projections
// ============================================================================

func (v *Venue) Snapshot(orderbookID string) ([]*store.Order, error) {
	return v.engine.Snapshot(orderbookID)
}

func (v *Venue) Positions(orderbookID, userID string) ([]*position.Position, error) {
	return v.engine.Positions(orderbookID, userID)
}

func (v *Venue) PositionsByUser(userID string) []*position.Position {
	return v.engine.PositionsByUser(userID)
}

// ============================================================================
// Events & lifecycle
// ============================================================================

// Subscribe registers an explicit consumer of the event stream
func (v *Venue) Subscribe(name string, buffer int, mode event.DeliveryMode, filter event.Filter) *event.Subscription {
	sub := v.bus.Subscribe(name, buffer, mode, filter)
	v.logger.Debug().Str("subscriber", name).Str("mode", mode.String()).Msg("subscriber registered")
	return sub
}

// OnClose registers a shutdown hook, run in reverse order by Close
func (v *Venue) OnClose(fn func() error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closers = append(v.closers, fn)
}

// Close runs shutdown hooks, then closes every subscription. Safe to call twice.
func (v *Venue) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	closers := v.closers
	v.closers = nil
	v.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	v.bus.Close()
	v.logger.Info().Msg("venue closed")
	return errors.Join(errs...)
}
