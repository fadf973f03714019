package clock

import (
	"BucketClear/internal/core"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Ticker is the engine surface the driver drives
type Ticker interface {
	Tick(orderbookID string, now, price int64) (core.TickReport, error)
}

// Driver ticks each orderbook on its own time.Ticker with the last price
// reported for it. Orderbooks without a price yet are skipped.
type Driver struct {
	target   Ticker
	interval time.Duration
	books    []string
	now      func() int64
	logger   zerolog.Logger

	mu     sync.RWMutex
	prices map[string]int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDriver(target Ticker, books []string, interval time.Duration, logger zerolog.Logger) *Driver {
	return &Driver{
		target:   target,
		interval: interval,
		books:    books,
		now:      func() int64 { return time.Now().UnixMilli() },
		logger:   logger.With().Str("component", "clock").Logger(),
		prices:   make(map[string]int64, len(books)),
	}
}

// WithClock replaces the wall clock, for tests
func (d *Driver) WithClock(now func() int64) *Driver {
	d.now = now
	return d
}

// SetPrice records the latest observed price for an orderbook
func (d *Driver) SetPrice(orderbookID string, price int64) {
	d.mu.Lock()
	d.prices[orderbookID] = price
	d.mu.Unlock()
}

func (d *Driver) LastPrice(orderbookID string) (int64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.prices[orderbookID]
	return p, ok
}

// TickOnce ticks one orderbook at the driver's current time.
// Returns false when no price is known yet.
func (d *Driver) TickOnce(orderbookID string) (core.TickReport, bool, error) {
	price, ok := d.LastPrice(orderbookID)
	if !ok {
		return core.TickReport{}, false, nil
	}
	report, err := d.target.Tick(orderbookID, d.now(), price)
	return report, true, err
}

// Start launches one goroutine per orderbook. Stop cancels them.
func (d *Driver) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for _, ob := range d.books {
		d.wg.Add(1)
		go d.run(ctx, ob)
	}
	d.logger.Info().
		Int("orderbooks", len(d.books)).
		Dur("interval", d.interval).
		Msg("clock driver started")
}

func (d *Driver) run(ctx context.Context, orderbookID string) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, ticked, err := d.TickOnce(orderbookID)
			switch {
			case errors.Is(err, core.ErrStaleTick):
				d.logger.Warn().Str("orderbook_id", orderbookID).Err(err).Msg("stale tick skipped")
			case err != nil:
				d.logger.Error().Str("orderbook_id", orderbookID).Err(err).Msg("tick failed")
			case !ticked:
				d.logger.Debug().Str("orderbook_id", orderbookID).Msg("no price yet")
			case report.Hits > 0 || report.Settled > 0 || len(report.Dropped) > 0:
				d.logger.Debug().
					Str("orderbook_id", orderbookID).
					Uint64("clock_seq", report.ClockSeq).
					Int("hits", report.Hits).
					Int("settled", report.Settled).
					Int("dropped", len(report.Dropped)).
					Msg("tick")
			}
		}
	}
}

// Stop cancels the tick loops and waits for them to exit
func (d *Driver) Stop() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info().Msg("clock driver stopped")
	return nil
}
