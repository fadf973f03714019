package core

import (
	"BucketClear/internal/contract"
	"BucketClear/internal/margin"
	"BucketClear/internal/position"
	"BucketClear/internal/settlement"
	"BucketClear/internal/store"
	"sync"

	"github.com/rs/zerolog"
)

// orderbook bundles the per-orderbook state guarded by one mutex:
// store + margin + positions + settlement queue + sequences.
type orderbook struct {
	mu sync.Mutex

	cfg   store.Config
	hooks contract.Hooks

	store     *store.Store
	margin    *margin.Manager
	positions *position.Tracker
	queue     *settlement.Queue
	dedup     *RequestDeduper
	clock     *SequenceValidator
	chain     *EventChain

	seq       uint64 // event sequence
	clockSeq  uint64 // tick sequence
	lastNow   int64
	lastPrice int64

	log zerolog.Logger
}

func newOrderbook(cfg store.Config, hooks contract.Hooks, l margin.Ledger, dedupCap int, log zerolog.Logger) *orderbook {
	return &orderbook{
		cfg:       cfg,
		hooks:     hooks,
		store:     store.New(cfg),
		margin:    margin.NewManager(cfg.OrderbookID, l),
		positions: position.NewTracker(),
		queue:     settlement.NewQueue(),
		dedup:     NewRequestDeduper(dedupCap),
		clock:     NewSequenceValidator(),
		chain:     NewEventChain(cfg.OrderbookID),
		log:       log,
	}
}

// staleAt rejects a request time older than the orderbook's last tick.
// Caller holds b.mu.
func (b *orderbook) staleAt(now int64) *store.Rejection {
	if now < b.lastNow {
		return store.Reject(ReasonStaleTimestamp, "last_now", b.lastNow, "now", now)
	}
	return nil
}
