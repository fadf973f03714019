package contract

import (
	"BucketClear/internal/position"
	"BucketClear/internal/store"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Hooks parameterize trigger verification and payout math per product
type Hooks interface {
	// ID is the contract-type id orderbooks refer to
	ID() string

	// VerifyHit reports whether price triggers the position
	VerifyHit(o *store.Order, p *position.Position, price int64) (bool, error)

	// Payout returns the amount owed to the filler on a hit.
	// The engine clamps it to the position's locked collateral.
	Payout(o *store.Order, p *position.Position, price int64) (int64, error)

	// Compare orders two orders for snapshots and tick evaluation
	Compare(a, b *store.Order) int
}

// DataValidator is implemented by hooks that check order data at placement
type DataValidator interface {
	ValidateData(data json.RawMessage) error
}

// Registry resolves contract-type ids to hooks
type Registry struct {
	mu    sync.RWMutex
	types map[string]Hooks
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Hooks)}
}

// Register adds a contract type. Registering an id twice is a caller bug.
func (r *Registry) Register(h Hooks) {
	if h == nil || h.ID() == "" {
		panic("FATAL: contract type without id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[h.ID()]; exists {
		panic(fmt.Sprintf("FATAL: duplicate contract type %q", h.ID()))
	}
	r.types[h.ID()] = h
}

func (r *Registry) Get(id string) (Hooks, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.types[id]
	return h, ok
}

// MustGet panics on unknown ids; orderbooks may only reference registered types
func (r *Registry) MustGet(id string) Hooks {
	h, ok := r.Get(id)
	if !ok {
		panic(fmt.Sprintf("FATAL: unknown contract type %q", id))
	}
	return h
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultCompare orders by price bucket, then placement time, then id
func DefaultCompare(a, b *store.Order) int {
	switch {
	case a.PriceBucket != b.PriceBucket:
		return cmpInt64(a.PriceBucket, b.PriceBucket)
	case a.PlacedAt != b.PlacedAt:
		return cmpInt64(a.PlacedAt, b.PlacedAt)
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

func cmpInt64(a, b int64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Funcs adapts plain functions to Hooks. Nil functions never hit and pay nothing.
type Funcs struct {
	TypeID      string
	VerifyHitFn func(o *store.Order, p *position.Position, price int64) (bool, error)
	PayoutFn    func(o *store.Order, p *position.Position, price int64) (int64, error)
	CompareFn   func(a, b *store.Order) int
}

func (f *Funcs) ID() string { return f.TypeID }

func (f *Funcs) VerifyHit(o *store.Order, p *position.Position, price int64) (bool, error) {
	if f.VerifyHitFn == nil {
		return false, nil
	}
	return f.VerifyHitFn(o, p, price)
}

func (f *Funcs) Payout(o *store.Order, p *position.Position, price int64) (int64, error) {
	if f.PayoutFn == nil {
		return 0, nil
	}
	return f.PayoutFn(o, p, price)
}

func (f *Funcs) Compare(a, b *store.Order) int {
	if f.CompareFn == nil {
		return DefaultCompare(a, b)
	}
	return f.CompareFn(a, b)
}
