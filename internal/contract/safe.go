package contract

import (
	"BucketClear/internal/position"
	"BucketClear/internal/store"
	"fmt"
	"slices"
)

// HookError wraps a failure (error or panic) inside a contract-type hook
type HookError struct {
	ContractType string
	Hook         string
	PositionID   string
	Err          error
	Panicked     bool
}

func (e *HookError) Error() string {
	kind := "failed"
	if e.Panicked {
		kind = "panicked"
	}
	return fmt.Sprintf("contract type %s: %s %s for position %s: %v", e.ContractType, e.Hook, kind, e.PositionID, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Evaluate runs VerifyHit and, on a hit, Payout. Panics are recovered into
// a *HookError so one bad contract type cannot halt a tick.
func Evaluate(h Hooks, o *store.Order, p *position.Position, price int64) (hit bool, payout int64, err error) {
	stage := "verify_hit"
	defer func() {
		if r := recover(); r != nil {
			hit, payout = false, 0
			err = &HookError{
				ContractType: h.ID(),
				Hook:         stage,
				PositionID:   p.ID,
				Err:          fmt.Errorf("%v", r),
				Panicked:     true,
			}
		}
	}()

	hit, err = h.VerifyHit(o, p, price)
	if err != nil {
		return false, 0, &HookError{ContractType: h.ID(), Hook: stage, PositionID: p.ID, Err: err}
	}
	if !hit {
		return false, 0, nil
	}

	stage = "payout"
	payout, err = h.Payout(o, p, price)
	if err != nil {
		return false, 0, &HookError{ContractType: h.ID(), Hook: stage, PositionID: p.ID, Err: err}
	}
	return true, payout, nil
}

// ValidateData runs the hook's data validator when it has one
func ValidateData(h Hooks, o *store.Order) (err error) {
	v, ok := h.(DataValidator)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &HookError{ContractType: h.ID(), Hook: "validate_data", Err: fmt.Errorf("%v", r), Panicked: true}
		}
	}()
	return v.ValidateData(o.Data)
}

// SortOrders sorts with the hook comparator. If the comparator panics the
// slice is re-sorted with DefaultCompare and a *HookError is returned.
func SortOrders(h Hooks, orders []*store.Order) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slices.SortStableFunc(orders, DefaultCompare)
			err = &HookError{ContractType: h.ID(), Hook: "compare", Err: fmt.Errorf("%v", r), Panicked: true}
		}
	}()
	slices.SortStableFunc(orders, h.Compare)
	return nil
}
