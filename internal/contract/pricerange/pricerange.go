// Package pricerange implements the price-range contract type: a position
// hits when the tick price lands in [startRange, endRange) during the
// trigger window, and pays collateral × payoutMultiplier.
package pricerange

import (
	"BucketClear/internal/contract"
	"BucketClear/internal/position"
	"BucketClear/internal/store"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

const TypeID = "price-range"

// Data is the order payload understood by this contract type
type Data struct {
	StartRange       int64           `json:"startRange"`
	EndRange         int64           `json:"endRange"`
	PayoutMultiplier decimal.Decimal `json:"payoutMultiplier"`
}

// Multiplier returns the payout multiplier, 1 when unset
func (d Data) Multiplier() decimal.Decimal {
	if d.PayoutMultiplier.IsZero() {
		return decimal.NewFromInt(1)
	}
	return d.PayoutMultiplier
}

func ParseData(raw json.RawMessage) (Data, error) {
	var d Data
	if len(raw) == 0 {
		return d, fmt.Errorf("price-range order requires data")
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("decode price-range data: %w", err)
	}
	if d.EndRange <= d.StartRange {
		return d, fmt.Errorf("endRange (%d) must be > startRange (%d)", d.EndRange, d.StartRange)
	}
	if d.PayoutMultiplier.IsNegative() {
		return d, fmt.Errorf("payoutMultiplier must be >= 0, got %s", d.PayoutMultiplier)
	}
	return d, nil
}

// Hooks implements contract.Hooks
type Hooks struct{}

var (
	_ contract.Hooks         = Hooks{}
	_ contract.DataValidator = Hooks{}
)

func New() Hooks { return Hooks{} }

func (Hooks) ID() string { return TypeID }

func (Hooks) ValidateData(raw json.RawMessage) error {
	_, err := ParseData(raw)
	return err
}

func (Hooks) VerifyHit(o *store.Order, _ *position.Position, price int64) (bool, error) {
	d, err := ParseData(o.Data)
	if err != nil {
		return false, err
	}
	return d.StartRange <= price && price < d.EndRange, nil
}

func (Hooks) Payout(o *store.Order, p *position.Position, _ int64) (int64, error) {
	d, err := ParseData(o.Data)
	if err != nil {
		return 0, err
	}
	amount := decimal.NewFromInt(p.CollateralLocked).Mul(d.Multiplier()).Floor()
	return amount.IntPart(), nil
}

// Compare orders by range start, then the default ordering
func (Hooks) Compare(a, b *store.Order) int {
	da, errA := ParseData(a.Data)
	db, errB := ParseData(b.Data)
	if errA == nil && errB == nil && da.StartRange != db.StartRange {
		if da.StartRange < db.StartRange {
			return -1
		}
		return 1
	}
	return contract.DefaultCompare(a, b)
}

// EncodeData is a convenience for callers building orders
func EncodeData(start, end int64, multiplier string) (json.RawMessage, error) {
	d := Data{StartRange: start, EndRange: end}
	if multiplier != "" {
		m, err := decimal.NewFromString(multiplier)
		if err != nil {
			return nil, fmt.Errorf("parse multiplier: %w", err)
		}
		d.PayoutMultiplier = m
	}
	return json.Marshal(d)
}
