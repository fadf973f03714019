package store

import (
	"fmt"
	"sort"
	"strings"
)

// Rejection reasons produced by the store
const (
	ReasonFillWindowTooSoon       = "fill_window_too_soon"
	ReasonFillWindowInvalid       = "fill_window_invalid"
	ReasonFillWindowBeyondHorizon = "fill_window_beyond_horizon"
	ReasonTriggerWindowInvalid    = "trigger_window_invalid"
	ReasonPriceBucketOutOfRange   = "price_bucket_out_of_range"
	ReasonPriceBucketMisaligned   = "price_bucket_misaligned"
	ReasonInvalidSize             = "invalid_size"
	ReasonInvalidCollateral       = "invalid_collateral"
	ReasonOrderNotFound           = "order_not_found"
	ReasonOrderExists             = "order_exists"
	ReasonOrderCancelOnly         = "order_cancel_only"
	ReasonOrderNotActive          = "order_not_active"
	ReasonUpdateBelowFilled       = "update_below_filled"
)

// Rejection is a named, non-exceptional failure with the values that caused it
type Rejection struct {
	Reason      string           `json:"reason"`
	Constraints map[string]int64 `json:"constraints,omitempty"`
}

func Reject(reason string, kv ...any) *Rejection {
	r := &Rejection{Reason: reason}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		var v int64
		switch n := kv[i+1].(type) {
		case int64:
			v = n
		case int:
			v = int64(n)
		default:
			continue
		}
		if r.Constraints == nil {
			r.Constraints = make(map[string]int64)
		}
		r.Constraints[key] = v
	}
	return r
}

func (r *Rejection) Error() string {
	if len(r.Constraints) == 0 {
		return r.Reason
	}
	keys := make([]string, 0, len(r.Constraints))
	for k := range r.Constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, r.Constraints[k]))
	}
	return r.Reason + " (" + strings.Join(parts, ", ") + ")"
}
