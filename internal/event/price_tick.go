package event

import "fmt"

// PriceTick is a price observation delivered by a feed for one orderbook
type PriceTick struct {
	OrderbookID string `json:"orderbook_id"`
	Price       int64  `json:"price"`    // Fixed-point, same scale as price buckets
	Sequence    int64  `json:"sequence"` // Monotonic per orderbook, gaps tolerated
	Timestamp   int64  `json:"ts"`       // Unix milliseconds
}

func (p *PriceTick) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.OrderbookID, p.Sequence)
}

func (p *PriceTick) Validate() error {
	if p.OrderbookID == "" {
		return fmt.Errorf("price tick missing orderbook_id")
	}
	if p.Timestamp <= 0 {
		return fmt.Errorf("price tick %s has non-positive timestamp %d", p.IdempotencyKey(), p.Timestamp)
	}
	return nil
}
