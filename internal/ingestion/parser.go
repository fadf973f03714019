package ingestion

import (
	"BucketClear/internal/event"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PriceSubjectPrefix is the NATS subject prefix for price ticks: venue.prices.<orderbook_id>
const PriceSubjectPrefix = "venue.prices"

// RawEvent is an undecoded message from a feed, ready for the shell to
// validate and convert before it reaches the engine.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type priceTickJSON struct {
	OrderbookID string          `json:"orderbook_id"`
	Price       json.RawMessage `json:"price"`
	Sequence    int64           `json:"sequence"`
	TimestampMs int64           `json:"ts"`
}

// ParsePriceTick decodes a price tick. The orderbook comes from the payload,
// or from the subject suffix when the payload omits it. Price accepts a JSON
// integer or a string of digits.
func ParsePriceTick(raw RawEvent) (*event.PriceTick, error) {
	var j priceTickJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceTick: %w", err)
	}

	price, err := parsePrice(j.Price)
	if err != nil {
		return nil, err
	}
	if j.Sequence < 0 {
		return nil, fmt.Errorf("parse sequence: negative %d", j.Sequence)
	}

	tick := &event.PriceTick{
		OrderbookID: j.OrderbookID,
		Price:       price,
		Sequence:    j.Sequence,
		Timestamp:   j.TimestampMs,
	}
	if tick.OrderbookID == "" {
		tick.OrderbookID = OrderbookFromSubject(raw.Subject)
	}
	if tick.Timestamp == 0 && !raw.Timestamp.IsZero() {
		tick.Timestamp = raw.Timestamp.UnixMilli()
	}
	if err := tick.Validate(); err != nil {
		return nil, err
	}
	return tick, nil
}

// OrderbookFromSubject returns the last token of a venue.prices.<id> subject
func OrderbookFromSubject(subject string) string {
	if !strings.HasPrefix(subject, PriceSubjectPrefix+".") {
		return ""
	}
	return strings.TrimPrefix(subject, PriceSubjectPrefix+".")
}

func parsePrice(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("parse price: missing")
	}
	var n json.Number
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("parse price: %w", err)
		}
		n = json.Number(s)
	} else {
		n = json.Number(raw)
	}
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", string(raw), err)
	}
	if v < 0 {
		return 0, fmt.Errorf("parse price: negative %d", v)
	}
	return v, nil
}
