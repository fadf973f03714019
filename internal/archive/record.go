package archive

import (
	"BucketClear/internal/event"
	"context"
	"encoding/json"
	"fmt"
)

// Record is the archived row form of an event envelope
type Record struct {
	OrderbookID string
	Sequence    uint64
	EventType   string
	ClockSeq    uint64
	Timestamp   int64  // Engine time, Unix ms
	Payload     []byte // JSON-encoded payload
	Hash        string
	PrevHash    string
}

// Writer persists record batches. Writes must be idempotent on
// (orderbook_id, sequence).
type Writer interface {
	WriteBatch(ctx context.Context, records []Record) error
	Close() error
}

// FromEnvelope encodes an envelope's payload for storage
func FromEnvelope(env *event.Envelope) (Record, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal %s payload seq=%d: %w", env.Type, env.Sequence, err)
	}
	return Record{
		OrderbookID: env.OrderbookID,
		Sequence:    env.Sequence,
		EventType:   string(env.Type),
		ClockSeq:    env.ClockSeq,
		Timestamp:   env.Timestamp,
		Payload:     payload,
		Hash:        env.Hash,
		PrevHash:    env.PrevHash,
	}, nil
}
