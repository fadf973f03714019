package ingestion

import (
	"BucketClear/internal/event"
	"BucketClear/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Sink delivers engine events to an external system
type Sink interface {
	Name() string
	Publish(ctx context.Context, env *event.Envelope) error
	Close() error
}

// OutboundPublisher drains a bus subscription into a sink. The subscription
// should be Blocking so nothing is skipped; a failed publish is logged and
// counted, and the loop moves on.
type OutboundPublisher struct {
	sink    Sink
	sub     *event.Subscription
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewOutboundPublisher(sink Sink, sub *event.Subscription, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		sink:    sink,
		sub:     sub,
		metrics: metrics,
		logger:  logger.With().Str("component", "publisher").Str("sink", sink.Name()).Logger(),
	}
}

// Run returns when the subscription closes or ctx is cancelled.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.sub.C:
			if !ok {
				return nil
			}

			if err := op.sink.Publish(ctx, &env); err != nil {
				op.logger.Warn().
					Err(err).
					Str("type", string(env.Type)).
					Str("orderbook_id", env.OrderbookID).
					Uint64("sequence", env.Sequence).
					Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.SinkErrors.WithLabelValues(op.sink.Name()).Inc()
				}
				continue
			}
			if op.metrics != nil {
				op.metrics.SinkPublished.WithLabelValues(op.sink.Name()).Inc()
			}
		}
	}
}

// JetStreamPublisher is the subset of jetstream.JetStream the NATS sink uses
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSSink publishes to venue.events.<type>.<orderbook_id>. The message id
// is orderbook:sequence, so JetStream drops redelivered duplicates.
type NATSSink struct {
	js JetStreamPublisher
}

func NewNATSSink(js JetStreamPublisher) *NATSSink {
	return &NATSSink{js: js}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Publish(ctx context.Context, env *event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.js.Publish(ctx, env.Subject(EventSubjectPrefix), data, jetstream.WithMsgID(MessageID(env)))
	return err
}

func (s *NATSSink) Close() error { return nil }

// MessageID identifies an envelope across sinks
func MessageID(env *event.Envelope) string {
	book := env.OrderbookID
	if book == "" {
		book = "ledger"
	}
	return book + ":" + strconv.FormatUint(env.Sequence, 10)
}
