package ingestion

import (
	"BucketClear/internal/core"
	"BucketClear/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// PriceSink receives accepted prices, normally the clock driver
type PriceSink interface {
	SetPrice(orderbookID string, price int64)
}

// PriceFeed consumes venue.prices.<orderbook_id> from JetStream. Ticks are
// parsed, checked against the per-orderbook price sequence and handed to the
// sink. Out-of-order ticks are acked and dropped.
type PriceFeed struct {
	js        jetstream.JetStream
	sink      PriceSink
	validator *core.SequenceValidator
	metrics   *observability.Metrics
	logger    zerolog.Logger

	consumer jetstream.ConsumeContext
}

func NewPriceFeed(js jetstream.JetStream, sink PriceSink, metrics *observability.Metrics, logger zerolog.Logger) *PriceFeed {
	return &PriceFeed{
		js:        js,
		sink:      sink,
		validator: core.NewSequenceValidator(),
		metrics:   metrics,
		logger:    logger.With().Str("component", "price_feed").Logger(),
	}
}

// Subscribe creates a durable consumer on the price stream.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s; only new ticks are delivered.
func (f *PriceFeed) Subscribe(ctx context.Context, consumerName string) error {
	consumer, err := f.js.CreateOrUpdateConsumer(ctx, PricesStream, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: PriceSubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		f.Handle(RawEvent{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc:   func() { msg.Ack() },
			NakFunc:   func() { msg.Nak() },
		})
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}
	f.consumer = cc
	f.logger.Info().Str("consumer", consumerName).Msg("subscribed to price feed")
	return nil
}

// Handle processes one raw tick and acks it. Invalid and stale ticks are
// acked too, so they are not redelivered.
func (f *PriceFeed) Handle(raw RawEvent) {
	defer func() {
		if raw.AckFunc != nil {
			raw.AckFunc()
		}
	}()

	tick, err := ParsePriceTick(raw)
	if err != nil {
		f.logger.Warn().Str("subject", raw.Subject).Err(err).Msg("invalid price tick")
		f.countBad("invalid")
		return
	}
	if !f.validator.ValidatePriceSequence(tick.OrderbookID, uint64(tick.Sequence)) {
		f.logger.Debug().
			Str("orderbook_id", tick.OrderbookID).
			Int64("sequence", tick.Sequence).
			Msg("stale price tick dropped")
		f.countBad("stale")
		return
	}

	f.sink.SetPrice(tick.OrderbookID, tick.Price)
	if f.metrics != nil {
		f.metrics.PriceTicksIn.WithLabelValues(tick.OrderbookID).Inc()
	}
}

func (f *PriceFeed) countBad(reason string) {
	if f.metrics != nil {
		f.metrics.PriceTicksBad.WithLabelValues(reason).Inc()
	}
}

// SequenceMetrics exposes stale and gap counters
func (f *PriceFeed) SequenceMetrics() *core.SequenceMetrics {
	return f.validator.GetMetrics()
}

// Stop gracefully stops the consumer.
func (f *PriceFeed) Stop() error {
	if f.consumer != nil {
		f.consumer.Stop()
	}
	f.logger.Info().Msg("price feed stopped")
	return nil
}
