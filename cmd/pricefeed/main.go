package main

import (
	"BucketClear/internal/config"
	"BucketClear/internal/event"
	"BucketClear/internal/ingestion"
	"BucketClear/internal/observability"
	"context"
	"encoding/json"
	"flag"
	"math/rand/v2"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// pricefeed publishes a random-walk price per configured orderbook onto
// venue.prices.<orderbook_id>. Used for local runs against a NATS server.
func main() {
	interval := flag.Duration("interval", 500*time.Millisecond, "publish interval")
	start := flag.Int64("start", 5_000_000, "starting price")
	step := flag.Int64("step", 100, "max move per tick")
	flag.Parse()

	logger := observability.NewLogger("pricefeed")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		logger.Fatal().Err(err).Msg("ensure streams")
	}

	walks := make(map[string]*walk, len(cfg.Orderbooks))
	for _, ob := range cfg.Orderbooks {
		walks[ob.OrderbookID] = &walk{price: *start, step: *step}
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	logger.Info().Int("orderbooks", len(walks)).Dur("interval", *interval).Msg("publishing prices")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("pricefeed stopped")
			return
		case t := <-ticker.C:
			for id, w := range walks {
				publish(ctx, js, id, w.next(), t.UnixMilli(), logger)
			}
		}
	}
}

type walk struct {
	price int64
	step  int64
	seq   int64
}

func (w *walk) next() event.PriceTick {
	w.seq++
	w.price += rand.Int64N(2*w.step+1) - w.step
	if w.price < 0 {
		w.price = 0
	}
	return event.PriceTick{Price: w.price, Sequence: w.seq}
}

func publish(ctx context.Context, js jetstream.JetStream, orderbookID string, tick event.PriceTick, ts int64, logger zerolog.Logger) {
	tick.OrderbookID = orderbookID
	tick.Timestamp = ts

	data, err := json.Marshal(tick)
	if err != nil {
		logger.Error().Err(err).Msg("marshal tick")
		return
	}
	subject := ingestion.PriceSubjectPrefix + "." + orderbookID
	if _, err := js.Publish(ctx, subject, data, jetstream.WithMsgID(tick.IdempotencyKey())); err != nil {
		logger.Warn().Err(err).Str("subject", subject).Msg("publish failed")
	}
}
