package main

import (
	"BucketClear/internal/archive"
	"BucketClear/internal/clock"
	"BucketClear/internal/config"
	"BucketClear/internal/contract/pricerange"
	"BucketClear/internal/event"
	"BucketClear/internal/ingestion"
	"BucketClear/internal/observability"
	"BucketClear/internal/server"
	"BucketClear/internal/venue"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerTo(os.Stdout, "bucketclear", observability.ParseLogLevel(cfg.LogLevel))
	logger.Info().Msg("BucketClear starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	metrics := observability.NewMetrics(nil)
	healthChecker := observability.NewHealthChecker()

	// --- Venue ---
	v := venue.New(venue.Options{
		Metrics:       metrics,
		Logger:        logger,
		DedupCapacity: cfg.IdempotencyLRUCapacity,
	})
	v.RegisterContractType(pricerange.New())

	bookIDs := make([]string, 0, len(cfg.Orderbooks))
	for _, ob := range cfg.Orderbooks {
		v.CreateOrderbook(ob)
		bookIDs = append(bookIDs, ob.OrderbookID)
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	healthChecker.AddCheck("nats", func() error {
		if nc.Status() != nats.CONNECTED {
			return fmt.Errorf("nats %s", nc.Status())
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		logger.Fatal().Err(err).Msg("ensure NATS streams")
	}

	// --- Clock driver and price feed ---
	driver := clock.NewDriver(v, bookIDs, cfg.TickInterval, logger)
	feed := ingestion.NewPriceFeed(js, driver, metrics, logger)
	if err := feed.Subscribe(ctx, "bucketclear-prices"); err != nil {
		logger.Fatal().Err(err).Msg("price feed subscribe")
	}
	v.OnClose(driver.Stop)
	v.OnClose(feed.Stop)

	// --- Outbound sink ---
	// Blocking subscribers: if a sink or the archive falls behind, the engine
	// stalls rather than losing events.
	var (
		workers  sync.WaitGroup
		sink     ingestion.Sink
		sinkSub  *event.Subscription
		writer   archive.Writer
		archSub  *event.Subscription
	)
	drainCtx, drainCancel := context.WithCancel(context.Background())
	defer drainCancel()

	switch cfg.EventSink {
	case config.SinkNATS:
		sink = ingestion.NewNATSSink(js)
	case config.SinkKafka:
		sink = ingestion.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	if sink != nil {
		sinkSub = v.Subscribe("sink:"+sink.Name(), cfg.EventBuffer, event.Blocking, nil)
		publisher := ingestion.NewOutboundPublisher(sink, sinkSub, metrics, logger)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := publisher.Run(drainCtx); err != nil {
				logger.Error().Err(err).Msg("outbound publisher stopped")
			}
		}()
		logger.Info().Str("sink", sink.Name()).Msg("outbound sink started")
	}

	// --- Archive ---
	switch cfg.Archive {
	case config.ArchivePostgres:
		db, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres archive")
		}
		healthChecker.AddCheck("postgres", func() error {
			pingCtx, c := context.WithTimeout(context.Background(), time.Second)
			defer c()
			return db.PingContext(pingCtx)
		})
		writer = archive.NewPostgresWriter(db)
	case config.ArchiveSQLite:
		w, err := archive.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite archive")
		}
		writer = w
	}
	if writer != nil {
		archSub = v.Subscribe("archive:"+cfg.Archive, cfg.EventBuffer, event.Blocking, nil)
		worker := archive.NewWorker(writer, archSub, cfg.ArchiveBatchSize, 50*time.Millisecond, metrics, logger)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := worker.Run(drainCtx); err != nil {
				logger.Error().Err(err).Msg("archive worker stopped")
			}
		}()
		logger.Info().Str("archive", cfg.Archive).Msg("archive worker started")
	}

	// --- gRPC + HTTP gateway ---
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Venue:         v,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		Logger:        logger,
		StreamBuffer:  cfg.EventBuffer,
	})

	errChan := make(chan error, 4)

	go func() {
		errChan <- grpcServer.StartGRPC(ctx)
	}()
	go func() {
		errChan <- grpcServer.StartHTTPGateway(ctx)
	}()
	go func() {
		errChan <- serveMetrics(ctx, cfg.MetricsAddr, logger)
	}()
	go reportChannels(ctx, metrics, map[string]*event.Subscription{"sink": sinkSub, "archive": archSub})

	driver.Start(ctx)
	healthChecker.SetReady(true)

	logger.Info().
		Int("orderbooks", len(bookIDs)).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Str("sink", cfg.EventSink).
		Str("archive", cfg.Archive).
		Msg("BucketClear ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop servers, stop ticking, close subscriptions, then let sinks drain.
	healthChecker.SetReady(false)
	cancel()

	if err := v.Close(); err != nil {
		logger.Error().Err(err).Msg("venue close")
	}

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("drain timed out")
		drainCancel()
		<-drained
	}

	if sink != nil {
		if err := sink.Close(); err != nil {
			logger.Error().Err(err).Msg("sink close")
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error().Err(err).Msg("archive close")
		}
	}

	logger.Info().Msg("BucketClear shutdown complete")
}

func openPostgres(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("postgres connected")

	if err := archive.NewMigrator(db, cfg.MigrationsDir, logger).Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// reportChannels samples subscriber buffer usage for the channel gauges
func reportChannels(ctx context.Context, m *observability.Metrics, subs map[string]*event.Subscription) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, sub := range subs {
				if sub != nil {
					m.SetChannelMetrics(name, len(sub.C), cap(sub.C))
				}
			}
		}
	}
}
