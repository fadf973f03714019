package archive

import (
	"BucketClear/internal/event"
	"BucketClear/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Worker drains a Blocking bus subscription and batch-writes to the archive.
// If the worker falls behind, publishers stall on the bus, so no event is lost.
type Worker struct {
	writer       Writer
	sub          *event.Subscription
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewWorker(
	writer Writer,
	sub *event.Subscription,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Worker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Worker{
		writer:       writer,
		sub:          sub,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger.With().Str("component", "archive").Logger(),
	}
}

// Run batches incoming envelopes and flushes either when the batch is full
// or the flush timeout expires. Returns once the subscription closes (after a
// final flush) or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]Record, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context, reason string) {
		if len(batch) == 0 {
			return
		}
		if err := w.flushWithRetry(ctx, batch); err != nil {
			w.logger.Error().Err(err).Str("trigger", reason).Int("records", len(batch)).Msg("archive flush failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			flush(context.Background(), "shutdown")
			return ctx.Err()

		case env, ok := <-w.sub.C:
			if !ok {
				flush(context.Background(), "closed")
				return nil
			}

			rec, err := FromEnvelope(&env)
			if err != nil {
				w.logger.Error().Err(err).Msg("unarchivable event skipped")
				w.countError("encode")
				continue
			}
			batch = append(batch, rec)

			if len(batch) >= w.batchSize {
				flush(ctx, "size")
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			flush(ctx, "timeout")
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, then makes one last attempt on a fresh context.
func (w *Worker) flushWithRetry(ctx context.Context, records []Record) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("records", len(records)).
				Msg("archive retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), records); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, records)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("archive flush succeeded after retries")
			}
			return nil
		}
		w.countError("write")
	}
}

func (w *Worker) flush(ctx context.Context, records []Record) error {
	start := time.Now()
	if err := w.writer.WriteBatch(ctx, records); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.ArchiveBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.ArchiveBatchSize.Observe(float64(len(records)))
		w.metrics.ArchiveWritten.Add(float64(len(records)))
	}
	return nil
}

func (w *Worker) countError(kind string) {
	if w.metrics != nil {
		w.metrics.ArchiveErrors.WithLabelValues(kind).Inc()
	}
}
