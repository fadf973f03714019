package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the venue.
type Metrics struct {
	// --- Order lifecycle ---
	OrdersPlaced   *prometheus.CounterVec
	OrdersRejected *prometheus.CounterVec
	OrdersUpdated  *prometheus.CounterVec
	OrdersCanceled *prometheus.CounterVec
	OrdersDropped  *prometheus.CounterVec
	Fills          *prometheus.CounterVec
	FillSize       *prometheus.HistogramVec
	LiveOrders     *prometheus.GaugeVec

	// --- Clock & settlement ---
	Ticks                *prometheus.CounterVec
	TicksRejected        *prometheus.CounterVec
	TickDuration         *prometheus.HistogramVec
	ClockSequence        *prometheus.GaugeVec
	VerificationHits     *prometheus.CounterVec
	Settlements          *prometheus.CounterVec
	SettlementFailures   *prometheus.CounterVec
	SettledPayout        *prometheus.HistogramVec
	SettlementQueueDepth *prometheus.GaugeVec
	PositionsExpired     *prometheus.CounterVec
	HookFailures         *prometheus.CounterVec

	// --- Margin ---
	MarginViolations *prometheus.CounterVec

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUEvictions     prometheus.Counter

	// --- Event fan-out ---
	EventsPublished    *prometheus.CounterVec
	EventDrops         *prometheus.CounterVec
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec

	// --- Sinks, archive, ingestion ---
	SinkPublished    *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
	ArchiveWritten   prometheus.Counter
	ArchiveBatchSize prometheus.Histogram
	ArchiveBatchDur  prometheus.Histogram
	ArchiveErrors    *prometheus.CounterVec
	PriceTicksIn     *prometheus.CounterVec
	PriceTicksBad    *prometheus.CounterVec

	// --- RPC ---
	RPCRequests *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05,
	}

	return &Metrics{
		// Order lifecycle
		OrdersPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_orders_placed_total",
			Help: "Orders accepted into an orderbook",
		}, []string{"orderbook"}),

		OrdersRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_orders_rejected_total",
			Help: "Rejected place/update/cancel/fill requests",
		}, []string{"orderbook", "reason"}),

		OrdersUpdated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_orders_updated_total",
			Help: "Orders updated",
		}, []string{"orderbook"}),

		OrdersCanceled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_orders_cancelled_total",
			Help: "Orders cancelled by makers",
		}, []string{"orderbook"}),

		OrdersDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_orders_dropped_total",
			Help: "Orders dropped after their trigger window elapsed",
		}, []string{"orderbook"}),

		Fills: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_fills_total",
			Help: "Fills accepted",
		}, []string{"orderbook"}),

		FillSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bucket_fill_size",
			Help:    "Authorized fill size",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"orderbook"}),

		LiveOrders: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bucket_live_orders",
			Help: "Orders indexed in the column window",
		}, []string{"orderbook"}),

		// Clock & settlement
		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_ticks_total",
			Help: "Clock ticks processed",
		}, []string{"orderbook"}),

		TicksRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_ticks_rejected_total",
			Help: "Clock ticks rejected (stale, unknown orderbook)",
		}, []string{"orderbook", "reason"}),

		TickDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bucket_tick_duration_seconds",
			Help:    "Time to run one tick for one orderbook",
			Buckets: latencyBuckets,
		}, []string{"orderbook"}),

		ClockSequence: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bucket_clock_sequence",
			Help: "Current clock sequence per orderbook",
		}, []string{"orderbook"}),

		VerificationHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_verification_hits_total",
			Help: "Positions verified as hit",
		}, []string{"orderbook"}),

		Settlements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_settlements_total",
			Help: "Settlement instructions applied",
		}, []string{"orderbook"}),

		SettlementFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_settlement_failures_total",
			Help: "Settlement changesets that failed to apply",
		}, []string{"orderbook"}),

		SettledPayout: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bucket_settled_payout",
			Help:    "Payout credited per settled position",
			Buckets: prometheus.ExponentialBuckets(1, 10, 9),
		}, []string{"orderbook"}),

		SettlementQueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bucket_settlement_queue_depth",
			Help: "Instructions staged before drain",
		}, []string{"orderbook"}),

		PositionsExpired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_positions_expired_total",
			Help: "Positions expired unresolved",
		}, []string{"orderbook"}),

		HookFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_contract_hook_failures_total",
			Help: "Contract-type hook errors and panics",
		}, []string{"contract_type", "hook"}),

		// Margin
		MarginViolations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_margin_violations_total",
			Help: "Margin violations by policy action",
		}, []string{"orderbook", "policy_action"}),

		// Idempotency
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_idempotency_duplicates_total",
			Help: "Duplicate request ids rejected",
		}, []string{"orderbook"}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "bucket_dedup_lru_evictions_total",
			Help: "Request id LRU evictions",
		}),

		// Event fan-out
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_events_published_total",
			Help: "Events published on the bus",
		}, []string{"type"}),

		EventDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_event_drops_total",
			Help: "Events dropped for lossy subscribers",
		}, []string{"subscriber"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bucket_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bucket_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bucket_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		// Sinks, archive, ingestion
		SinkPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_sink_published_total",
			Help: "Events written to an outbound sink",
		}, []string{"sink"}),

		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_sink_errors_total",
			Help: "Outbound sink publish failures",
		}, []string{"sink"}),

		ArchiveWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "bucket_archive_events_written_total",
			Help: "Events written to the audit archive",
		}),

		ArchiveBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bucket_archive_batch_size",
			Help:    "Events per archive batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		ArchiveBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bucket_archive_batch_duration_seconds",
			Help:    "Archive batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ArchiveErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_archive_errors_total",
			Help: "Archive write errors",
		}, []string{"error_type"}),

		PriceTicksIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_price_ticks_received_total",
			Help: "Price ticks received from the feed",
		}, []string{"orderbook"}),

		PriceTicksBad: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_price_ticks_invalid_total",
			Help: "Price ticks that failed to decode or validate",
		}, []string{"reason"}),

		// RPC
		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_rpc_requests_total",
			Help: "gRPC requests",
		}, []string{"method", "code"}),

		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bucket_rpc_duration_seconds",
			Help:    "gRPC request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"method"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
