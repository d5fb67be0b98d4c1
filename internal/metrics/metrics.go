package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenwatch_ticks_total",
		Help: "Total number of monitor ticks executed",
	})
	TickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenwatch_tick_errors_total",
		Help: "Total number of failed tick phases",
	}, []string{"phase"})
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tokenwatch_tick_duration_seconds",
		Help:    "Wall time of one monitor tick",
		Buckets: prometheus.DefBuckets,
	})

	SwapsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenwatch_swaps_classified_total",
		Help: "Total number of swaps classified, by direction",
	}, []string{"direction"})
	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenwatch_decode_failures_total",
		Help: "Total number of log records skipped because they could not be decoded",
	})

	AlertsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenwatch_alerts_dispatched_total",
		Help: "Total number of alert payloads delivered, by kind",
	}, []string{"kind"})
	AlertsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenwatch_alerts_failed_total",
		Help: "Total number of alert payloads that failed to deliver, by kind",
	}, []string{"kind"})
	PriceAlertsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenwatch_price_alerts_triggered_total",
		Help: "Total number of price alerts triggered",
	})

	ChainCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tokenwatch_chain_call_latency_seconds",
		Help:    "Latency of ledger RPC calls in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
	ChainCallFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenwatch_chain_call_failures_total",
		Help: "Total number of failed ledger RPC calls per node",
	}, []string{"method", "node"})
	ActiveNode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tokenwatch_active_node",
		Help: "Indicates which RPC node is currently active (1=active, 0=inactive)",
	}, []string{"node"})

	TailGapBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenwatch_tail_gap_blocks_total",
		Help: "Total number of blocks skipped between consecutive live tail windows",
	})
	TailHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tokenwatch_tail_height",
		Help: "Upper block of the most recent live tail window",
	})
	FailedChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenwatch_scan_failed_chunks_total",
		Help: "Total number of bulk scan chunks skipped after a failed fetch",
	})

	WalletScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenwatch_wallet_scans_total",
		Help: "Total number of wallet lookups, by result (cached, scanned, failed)",
	}, []string{"result"})

	PriceFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenwatch_price_fetch_failures_total",
		Help: "Total number of failed price feed requests",
	})
)
