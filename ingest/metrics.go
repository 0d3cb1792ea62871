package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks ingestion progress and failure modes. All collectors
// live on a private registry so tests can run pipelines side by side.
type Metrics struct {
	BlocksIngested  prometheus.Counter
	BlocksSkipped   prometheus.Counter
	BlocksMatured   prometheus.Counter
	BlocksReaped    prometheus.Counter
	ForkRewinds     prometheus.Counter
	EventsEnqueued  prometheus.Counter
	RetriesTotal    *prometheus.CounterVec
	LocalHeight     prometheus.Gauge
	ChainHeight     prometheus.Gauge
	IngestDuration  prometheus.Histogram

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		BlocksIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hydb_blocks_ingested_total",
			Help: "Blocks stored with at least one address delta",
		}),
		BlocksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hydb_blocks_skipped_total",
			Help: "Blocks rolled back for touching no subscribed address",
		}),
		BlocksMatured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hydb_blocks_matured_total",
			Help: "Blocks that reached the maturity confirmation count",
		}),
		BlocksReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hydb_blocks_reaped_total",
			Help: "Blocks deleted past maturity or left without history",
		}),
		ForkRewinds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hydb_fork_rewinds_total",
			Help: "Stored blocks replaced after a chain hash mismatch",
		}),
		EventsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hydb_events_enqueued_total",
			Help: "Block events appended to the durable queue",
		}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hydb_ingest_retries_total",
			Help: "Block build retries by cause",
		}, []string{"cause"}),
		LocalHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hydb_local_height",
			Help: "Highest block height processed locally",
		}),
		ChainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hydb_chain_height",
			Help: "Chain tip height last reported by the node",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hydb_ingest_pass_seconds",
			Help:    "Wall time of one ingestion pass",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	m.registry.MustRegister(
		m.BlocksIngested, m.BlocksSkipped, m.BlocksMatured, m.BlocksReaped,
		m.ForkRewinds, m.EventsEnqueued, m.RetriesTotal,
		m.LocalHeight, m.ChainHeight, m.IngestDuration,
	)
	return m
}

// Registry exposes the collectors for the HTTP metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
