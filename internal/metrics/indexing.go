package metrics

import "github.com/prometheus/client_golang/prometheus"

// Indexing and backfill Prometheus metrics.
var (
	IndexRowsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_rows_written_total",
			Help:      "Index rows written, by value category",
		},
		[]string{"category"},
	)

	ValidationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Element values rejected by validation",
		},
		[]string{"code", "mode"}, // mode: "strict" / "soft"
	)

	IndexDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_duration_seconds",
			Help:      "Time to extract and write the index rows of one instance",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"mode"},
	)

	ReindexRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reindex_records_total",
			Help:      "Records processed by backfill",
		},
		[]string{"result"}, // "indexed" / "failed" / "unreadable"
	)

	ReindexPagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reindex_pages_total",
			Help:      "Backfill pages checkpointed",
		},
	)

	ReindexOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reindex_operations_total",
			Help:      "Reindex operation outcomes",
		},
		[]string{"outcome"}, // "completed" / "failed" / "requeued"
	)

	ReindexActiveOperations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reindex_active_operations",
			Help:      "Reindex operations currently running in this process",
		},
	)

	ReindexPercentComplete = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reindex_percent_complete",
			Help:      "Progress of running reindex operations",
		},
		[]string{"operation_id"},
	)
)

var indexingMetricsRegistered bool

// RegisterIndexingMetrics registers indexing and backfill metrics. Must be called once from main.
func RegisterIndexingMetrics() {
	if indexingMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		IndexRowsWrittenTotal,
		ValidationFailuresTotal,
		IndexDuration,
		ReindexRecordsTotal,
		ReindexPagesTotal,
		ReindexOperationsTotal,
		ReindexActiveOperations,
		ReindexPercentComplete,
	)
	indexingMetricsRegistered = true
}
