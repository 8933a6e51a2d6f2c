package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	RowsScannedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guidpatch_rows_scanned_total",
		Help: "Total number of rows read by the identifier migration.",
	}, []string{"table"})

	RowsUpdatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guidpatch_rows_updated_total",
		Help: "Total number of rows rewritten by the identifier migration.",
	}, []string{"table"})

	ChunksCommittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guidpatch_chunks_committed_total",
		Help: "Total number of chunk transactions committed.",
	}, []string{"table"})

	ChunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guidpatch_chunk_seconds",
		Help:    "Time spent reading, converting and committing one chunk.",
		Buckets: prometheus.DefBuckets,
	})

	TableDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guidpatch_table_seconds",
		Help:    "Time spent migrating one table.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"table"})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guidpatch_runs_total",
		Help: "Total number of migration runs by outcome (applied, skipped, failed).",
	}, []string{"outcome"})
)
