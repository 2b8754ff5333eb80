package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querysvc_query_duration_seconds",
			Help:    "Query execution latency by datasource, phase, and outcome.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"datasource", "phase", "outcome"},
	)
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querysvc_queries_total",
			Help: "Total number of executed queries by datasource and outcome.",
		},
		[]string{"datasource", "outcome"},
	)
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querysvc_cache_lookups_total",
			Help: "Result cache lookups by outcome (hit or miss).",
		},
		[]string{"outcome"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "querysvc_queue_depth",
			Help: "Current number of pending queued queries per priority.",
		},
		[]string{"priority"},
	)
	queueRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querysvc_queue_rejections_total",
			Help: "Total number of submissions rejected because the queue was full.",
		},
	)
	retryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querysvc_retry_attempts_total",
			Help: "Total number of retry attempts by datasource.",
		},
		[]string{"datasource"},
	)
	poolConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "querysvc_pool_connections",
			Help: "Connection pool occupancy by datasource and state (active or idle).",
		},
		[]string{"datasource", "state"},
	)
	exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querysvc_exports_total",
			Help: "Total number of bulk exports by format and outcome.",
		},
		[]string{"format", "outcome"},
	)
	exportedRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querysvc_exported_rows_total",
			Help: "Total number of rows written to export artifacts.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queryDurationSeconds,
		queriesTotal,
		cacheLookupsTotal,
		queueDepth,
		queueRejectionsTotal,
		retryAttemptsTotal,
		poolConnections,
		exportsTotal,
		exportedRowsTotal,
	)
}

func ObserveQueryPhase(datasource, phase, outcome string, elapsed time.Duration) {
	queryDurationSeconds.WithLabelValues(datasource, phase, outcome).Observe(elapsed.Seconds())
}

func ObserveQuery(datasource, outcome string) {
	queriesTotal.WithLabelValues(datasource, outcome).Inc()
}

func ObserveCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

func SetQueueDepth(priority string, depth int) {
	if depth < 0 {
		depth = 0
	}
	queueDepth.WithLabelValues(priority).Set(float64(depth))
}

func IncrementQueueRejection() {
	queueRejectionsTotal.Inc()
}

func IncrementRetryAttempt(datasource string) {
	retryAttemptsTotal.WithLabelValues(datasource).Inc()
}

func SetPoolConnections(datasource string, active, idle int) {
	poolConnections.WithLabelValues(datasource, "active").Set(float64(active))
	poolConnections.WithLabelValues(datasource, "idle").Set(float64(idle))
}

func ObserveExport(format string, rows int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	exportsTotal.WithLabelValues(format, outcome).Inc()
	if err == nil && rows > 0 {
		exportedRowsTotal.Add(float64(rows))
	}
}
