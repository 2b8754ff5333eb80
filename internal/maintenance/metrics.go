package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querysvc_export_sweep_runs_total",
			Help: "Total number of export retention sweeps by status.",
		},
		[]string{"status"},
	)
	sweepFilesDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querysvc_export_sweep_files_deleted_total",
			Help: "Total number of export artifacts deleted by retention sweeps.",
		},
	)
	sweepBytesFreedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querysvc_export_sweep_bytes_freed_total",
			Help: "Total bytes freed by export retention sweeps.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		sweepRunsTotal,
		sweepFilesDeletedTotal,
		sweepBytesFreedTotal,
	)
}
