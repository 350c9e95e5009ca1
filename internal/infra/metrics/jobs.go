package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(sweepItemsTotal, sweepRunsTotal) }

var (
	sweepItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_items_total",
			Help: "Items handled by background sweeps, labeled by job and outcome.",
		},
		[]string{"job", "outcome"}, // e.g. job='expiry', outcome='expired'
	)

	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Background sweep runs by job and status (ok/skipped/error).",
		},
		[]string{"job", "status"},
	)
)

func AddSweepItems(job, outcome string, n int) {
	if n <= 0 {
		return
	}
	sweepItemsTotal.WithLabelValues(norm(job), norm(outcome)).Add(float64(n))
}

func IncSweepRun(job, status string) {
	sweepRunsTotal.WithLabelValues(norm(job), norm(status)).Inc()
}
