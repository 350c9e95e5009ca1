package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolConns, dbPoolEmptyAcquires) }

var (
	dbPoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payments_db_pool_conns",
			Help: "Ledger database pool connections by state.",
		},
		[]string{"state"}, // total, idle, in_use, max
	)

	dbPoolEmptyAcquires = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "payments_db_pool_empty_acquires",
			Help: "Acquires that had to wait for a ledger connection since start.",
		},
	)
)

func SetDBPoolStats(total, idle, inUse, max int32, emptyAcquires int64) {
	dbPoolConns.WithLabelValues("total").Set(float64(total))
	dbPoolConns.WithLabelValues("idle").Set(float64(idle))
	dbPoolConns.WithLabelValues("in_use").Set(float64(inUse))
	dbPoolConns.WithLabelValues("max").Set(float64(max))
	dbPoolEmptyAcquires.Set(float64(emptyAcquires))
}
