package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		subscriptionsExpiredTotal,
		subscriptionsSupersededTotal,
		tokensCreditedTotal,
	)
}

var (
	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Total number of subscriptions expired by the sweeper.",
		},
	)

	subscriptionsSupersededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_superseded_total",
			Help: "Active subscriptions cancelled because a new tier was activated.",
		},
	)

	tokensCreditedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokens_credited_total",
			Help: "Emergency-assistance tokens credited by purchases, per service category.",
		},
		[]string{"category"},
	)
)

func IncSubscriptionsExpired(count int) {
	subscriptionsExpiredTotal.Add(float64(count))
}

func IncSubscriptionsSuperseded(count int64) {
	subscriptionsSupersededTotal.Add(float64(count))
}

func AddTokensCredited(category string, n int64) {
	tokensCreditedTotal.WithLabelValues(norm(category)).Add(float64(n))
}
