package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		gatewayCallDuration,
		gatewayRetriesTotal,
		webhookRequestsTotal,
	)
}

var (
	// op: token|initiate|verify
	// result: ok|auth|rejected|unavailable
	gatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Duration of outbound gateway calls including retries.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"gateway", "op", "result"},
	)

	gatewayRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Retries of outbound gateway calls after a transient network error.",
		},
		[]string{"gateway", "op"},
	)

	// result: processed|duplicate|unknown_attempt|rejected|error
	webhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Inbound gateway webhooks by gateway and handling result.",
		},
		[]string{"gateway", "result"},
	)
)

func ObserveGatewayCall(gateway, op, result string, d time.Duration) {
	gatewayCallDuration.WithLabelValues(norm(gateway), norm(op), norm(result)).Observe(d.Seconds())
}

func IncGatewayRetry(gateway, op string) {
	gatewayRetriesTotal.WithLabelValues(norm(gateway), norm(op)).Inc()
}

func IncWebhook(gateway, result string) {
	webhookRequestsTotal.WithLabelValues(norm(gateway), norm(result)).Inc()
}
