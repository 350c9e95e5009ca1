package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func init() {
	register(
		attemptsTotal,
		paymentsRevenueTotal,
		activationsTotal,
		activationFailuresTotal,
		amountMismatchTotal,
		outcomeConflictsTotal,
	)
}

var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_attempts_total",
			Help: "Payment attempt transitions by gateway and resulting status (pending/completed/failed).",
		},
		[]string{"gateway", "status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "The total monetary value of completed payments, labeled by currency.",
		},
		[]string{"currency"},
	)

	activationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_activations_total",
			Help: "Entitlement activations by kind and result (created/replayed).",
		},
		[]string{"kind", "result"},
	)

	// Money moved but the entitlement was not granted. Page on any increase.
	activationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_failures_total",
			Help: "Activations that failed after a confirmed payment.",
		},
		[]string{"kind"},
	)

	amountMismatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_amount_mismatch_total",
			Help: "Settlements whose amount differed from the attempt amount.",
		},
		[]string{"gateway"},
	)

	outcomeConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_outcome_conflicts_total",
			Help: "Callbacks reporting a terminal outcome different from the recorded one.",
		},
		[]string{"gateway"},
	)
)

func IncAttempt(gateway, status string) {
	attemptsTotal.WithLabelValues(norm(gateway), norm(status)).Inc()
}

func AddPaymentRevenue(currency string, amount decimal.Decimal) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(amount.InexactFloat64())
}

func IncActivation(kind, result string) {
	activationsTotal.WithLabelValues(norm(kind), norm(result)).Inc()
}

func IncActivationFailure(kind string) {
	activationFailuresTotal.WithLabelValues(norm(kind)).Inc()
}

func IncAmountMismatch(gateway string) {
	amountMismatchTotal.WithLabelValues(norm(gateway)).Inc()
}

func IncOutcomeConflict(gateway string) {
	outcomeConflictsTotal.WithLabelValues(norm(gateway)).Inc()
}
