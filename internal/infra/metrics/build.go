package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(buildInfo, gatewayEnabled) }

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payments_build_info",
			Help: "Constant 1 labeled with the running build.",
		},
		[]string{"version", "commit", "go_version"},
	)

	gatewayEnabled = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payments_gateway_enabled",
			Help: "1 for every gateway adapter configured at startup.",
		},
		[]string{"gateway", "environment"},
	)
)

func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

func SetGatewayEnabled(gateway, environment string) {
	gatewayEnabled.WithLabelValues(norm(gateway), norm(environment)).Set(1)
}
