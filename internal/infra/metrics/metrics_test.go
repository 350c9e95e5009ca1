//go:build !integration

package metrics

import (
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister_RegistersOnce(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	MustRegister(reg)
	// A second call must not panic on duplicate registration.
	MustRegister(reg)

	SetBuildInfo("1.2.3", "abc")
	if got := testutil.ToFloat64(buildInfo.WithLabelValues("1.2.3", "abc", runtime.Version())); got != 1 {
		t.Fatalf("expected build_info 1, got %v", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "payments_build_info" {
			found = true
		}
	}
	if !found {
		t.Errorf("payments_build_info not registered")
	}
}

func TestSetDBPoolStats(t *testing.T) {
	SetDBPoolStats(10, 3, 7, 20, 4)
	for state, want := range map[string]float64{"total": 10, "idle": 3, "in_use": 7, "max": 20} {
		if got := testutil.ToFloat64(dbPoolConns.WithLabelValues(state)); got != want {
			t.Errorf("%s: expected %v, got %v", state, want, got)
		}
	}
	if got := testutil.ToFloat64(dbPoolEmptyAcquires); got != 4 {
		t.Errorf("empty acquires: expected 4, got %v", got)
	}
}

func TestCacheAndGatewayLabelsAreNormalized(t *testing.T) {
	before := testutil.ToFloat64(cacheRequestsTotal.WithLabelValues("webhook_replay", "hit"))
	IncCacheRequest(" Webhook_Replay ", "HIT")
	if got := testutil.ToFloat64(cacheRequestsTotal.WithLabelValues("webhook_replay", "hit")); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}

	SetGatewayEnabled("Mobile_Money_A", "Sandbox")
	if got := testutil.ToFloat64(gatewayEnabled.WithLabelValues("mobile_money_a", "sandbox")); got != 1 {
		t.Errorf("expected gateway gauge 1, got %v", got)
	}
}
