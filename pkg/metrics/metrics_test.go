package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

func TestMetricRegistration(t *testing.T) {
	// init() registers everything with the controller-runtime registry, so
	// re-registering must return AlreadyRegisteredError.
	collectors := []struct {
		name      string
		collector prometheus.Collector
	}{
		{"AuthorizerRequestsTotal", AuthorizerRequestsTotal},
		{"AuthorizerRequestDuration", AuthorizerRequestDuration},
		{"AuthorizerRateLimitedTotal", AuthorizerRateLimitedTotal},
		{"StoreObjects", StoreObjects},
	}

	for _, c := range collectors {
		err := crmetrics.Registry.Register(c.collector)
		if err == nil {
			crmetrics.Registry.Unregister(c.collector)
			t.Errorf("metric %s should already be registered via init()", c.name)
			continue
		}
		var regErr prometheus.AlreadyRegisteredError
		if !errors.As(err, &regErr) {
			t.Errorf("metric %s: expected AlreadyRegisteredError, got: %v", c.name, err)
		}
	}
}

func TestSetStoreObjects(t *testing.T) {
	SetStoreObjects(map[string]int{"Role": 3, "ClusterRole": 5})

	if got := gaugeValue(t, StoreObjects, "Role"); got != 3 {
		t.Errorf("StoreObjects{kind=Role} = %v, want 3", got)
	}
	if got := gaugeValue(t, StoreObjects, "ClusterRole"); got != 5 {
		t.Errorf("StoreObjects{kind=ClusterRole} = %v, want 5", got)
	}
}

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, label string) float64 {
	t.Helper()
	g, err := vec.GetMetricWithLabelValues(label)
	if err != nil {
		t.Fatal(err)
	}
	var pb dto.Metric
	if err := g.Write(&pb); err != nil {
		t.Fatal(err)
	}
	return pb.GetGauge().GetValue()
}
