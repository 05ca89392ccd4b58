package pipeline

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c interface {
	Write(*dto.Metric) error
}) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetricsSingleton(t *testing.T) {
	if GetMetrics() != GetMetrics() {
		t.Fatal("GetMetrics must return the same instance")
	}
}

func TestMetricsCountersAccumulate(t *testing.T) {
	m := GetMetrics()

	resolved := m.ItemsResolved.WithLabelValues("completed")
	before := counterValue(t, resolved)
	resolved.Inc()
	if got := counterValue(t, resolved); got != before+1 {
		t.Errorf("counter = %v, want %v", got, before+1)
	}

	deferred := m.Deferrals.WithLabelValues("rate_limit")
	before = counterValue(t, deferred)
	deferred.Inc()
	if got := counterValue(t, deferred); got != before+1 {
		t.Errorf("deferral counter = %v, want %v", got, before+1)
	}
}
