package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// Metrics holds the Prometheus metrics for the delivery pipeline.
type Metrics struct {
	ItemsResolved   *prometheus.CounterVec
	AttemptDuration prometheus.Histogram
	SendsTotal      *prometheus.CounterVec
	ProbesTotal     *prometheus.CounterVec
	Deferrals       *prometheus.CounterVec
	DeadLettered    prometheus.Counter

	QueuePending  prometheus.Gauge
	QueueInFlight prometheus.Gauge
}

// GetMetrics returns the singleton metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

func newMetrics() *Metrics {
	return &Metrics{
		ItemsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sendrotor_items_resolved_total",
			Help: "Work item resolutions by disposition",
		}, []string{"resolution"}),
		AttemptDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sendrotor_attempt_duration_seconds",
			Help:    "Duration of send and probe attempts",
			Buckets: prometheus.DefBuckets,
		}),
		SendsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sendrotor_sends_total",
			Help: "Send attempts by result",
		}, []string{"result"}),
		ProbesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sendrotor_probes_total",
			Help: "Validation probes by verdict state",
		}, []string{"state"}),
		Deferrals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sendrotor_deferrals_total",
			Help: "Work items deferred without consuming an attempt",
		}, []string{"reason"}),
		DeadLettered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sendrotor_dead_lettered_total",
			Help: "Work items moved to the dead letter queue",
		}),
		QueuePending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sendrotor_queue_pending",
			Help: "Work items waiting in the queue",
		}),
		QueueInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sendrotor_queue_in_flight",
			Help: "Work items currently being executed",
		}),
	}
}
