package sandbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the sandbox.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	LoadsTotal      *prometheus.CounterVec
	LoadDuration    *prometheus.HistogramVec
	DroppedMessages *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	TeardownLeaks   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playground",
			Subsystem: "sandbox",
			Name:      "runs_total",
			Help:      "Finished sandbox runs by language and outcome.",
		}, []string{"language", "outcome"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "playground",
			Subsystem: "sandbox",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of sandbox runs.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"language"}),
		LoadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playground",
			Subsystem: "sandbox",
			Name:      "backend_loads_total",
			Help:      "Runtime backend initializations by result.",
		}, []string{"backend", "result"}),
		LoadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "playground",
			Subsystem: "sandbox",
			Name:      "backend_load_duration_seconds",
			Help:      "Time spent initializing runtime backends.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"backend"}),
		DroppedMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playground",
			Subsystem: "sandbox",
			Name:      "dropped_messages_total",
			Help:      "Wire messages ignored by the router.",
		}, []string{"reason"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "playground",
			Subsystem: "sandbox",
			Name:      "active_sessions",
			Help:      "Sessions between Preparing and Idle.",
		}),
		TeardownLeaks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "playground",
			Subsystem: "sandbox",
			Name:      "teardown_leaks_total",
			Help:      "Boundaries that did not stop within the teardown grace period.",
		}),
	}
}
