package arbitrage

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "arbitrage"

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
	cycles       prometheus.Counter
	rejections   *prometheus.CounterVec
	plans        prometheus.Counter
	receipts     *prometheus.CounterVec
	snapshotAge  prometheus.Gauge
}

// NewMetrics registers the engine's collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "passes_total",
			Help:      "Detection passes by outcome.",
		}, []string{"outcome"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a detection pass.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycles_detected_total",
			Help:      "Negative-weight cycles found.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rejections_total",
			Help:      "Rejected opportunities by reason.",
		}, []string{"reason"}),
		plans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "plans_total",
			Help:      "Execution plans handed off.",
		}),
		receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "receipts_total",
			Help:      "Settlement outcomes by status.",
		}, []string{"status"}),
		snapshotAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "snapshot_age_seconds",
			Help:      "Age of the snapshot read by the latest pass.",
		}),
	}
	for _, c := range []prometheus.Collector{m.passes, m.passDuration, m.cycles, m.rejections, m.plans, m.receipts, m.snapshotAge} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
