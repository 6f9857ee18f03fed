package client

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	events     *prometheus.CounterVec
	latency    prometheus.Histogram
	reconnects prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbitrage",
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Stream events by type and outcome.",
		}, []string{"type", "outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arbitrage",
			Subsystem: "stream",
			Name:      "block_latency_seconds",
			Help:      "Time from block timestamp to the state landing in the store.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arbitrage",
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Subscriptions lost and retried.",
		}),
	}
	for _, c := range []prometheus.Collector{m.events, m.latency, m.reconnects} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
