package jetstream

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/healthgraph/metric"
)

// Metrics tracks pull-transport activity.
type Metrics struct {
	fetched      prometheus.Counter
	acked        prometheus.Counter
	naked        prometheus.Counter
	deadLettered prometheus.Counter
	fetchErrors  prometheus.Counter
	lastActivity prometheus.Gauge
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "intake",
			Name:      "messages_fetched_total",
			Help:      "Messages pulled from the stream",
		}),
		acked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "intake",
			Name:      "messages_acked_total",
			Help:      "Deliveries acknowledged (processed or permanently rejected)",
		}),
		naked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "intake",
			Name:      "messages_naked_total",
			Help:      "Deliveries returned to the stream for retry",
		}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "intake",
			Name:      "messages_dead_lettered_total",
			Help:      "Deliveries published to the dead-letter subject",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "intake",
			Name:      "fetch_errors_total",
			Help:      "Failed fetch calls against the stream",
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "intake",
			Name:      "last_activity_timestamp",
			Help:      "Unix time of the most recent fetched message",
		}),
	}

	registry.RegisterCounter("intake", "messages_fetched_total", m.fetched)
	registry.RegisterCounter("intake", "messages_acked_total", m.acked)
	registry.RegisterCounter("intake", "messages_naked_total", m.naked)
	registry.RegisterCounter("intake", "messages_dead_lettered_total", m.deadLettered)
	registry.RegisterCounter("intake", "fetch_errors_total", m.fetchErrors)
	registry.RegisterGauge("intake", "last_activity_timestamp", m.lastActivity)

	return m
}
