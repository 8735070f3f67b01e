package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the Prometheus namespace shared by all healthgraph metrics.
const Namespace = "healthgraph"

// Metrics contains the core Prometheus collectors shared by all
// healthgraph components. Components record through the helper methods
// rather than touching collectors directly so label conventions stay
// consistent across the gateway, the consumer, and the graph engine.
type Metrics struct {
	// Service-level metrics
	ServiceStatus *prometheus.GaugeVec
	ServiceUptime *prometheus.GaugeVec

	// Ingest metrics
	MessagesReceived   *prometheus.CounterVec
	MessagesProcessed  *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec

	// Graph store metrics
	NodesUpserted        *prometheus.CounterVec
	RelationshipsCreated prometheus.Counter
	StoreQueryDuration   prometheus.Histogram
	StoreConnected       prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Health metrics
	HealthCheckStatus *prometheus.GaugeVec

	// NATS connection metrics
	NATSConnectionStatus prometheus.Gauge
	NATSReconnects       prometheus.Counter
}

// NewMetrics creates and initializes all core metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "service",
				Name:      "up",
				Help:      "Whether the service is up (1) or down (0)",
			},
			[]string{"service"},
		),
		ServiceUptime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "service",
				Name:      "uptime_seconds",
				Help:      "Service uptime in seconds",
			},
			[]string{"service"},
		),
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "messages_received_total",
				Help:      "Total deliveries accepted for processing, by transport",
			},
			[]string{"transport"},
		),
		MessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "messages_processed_total",
				Help:      "Total deliveries that reached a terminal outcome, by record kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "processing_duration_seconds",
				Help:      "End-to-end processing duration per delivery, by record kind",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"kind"},
		),
		NodesUpserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "graph",
				Name:      "nodes_upserted_total",
				Help:      "Total node merge operations applied to the store, by kind",
			},
			[]string{"kind"},
		),
		RelationshipsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "graph",
				Name:      "relationships_created_total",
				Help:      "Total relationship merge operations applied to the store",
			},
		),
		StoreQueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "graph",
				Name:      "query_duration_seconds",
				Help:      "Graph store query duration",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		StoreConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "graph",
				Name:      "store_connected",
				Help:      "Whether the graph store is reachable (1) or not (0)",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total errors by component and error class",
			},
			[]string{"component", "class"},
		),
		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "check_status",
				Help:      "Health check status by component (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),
		NATSConnectionStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connection_status",
				Help:      "NATS connection status (1=connected, 0=disconnected)",
			},
		),
		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total NATS reconnection attempts",
			},
		),
	}
}

// RecordServiceStatus sets the up/down gauge for a service.
func (m *Metrics) RecordServiceStatus(service string, up bool) {
	value := 0.0
	if up {
		value = 1.0
	}
	m.ServiceStatus.WithLabelValues(service).Set(value)
}

// RecordServiceUptime sets the uptime gauge for a service.
func (m *Metrics) RecordServiceUptime(service string, uptime time.Duration) {
	m.ServiceUptime.WithLabelValues(service).Set(uptime.Seconds())
}

// RecordMessageReceived increments the received counter for a transport
// ("push" or "pull").
func (m *Metrics) RecordMessageReceived(transport string) {
	m.MessagesReceived.WithLabelValues(transport).Inc()
}

// RecordMessageProcessed increments the terminal-outcome counter for a
// record kind.
func (m *Metrics) RecordMessageProcessed(kind string, outcome Outcome) {
	m.MessagesProcessed.WithLabelValues(kind, outcome.String()).Inc()
}

// RecordProcessingDuration observes the end-to-end duration for one
// delivery of the given record kind.
func (m *Metrics) RecordProcessingDuration(kind string, elapsed time.Duration) {
	m.ProcessingDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordNodeUpserted increments the node merge counter for a kind.
func (m *Metrics) RecordNodeUpserted(kind string) {
	m.NodesUpserted.WithLabelValues(kind).Inc()
}

// RecordRelationshipsCreated adds n to the relationship merge counter.
func (m *Metrics) RecordRelationshipsCreated(n int) {
	m.RelationshipsCreated.Add(float64(n))
}

// RecordStoreQueryDuration observes one graph store round trip.
func (m *Metrics) RecordStoreQueryDuration(elapsed time.Duration) {
	m.StoreQueryDuration.Observe(elapsed.Seconds())
}

// RecordStoreConnected sets the store connectivity gauge.
func (m *Metrics) RecordStoreConnected(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.StoreConnected.Set(value)
}

// RecordError increments the error counter for a component and class.
func (m *Metrics) RecordError(component, class string) {
	m.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordHealthStatus sets the health check gauge for a component.
func (m *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(value)
}

// RecordNATSStatus sets the NATS connection gauge.
func (m *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnectionStatus.Set(value)
}

// RecordNATSReconnect increments the reconnect counter.
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}
