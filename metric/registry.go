package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/healthgraph/errors"
)

// MetricsRegistrar is the interface components use to register their
// own collectors alongside the core metrics.
type MetricsRegistrar interface {
	RegisterCounter(component, metricName string, counter prometheus.Counter) error
	RegisterCounterVec(component, metricName string, counterVec *prometheus.CounterVec) error
	RegisterGauge(component, metricName string, gauge prometheus.Gauge) error
	RegisterGaugeVec(component, metricName string, gaugeVec *prometheus.GaugeVec) error
	RegisterHistogram(component, metricName string, histogram prometheus.Histogram) error
	RegisterHistogramVec(component, metricName string, histogramVec *prometheus.HistogramVec) error
}

// MetricsRegistry manages Prometheus metric registration for the whole
// process. It owns the underlying prometheus.Registry, pre-registers
// the core metrics plus Go runtime and process collectors, and tracks
// component registrations by "component.metric" key so duplicates are
// rejected before they reach Prometheus.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	coreMetrics        *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a registry with core metrics and runtime
// collectors already registered.
func NewMetricsRegistry() (*MetricsRegistry, error) {
	registry := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		coreMetrics:        NewMetrics(),
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	if err := registry.registerCoreMetrics(); err != nil {
		return nil, errors.WrapFatal(err, "MetricsRegistry", "NewMetricsRegistry",
			"register core metrics")
	}

	registry.prometheusRegistry.MustRegister(collectors.NewGoCollector())
	registry.prometheusRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return registry, nil
}

// registerCoreMetrics registers every collector on the core Metrics
// struct with the underlying Prometheus registry.
func (r *MetricsRegistry) registerCoreMetrics() error {
	core := []prometheus.Collector{
		r.coreMetrics.ServiceStatus,
		r.coreMetrics.ServiceUptime,
		r.coreMetrics.MessagesReceived,
		r.coreMetrics.MessagesProcessed,
		r.coreMetrics.ProcessingDuration,
		r.coreMetrics.NodesUpserted,
		r.coreMetrics.RelationshipsCreated,
		r.coreMetrics.StoreQueryDuration,
		r.coreMetrics.StoreConnected,
		r.coreMetrics.ErrorsTotal,
		r.coreMetrics.HealthCheckStatus,
		r.coreMetrics.NATSConnectionStatus,
		r.coreMetrics.NATSReconnects,
	}

	for _, collector := range core {
		if err := r.prometheusRegistry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// CoreMetrics returns the shared core metrics.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.coreMetrics
}

// PrometheusRegistry returns the underlying Prometheus registry for
// HTTP exposure.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// register adds a collector under the component.metric key. Duplicate
// keys and collectors Prometheus already knows are invalid; any other
// registration failure is fatal.
func (r *MetricsRegistry) register(component, metricName, operation string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, metricName)
	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric already registered"),
			"MetricsRegistry", operation,
			fmt.Sprintf("metric %s already registered", key))
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegistered) {
			return errors.WrapInvalid(err, "MetricsRegistry", operation,
				fmt.Sprintf("collector for %s already registered with Prometheus", key))
		}
		return errors.WrapFatal(err, "MetricsRegistry", operation,
			fmt.Sprintf("register metric %s", key))
	}

	r.registeredMetrics[key] = collector
	return nil
}

// RegisterCounter registers a counter metric for a component.
func (r *MetricsRegistry) RegisterCounter(component, metricName string, counter prometheus.Counter) error {
	return r.register(component, metricName, "RegisterCounter", counter)
}

// RegisterCounterVec registers a counter vector metric for a component.
func (r *MetricsRegistry) RegisterCounterVec(component, metricName string, counterVec *prometheus.CounterVec) error {
	return r.register(component, metricName, "RegisterCounterVec", counterVec)
}

// RegisterGauge registers a gauge metric for a component.
func (r *MetricsRegistry) RegisterGauge(component, metricName string, gauge prometheus.Gauge) error {
	return r.register(component, metricName, "RegisterGauge", gauge)
}

// RegisterGaugeVec registers a gauge vector metric for a component.
func (r *MetricsRegistry) RegisterGaugeVec(component, metricName string, gaugeVec *prometheus.GaugeVec) error {
	return r.register(component, metricName, "RegisterGaugeVec", gaugeVec)
}

// RegisterHistogram registers a histogram metric for a component.
func (r *MetricsRegistry) RegisterHistogram(component, metricName string, histogram prometheus.Histogram) error {
	return r.register(component, metricName, "RegisterHistogram", histogram)
}

// RegisterHistogramVec registers a histogram vector metric for a component.
func (r *MetricsRegistry) RegisterHistogramVec(component, metricName string, histogramVec *prometheus.HistogramVec) error {
	return r.register(component, metricName, "RegisterHistogramVec", histogramVec)
}

// Unregister removes a component metric from the registry. Returns
// true when the metric existed.
func (r *MetricsRegistry) Unregister(component, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, metricName)
	collector, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	r.prometheusRegistry.Unregister(collector)
	delete(r.registeredMetrics, key)
	return true
}
