package metric

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/healthgraph/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry, err := NewMetricsRegistry()
	require.NoError(t, err)
	require.NotNil(t, registry)

	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())

	// Core metrics and runtime collectors must be gatherable.
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCoreMetricsExposed(t *testing.T) {
	registry, err := NewMetricsRegistry()
	require.NoError(t, err)

	core := registry.CoreMetrics()
	core.RecordMessageReceived("push")
	core.RecordMessageProcessed("doctor", OutcomeProcessed)
	core.RecordNodeUpserted("doctor")
	core.RecordRelationshipsCreated(2)
	core.RecordStoreConnected(true)
	core.RecordError("Engine", "transient")
	core.RecordHealthStatus("store", true)
	core.RecordNATSStatus(true)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := make(map[string]bool, len(families))
	for _, family := range families {
		found[family.GetName()] = true
	}

	for _, name := range []string{
		"healthgraph_ingest_messages_received_total",
		"healthgraph_ingest_messages_processed_total",
		"healthgraph_graph_nodes_upserted_total",
		"healthgraph_graph_relationships_created_total",
		"healthgraph_graph_store_connected",
		"healthgraph_errors_total",
		"healthgraph_health_check_status",
		"healthgraph_nats_connection_status",
	} {
		assert.True(t, found[name], "expected metric family %s", name)
	}
}

func TestRegisterCounter(t *testing.T) {
	registry, err := NewMetricsRegistry()
	require.NoError(t, err)

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Test counter",
	})

	err = registry.RegisterCounter("gateway", "requests", counter)
	assert.NoError(t, err)

	// Same key again is invalid.
	err = registry.RegisterCounter("gateway", "requests", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterDuplicateCollector(t *testing.T) {
	registry, err := NewMetricsRegistry()
	require.NoError(t, err)

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consumer_queue_depth",
		Help: "Test gauge",
	})

	require.NoError(t, registry.RegisterGauge("consumer", "queue_depth", gauge))

	// Different key, same collector: Prometheus rejects it and the
	// registry reports it as invalid rather than fatal.
	err = registry.RegisterGauge("consumer", "queue_depth_again", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterAllKinds(t *testing.T) {
	registry, err := NewMetricsRegistry()
	require.NoError(t, err)

	require.NoError(t, registry.RegisterCounter("c1", "m", prometheus.NewCounter(
		prometheus.CounterOpts{Name: "c1_m_total", Help: "h"})))
	require.NoError(t, registry.RegisterCounterVec("c2", "m", prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "c2_m_total", Help: "h"}, []string{"l"})))
	require.NoError(t, registry.RegisterGauge("c3", "m", prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "c3_m", Help: "h"})))
	require.NoError(t, registry.RegisterGaugeVec("c4", "m", prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "c4_m", Help: "h"}, []string{"l"})))
	require.NoError(t, registry.RegisterHistogram("c5", "m", prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "c5_m_seconds", Help: "h"})))
	require.NoError(t, registry.RegisterHistogramVec("c6", "m", prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "c6_m_seconds", Help: "h"}, []string{"l"})))
}

func TestUnregister(t *testing.T) {
	registry, err := NewMetricsRegistry()
	require.NoError(t, err)

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_jobs_total",
		Help: "Test counter",
	})
	require.NoError(t, registry.RegisterCounter("worker", "jobs", counter))

	assert.True(t, registry.Unregister("worker", "jobs"))
	assert.False(t, registry.Unregister("worker", "jobs"))

	// Key is free for re-registration after unregister.
	assert.NoError(t, registry.RegisterCounter("worker", "jobs", counter))
}

func TestRegisterConcurrent(t *testing.T) {
	registry, err := NewMetricsRegistry()
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_%d_total", i),
				Help: "Test counter",
			})
			errs[i] = registry.RegisterCounter("concurrent", fmt.Sprintf("m%d", i), counter)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "registration %d", i)
	}
}
