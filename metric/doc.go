// Package metric provides metrics collection for the healthgraph
// pipeline: Prometheus collectors for operational monitoring and an
// in-memory Reporter that backs the gateway's /stats endpoint.
//
// # Architecture
//
// Two layers share the package:
//
//   - MetricsRegistry owns a prometheus.Registry, pre-registered core
//     metrics (ingest counters, graph store counters, error and health
//     gauges, NATS connection state) and the Go runtime collectors.
//     Components add their own collectors through the MetricsRegistrar
//     interface, keyed "component.metric" so duplicates are rejected
//     with an invalid-class error instead of a Prometheus panic.
//
//   - Reporter keeps lock-free counters for received, processed and
//     failed deliveries, per-kind terminal counts, and a one-second
//     bucketed sliding window for throughput. Snapshot() returns a
//     consistent view in which processed+failed never exceeds
//     received, which is what the /stats endpoint serves.
//
// # Quick Start
//
//	registry, err := metric.NewMetricsRegistry()
//	if err != nil {
//		return err
//	}
//	reporter := metric.NewReporter(
//		metric.WithCoreMetrics(registry.CoreMetrics()),
//		metric.WithWindow(60*time.Second),
//	)
//
//	// On delivery entry:
//	reporter.RecordReceived("pull")
//
//	// On terminal outcome:
//	reporter.RecordOutcome("doctor", metric.OutcomeProcessed, elapsed)
//
// Expose the registry on the admin port:
//
//	server := metric.NewServer(9090, "/metrics", registry)
//	go server.Start()
//
// # Counting Rules
//
// A delivery is received when it enters processing, before parsing.
// It is processed or failed exactly once, when it reaches a terminal
// outcome. A transiently failed delivery that will be redelivered is
// not a terminal outcome and touches no counter; the redelivery is a
// new received count. Throughput measures terminal outcomes per second
// over the sliding window.
//
// All types in this package are safe for concurrent use.
package metric
