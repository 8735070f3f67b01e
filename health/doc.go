// Package health provides health monitoring for the healthgraph
// pipeline.
//
// Each component (NATS client, graph store client, consumer, gateway)
// reports a Status into a shared Monitor; the gateway's /health
// endpoint serves the aggregate. Aggregation is pessimistic: one
// unhealthy sub-component makes the system unhealthy, one degraded
// sub-component makes it degraded.
//
// Error text entering a Status through FromError is sanitized first.
// Connection URLs, file paths, IP addresses, ports and credential
// fragments are replaced with placeholders so health responses never
// leak deployment details.
//
//	monitor := health.NewMonitor()
//	monitor.UpdateFromError("store", engine.Ping(ctx))
//	monitor.UpdateHealthy("nats", "connected")
//
//	status := monitor.AggregateHealth("healthgraph")
//
// AssessThroughput grades the reporter's sliding-window rate for the
// /stats endpoint, with scaling recommendations below the acceptable
// band.
package health
