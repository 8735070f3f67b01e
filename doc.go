// Package healthgraph ingests streaming healthcare records and
// materializes them as a connected graph in Neo4j.
//
// # Pipeline
//
// Records arrive as JSON payloads ({"type": ..., "data": {...}}) over
// two transports: a JetStream pull consumer (input/jetstream) and an
// HTTP push webhook (gateway/http). Both funnel every delivery through
// the same coordinator (ingest), which parses and classifies the
// payload (codec), applies it to the graph with idempotent
// match-or-create semantics (graph, backed by neo4jclient), and
// records the outcome (metric).
//
// Upserts are keyed on natural identifiers (patient ids, license
// numbers, hospital codes) so duplicate or out-of-order delivery
// converges on the same final graph. Permanent failures (malformed
// payloads, unknown types, constraint rejections) are acknowledged and
// counted; transient store failures are not acknowledged, leaving
// redelivery to the transport.
//
// # Layout
//
//   - types/healthcare: record kinds, natural keys, relationship types
//   - codec: payload classification and validation
//   - graph: upsert engine over a narrow Store interface
//   - neo4jclient: Neo4j driver wrapper implementing graph.Store
//   - ingest: per-delivery coordination and outcome accounting
//   - metric: Prometheus registry plus the in-memory stats reporter
//   - health: component status aggregation and throughput grading
//   - gateway/http: push webhook and the ops surface (/health, /stats)
//   - input/jetstream: durable pull consumer with dead-lettering
//   - natsclient: circuit-breaker NATS connection management
//   - config: layered JSON configuration with env overrides
package healthgraph
