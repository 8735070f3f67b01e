// Package graph applies parsed healthcare records to a graph store
// with idempotent merge semantics.
//
// The Engine is the only writer. Nodes merge on (label, id) backed by
// unique constraints (EnsureConstraints), so re-ingesting a record
// updates the existing node instead of duplicating it, and two
// concurrent upserts of the same key collapse to one node inside the
// store. Relationships merge on (from, to, type) in a single statement
// that creates missing endpoints first; an edge therefore never exists
// without both endpoints, and a relationship delivered before its
// endpoint records still converges to the same graph.
//
// Failures carry an UpsertError wrapped in the shared error classes:
// endpoint and constraint problems are invalid (permanent), everything
// involving store reachability is transient. The ingest coordinator
// turns that split into ack-versus-redeliver decisions.
//
// Statistics and SampleGraph back the gateway's inspection endpoints.
package graph
