// Package neo4jclient manages the Neo4j connection used as the graph
// store. The client owns a single driver with its connection pool,
// opens one session per query, and translates driver errors into the
// shared transient/invalid taxonomy so callers can decide between
// retry and reject without importing driver types.
package neo4jclient
