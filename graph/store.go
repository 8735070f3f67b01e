package graph

import "context"

// Row is one result record from the graph store, keyed by the names
// the query returned.
type Row map[string]any

// Store is the graph database boundary. The production implementation
// wraps the Neo4j driver; tests substitute an in-memory fake. Run
// executes one statement and returns its rows; implementations must be
// safe for concurrent use because every ingest worker shares one
// store.
type Store interface {
	Run(ctx context.Context, query string, params map[string]any) ([]Row, error)
	VerifyConnectivity(ctx context.Context) error
}
