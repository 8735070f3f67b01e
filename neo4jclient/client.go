package neo4jclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	"github.com/c360/healthgraph/errors"
	"github.com/c360/healthgraph/graph"
	"github.com/c360/healthgraph/health"
)

// ConnectionStatus represents the state of the store connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned when a query runs before Connect
var ErrNotConnected = stderrors.New("not connected to graph store")

// Client manages the Neo4j driver and implements graph.Store. One
// session is opened per query; the driver's pool handles reuse.
type Client struct {
	uri      string
	database string
	status   atomic.Value // stores ConnectionStatus
	logger   Logger

	driver neo4j.DriverWithContext

	// Connection options
	connectTimeout time.Duration
	maxPoolSize    int

	// Authentication - cleared on close
	username string
	password string

	// Synchronization
	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new Neo4j client with optional configuration
func NewClient(uri string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		uri:    uri,
		logger: &defaultLogger{},
		// Sensible defaults
		database:       "neo4j",
		connectTimeout: 5 * time.Second,
		maxPoolSize:    50,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)

	c.logger.Debugf("Created Neo4j client for %s", uri)

	return c, nil
}

// URI returns the store URI
func (c *Client) URI() string {
	return c.uri
}

// Database returns the database sessions run against
func (c *Client) Database() string {
	return c.database
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// IsHealthy returns true if the connection is established
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
}

// Connect creates the driver and verifies the server is reachable
func (c *Client) Connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)
	c.logger.Printf("Connecting to graph store at %s", c.uri)

	driver, err := neo4j.NewDriverWithContext(
		c.uri,
		neo4j.BasicAuth(c.username, c.password, ""),
		func(cfg *config.Config) {
			cfg.MaxConnectionPoolSize = c.maxPoolSize
			cfg.SocketConnectTimeout = c.connectTimeout
		},
	)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return errors.WrapInvalid(err, "Client", "Connect", "create driver")
	}

	c.mu.Lock()
	c.driver = driver
	c.mu.Unlock()

	if err := c.VerifyConnectivity(ctx); err != nil {
		c.setStatus(StatusDisconnected)
		return err
	}

	c.setStatus(StatusConnected)
	c.logger.Printf("Connected to graph store at %s (database %q)", c.uri, c.database)

	return nil
}

// Run executes one query in its own session and returns the collected
// rows. Sessions use write mode so the single entry point serves both
// merges and reads.
func (c *Client) Run(ctx context.Context, query string, params map[string]any) ([]graph.Row, error) {
	c.mu.RLock()
	driver := c.driver
	c.mu.RUnlock()

	if driver == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "Run", "check connection")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, c.mapStoreError(err, "Run")
	}

	records, err := result.Collect(ctx)
	if err != nil {
		return nil, c.mapStoreError(err, "Run")
	}

	rows := make([]graph.Row, 0, len(records))
	for _, record := range records {
		rows = append(rows, graph.Row(record.AsMap()))
	}

	return rows, nil
}

// VerifyConnectivity checks the server is reachable over the pool
func (c *Client) VerifyConnectivity(ctx context.Context) error {
	c.mu.RLock()
	driver := c.driver
	c.mu.RUnlock()

	if driver == nil {
		return errors.WrapTransient(ErrNotConnected, "Client", "VerifyConnectivity", "check connection")
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%v: %w", err, errors.ErrStorageUnavailable),
			"Client", "VerifyConnectivity", "verify connectivity")
	}

	return nil
}

// Health probes the store and reports component health
func (c *Client) Health(ctx context.Context) health.Status {
	probeCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	if err := c.VerifyConnectivity(probeCtx); err != nil {
		if c.Status() == StatusConnected {
			c.setStatus(StatusDisconnected)
		}
		return health.FromError("neo4j", err)
	}

	c.setStatus(StatusConnected)
	return health.NewHealthy("neo4j", fmt.Sprintf("connected to %s", c.database))
}

// Close shuts down the driver and its connection pool
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil // Already closed
	}
	c.closed.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.driver != nil {
		if err := c.driver.Close(ctx); err != nil {
			return errors.Wrap(err, "Client", "Close", "close driver")
		}
		c.driver = nil
	}

	// Clear credentials with the connection
	c.username = ""
	c.password = ""

	c.setStatus(StatusDisconnected)
	c.logger.Printf("Closed connection to graph store at %s", c.uri)

	return nil
}

// mapStoreError translates driver errors into the shared taxonomy.
// Server rejections carry a Neo.* status code; schema violations and
// other client errors are permanent, everything else clears on retry.
func (c *Client) mapStoreError(err error, method string) error {
	var neoErr *db.Neo4jError
	if stderrors.As(err, &neoErr) {
		if strings.Contains(neoErr.Code, "ConstraintValidationFailed") {
			return errors.WrapInvalid(
				fmt.Errorf("%v: %w", neoErr, errors.ErrConstraintViolated),
				"Client", method, "execute query")
		}
		if strings.HasPrefix(neoErr.Code, "Neo.ClientError") {
			return errors.WrapInvalid(neoErr, "Client", method, "execute query")
		}
		return errors.WrapTransient(
			fmt.Errorf("%v: %w", neoErr, errors.ErrStorageUnavailable),
			"Client", method, "execute query")
	}

	if neo4j.IsConnectivityError(err) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.WrapTransient(
			fmt.Errorf("%v: %w", err, errors.ErrStorageUnavailable),
			"Client", method, "execute query")
	}

	// Unknown driver errors are retried rather than dropped.
	return errors.WrapTransient(
		fmt.Errorf("%v: %w", err, errors.ErrStorageUnavailable),
		"Client", method, "execute query")
}
