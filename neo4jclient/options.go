package neo4jclient

import (
	"log"
	"time"
)

// Logger interface for injecting custom loggers
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

// defaultLogger implements Logger using standard log package
type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[NEO4J] "+format, v...)
}

func (l *defaultLogger) Errorf(format string, v ...any) {
	log.Printf("[NEO4J ERROR] "+format, v...)
}

func (l *defaultLogger) Debugf(_ string, _ ...any) {
	// Silent by default
}

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// WithCredentials sets username and password for basic authentication
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithDatabase selects the database sessions run against
func WithDatabase(name string) ClientOption {
	return func(c *Client) error {
		if name != "" {
			c.database = name
		}
		return nil
	}
}

// WithLogger sets a custom logger for the client
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			logger = &defaultLogger{}
		}
		c.logger = logger
		return nil
	}
}

// WithConnectTimeout sets the socket connect timeout
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < time.Second {
			d = 5 * time.Second // reasonable default
		}
		c.connectTimeout = d
		return nil
	}
}

// WithMaxPoolSize caps the driver's connection pool
func WithMaxPoolSize(size int) ClientOption {
	return func(c *Client) error {
		if size < 1 {
			size = 50 // reasonable default
		}
		c.maxPoolSize = size
		return nil
	}
}
