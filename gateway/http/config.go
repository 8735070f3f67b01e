package http

import (
	"fmt"
	"time"

	"github.com/c360/healthgraph/errors"
)

// Config holds configuration for the HTTP gateway.
type Config struct {
	// BindAddress is the HTTP bind address (default: ":8080")
	BindAddress string `json:"bind_address"`

	// TimeoutStr bounds per-request processing time (default: "10s")
	TimeoutStr string `json:"timeout,omitempty"`

	// MaxRequestSize limits request body size in bytes (default: 1MB)
	MaxRequestSize int64 `json:"max_request_size,omitempty"`

	// EnableCORS enables CORS headers (default: false, requires explicit cors_origins)
	EnableCORS bool `json:"enable_cors"`

	// CORSOrigins lists allowed CORS origins (required when EnableCORS is true).
	// Use ["*"] for development only.
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// timeout is the parsed duration (internal use)
	timeout time.Duration
}

// DefaultConfig returns default gateway configuration.
func DefaultConfig() Config {
	return Config{
		BindAddress:    ":8080",
		TimeoutStr:     "10s",
		MaxRequestSize: 1024 * 1024,
	}
}

// Validate ensures the gateway configuration is valid and fills defaults.
func (c *Config) Validate() error {
	if c.BindAddress == "" {
		c.BindAddress = ":8080"
	}

	if c.TimeoutStr == "" {
		c.timeout = 10 * time.Second
	} else {
		parsed, err := time.ParseDuration(c.TimeoutStr)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "Validate",
				fmt.Sprintf("invalid timeout format: %s", c.TimeoutStr))
		}
		c.timeout = parsed
	}
	if c.timeout < 100*time.Millisecond || c.timeout > 30*time.Second {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 100ms and 30s")
	}

	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 1024 * 1024
	}
	if c.MaxRequestSize > 100*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 100MB")
	}

	// CORS requires explicit origin configuration
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}

	return nil
}

// Timeout returns the parsed request timeout.
func (c *Config) Timeout() time.Duration {
	return c.timeout
}
