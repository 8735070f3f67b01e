package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	gatewayhttp "github.com/c360/healthgraph/gateway/http"
	"github.com/c360/healthgraph/input/jetstream"
)

// validate is the shared struct validator. Tags live on the section
// structs below; semantic checks that tags cannot express happen in
// Config.Validate.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Config represents the complete application configuration.
type Config struct {
	Version  string             `json:"version,omitempty"` // semantic version of the config file
	Service  ServiceConfig      `json:"service"`
	NATS     NATSConfig         `json:"nats"`
	Neo4j    Neo4jConfig        `json:"neo4j"`
	Pipeline PipelineConfig     `json:"pipeline,omitempty"`
	Metrics  MetricsConfig      `json:"metrics,omitempty"`
	Gateway  gatewayhttp.Config `json:"gateway,omitempty"`
	Intake   jetstream.Config   `json:"intake,omitempty"`
}

// ServiceConfig defines the service identity used in logs and metrics.
type ServiceConfig struct {
	Name        string `json:"name" validate:"required"`
	InstanceID  string `json:"instance_id,omitempty"` // e.g. "ingest-1", "dev-local"
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// NATSConfig defines NATS connection settings for the pull transport.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty" validate:"omitempty,dive,uri"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections.
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// Neo4jConfig defines the graph store connection.
type Neo4jConfig struct {
	URI            string        `json:"uri" validate:"required,uri"`
	Username       string        `json:"username,omitempty"`
	Password       string        `json:"password,omitempty"`
	Database       string        `json:"database,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty"`
	QueryTimeout   time.Duration `json:"query_timeout,omitempty"`
	MaxPoolSize    int           `json:"max_pool_size,omitempty" validate:"gte=0,lte=1000"`
}

// PipelineConfig tunes the ingestion coordinator and metrics reporter.
type PipelineConfig struct {
	// Timeout bounds one delivery end to end.
	Timeout time.Duration `json:"timeout,omitempty"`
	// RateLimit caps deliveries per second across all workers;
	// zero disables the limiter.
	RateLimit float64 `json:"rate_limit,omitempty" validate:"gte=0"`
	RateBurst int     `json:"rate_burst,omitempty" validate:"gte=0"`
	// MaxAttempts turns a transient failure on the nth delivery into a
	// permanent rejection; zero retries without limit.
	MaxAttempts int `json:"max_attempts,omitempty" validate:"gte=0"`
	// MetricsWindow is the sliding window for throughput estimation.
	MetricsWindow time.Duration `json:"metrics_window,omitempty"`
}

// MetricsConfig controls the dedicated admin metrics server. The
// gateway always serves /metrics on its own port; the admin server is
// for deployments that scrape on a port separate from ingest traffic.
type MetricsConfig struct {
	// AdminPort is the port for the standalone metrics server;
	// zero leaves it disabled.
	AdminPort int `json:"admin_port,omitempty" validate:"gte=0,lte=65535"`
	// AdminPath is the metrics path on that server, "/metrics" when empty.
	AdminPath string `json:"admin_path,omitempty"`
}

// SafeConfig provides thread-safe access to configuration.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	// JSON roundtrip for deep copy
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// Validate checks if the config is valid and fills section defaults.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("config field %s failed %q validation", f.Namespace(), f.Tag())
		}
		return err
	}

	// Service name participates in NATS durable/consumer names.
	c.Service.Name = strings.ToLower(c.Service.Name)
	if !isValidNATSSubjectPart(c.Service.Name) {
		return fmt.Errorf(
			"service.name '%s' is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
			c.Service.Name,
		)
	}

	if err := c.validateTLS(); err != nil {
		return fmt.Errorf("nats.tls: %w", err)
	}

	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if err := c.Intake.Validate(); err != nil {
		return fmt.Errorf("intake: %w", err)
	}

	return nil
}

// validateTLS checks that configured TLS files exist.
func (c *Config) validateTLS() error {
	if !c.NATS.TLS.Enabled {
		return nil
	}
	if c.NATS.TLS.CertFile == "" || c.NATS.TLS.KeyFile == "" {
		return fmt.Errorf("cert_file and key_file are required when TLS is enabled")
	}
	for _, f := range []string{c.NATS.TLS.CertFile, c.NATS.TLS.KeyFile} {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	if c.NATS.TLS.CAFile != "" {
		if _, err := os.Stat(c.NATS.TLS.CAFile); err != nil {
			return fmt.Errorf("%s: %w", c.NATS.TLS.CAFile, err)
		}
	}
	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS
// subjects. Valid characters are alphanumeric, dots, dashes, and
// underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// Loader handles configuration loading with layers and overrides.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: "HEALTHGRAPH",
	}
}

// AddLayer adds a configuration file layer.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers.
func (l *Loader) Load() (*Config, error) {
	cfg := l.getDefaults()

	for _, path := range l.layers {
		rawConfig, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, rawConfig)
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// getDefaults returns default configuration.
func (l *Loader) getDefaults() *Config {
	intake := jetstream.DefaultConfig()
	return &Config{
		Service: ServiceConfig{
			Name:        "healthgraph",
			Environment: "dev",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Neo4j: Neo4jConfig{
			URI:            "bolt://localhost:7687",
			Database:       "neo4j",
			ConnectTimeout: 10 * time.Second,
			QueryTimeout:   15 * time.Second,
			MaxPoolSize:    50,
		},
		Pipeline: PipelineConfig{
			Timeout: 30 * time.Second,
			// Matches the intake's max_deliver so an exhausted
			// delivery reaches the dead-letter path instead of being
			// discarded by the broker.
			MaxAttempts:   intake.MaxDeliver,
			MetricsWindow: 60 * time.Second,
		},
		Gateway: gatewayhttp.DefaultConfig(),
		Intake:  intake,
	}
}

// loadRawJSON loads configuration from a JSON file as a map.
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return nil, err
	}

	l.parseDurations(rawConfig)

	return rawConfig, nil
}

// durationFields lists the section/key pairs whose JSON values may be
// duration strings ("30s") that must become nanoseconds before
// unmarshaling into time.Duration fields.
var durationFields = map[string][]string{
	"nats":     {"reconnect_wait"},
	"neo4j":    {"connect_timeout", "query_timeout"},
	"pipeline": {"timeout", "metrics_window"},
	"intake":   {"ack_wait", "fetch_timeout"},
}

// parseDurations converts duration strings to nanoseconds for json
// unmarshaling.
func (l *Loader) parseDurations(data map[string]any) {
	for section, keys := range durationFields {
		sec, ok := data[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			if s, ok := sec[key].(string); ok {
				if d, err := parseDurationWithDays(s); err == nil {
					sec[key] = d.Nanoseconds()
				}
			}
		}
	}
}

// parseDurationWithDays parses durations that may include days (e.g. "14d").
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days := strings.TrimSuffix(s, "d")
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// mergeFromMap merges configuration from a raw map, only overriding
// fields present in the map.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedMap := l.deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}

	return &merged
}

// deepMergeMaps recursively merges two maps, with override taking
// precedence.
func (l *Loader) deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any)

	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = l.deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// applyEnvOverrides applies environment variable overrides. Values
// that fail basic validation are ignored.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	set := func(key string, apply func(string)) {
		val := os.Getenv(l.envPrefix + "_" + key)
		if val == "" {
			return
		}
		if err := validateEnvVar(key, val); err != nil {
			return
		}
		apply(val)
	}

	set("SERVICE_INSTANCE", func(v string) { cfg.Service.InstanceID = v })
	set("SERVICE_ENVIRONMENT", func(v string) { cfg.Service.Environment = v })

	set("NATS_URLS", func(v string) { cfg.NATS.URLs = strings.Split(v, ",") })
	set("NATS_USERNAME", func(v string) { cfg.NATS.Username = v })
	set("NATS_PASSWORD", func(v string) { cfg.NATS.Password = v })
	set("NATS_TOKEN", func(v string) { cfg.NATS.Token = v })

	set("NEO4J_URI", func(v string) { cfg.Neo4j.URI = v })
	set("NEO4J_USERNAME", func(v string) { cfg.Neo4j.Username = v })
	set("NEO4J_PASSWORD", func(v string) { cfg.Neo4j.Password = v })
	set("NEO4J_DATABASE", func(v string) { cfg.Neo4j.Database = v })

	set("GATEWAY_BIND", func(v string) { cfg.Gateway.BindAddress = v })

	set("METRICS_ADMIN_PORT", func(v string) {
		if port, err := strconv.Atoi(v); err == nil && port >= 0 && port <= 65535 {
			cfg.Metrics.AdminPort = port
		}
	})
}

// SaveToFile saves the configuration to a JSON file.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// String returns a JSON representation of the config with credentials
// redacted.
func (c *Config) String() string {
	clone := c.Clone()
	if clone.NATS.Password != "" {
		clone.NATS.Password = "[REDACTED]"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "[REDACTED]"
	}
	if clone.Neo4j.Password != "" {
		clone.Neo4j.Password = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}
