// Package main implements the entry point for the healthgraph service.
// Healthgraph ingests streaming healthcare records from NATS JetStream
// or an HTTP webhook and materializes them as nodes and relationships
// in Neo4j, with idempotent upsert semantics and live throughput
// metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/c360/healthgraph/config"
	gatewayhttp "github.com/c360/healthgraph/gateway/http"
	"github.com/c360/healthgraph/graph"
	"github.com/c360/healthgraph/health"
	"github.com/c360/healthgraph/ingest"
	jsintake "github.com/c360/healthgraph/input/jetstream"
	"github.com/c360/healthgraph/metric"
	"github.com/c360/healthgraph/natsclient"
	"github.com/c360/healthgraph/neo4jclient"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "healthgraph"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	pipeline, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipeline.close()

	return runWithSignalHandling(ctx, pipeline, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging.
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting healthgraph ingestion service",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, false, nil
}

// loadConfig loads and validates configuration from the given path. A
// missing path falls back to built-in defaults so local development
// needs no config file at all.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(true)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		loader.AddLayer(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return cfg, nil
}

// pipeline bundles the running components so shutdown can stop them in
// reverse dependency order.
type pipeline struct {
	cfg      *config.Config
	store    *neo4jclient.Client
	nats     *natsclient.Client
	consumer *jsintake.Consumer
	gateway  *gatewayhttp.Server
	admin    *metric.Server
	watcher  *healthWatcher
}

// buildPipeline wires metrics, store, coordinator, intake, and gateway.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	registry, err := metric.NewMetricsRegistry()
	if err != nil {
		return nil, fmt.Errorf("create metrics registry: %w", err)
	}
	core := registry.CoreMetrics()

	reporter := metric.NewReporter(
		metric.WithWindow(cfg.Pipeline.MetricsWindow),
		metric.WithCoreMetrics(core),
	)

	store, err := connectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engine := graph.NewEngine(store,
		graph.WithLogger(slog.Default().With("component", "graph-engine")),
		graph.WithMetrics(core),
		graph.WithQueryTimeout(cfg.Neo4j.QueryTimeout),
	)

	// Unique constraints per label are what make concurrent MERGE
	// race-free; refuse to start without them.
	if err := engine.EnsureConstraints(ctx); err != nil {
		return nil, fmt.Errorf("ensure graph constraints: %w", err)
	}

	coordinator := ingest.NewCoordinator(engine, reporter,
		ingest.WithLogger(slog.Default().With("component", "coordinator")),
		ingest.WithTimeout(cfg.Pipeline.Timeout),
		ingest.WithRateLimit(cfg.Pipeline.RateLimit, cfg.Pipeline.RateBurst),
		ingest.WithMaxAttempts(cfg.Pipeline.MaxAttempts),
		ingest.WithMetrics(core),
	)

	natsClient, err := connectNATS(ctx, cfg, registry)
	if err != nil {
		store.Close(ctx)
		return nil, err
	}

	consumer, err := jsintake.NewConsumer(jsintake.ConsumerDeps{
		Name:            "jetstream-intake",
		Config:          cfg.Intake,
		NATSClient:      natsClient,
		Coordinator:     coordinator,
		MetricsRegistry: registry,
		Logger:          slog.Default().With("component", "jetstream-intake"),
	})
	if err != nil {
		natsClient.Close(ctx)
		store.Close(ctx)
		return nil, fmt.Errorf("create intake consumer: %w", err)
	}

	healthSources := []gatewayhttp.HealthSource{
		consumer.Health,
		func() health.Status {
			healthCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return store.Health(healthCtx)
		},
		func() health.Status {
			if natsClient.IsHealthy() {
				return health.NewHealthy("natsclient", "Connected")
			}
			return health.NewUnhealthy("natsclient", "NATS connection "+natsClient.Status().String())
		},
	}

	gateway, err := gatewayhttp.NewServer(gatewayhttp.ServerDeps{
		Config:          cfg.Gateway,
		Coordinator:     coordinator,
		Engine:          engine,
		Reporter:        reporter,
		MetricsRegistry: registry,
		HealthSources:   healthSources,
		Logger:          slog.Default().With("component", "http-gateway"),
	})
	if err != nil {
		natsClient.Close(ctx)
		store.Close(ctx)
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	var admin *metric.Server
	if cfg.Metrics.AdminPort > 0 {
		admin = metric.NewServer(cfg.Metrics.AdminPort, cfg.Metrics.AdminPath, registry)
	}

	return &pipeline{
		cfg:      cfg,
		store:    store,
		nats:     natsClient,
		consumer: consumer,
		gateway:  gateway,
		admin:    admin,
		watcher:  newHealthWatcher(appName, healthSources, core),
	}, nil
}

// connectStore creates the Neo4j client and verifies connectivity.
func connectStore(ctx context.Context, cfg *config.Config) (*neo4jclient.Client, error) {
	opts := []neo4jclient.ClientOption{
		neo4jclient.WithConnectTimeout(cfg.Neo4j.ConnectTimeout),
		neo4jclient.WithMaxPoolSize(cfg.Neo4j.MaxPoolSize),
	}
	if cfg.Neo4j.Username != "" {
		opts = append(opts, neo4jclient.WithCredentials(cfg.Neo4j.Username, cfg.Neo4j.Password))
	}
	if cfg.Neo4j.Database != "" {
		opts = append(opts, neo4jclient.WithDatabase(cfg.Neo4j.Database))
	}

	store, err := neo4jclient.NewClient(cfg.Neo4j.URI, opts...)
	if err != nil {
		return nil, fmt.Errorf("create neo4j client: %w", err)
	}

	slog.Info("Connecting to Neo4j", "uri", cfg.Neo4j.URI, "database", cfg.Neo4j.Database)
	if err := store.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to neo4j: %w", err)
	}

	return store, nil
}

// connectNATS creates the NATS client, connects, and provisions the
// intake stream (idempotent, so restarts are safe).
func connectNATS(ctx context.Context, cfg *config.Config, registry *metric.MetricsRegistry) (*natsclient.Client, error) {
	natsURL := "nats://localhost:4222"
	if len(cfg.NATS.URLs) > 0 {
		natsURL = cfg.NATS.URLs[0]
	}

	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithMetrics(registry),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	natsClient, err := natsclient.NewClient(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", natsURL)
	if err := natsClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := natsClient.WaitForConnection(connCtx); err != nil {
		natsClient.Close(ctx)
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	if _, err := natsClient.CreateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Intake.Stream,
		Subjects:  []string{cfg.Intake.Subject, cfg.Intake.DLQSubject},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}); err != nil {
		natsClient.Close(ctx)
		return nil, fmt.Errorf("provision intake stream: %w", err)
	}

	return natsClient, nil
}

// runWithSignalHandling starts the transports and blocks until a
// shutdown signal arrives or a component fails.
func runWithSignalHandling(ctx context.Context, p *pipeline, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	group, groupCtx := errgroup.WithContext(signalCtx)

	gatewayReady := make(chan struct{})
	group.Go(func() error {
		return p.gateway.Start(groupCtx, gatewayReady)
	})

	group.Go(func() error {
		select {
		case <-gatewayReady:
		case <-groupCtx.Done():
			return nil
		}
		if err := p.consumer.Start(groupCtx); err != nil {
			return fmt.Errorf("start intake consumer: %w", err)
		}
		slog.Info("Healthgraph started",
			"gateway", p.cfg.Gateway.BindAddress,
			"stream", p.cfg.Intake.Stream,
			"subject", p.cfg.Intake.Subject)
		return nil
	})

	if p.admin != nil {
		group.Go(func() error {
			slog.Info("Admin metrics server starting", "address", p.admin.Address())
			return p.admin.Start()
		})
	}

	group.Go(func() error {
		return p.watcher.run(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("Shutting down")
		return p.shutdown(shutdownTimeout)
	})

	if err := group.Wait(); err != nil {
		return err
	}

	slog.Info("Healthgraph shutdown complete")
	return nil
}

// shutdown stops intake first so no new deliveries arrive, then the
// gateway, draining in-flight work within the timeout.
func (p *pipeline) shutdown(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	if err := p.consumer.Stop(timeout); err != nil {
		slog.Error("Intake consumer stop failed", "error", err)
	}

	remaining := time.Until(deadline)
	if remaining < time.Second {
		remaining = time.Second
	}
	if err := p.gateway.Stop(remaining); err != nil {
		slog.Error("Gateway stop failed", "error", err)
		return err
	}

	if p.admin != nil {
		if err := p.admin.Stop(); err != nil {
			slog.Warn("Admin metrics server stop failed", "error", err)
		}
	}

	return nil
}

// close releases the shared clients after the components have stopped.
func (p *pipeline) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if p.nats != nil {
		if err := p.nats.Close(ctx); err != nil {
			slog.Warn("NATS close failed", "error", err)
		}
	}
	if p.store != nil {
		if err := p.store.Close(ctx); err != nil {
			slog.Warn("Neo4j close failed", "error", err)
		}
	}
}
