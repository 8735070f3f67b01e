package jetstream

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/healthgraph/errors"
	"github.com/c360/healthgraph/health"
	"github.com/c360/healthgraph/ingest"
	"github.com/c360/healthgraph/message"
	"github.com/c360/healthgraph/metric"
	"github.com/c360/healthgraph/natsclient"
	"github.com/c360/healthgraph/pkg/worker"
)

// Dead-letter headers carried alongside the original payload.
const (
	HeaderOriginSubject = "Healthgraph-Origin-Subject"
	HeaderOriginSeq     = "Healthgraph-Origin-Seq"
	HeaderAttempts      = "Healthgraph-Attempts"
	HeaderFailure       = "Healthgraph-Failure"
)

// Config holds the pull consumer settings.
type Config struct {
	Stream       string        `json:"stream"`        // JetStream stream to consume from
	Subject      string        `json:"subject"`       // filter subject within the stream
	Durable      string        `json:"durable"`       // durable consumer name
	MaxDeliver   int           `json:"max_deliver"`   // delivery attempts before a message is dead-lettered
	AckWait      time.Duration `json:"ack_wait"`      // redelivery deadline for unacknowledged messages
	FetchBatch   int           `json:"fetch_batch"`   // messages requested per fetch
	FetchTimeout time.Duration `json:"fetch_timeout"` // how long one fetch waits for messages
	DLQSubject   string        `json:"dlq_subject"`   // subject that receives exhausted deliveries
	Workers      int           `json:"workers"`       // concurrent deliveries
	QueueSize    int           `json:"queue_size"`    // pending deliveries buffered between fetch and workers
}

// DefaultConfig returns the settings used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		Stream:       "HEALTHCARE",
		Subject:      "healthcare.records",
		Durable:      "healthgraph",
		MaxDeliver:   5,
		AckWait:      30 * time.Second,
		FetchBatch:   64,
		FetchTimeout: 5 * time.Second,
		DLQSubject:   "healthcare.dlq",
		Workers:      4,
		QueueSize:    256,
	}
}

// applyDefaults fills zero-valued fields.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Stream == "" {
		c.Stream = def.Stream
	}
	if c.Subject == "" {
		c.Subject = def.Subject
	}
	if c.Durable == "" {
		c.Durable = def.Durable
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = def.MaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = def.AckWait
	}
	if c.FetchBatch <= 0 {
		c.FetchBatch = def.FetchBatch
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.DLQSubject == "" {
		c.DLQSubject = def.DLQSubject
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.Stream == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "stream name validation")
	}
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "subject validation")
	}
	if c.Durable == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "durable name validation")
	}
	if c.FetchTimeout >= c.AckWait {
		return errors.WrapInvalid(
			fmt.Errorf("fetch timeout %v must be below ack wait %v", c.FetchTimeout, c.AckWait),
			"Config", "Validate", "timing validation")
	}
	return nil
}

// streamPublisher is the slice of the NATS client the dead-letter path
// needs. Kept narrow so tests can stand in for the broker.
type streamPublisher interface {
	PublishMsgToStream(ctx context.Context, msg *nats.Msg) error
}

// ConsumerDeps holds runtime dependencies for the pull consumer.
type ConsumerDeps struct {
	Name            string
	Config          Config
	NATSClient      *natsclient.Client
	Coordinator     *ingest.Coordinator
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Consumer is the JetStream pull transport. It owns the durable consumer,
// the fetch loop, and the worker pool that runs deliveries through the
// coordinator.
type Consumer struct {
	name        string
	cfg         Config
	client      *natsclient.Client
	coordinator *ingest.Coordinator
	dlq         streamPublisher
	logger      *slog.Logger

	pool     *worker.Pool[jetstream.Msg]
	consumer jetstream.Consumer
	backoff  errors.RetryConfig

	// Lifecycle management
	cancelFetch context.CancelFunc
	shutdown    chan struct{}
	done        chan struct{}
	running     atomic.Bool
	startTime   time.Time
	mu          sync.RWMutex
	wg          sync.WaitGroup

	// Counters
	fetched      atomic.Int64
	acked        atomic.Int64
	naked        atomic.Int64
	deadLettered atomic.Int64
	fetchErrors  atomic.Int64
	lastActivity atomic.Value // stores time.Time

	metrics *Metrics
}

// NewConsumer creates the pull consumer. NATSClient and Coordinator are
// required; zero config fields take defaults.
func NewConsumer(deps ConsumerDeps) (*Consumer, error) {
	cfg := deps.Config
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil NATS client"),
			"Consumer", "NewConsumer", "dependency validation")
	}
	if deps.Coordinator == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil coordinator"),
			"Consumer", "NewConsumer", "dependency validation")
	}

	name := deps.Name
	if name == "" {
		name = "jetstream-intake"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", name, "stream", cfg.Stream)
	}

	c := &Consumer{
		name:        name,
		cfg:         cfg,
		client:      deps.NATSClient,
		coordinator: deps.Coordinator,
		dlq:         deps.NATSClient,
		logger:      logger,
		backoff: errors.RetryConfig{
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
		},
	}
	c.lastActivity.Store(time.Time{})

	var poolOpts []worker.Option[jetstream.Msg]
	if deps.MetricsRegistry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[jetstream.Msg](deps.MetricsRegistry, "intake_pool"))
		c.metrics = newMetrics(deps.MetricsRegistry)
	}
	c.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, c.handleMessage, poolOpts...)

	return c, nil
}

// Start binds the durable consumer and begins fetching. Idempotent while
// running; a stopped consumer cannot be restarted.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return nil
	}

	js, err := c.client.JetStream()
	if err != nil {
		return errors.WrapTransient(err, "Consumer", "Start", "get JetStream handle")
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       c.cfg.Durable,
		FilterSubject: c.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxDeliver:    c.cfg.MaxDeliver,
	})
	if err != nil {
		return errors.WrapTransient(err, "Consumer", "Start", "create durable consumer")
	}
	c.consumer = cons
	c.client.TrackConsumer(c.cfg.Stream, c.cfg.Durable, cons)

	// Workers get a lifecycle context detached from the start context.
	// Signal-driven cancellation stops only the fetch side; Stop drains
	// whatever the fetch loop already queued before the workers exit.
	if err := c.pool.Start(context.WithoutCancel(ctx)); err != nil {
		return errors.Wrap(err, "Consumer", "Start", "start worker pool")
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancelFetch = cancel
	c.shutdown = make(chan struct{})
	c.done = make(chan struct{})

	c.running.Store(true)
	c.startTime = time.Now()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.done)
		c.fetchLoop(fetchCtx)
	}()

	c.logger.Info("JetStream intake started",
		"stream", c.cfg.Stream,
		"subject", c.cfg.Subject,
		"durable", c.cfg.Durable,
		"max_deliver", c.cfg.MaxDeliver,
		"workers", c.cfg.Workers)

	return nil
}

// Stop halts fetching, then drains in-flight deliveries within timeout.
func (c *Consumer) Stop(timeout time.Duration) error {
	if !c.running.Load() {
		return nil
	}
	c.running.Store(false)

	deadline := time.Now().Add(timeout)

	c.mu.Lock()
	if c.shutdown != nil {
		select {
		case <-c.shutdown:
		default:
			close(c.shutdown)
		}
	}
	if c.cancelFetch != nil {
		c.cancelFetch()
	}
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"Consumer", "Stop", "wait for fetch loop")
	}

	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	if err := c.pool.Stop(remaining); err != nil {
		return errors.WrapTransient(err, "Consumer", "Stop", "drain worker pool")
	}

	c.logger.Info("JetStream intake stopped",
		"fetched", c.fetched.Load(),
		"acked", c.acked.Load(),
		"naked", c.naked.Load(),
		"dead_lettered", c.deadLettered.Load())

	return nil
}

// fetchLoop pulls batches and hands every message to the worker pool,
// blocking when the queue is full so the broker sees backpressure.
func (c *Consumer) fetchLoop(ctx context.Context) {
	for {
		select {
		case <-c.shutdown:
			return
		case <-ctx.Done():
			return
		default:
		}

		batch, err := c.consumer.Fetch(c.cfg.FetchBatch, jetstream.FetchMaxWait(c.cfg.FetchTimeout))
		if err != nil {
			c.fetchErrors.Add(1)
			if c.metrics != nil {
				c.metrics.fetchErrors.Inc()
			}
			c.logger.Warn("Fetch failed", "error", err)

			// Pause so a down broker does not spin this loop
			select {
			case <-time.After(time.Second):
			case <-c.shutdown:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		for msg := range batch.Messages() {
			c.fetched.Add(1)
			c.lastActivity.Store(time.Now())
			if c.metrics != nil {
				c.metrics.fetched.Inc()
				c.metrics.lastActivity.SetToCurrentTime()
			}

			if err := c.pool.SubmitWait(ctx, msg); err != nil {
				// Shutting down. Release the fetched deliveries so
				// another instance picks them up promptly.
				_ = msg.Nak()
				for rest := range batch.Messages() {
					_ = rest.Nak()
				}
				return
			}
		}

		if err := batch.Error(); err != nil {
			c.fetchErrors.Add(1)
			if c.metrics != nil {
				c.metrics.fetchErrors.Inc()
			}
			c.logger.Warn("Fetch batch ended with error", "error", err)
		}
	}
}

// handleMessage runs one delivery through the coordinator and issues the
// acknowledgement its outcome requires. Runs on pool workers.
func (c *Consumer) handleMessage(ctx context.Context, msg jetstream.Msg) error {
	attempt := 1
	var streamSeq uint64
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
		streamSeq = meta.Sequence.Stream
	} else {
		c.logger.Warn("Message metadata unavailable, treating as first attempt", "error", err)
	}

	delivery := message.New(msg.Data(), message.TransportPull,
		message.WithSubject(msg.Subject()),
		message.WithAttempt(attempt),
	)

	outcome, procErr := c.coordinator.ProcessOne(ctx, delivery)

	switch outcome {
	case ingest.OutcomeProcessed:
		c.ack(msg)

	case ingest.OutcomeRejected:
		if stderrors.Is(procErr, errors.ErrMaxRetriesExceeded) {
			if err := c.deadLetter(ctx, msg, streamSeq, attempt, procErr); err != nil {
				// Keep the delivery in the stream; the dead-letter
				// publish gets another chance on redelivery.
				c.nak(msg, attempt)
				return procErr
			}
		}
		c.ack(msg)

	case ingest.OutcomeRetry:
		c.nak(msg, attempt)

	default:
		// Leave the delivery unacknowledged; AckWait returns it.
		c.logger.Error("Unknown processing outcome", "outcome", outcome, "stream_seq", streamSeq)
	}

	return procErr
}

func (c *Consumer) ack(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		c.logger.Warn("Ack failed", "subject", msg.Subject(), "error", err)
		return
	}
	c.acked.Add(1)
	if c.metrics != nil {
		c.metrics.acked.Inc()
	}
}

func (c *Consumer) nak(msg jetstream.Msg, attempt int) {
	if err := msg.NakWithDelay(c.backoff.BackoffDelay(attempt)); err != nil {
		c.logger.Warn("Nak failed", "subject", msg.Subject(), "error", err)
		return
	}
	c.naked.Add(1)
	if c.metrics != nil {
		c.metrics.naked.Inc()
	}
}

// deadLetter publishes the payload to the dead-letter subject with the
// failure context in headers. A disabled DLQ drops silently into the ack.
func (c *Consumer) deadLetter(ctx context.Context, msg jetstream.Msg, streamSeq uint64, attempts int, cause error) error {
	if c.cfg.DLQSubject == "" || c.dlq == nil {
		return nil
	}

	out := &nats.Msg{
		Subject: c.cfg.DLQSubject,
		Data:    msg.Data(),
		Header: nats.Header{
			HeaderOriginSubject: []string{msg.Subject()},
			HeaderOriginSeq:     []string{strconv.FormatUint(streamSeq, 10)},
			HeaderAttempts:      []string{strconv.Itoa(attempts)},
			HeaderFailure:       []string{cause.Error()},
		},
	}

	if err := c.dlq.PublishMsgToStream(ctx, out); err != nil {
		c.logger.Error("Dead-letter publish failed",
			"dlq_subject", c.cfg.DLQSubject,
			"stream_seq", streamSeq,
			"error", err)
		return err
	}

	c.deadLettered.Add(1)
	if c.metrics != nil {
		c.metrics.deadLettered.Inc()
	}
	c.logger.Info("Delivery dead-lettered",
		"dlq_subject", c.cfg.DLQSubject,
		"stream_seq", streamSeq,
		"attempts", attempts)

	return nil
}

// Health reports the consumer's view of the pull transport.
func (c *Consumer) Health() health.Status {
	if !c.running.Load() {
		return health.NewUnhealthy(c.name, "consumer not running")
	}

	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	stats := c.pool.Stats()
	m := &health.Metrics{
		Uptime:            time.Since(startTime),
		ErrorCount:        int(c.fetchErrors.Load()),
		MessagesProcessed: stats.Processed,
	}
	if last, ok := c.lastActivity.Load().(time.Time); ok && !last.IsZero() {
		m.LastActivity = last
	}

	if !c.client.IsHealthy() {
		return health.NewDegraded(c.name,
			fmt.Sprintf("NATS connection %s", c.client.Status())).WithMetrics(m)
	}

	return health.NewHealthy(c.name,
		fmt.Sprintf("consuming %s", c.cfg.Subject)).WithMetrics(m)
}
