package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/healthgraph/codec"
	"github.com/c360/healthgraph/errors"
	"github.com/c360/healthgraph/graph"
	"github.com/c360/healthgraph/message"
	"github.com/c360/healthgraph/metric"
)

// defaultTimeout bounds one delivery end to end, parse included, so a
// hung store cannot pin transport workers indefinitely.
const defaultTimeout = 30 * time.Second

// Outcome is the coordinator's verdict on one delivery.
type Outcome int

const (
	// OutcomeProcessed means the record was applied to the graph.
	// The delivery must be acknowledged.
	OutcomeProcessed Outcome = iota + 1
	// OutcomeRejected means the delivery failed permanently: malformed
	// payload, unknown type, missing fields, or a store constraint
	// rejection. The delivery must be acknowledged; redelivering the
	// same bytes cannot succeed.
	OutcomeRejected
	// OutcomeRetry means a transient failure, the store unreachable or
	// slow. The delivery must not be acknowledged so the transport
	// redelivers it.
	OutcomeRetry
)

// String returns the outcome name used in logs and responses.
func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// ShouldAck reports whether the transport should acknowledge the
// delivery. Rejected deliveries ack too; only retries come back.
func (o Outcome) ShouldAck() bool {
	return o == OutcomeProcessed || o == OutcomeRejected
}

// Coordinator runs the parse-upsert-account pipeline for one delivery
// at a time. It is safe for concurrent use; all state lives in the
// engine and the reporter.
type Coordinator struct {
	engine      *graph.Engine
	reporter    *metric.Reporter
	metrics     *metric.Metrics
	logger      *slog.Logger
	limiter     *rate.Limiter
	timeout     time.Duration
	maxAttempts int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRateLimit caps deliveries per second across all workers. Zero or
// negative rps disables the limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Coordinator) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics mirrors delivery failures into the shared error counter,
// labeled by error class.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = metrics
	}
}

// WithTimeout overrides the per-delivery deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxAttempts turns a transient failure on the nth delivery of a
// message into a permanent rejection, so the transport dead-letters it
// instead of redelivering forever. Zero means retry without limit.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.maxAttempts = n
		}
	}
}

// NewCoordinator creates a Coordinator over the given engine and
// reporter. Both are required.
func NewCoordinator(engine *graph.Engine, reporter *metric.Reporter, opts ...Option) *Coordinator {
	if engine == nil {
		panic("ingest: nil engine")
	}
	if reporter == nil {
		panic("ingest: nil reporter")
	}

	c := &Coordinator{
		engine:   engine,
		reporter: reporter,
		logger:   slog.Default(),
		timeout:  defaultTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ProcessOne takes one delivery through parse, upsert, and accounting.
// Received is counted on entry, before parsing, so every delivery that
// reaches the coordinator shows up in the stats; redeliveries count
// again. Exactly one terminal outcome is recorded per call, and none
// for retries. The returned error carries the rejection or retry cause
// for transports that surface it; it is nil for OutcomeProcessed.
func (c *Coordinator) ProcessOne(ctx context.Context, msg *message.Message) (Outcome, error) {
	c.reporter.RecordReceived(msg.Transport())
	start := time.Now()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			// Shutdown or deadline while queued for a token. The
			// delivery was not attempted; let it come back.
			c.logger.Warn("delivery returned before processing",
				"message_id", msg.ID(),
				"transport", msg.Transport(),
				"error", err)
			return OutcomeRetry, errors.WrapTransient(err, "Coordinator", "ProcessOne", "acquire rate token")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	record, err := codec.Classify(msg.Data())
	if err != nil {
		c.reporter.RecordOutcome("unknown", metric.OutcomeFailed, time.Since(start))
		c.recordError(err)
		c.logger.Warn("payload rejected",
			"message_id", msg.ID(),
			"transport", msg.Transport(),
			"error", err)
		return OutcomeRejected, err
	}

	result, err := c.engine.Apply(ctx, record)
	if err != nil {
		c.recordError(err)
		if errors.IsTransient(err) {
			if c.maxAttempts > 0 && msg.Attempt() >= c.maxAttempts {
				c.reporter.RecordOutcome(record.RecordKind(), metric.OutcomeFailed, time.Since(start))
				c.logger.Error("retries exhausted, delivery is terminal",
					"message_id", msg.ID(),
					"kind", record.RecordKind(),
					"attempt", msg.Attempt(),
					"max_attempts", c.maxAttempts,
					"error", err)
				return OutcomeRejected, errors.WrapInvalid(
					fmt.Errorf("%w after %d attempts: %v", errors.ErrMaxRetriesExceeded, msg.Attempt(), err),
					"Coordinator", "ProcessOne", "exhaust retries")
			}

			// No terminal counter; the redelivery gets a fresh run.
			c.logger.Warn("store unavailable, delivery will retry",
				"message_id", msg.ID(),
				"kind", record.RecordKind(),
				"attempt", msg.Attempt(),
				"error", err)
			return OutcomeRetry, err
		}

		c.reporter.RecordOutcome(record.RecordKind(), metric.OutcomeFailed, time.Since(start))
		c.logger.Error("record rejected by store",
			"message_id", msg.ID(),
			"kind", record.RecordKind(),
			"error", err)
		return OutcomeRejected, err
	}

	c.reporter.RecordRelationships(result.Relationships)
	c.reporter.RecordOutcome(result.Kind, metric.OutcomeProcessed, time.Since(start))

	c.logger.Debug("record applied",
		"message_id", msg.ID(),
		"kind", result.Kind,
		"key", result.Key,
		"nodes", result.Nodes,
		"relationships", result.Relationships,
		"elapsed", time.Since(start))

	return OutcomeProcessed, nil
}

// recordError feeds the shared error counter, labeled by the error's
// class, so failure composition shows up in Prometheus alongside the
// outcome counters.
func (c *Coordinator) recordError(err error) {
	if c.metrics != nil {
		c.metrics.RecordError("coordinator", errors.Classify(err).String())
	}
}

// Stats exposes the reporter snapshot for the serving layer.
func (c *Coordinator) Stats() metric.Snapshot {
	return c.reporter.Snapshot()
}
