// Package worker provides a generic worker pool for concurrent task
// processing with bounded queues and optional Prometheus metrics.
//
// The pool is generic over its work type, so the JetStream consumer
// runs a Pool[*nats.Msg] while tests run a Pool[int] without adapters.
//
// # Submission Modes
//
// Submit is non-blocking and returns ErrQueueFull at capacity, for
// callers that would rather shed load than wait. SubmitWait blocks
// until space frees or its context ends, which converts a slow
// downstream into backpressure on the producer.
//
// # Lifecycle
//
//	pool := worker.NewPool(8, 256, process)
//	if err := pool.Start(ctx); err != nil { ... }
//	defer pool.Stop(30 * time.Second)
//
// Stop closes the queue and lets workers drain it; cancelling the
// Start context instead abandons queued work immediately. Cancel the
// producer's context before calling Stop so no submission is pending.
//
// # Metrics
//
// With WithMetricsRegistry the pool registers queue depth,
// utilization, throughput counters and a processing duration
// histogram under the given prefix.
package worker
