// Package natsclient manages the NATS connection used by the JetStream
// intake path. It wraps a single *nats.Conn with a circuit breaker,
// reconnect handling, and optional JetStream stream metrics, and exposes
// the JetStream handle the pull consumer builds on.
//
// The client never interprets message payloads. Delivery, acknowledgement,
// and dead-lettering decisions live in input/jetstream; this package only
// keeps the connection alive and observable.
package natsclient
