// Package jetstream implements the pull transport: a durable JetStream
// consumer that fetches healthcare record batches, runs each delivery
// through the ingest coordinator on a worker pool, and answers with the
// acknowledgement the outcome demands.
//
// Acknowledgement mapping:
//
//	processed → Ack
//	rejected  → Ack (poison payloads and exhausted retries; the latter
//	            are published to the dead-letter subject first)
//	retry     → NakWithDelay with exponential backoff
//
// The consumer never unmarshals payloads itself; classification and
// counting live behind ingest.Coordinator.ProcessOne so the push and
// pull paths cannot drift apart.
package jetstream
