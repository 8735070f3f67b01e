// Package message defines the delivery envelope that carries raw
// record payloads from a transport (webhook push or JetStream pull)
// into the ingest coordinator.
package message

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/healthgraph/errors"
)

// Transport names used in metrics and logs.
const (
	TransportPush = "push"
	TransportPull = "pull"
)

// Message is one delivery. It is immutable after construction so a
// delivery observed by the coordinator, the reporter and the logs is
// always the same delivery.
//
// Construction uses functional options:
//
//	// Webhook delivery
//	msg := message.New(body, message.TransportPush)
//
//	// JetStream delivery keeps the broker's identity and attempt count
//	msg := message.New(data, message.TransportPull,
//	    message.WithID(natsMsgID),
//	    message.WithSubject("healthcare.records"),
//	    message.WithAttempt(int(meta.NumDelivered)))
type Message struct {
	id         string
	data       []byte
	transport  string
	subject    string
	attempt    int
	receivedAt time.Time
}

// Option is a functional option for configuring Message construction.
type Option func(*Message)

// WithID keeps a broker-assigned message ID instead of generating one.
// Empty IDs are ignored.
func WithID(id string) Option {
	return func(m *Message) {
		if id != "" {
			m.id = id
		}
	}
}

// WithSubject records the stream subject the delivery arrived on.
func WithSubject(subject string) Option {
	return func(m *Message) {
		m.subject = subject
	}
}

// WithAttempt records the delivery attempt, starting at 1. Values
// below 1 are ignored.
func WithAttempt(attempt int) Option {
	return func(m *Message) {
		if attempt >= 1 {
			m.attempt = attempt
		}
	}
}

// WithReceivedAt sets a specific receive timestamp instead of
// time.Now(). Useful for replay and testing.
func WithReceivedAt(receivedAt time.Time) Option {
	return func(m *Message) {
		m.receivedAt = receivedAt
	}
}

// New creates a Message for a raw payload. The payload bytes are
// copied so later reuse of the caller's buffer cannot change the
// delivery.
func New(data []byte, transport string, opts ...Option) *Message {
	m := &Message{
		id:         uuid.New().String(),
		data:       make([]byte, len(data)),
		transport:  transport,
		attempt:    1,
		receivedAt: time.Now(),
	}
	copy(m.data, data)

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// ID returns the unique delivery identifier.
func (m *Message) ID() string {
	return m.id
}

// Data returns the raw payload bytes. Callers must not modify the
// returned slice.
func (m *Message) Data() []byte {
	return m.data
}

// Transport returns the transport the delivery arrived on.
func (m *Message) Transport() string {
	return m.transport
}

// Subject returns the stream subject, empty for push deliveries.
func (m *Message) Subject() string {
	return m.subject
}

// Attempt returns the delivery attempt, starting at 1.
func (m *Message) Attempt() int {
	return m.attempt
}

// ReceivedAt returns when the delivery entered the process.
func (m *Message) ReceivedAt() time.Time {
	return m.receivedAt
}

// Hash returns a SHA256 hash of the payload, used to correlate
// redeliveries of the same record across log lines.
func (m *Message) Hash() string {
	sum := sha256.Sum256(m.data)
	return hex.EncodeToString(sum[:])
}

// Validate checks the delivery is processable.
func (m *Message) Validate() error {
	if len(m.data) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "Message", "Validate",
			"payload cannot be empty")
	}
	if m.transport != TransportPush && m.transport != TransportPull {
		return errors.WrapInvalid(errors.ErrInvalidData, "Message", "Validate",
			fmt.Sprintf("unknown transport: %s", m.transport))
	}
	return nil
}
