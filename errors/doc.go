// Package errors provides standardized error handling for healthgraph
// components.
//
// # Overview
//
// The package implements a three-class error classification: Transient
// (temporary, retryable), Invalid (bad input, never retryable), and Fatal
// (unrecoverable, stop processing). Classification drives the ingestion
// pipeline's ack/nack decisions: invalid messages are acknowledged and
// counted as failures, transient store errors are nacked so the transport
// redelivers them.
//
// # Quick Start
//
// Wrap errors with component context:
//
//	if err := engine.UpsertNode(ctx, rec); err != nil {
//	    return errors.WrapTransient(err, "Engine", "UpsertNode", "merge node")
//	}
//
// Branch on classification:
//
//	if errors.IsTransient(err) {
//	    // nack, let the transport redeliver
//	} else if errors.IsInvalid(err) {
//	    // ack, record failure, do not retry
//	}
//
// All wrapping follows the format "component.method: action failed: %w" and
// preserves classification through errors.Is/As chains. Context cancellation
// and deadline errors classify as transient.
package errors
