package graph

import (
	"fmt"

	pkgerrors "github.com/c360/healthgraph/errors"
)

// UpsertReason states why an upsert could not be applied.
type UpsertReason int

const (
	// ReasonEndpointUnresolvable means a relationship endpoint key is
	// missing or malformed. Permanent; redelivery cannot fix it.
	ReasonEndpointUnresolvable UpsertReason = iota + 1
	// ReasonStoreUnavailable means the store could not be reached or
	// timed out. Transient; the delivery should be retried.
	ReasonStoreUnavailable
	// ReasonConstraintViolation means the store rejected the write
	// under a schema constraint. Permanent.
	ReasonConstraintViolation
)

// String returns the snake_case reason name used in logs.
func (r UpsertReason) String() string {
	switch r {
	case ReasonEndpointUnresolvable:
		return "endpoint_unresolvable"
	case ReasonStoreUnavailable:
		return "store_unavailable"
	case ReasonConstraintViolation:
		return "constraint_violation"
	default:
		return "unknown"
	}
}

// UpsertError reports a failed upsert with enough identity to log and
// route the delivery. Kind is the node kind or relationship type; Key
// is the natural key, or "from->to" for relationships.
type UpsertError struct {
	Reason UpsertReason
	Kind   string
	Key    string
	Err    error
}

// Error implements the error interface.
func (e *UpsertError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upsert %s %q: %s: %v", e.Kind, e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("upsert %s %q: %s", e.Kind, e.Key, e.Reason)
}

// Unwrap maps the reason onto the shared sentinel errors so callers
// can classify with errors.Is without importing this package.
func (e *UpsertError) Unwrap() error {
	switch e.Reason {
	case ReasonEndpointUnresolvable:
		return pkgerrors.ErrEndpointUnresolvable
	case ReasonStoreUnavailable:
		return pkgerrors.ErrStorageUnavailable
	case ReasonConstraintViolation:
		return pkgerrors.ErrConstraintViolated
	default:
		return e.Err
	}
}
