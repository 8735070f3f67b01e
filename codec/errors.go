package codec

import (
	"fmt"

	pkgerrors "github.com/c360/healthgraph/errors"
)

// ParseReason identifies why a payload was rejected.
type ParseReason int

const (
	// ReasonUnknownType means the discriminator names no known record kind.
	ReasonUnknownType ParseReason = iota
	// ReasonMissingField means a required field was absent or empty.
	ReasonMissingField
	// ReasonMalformedValue means a field was present with the wrong shape.
	ReasonMalformedValue
)

// String returns the string representation of ParseReason
func (r ParseReason) String() string {
	switch r {
	case ReasonUnknownType:
		return "unknown_type"
	case ReasonMissingField:
		return "missing_field"
	case ReasonMalformedValue:
		return "malformed_value"
	default:
		return "unknown"
	}
}

// ParseError reports why a payload could not be classified. Parse errors are
// permanent: redelivering the same payload cannot fix it.
type ParseError struct {
	Reason ParseReason
	// Field is the offending field name for ReasonMissingField and
	// ReasonMalformedValue.
	Field string
	// Type is the offending discriminator for ReasonUnknownType.
	Type string
}

// Error implements the error interface
func (e *ParseError) Error() string {
	switch e.Reason {
	case ReasonUnknownType:
		return fmt.Sprintf("unknown record type %q", e.Type)
	case ReasonMissingField:
		return fmt.Sprintf("missing required field %q", e.Field)
	case ReasonMalformedValue:
		return fmt.Sprintf("malformed value for field %q", e.Field)
	default:
		return "payload parse error"
	}
}

// Unwrap maps the parse reason onto the shared error taxonomy so callers can
// branch with errors.Is without importing this package.
func (e *ParseError) Unwrap() error {
	if e.Reason == ReasonUnknownType {
		return pkgerrors.ErrUnknownRecordType
	}
	return pkgerrors.ErrParsingFailed
}
