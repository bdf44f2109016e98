package pmrecover

import (
	"github.com/pkg/errors"
)

// Status is the recovery error taxonomy returned by rebuilder operations.
type Status int

const (
	Ok Status = iota
	Abort
	MemoryOverflow
	PMemOverflow
	InvalidConfiguration
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "Ok"
	case Abort:
		return "Abort"
	case MemoryOverflow:
		return "MemoryOverflow"
	case PMemOverflow:
		return "PMemOverflow"
	case InvalidConfiguration:
		return "InvalidConfiguration"
	default:
		return "Unknown"
	}
}

// StatusError pairs a Status with a causal error for propagation through
// the worker join in Rebuild; the first non-Ok short-circuits.
type StatusError struct {
	Status Status
	Cause  error
}

func (e *StatusError) Error() string {
	if e.Cause == nil {
		return e.Status.String()
	}
	return e.Status.String() + ": " + e.Cause.Error()
}

func (e *StatusError) Unwrap() error { return e.Cause }

// NewStatusError wraps cause with stack context via github.com/pkg/errors
// and tags it with status.
func NewStatusError(status Status, cause error, msg string) *StatusError {
	if cause != nil {
		cause = errors.Wrap(cause, msg)
	} else {
		cause = errors.New(msg)
	}
	return &StatusError{Status: status, Cause: cause}
}

// StatusOf extracts the Status from err, defaulting to Abort for any
// non-nil error that isn't already a *StatusError: an unexpected error
// mid-recovery is treated as an integrity violation, never silently Ok.
func StatusOf(err error) Status {
	if err == nil {
		return Ok
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return Abort
}
