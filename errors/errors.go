// Package errors provides structured error types for the weightsync module.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry decisions and reporting.
type Kind string

const (
	// KindNetwork covers transport-layer failures: timeouts, refused
	// connections, DNS resolution.
	KindNetwork Kind = "network"

	// KindValidation covers payload problems: business-rule violations
	// and 4xx responses from the remote service. Never retryable; the
	// data has to change first.
	KindValidation Kind = "validation"

	// KindServer covers 5xx responses from the remote service.
	KindServer Kind = "server"

	// KindUnknown covers everything that could not be classified.
	KindUnknown Kind = "unknown"

	// KindStorage covers failures in the local persistence layer.
	KindStorage Kind = "storage"

	// KindInvalidPayload marks an enqueue-time schema violation. The
	// operation was never queued.
	KindInvalidPayload Kind = "invalid_payload"

	// KindResolutionInvalid marks a conflict resolution whose output
	// failed validation. The resolution must not be applied.
	KindResolutionInvalid Kind = "resolution_invalid"

	// KindPermission marks an operation denied to the current identity.
	KindPermission Kind = "permission"
)

// Operation identifies the sync operation during which an error occurred.
type Op string

const (
	OpEnqueue   Op = "enqueue"
	OpDrain     Op = "drain"
	OpTransmit  Op = "transmit"
	OpRetry     Op = "retry"
	OpReconcile Op = "reconcile"
	OpResolve   Op = "resolve"
	OpStore     Op = "store"
	OpLoad      Op = "load"
	OpClose     Op = "close"
)

// Component identifies the subsystem that produced an error.
type Component string

// Error is the structured error used throughout the module.
type Error struct {
	// Op is the operation during which the error occurred.
	Op Op

	// Component is the subsystem that generated the error
	// (e.g. "queue", "transport", "storage/sqlite").
	Component Component

	// Kind classifies the error.
	Kind Kind

	// Retryable reports whether retrying the operation may succeed.
	Retryable bool

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Kind != "" {
		msg += fmt.Sprintf(" [%s]", e.Kind)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an *Error from its arguments. Arguments may appear in any
// order; later values of the same type override earlier ones. Recognized
// types are Op, Component, Kind, bool (retryable), string (converted to
// an error) and error.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Component:
			e.Component = a
		case Kind:
			e.Kind = a
			e.Retryable = kindRetryable(a)
		case bool:
			e.Retryable = a
		case string:
			e.Err = errors.New(a)
		case *Error:
			cp := *a
			e.Err = &cp
		case error:
			e.Err = a
		default:
			e.Err = fmt.Errorf("unknown argument %v of type %T", a, a)
		}
	}
	if e.Err == nil {
		e.Err = errors.New("unspecified error")
	}
	return e
}

// kindRetryable returns the default retry policy for a kind. Validation
// failures need a data change, not a retry; permission denials and
// invalid resolutions are terminal by definition.
func kindRetryable(k Kind) bool {
	switch k {
	case KindNetwork, KindServer, KindUnknown, KindStorage:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is an *Error of the given kind.
func Is(kind Kind, err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindFromHTTPStatus maps an HTTP response status to an error kind,
// following the remote service's status semantics.
func KindFromHTTPStatus(status int) Kind {
	switch {
	case status >= 400 && status < 500:
		return KindValidation
	case status >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}
