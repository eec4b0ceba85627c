// Package ldnerr defines the error taxonomy shared by the session state
// machine, the backends and the reconnection policy. Every failing
// operation surfaces exactly one Kind so callers can branch on it.
package ldnerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is an unclassified backend failure. It always forces
	// the session into the error state.
	KindUnknown Kind = iota
	// KindInvalidState rejects an operation that is illegal in the
	// current session state. No side effect occurred.
	KindInvalidState
	// KindUnsupported marks a capability the active backend lacks.
	KindUnsupported
	// KindValidationFailed rejects a malformed descriptor or config.
	KindValidationFailed
	// KindRateLimited means the bandwidth governor rejected a send.
	KindRateLimited
	// KindTimeout means a bounded wait elapsed.
	KindTimeout
	// KindTransportFault means the underlying connection broke.
	KindTransportFault
	// KindUnauthenticated is a non-retryable credential failure.
	KindUnauthenticated
	// KindVersionMismatch is a non-retryable negotiation failure.
	KindVersionMismatch
)

func (k Kind) String() string {
	switch k {
	case KindInvalidState:
		return "invalid_state"
	case KindUnsupported:
		return "unsupported"
	case KindValidationFailed:
		return "validation_failed"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindTransportFault:
		return "transport_fault"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindVersionMismatch:
		return "version_mismatch"
	default:
		return "unknown"
	}
}

// Error is a classified error. It wraps an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two classified errors by Kind, so
// errors.Is(err, ldnerr.New(ldnerr.KindTimeout, "")) works.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Kind == te.Kind
}

// New builds a classified error with no cause.
func New(k Kind, op string) *Error {
	return &Error{Kind: k, Op: op}
}

// Wrap classifies an existing error. A nil cause yields nil.
func Wrap(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, walking the wrap chain.
// Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ParseKind maps a config-facing kind name back to its Kind.
func ParseKind(name string) (Kind, bool) {
	for k := KindUnknown; k <= KindVersionMismatch; k++ {
		if k.String() == name {
			return k, true
		}
	}
	return KindUnknown, false
}

// Retryable reports the default retry classification for a kind.
// Callers can override per kind through the reconnect policy config.
func Retryable(k Kind) bool {
	switch k {
	case KindTimeout, KindTransportFault, KindRateLimited:
		return true
	default:
		return false
	}
}
