package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// ErrorKind is a machine-parseable failure category. Callers and tests assert on
// kinds, never on message text.
type ErrorKind string

// Failure kinds. Every kind maps to exactly one category sentinel below.
const (
	KindUnknown                  ErrorKind = "Unknown"
	KindNoEligibleAdapter        ErrorKind = "NoEligibleAdapter"
	KindUpstreamUnavailable      ErrorKind = "UpstreamUnavailable"
	KindUpstreamIOError          ErrorKind = "UpstreamIOError"
	KindUpstreamJobFailed        ErrorKind = "UpstreamJobFailed"
	KindTimeout                  ErrorKind = "Timeout"
	KindAllAdaptersFailed        ErrorKind = "AllAdaptersFailed"
	KindAdapterProtocolViolation ErrorKind = "AdapterProtocolViolation"
	KindMissingAuth              ErrorKind = "MissingAuth"
	KindRateLimited              ErrorKind = "RateLimited"
)

// Category sentinels. Use errors.Is against these; *Error matches the sentinel of
// its kind.
var (
	ErrNoEligibleAdapter   = fmt.Errorf("no eligible adapter")
	ErrUpstreamUnavailable = fmt.Errorf("upstream unavailable")
	ErrUpstreamIO          = fmt.Errorf("upstream i/o error")
	ErrUpstreamJobFailed   = fmt.Errorf("upstream job failed")
	ErrTimeout             = fmt.Errorf("operation timed out")
	ErrAllAdaptersFailed   = fmt.Errorf("all adapters failed")
	ErrProtocolViolation   = fmt.Errorf("adapter protocol violation")
	ErrMissingAuth         = fmt.Errorf("missing credential")
	ErrRateLimit           = fmt.Errorf("rate limit exceeded")
)

// Registry errors.
var (
	ErrAdapterNotFound  = fmt.Errorf("adapter not found")
	ErrAdapterDuplicate = fmt.Errorf("adapter already registered")
)

// kindSentinels maps each kind to its category sentinel.
var kindSentinels = map[ErrorKind]error{
	KindNoEligibleAdapter:        ErrNoEligibleAdapter,
	KindUpstreamUnavailable:      ErrUpstreamUnavailable,
	KindUpstreamIOError:          ErrUpstreamIO,
	KindUpstreamJobFailed:        ErrUpstreamJobFailed,
	KindTimeout:                  ErrTimeout,
	KindAllAdaptersFailed:        ErrAllAdaptersFailed,
	KindAdapterProtocolViolation: ErrProtocolViolation,
	KindMissingAuth:              ErrMissingAuth,
	KindRateLimited:              ErrRateLimit,
}

// Error is a typed failure scoped to one request, optionally attributed to one adapter.
type Error struct {
	Kind    ErrorKind // failure category
	Adapter string    // adapter identity, empty for request-level failures
	Message string    // human-readable detail
	Err     error     // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Adapter != "" {
		b.WriteString(e.Adapter)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the category sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// NewError creates a typed error. The message is taken from err when err is non-nil.
func NewError(kind ErrorKind, adapter string, err error) *Error {
	e := &Error{Kind: kind, Adapter: adapter, Err: err}
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

// Errorf creates a typed error with a formatted message and no cause.
func Errorf(kind ErrorKind, adapter, format string, args ...any) *Error {
	return &Error{Kind: kind, Adapter: adapter, Message: fmt.Sprintf(format, args...)}
}

// AsError converts err into a typed *Error attributed to adapter. An existing kind
// is kept; otherwise the kind is classified by KindOf, and fallback is used when
// classification yields KindUnknown.
func AsError(err error, adapter string, fallback ErrorKind) *Error {
	if err == nil {
		return nil
	}
	if re := typed(err); re != nil {
		if re.Adapter == "" && adapter != "" {
			cp := *re
			cp.Adapter = adapter
			return &cp
		}
		return re
	}
	kind := KindOf(err)
	if kind == KindUnknown {
		kind = fallback
	}
	return NewError(kind, adapter, err)
}

// KindOf returns the failure kind for err. Typed errors report their own kind,
// sentinels are matched with errors.Is, and transport failures are classified
// heuristically.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		switch t := e.(type) {
		case *Error:
			return t.Kind
		case *AggregateError:
			return KindAllAdaptersFailed
		}
	}

	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindUpstreamIOError
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return KindUpstreamIOError
	}
	return KindUnknown
}

// typed returns the outermost *Error on err's wrap chain. It does not descend into
// an AggregateError, whose attempts belong to other adapters.
func typed(err error) *Error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch t := e.(type) {
		case *Error:
			return t
		case *AggregateError:
			return nil
		}
	}
	return nil
}

// AggregateError carries every per-adapter failure of one orchestration in the
// order the candidates were tried.
type AggregateError struct {
	Attempts []*Error
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return fmt.Sprintf("all adapters failed: [%s]", strings.Join(parts, "; "))
}

// Is matches ErrAllAdaptersFailed.
func (e *AggregateError) Is(target error) bool { return target == ErrAllAdaptersFailed }

// Unwrap exposes the attempts to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a
	}
	return errs
}

// Kinds returns the attempt kinds in order.
func (e *AggregateError) Kinds() []ErrorKind {
	kinds := make([]ErrorKind, len(e.Attempts))
	for i, a := range e.Attempts {
		kinds[i] = a.Kind
	}
	return kinds
}
