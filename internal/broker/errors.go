package broker

import (
	"errors"
	"fmt"
)

// Kind classifies a broker error: transport, serialization, duplicate,
// unknown-task, handler-failure, delivery-exceeded, and script-cache-miss.
type Kind string

const (
	KindTransport        Kind = "transport"
	KindSerialization    Kind = "serialization"
	KindDuplicate        Kind = "duplicate"
	KindUnknownTask      Kind = "unknown_task"
	KindHandlerFailure   Kind = "handler_failure"
	KindDeliveryExceeded Kind = "delivery_exceeded"
	KindScriptCacheMiss  Kind = "script_cache_miss"
)

// Error is the broker's wrapped error type. Op names the failing
// operation (e.g. "xadd", "dedupe_setnx", "evalsha") for log context.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err (or any error it wraps) is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == k
	}
	return false
}

// ErrDeduplicated is returned by no one directly — Enqueue instead returns
// a (nil error, "" message id) pair, since deduplication is expected
// behavior, not an error. It is kept here for callers who prefer to
// sentinel-check.
var ErrDeduplicated = errors.New("backstage: deduplicated")
