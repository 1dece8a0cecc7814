// Package fault classifies pipeline failures into retryable and terminal
// kinds and provides the bounded-retry helper used by every adapter.
//
// The contract mirrors the delivery semantics of the message bus: a
// Transient error means redelivery may succeed, so the handler nacks; a
// Permanent error means redelivery cannot help, so the handler quarantines
// and acks. Errors of unknown provenance default to Transient because a
// wasted redelivery is cheaper than silently dropping an invoice.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds. Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrTransient marks failures that may clear on redelivery
	// (network, throttling, 5xx, timeouts).
	ErrTransient = errors.New("transient failure")

	// ErrPermanent marks failures no redelivery can repair
	// (schema violations, unsupported inputs, 4xx rejections).
	ErrPermanent = errors.New("permanent failure")
)

// Error wraps an underlying error with a retry classification. The
// original error stays in the chain for errors.Is/errors.As inspection.
type Error struct {
	// Kind is ErrTransient or ErrPermanent.
	Kind error
	// Op names the operation that failed (e.g. "store.put", "llm.generate").
	Op string
	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Transient wraps err as retryable. Returns nil if err is nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrTransient, Op: op, Err: err}
}

// Permanent wraps err as terminal. Returns nil if err is nil.
func Permanent(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrPermanent, Op: op, Err: err}
}

// Transientf builds a retryable error from a format string.
func Transientf(op, format string, args ...any) error {
	return &Error{Kind: ErrTransient, Op: op, Err: fmt.Errorf(format, args...)}
}

// Permanentf builds a terminal error from a format string.
func Permanentf(op, format string, args ...any) error {
	return &Error{Kind: ErrPermanent, Op: op, Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err is classified terminal.
func IsPermanent(err error) bool {
	return err != nil && errors.Is(err, ErrPermanent)
}

// IsTransient reports whether err should be retried. Unclassified errors
// count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrPermanent)
}

// KindOf returns "transient" or "permanent" for log fields and metric
// labels. nil maps to the empty string.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermanent):
		return "permanent"
	default:
		return "transient"
	}
}

// Classify wraps err with a kind inferred from its type and message.
// Errors already carrying a classification pass through unchanged.
// Returns nil if err is nil.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}

// classify determines the kind for an unclassified error. Typed checks
// run first, then message patterns. The default is transient.
func classify(err error) error {
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	// Client-side rejections the server will repeat verbatim.
	case containsAny(msg, "invalid", "malformed", "schema", "bad request", "400",
		"not found", "404", "does not exist", "doesn't exist",
		"already exists", "precondition", "412"):
		return ErrPermanent

	// Credential and permission failures do not heal on redelivery.
	case containsAny(msg, "permission denied", "access denied", "forbidden", "403",
		"unauthenticated", "unauthorized", "401"):
		return ErrPermanent

	// Capacity and availability failures clear on their own.
	case containsAny(msg, "timeout", "timed out", "deadline exceeded", "canceled",
		"unavailable", "internal error", "backend error", "500", "502", "503", "504",
		"rate limit", "rate exceeded", "slowdown", "quota", "resource exhausted",
		"429", "too many requests",
		"connection refused", "connection reset", "broken pipe", "eof",
		"no route to host", "dial tcp", "i/o timeout"):
		return ErrTransient

	default:
		return ErrTransient
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
