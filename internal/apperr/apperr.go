// Package apperr defines the error taxonomy shared by the storage and
// pipeline layers.
//
// Errors are classified once, at the boundary where they occur (usually the
// storage layer), and carry enough structured context (kind, domain,
// operation) for callers to branch on without string matching. Callers use
// errors.Is/errors.As; panics are reserved for bug-class failures.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for caller-side branching.
type Kind string

const (
	// Validation indicates a malformed payload, title, or content.
	Validation Kind = "validation"
	// NotFound indicates a missing entity, including cross-tenant access
	// (a document in another tenant is indistinguishable from absent).
	NotFound Kind = "not_found"
	// Authorization indicates the caller's role is insufficient.
	Authorization Kind = "authorization"
	// Transient indicates a retryable connectivity failure (queue or DB).
	Transient Kind = "transient"
	// Internal indicates an unexpected failure (constraint violations,
	// programming errors surfaced by the database).
	Internal Kind = "internal"
	// Conflict indicates a duplicate unique key.
	Conflict Kind = "conflict"
)

// Error is a classified error with structured context.
type Error struct {
	Kind   Kind
	Domain string // entity domain, e.g. "document", "reminder", "queue"
	Op     string // operation that failed, e.g. "storage.GetDocument"
	Err    error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Domain, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Domain, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error.
func E(kind Kind, domain, op string, err error) *Error {
	return &Error{Kind: kind, Domain: domain, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, domain, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Domain: domain, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or Internal when err carries no
// classification. A nil err has no kind and returns "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return IsKind(err, NotFound) }

// IsTransient reports whether err is a retryable connectivity error.
func IsTransient(err error) bool { return IsKind(err, Transient) }
