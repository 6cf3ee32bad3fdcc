// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package errkind classifies failures from external collaborators and the
// store into the small taxonomy the retry policy and the admin layer act on.
package errkind

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the failure class attached to an error.
type Kind string

const (
	// NotFound: the source item is gone, or a required row is missing.
	NotFound Kind = "not_found"
	// Forbidden: the source refuses access (private/members-only/geo).
	Forbidden Kind = "forbidden"
	// Format: the media cannot be decoded or transcoded.
	Format Kind = "format"
	// Network: transient I/O, timeout, DNS, connection reset.
	Network Kind = "network"
	// Cancelled: caller-initiated abort.
	Cancelled Kind = "cancelled"
	// Conflict: a compare-and-set precondition failed on a store write.
	Conflict Kind = "conflict"
	// Validation: input did not satisfy constraints.
	Validation Kind = "validation"
	// Fatal: store unreachable, disk full during finalize.
	Fatal Kind = "fatal"
	// Unknown: unclassified external error.
	Unknown Kind = "unknown"
)

// Terminal reports whether the kind is never worth another download attempt.
func (k Kind) Terminal() bool {
	switch k {
	case NotFound, Forbidden, Format:
		return true
	}
	return false
}

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and the operation that produced it.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err. Context cancellation maps to Cancelled,
// a nil error has no kind, anything unclassified is Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return Unknown
}

// Is lets errors.Is match against a bare kind sentinel created by New(kind, "", nil).
func (e *Error) Is(target error) bool {
	var ke *Error
	if errors.As(target, &ke) {
		return ke.Kind == e.Kind
	}
	return false
}
