// Package errkind defines the error taxonomy shared across the recorder
// and RPC link: a small closed set of kinds callers can branch on, each
// wrapping an underlying cause.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy buckets from the error handling design.
type Kind string

const (
	Io           Kind = "io"
	Protocol     Kind = "protocol"
	Disconnected Kind = "disconnected"
	NotFound     Kind = "not_found"
	Config       Kind = "config"
	Backend      Kind = "backend"
	Corrupt      Kind = "corrupt"
	Timeout      Kind = "timeout"
)

// Error pairs a Kind with the operation that produced it and the
// underlying cause, matching the fmt.Errorf("op: %w", err) wrapping
// style used throughout the rest of the module.
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

// New wraps err (which may be nil) with the given kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether the first *Error found in err's chain carries the
// given Kind; an inner *Error wrapped by another *Error is not checked.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
