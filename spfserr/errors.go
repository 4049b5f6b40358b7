// Package spfserr defines the store-wide error taxonomy: a small set of
// stable kinds, each carrying a stable diagnostic code, shared by every
// package so that callers can classify failures with errors.As regardless
// of which layer raised them.
package spfserr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for programmatic handling and for the
// per-kind summaries traversals print.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindAmbiguous   Kind = "ambiguous"
	KindCorruption  Kind = "corruption"
	KindInvariant   Kind = "invariant"
	KindPinning     Kind = "pinning"
	KindCapacity    Kind = "capacity"
	KindTransport   Kind = "transport"
	KindMigration   Kind = "migration"
	KindCancelled   Kind = "cancelled"
)

// Fatal reports whether errors of this kind should abort an in-progress
// traversal rather than simply being recorded against the item that
// triggered them.
func (k Kind) Fatal() bool {
	switch k {
	case KindCapacity, KindTransport, KindCancelled:
		return true
	default:
		return false
	}
}

// Error is the concrete error type returned throughout the store. Code is
// a short, stable, machine-readable string; Message is human-readable
// detail.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, spfserr.New(kind, "", "")) style matching on
// Kind alone, since diagnostic codes are typically more specific than
// callers want to match against.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return t.Code == e.Code
	}
	return t.Kind == e.Kind
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// UnknownObject reports that a digest has no corresponding object in the
// database.
func UnknownObject(digest fmt.Stringer) *Error {
	return New(KindNotFound, "unknown_object", fmt.Sprintf("unknown object: %s", digest))
}

// UnknownReference reports that a tag spec resolves to nothing.
func UnknownReference(spec fmt.Stringer) *Error {
	return New(KindNotFound, "unknown_reference", fmt.Sprintf("unknown reference: %s", spec))
}

// Ambiguous reports that a short digest prefix matched more than one
// object.
func Ambiguous(prefix string, matches int) *Error {
	return New(KindAmbiguous, "ambiguous_reference", fmt.Sprintf("%q is ambiguous: %d matches", prefix, matches))
}

// RepositoryIsPinned reports a mutation attempted against a pinned view.
func RepositoryIsPinned() *Error {
	return New(KindPinning, "repository_pinned", "repository is pinned to a point in time and cannot be written to")
}

// Cancelled reports that the operation was stopped by user cancellation
// (typically a cancelled context.Context).
func Cancelled() *Error {
	return New(KindCancelled, "cancelled", "operation was cancelled")
}

// Corruption reports a decode failure, digest mismatch, or truncated read.
func Corruption(message string, err error) *Error {
	return Wrap(KindCorruption, "corruption", message, err)
}

// Migration reports that a repository's on-disk version predates the
// minimum this build understands.
func Migration(message string) *Error {
	return New(KindMigration, "migration_required", message)
}

// KindOf extracts the Kind of err if it is, or wraps, an *Error. Errors
// from outside this taxonomy classify as the zero Kind, which Fatal
// reports as non-fatal so unrecognized errors don't silently abort a
// traversal they weren't meant to.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
