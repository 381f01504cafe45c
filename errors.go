package mutbox

import (
	"errors"
	"fmt"
)

// ErrorCode enumerates the error kinds a mutation transaction can fail with (spec §7).
type ErrorCode int

const (
	// Unknown represents an unspecified error condition.
	Unknown ErrorCode = iota
	// CodeNonRetriable marks a server-reported permanent rejection; the waiter rejects
	// and the transaction is removed from the Outbox without further retries.
	CodeNonRetriable
	// CodeTransient marks any other mutation-function failure, subject to the retry policy.
	CodeTransient
	// CodeUnknownMutationFn is raised when a transaction names a mutation function absent
	// from the caller-supplied registry. Treated as non-retriable.
	CodeUnknownMutationFn
	// CodeDeserializeFailed marks a recoverable envelope decode failure; the entry is
	// logged and skipped rather than surfaced to a caller.
	CodeDeserializeFailed
	// CodeStorageFailure marks an Outbox backend failure that propagates to the caller
	// of Add/Update, or ends a drain cycle early when it occurs mid-drain.
	CodeStorageFailure
	// CodeNotFound marks an Outbox.Update call against an id with no stored envelope.
	CodeNotFound
)

// Error carries a code, the wrapped cause, and optional context data, matching the
// shape the teacher stack uses for its own domain errors.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.UserData != nil {
		return fmt.Errorf("mutbox error code %d (data: %v): %w", e.Code, e.UserData, e.Err).Error()
	}
	return fmt.Errorf("mutbox error code %d: %w", e.Code, e.Err).Error()
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewNonRetriableError wraps err as a permanent failure.
func NewNonRetriableError(err error) *Error {
	return &Error{Code: CodeNonRetriable, Err: err}
}

// NewTransientError wraps err as a retry-eligible failure.
func NewTransientError(err error) *Error {
	return &Error{Code: CodeTransient, Err: err}
}

// NewUnknownMutationFnError reports that mutationFnName has no registered function.
func NewUnknownMutationFnError(mutationFnName string) *Error {
	return &Error{Code: CodeUnknownMutationFn, Err: fmt.Errorf("mutation function %q is not registered", mutationFnName), UserData: mutationFnName}
}

// NewNotFoundError reports that id has no stored Outbox envelope.
func NewNotFoundError(id UUID) *Error {
	return &Error{Code: CodeNotFound, Err: fmt.Errorf("transaction %s not found in outbox", id), UserData: id}
}

// IsNonRetriable reports whether err (or something it wraps) is a CodeNonRetriable
// or CodeUnknownMutationFn mutbox.Error — both are terminal, non-retriable failures.
func IsNonRetriable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == CodeNonRetriable || e.Code == CodeUnknownMutationFn
}
