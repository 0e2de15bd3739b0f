// Package errors provides error handling for pulsejobs.
//
// This package re-exports github.com/cockroachdb/errors, providing stack
// traces, wrapping with context and user-facing details, and adds the
// sentinel errors the job lifecycle reports to callers.
//
// Usage:
//
//	// Wrap with context
//	if err := store.Update(ctx, job); err != nil {
//	    return errors.Wrap(err, "failed to persist job")
//	}
//
//	// Classify
//	if errors.IsInvalidStateError(err) {
//	    // job is terminal
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Sentinel errors reported by the job lifecycle.
// Use these with errors.Is(); wrap them to add context while preserving the kind.
var (
	// ErrNotFound indicates the job does not exist or is not visible to the caller
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates malformed input (validation failure)
	ErrInvalidRequest = New("invalid request")

	// ErrInvalidState indicates the operation is not permitted in the job's current status
	ErrInvalidState = New("invalid state")

	// ErrExecution indicates the execution capability reported a failure
	ErrExecution = New("execution failed")

	// ErrDispatch indicates a wake-up could not be armed or disarmed
	ErrDispatch = New("dispatch failed")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")

	// ErrConflict indicates a concurrent modification won the race
	ErrConflict = New("resource conflict")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsInvalidStateError checks if an error is or wraps ErrInvalidState
func IsInvalidStateError(err error) bool {
	return err != nil && Is(err, ErrInvalidState)
}

// IsExecutionError checks if an error is or wraps ErrExecution
func IsExecutionError(err error) bool {
	return err != nil && Is(err, ErrExecution)
}

// IsDispatchError checks if an error is or wraps ErrDispatch
func IsDispatchError(err error) bool {
	return err != nil && Is(err, ErrDispatch)
}

// IsTimeoutError checks if an error is or wraps ErrTimeout
func IsTimeoutError(err error) bool {
	return err != nil && Is(err, ErrTimeout)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewValidationError creates an invalid-request error with a formatted message
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}

// NewInvalidStateError creates an invalid-state error with a formatted message
func NewInvalidStateError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidState, Newf(format, args...).Error())
}

// WrapExecution marks err as an execution failure.
// The original message is kept so it can be stored verbatim on the job.
func WrapExecution(err error) error {
	if err == nil || IsExecutionError(err) {
		return err
	}
	return crdb.Mark(err, ErrExecution)
}

// WrapDispatch marks err as a dispatch failure with context
func WrapDispatch(err error, context string) error {
	if err == nil {
		return nil
	}
	return Wrap(crdb.Mark(err, ErrDispatch), context)
}
