package staking

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the staking session.
var (
	ErrFetchFailed           = errors.New("fetch failed")
	ErrStaleResult           = errors.New("stale result")
	ErrInvalidSelection      = errors.New("invalid selection")
	ErrOutOfRange            = errors.New("pool index out of range")
	ErrNotConnected          = errors.New("wallet not connected")
	ErrModalClosed           = errors.New("pool modal closed")
	ErrNoSelection           = errors.New("no pool selected")
	ErrInvalidIdentity       = errors.New("invalid identity")
	ErrInvalidPoolDefinition = errors.New("invalid pool definition")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
)

// FetchError reports a rejected remote load for one slice of session state.
type FetchError struct {
	Source FetchSource
	Err    error
}

// Error returns the formatted error message.
func (fetchError FetchError) Error() string {
	return fmt.Sprintf("%s %s: %v", ErrFetchFailed, fetchError.Source, fetchError.Err)
}

// Unwrap returns the underlying gateway error.
func (fetchError FetchError) Unwrap() error {
	return fetchError.Err
}

// Is reports ErrFetchFailed so callers can match every source at once.
func (fetchError FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
