package async

import (
	"context"
	"strings"

	"github.com/teranos/pulsejobs/errors"
)

// ErrorCode represents the classification of an execution error
type ErrorCode string

const (
	ErrorCodeTimeout         ErrorCode = "timeout"
	ErrorCodeCancelled       ErrorCode = "cancelled"
	ErrorCodeNetworkError    ErrorCode = "network_error"
	ErrorCodeDatabaseError   ErrorCode = "database_error"
	ErrorCodeValidationError ErrorCode = "validation_error"
	ErrorCodeHandlerMissing  ErrorCode = "handler_missing"
	ErrorCodeUnknown         ErrorCode = "unknown"
)

// ErrorContext provides structured information about a failed attempt
type ErrorContext struct {
	Code      ErrorCode
	Message   string
	Retryable bool // logged as a hint; the retry policy retries every failure until the cap
}

// ClassifyError categorizes an execution error for logs and metrics
func ClassifyError(err error) ErrorContext {
	if err == nil {
		return ErrorContext{Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	ec := ErrorContext{Message: msg}

	switch {
	case errors.IsTimeoutError(err) || errors.Is(err, context.DeadlineExceeded):
		ec.Code, ec.Retryable = ErrorCodeTimeout, true
	case errors.Is(err, context.Canceled):
		ec.Code, ec.Retryable = ErrorCodeCancelled, true
	case strings.Contains(lower, "no handler registered") || strings.Contains(lower, "names no handler"):
		ec.Code = ErrorCodeHandlerMissing
	case strings.Contains(lower, "network") || strings.Contains(lower, "connection") || strings.Contains(lower, "timeout"):
		ec.Code, ec.Retryable = ErrorCodeNetworkError, true
	case strings.Contains(lower, "database") || strings.Contains(lower, "sql"):
		ec.Code, ec.Retryable = ErrorCodeDatabaseError, true
	case errors.IsInvalidRequestError(err) || strings.Contains(lower, "invalid"):
		ec.Code = ErrorCodeValidationError
	default:
		ec.Code, ec.Retryable = ErrorCodeUnknown, true
	}
	return ec
}
